// Copyright 2022 The brane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datastore

import (
	"fmt"
	"strconv"
	"strings"
)

// tagSpecialChars must be escaped inside RediSearch queries
const tagSpecialChars = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ "

// escapeQueryTerm backslash escape query punctuation
func escapeQueryTerm(term string) string {
	var builder strings.Builder
	for _, char := range term {
		if strings.ContainsRune(tagSpecialChars, char) {
			builder.WriteRune('\\')
		}
		builder.WriteRune(char)
	}
	return builder.String()
}

// userQuery the RediSearch query matching one user's documents
func userQuery(userID string) string {
	return fmt.Sprintf("@user_id:{%s}", escapeQueryTerm(userID))
}

// BuildSearchQuery convert a SearchQuery into a RediSearch query string
func BuildSearchQuery(query SearchQuery) string {
	terms := []string{}
	if query.Query != "" {
		term := escapeQueryTerm(query.Query)
		terms = append(terms, fmt.Sprintf("(@title:%s*) | (@description:%s*)", term, term))
	}
	for _, field := range []string{"data_type", "user_id"} {
		if value, ok := query.Filters[field]; ok && value != nil {
			terms = append(
				terms, fmt.Sprintf("@%s:{%s}", field, escapeQueryTerm(fmt.Sprint(value))),
			)
		}
	}
	if len(terms) == 0 {
		return "*"
	}
	return strings.Join(terms, " ")
}

// toInt64 convert a RESP2 integer reply
func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer reply type %T", value)
	}
}

// toFloat64 convert a RESP2 number reply
func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unexpected number reply type %T", value)
	}
}

// parseSearchReply read the total and document keys from an FT.SEARCH reply.
// Works with and without returned document content.
func parseSearchReply(reply interface{}) (int64, []string, error) {
	entries, ok := reply.([]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("unexpected FT.SEARCH reply type %T", reply)
	}
	if len(entries) == 0 {
		return 0, []string{}, nil
	}
	total, err := toInt64(entries[0])
	if err != nil {
		return 0, nil, err
	}
	keys := []string{}
	for _, entry := range entries[1:] {
		if key, ok := entry.(string); ok {
			keys = append(keys, key)
		}
	}
	return total, keys, nil
}

// parseRangeReply read samples from a TS.RANGE reply
func parseRangeReply(reply interface{}) ([]SamplePoint, error) {
	entries, ok := reply.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected TS.RANGE reply type %T", reply)
	}
	points := make([]SamplePoint, 0, len(entries))
	for _, entry := range entries {
		pair, ok := entry.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("unexpected TS.RANGE sample %v", entry)
		}
		timestamp, err := toInt64(pair[0])
		if err != nil {
			return nil, err
		}
		value, err := toFloat64(pair[1])
		if err != nil {
			return nil, err
		}
		points = append(points, SamplePoint{Timestamp: timestamp, Value: value})
	}
	return points, nil
}

// summarizeSeries build the per type analytics entry
func summarizeSeries(points []SamplePoint) SeriesSummary {
	summary := SeriesSummary{Points: len(points), Data: []SamplePoint{}}
	if len(points) == 0 {
		return summary
	}
	sum := 0.0
	for _, point := range points {
		sum += point.Value
	}
	summary.Avg = sum / float64(len(points))
	tail := points
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	summary.Data = append(summary.Data, tail...)
	return summary
}

// timeRangeMillis the window covered by a named time range. Unknown ranges use 1h.
func timeRangeMillis(timeRange string) int64 {
	switch timeRange {
	case "1d":
		return 86400000
	case "7d":
		return 604800000
	case "30d":
		return 2592000000
	default:
		return 3600000
	}
}

// seriesValue the numeric value recorded for a document
func seriesValue(content map[string]interface{}) float64 {
	switch v := content["value"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 1
	}
}
