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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/alwitt/brane/realtime"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// RedisCommander is the part of the go-redis client used by RedisStore
type RedisCommander interface {
	Do(ctxt context.Context, args ...interface{}) *redis.Cmd
	XAdd(ctxt context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctxt context.Context) *redis.StatusCmd
}

// RedisStoreParams RedisStore construction parameters
type RedisStoreParams struct {
	// Store key layout and retention
	Store common.StoreConfig `validate:"required,dive"`
	// Stream receives a new_data entry per saved document
	Stream string `validate:"required"`
	// Publisher carries Publish calls
	Publisher realtime.ChannelPublisher `validate:"required"`
}

// RedisStore DocumentStore on RedisJSON, RediSearch, RedisTimeSeries and Streams
type RedisStore struct {
	common.Component
	client    RedisCommander
	cfg       common.StoreConfig
	stream    string
	publisher realtime.ChannelPublisher
	validate  *validator.Validate
}

// NewRedisStore define a new Redis document store
func NewRedisStore(client RedisCommander, params RedisStoreParams) (*RedisStore, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "datastore",
		"component": "redis-store",
		"instance":  params.Store.KeyPrefix,
	}
	return &RedisStore{
		Component: common.Component{LogTags: logTags},
		client:    client,
		cfg:       params.Store,
		stream:    params.Stream,
		publisher: params.Publisher,
		validate:  validate,
	}, nil
}

func (s *RedisStore) dataKeyPrefix() string {
	return fmt.Sprintf("%s:data:", s.cfg.KeyPrefix)
}

func (s *RedisStore) dataKey(id string) string {
	return s.dataKeyPrefix() + id
}

func (s *RedisStore) seriesKey(userID, dataType string) string {
	return fmt.Sprintf("%s:ts:%s:%s", s.cfg.KeyPrefix, userID, dataType)
}

// Ping check Redis is reachable
func (s *RedisStore) Ping(ctxt context.Context) error {
	return s.client.Ping(ctxt).Err()
}

// EnsureIndex FT.CREATE the document index
func (s *RedisStore) EnsureIndex(ctxt context.Context) error {
	err := s.client.Do(
		ctxt,
		"FT.CREATE", s.cfg.IndexName,
		"ON", "JSON",
		"PREFIX", "1", s.dataKeyPrefix(),
		"SCHEMA",
		"$.user_id", "AS", "user_id", "TAG",
		"$.data_type", "AS", "data_type", "TAG",
		"$.content.title", "AS", "title", "TEXT",
		"$.content.description", "AS", "description", "TEXT",
		"$.timestamp", "AS", "timestamp", "NUMERIC", "SORTABLE",
	).Err()
	if err == nil {
		log.WithFields(s.LogTags).Infof("Created search index %s", s.cfg.IndexName)
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "index already exists") {
		log.WithFields(s.LogTags).Debugf("Search index %s already exists", s.cfg.IndexName)
		return nil
	}
	return fmt.Errorf("create index %s: %w", s.cfg.IndexName, err)
}

// ensureSeries TS.CREATE the series. An existing series is not an error.
func (s *RedisStore) ensureSeries(ctxt context.Context, key string) {
	err := s.client.Do(ctxt, "TS.CREATE", key, "RETENTION", s.cfg.SeriesRetention).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		log.WithError(err).WithFields(s.LogTags).Warnf("Unable to create series %s", key)
	}
}

// writeDocument store the document and record its series sample
func (s *RedisStore) writeDocument(ctxt context.Context, data *DataPoint) error {
	if data.Metadata == nil {
		data.Metadata = map[string]interface{}{}
	}
	doc, err := json.Marshal(data)
	if err != nil {
		return err
	}
	key := s.dataKey(data.ID)
	if err := s.client.Do(ctxt, "JSON.SET", key, "$", string(doc)).Err(); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}

	seriesKey := s.seriesKey(data.UserID, data.DataType)
	s.ensureSeries(ctxt, seriesKey)
	if err := s.client.Do(
		ctxt, "TS.ADD", seriesKey, int64(data.Timestamp*1000), seriesValue(data.Content),
	).Err(); err != nil {
		return fmt.Errorf("record sample in %s: %w", seriesKey, err)
	}
	return nil
}

// SaveDataPoint store the document, record it in the analytics series and append a
// new_data event to the stream
func (s *RedisStore) SaveDataPoint(ctxt context.Context, data *DataPoint) (*SaveResult, error) {
	if err := s.validate.Struct(data); err != nil {
		return nil, err
	}
	now := time.Now()
	if data.ID == "" {
		data.ID = fmt.Sprintf("data_%d", now.UnixMilli())
	}
	if data.Timestamp == 0 {
		data.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	}
	if err := s.writeDocument(ctxt, data); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to save %s", data.ID)
		return nil, err
	}

	if err := s.client.XAdd(ctxt, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type":      "new_data",
			"user_id":   data.UserID,
			"data_type": data.DataType,
			"data_id":   data.ID,
		},
	}).Err(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to append %s to stream", data.ID)
		return nil, fmt.Errorf("append to %s: %w", s.stream, err)
	}
	log.WithFields(s.LogTags).Debugf("Saved %s for user %s", data.ID, data.UserID)
	return &SaveResult{Success: true, ID: data.ID, Timestamp: data.Timestamp}, nil
}

// fetchDocuments JSON.GET each key, skipping the missing ones
func (s *RedisStore) fetchDocuments(ctxt context.Context, keys []string) ([]Document, error) {
	docs := []Document{}
	for _, key := range keys {
		raw, err := s.client.Do(ctxt, "JSON.GET", key).Text()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			log.WithError(err).WithFields(s.LogTags).Warnf("Skipping undecodable document %s", key)
			continue
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// search run FT.SEARCH newest first and load the matching documents
func (s *RedisStore) search(
	ctxt context.Context, query string, limit int,
) (int64, []Document, error) {
	reply, err := s.client.Do(
		ctxt,
		"FT.SEARCH", s.cfg.IndexName, query,
		"LIMIT", "0", limit,
		"SORTBY", "timestamp", "DESC",
	).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("search '%s': %w", query, err)
	}
	total, keys, err := parseSearchReply(reply)
	if err != nil {
		return 0, nil, err
	}
	docs, err := s.fetchDocuments(ctxt, keys)
	return total, docs, err
}

// GetUserData fetch the newest documents of a user
func (s *RedisStore) GetUserData(
	ctxt context.Context, userID string, limit int,
) ([]Document, error) {
	if limit <= 0 {
		limit = 10
	}
	_, docs, err := s.search(ctxt, userQuery(userID), limit)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to read data of %s", userID)
		return nil, err
	}
	return docs, nil
}

// Search run a search query
func (s *RedisStore) Search(ctxt context.Context, query SearchQuery) (*SearchResult, error) {
	if err := s.validate.Struct(&query); err != nil {
		return nil, err
	}
	if query.Limit == 0 {
		query.Limit = 10
	}
	queryString := BuildSearchQuery(query)
	total, docs, err := s.search(ctxt, queryString, query.Limit)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Search failed")
		return nil, err
	}
	return &SearchResult{Results: docs, Total: total, Query: queryString}, nil
}

// Analytics summarize a user's series over a time range
func (s *RedisStore) Analytics(
	ctxt context.Context, userID, timeRange string,
) (*AnalyticsReport, error) {
	if timeRange == "" {
		timeRange = "1h"
	}
	end := time.Now().UnixMilli()
	start := end - timeRangeMillis(timeRange)

	report := &AnalyticsReport{
		UserID:    userID,
		TimeRange: timeRange,
		Analytics: map[string]SeriesSummary{},
	}
	for _, dataType := range DataTypes {
		key := s.seriesKey(userID, dataType)
		reply, err := s.client.Do(
			ctxt, "TS.RANGE", key, start, end, "AGGREGATION", "avg", 3600000,
		).Result()
		if err != nil {
			if ctxt.Err() != nil {
				return nil, ctxt.Err()
			}
			log.WithError(err).WithFields(s.LogTags).Debugf("No samples in %s", key)
			report.Analytics[dataType] = summarizeSeries(nil)
			continue
		}
		points, err := parseRangeReply(reply)
		if err != nil {
			log.WithError(err).WithFields(s.LogTags).Warnf("Bad TS.RANGE reply for %s", key)
			points = nil
		}
		summary := summarizeSeries(points)
		report.Analytics[dataType] = summary
		report.Summary.TotalDataPoints += summary.Points
	}

	if report.Summary.TotalDataPoints > 0 {
		best := ""
		for _, dataType := range DataTypes {
			if best == "" || report.Analytics[dataType].Points > report.Analytics[best].Points {
				best = dataType
			}
		}
		report.Summary.MostActiveType = &best
	}
	report.Summary.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	return report, nil
}

// SampleData the demonstration documents
func SampleData(now time.Time) []DataPoint {
	timestamp := float64(now.UnixNano()) / float64(time.Second)
	return []DataPoint{
		{
			ID: "data_1", UserID: "user_123", DataType: "text", Timestamp: timestamp,
			Content: map[string]interface{}{
				"title":       "Q4 Sales Analysis",
				"description": "Revenue increased 25% due to new marketing campaigns",
				"value":       125000.0,
				"category":    "sales",
			},
			Metadata: map[string]interface{}{"source": "sales_dashboard", "confidence": 0.95},
		},
		{
			ID: "data_2", UserID: "user_123", DataType: "iot", Timestamp: timestamp,
			Content: map[string]interface{}{
				"title":       "Temperature Sensor Data",
				"description": "Factory floor temperature monitoring",
				"value":       23.5,
				"unit":        "celsius",
				"sensor_id":   "temp_001",
			},
			Metadata: map[string]interface{}{
				"location": "factory_floor_1", "device_type": "temperature",
			},
		},
		{
			ID: "data_3", UserID: "user_456", DataType: "image", Timestamp: timestamp,
			Content: map[string]interface{}{
				"title":         "Product Quality Analysis",
				"description":   "AI-detected defects in manufacturing line",
				"defect_count":  3.0,
				"quality_score": 0.87,
			},
			Metadata: map[string]interface{}{"ai_model": "yolo_v5", "processing_time": 0.23},
		},
	}
}

// SeedSampleData write the demonstration documents. They are not appended to the stream.
func (s *RedisStore) SeedSampleData(ctxt context.Context) error {
	for _, sample := range SampleData(time.Now()) {
		oneSample := sample
		if err := s.writeDocument(ctxt, &oneSample); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf("Failed to seed %s", sample.ID)
			return err
		}
	}
	log.WithFields(s.LogTags).Info("Created sample data")
	return nil
}

// RecordConnectionCount add a sample to the live connection series
func (s *RedisStore) RecordConnectionCount(ctxt context.Context, count int) error {
	key := s.seriesKey("system", "connections")
	s.ensureSeries(ctxt, key)
	return s.client.Do(ctxt, "TS.ADD", key, "*", count).Err()
}

// Publish JSON encode the payload and publish it on a broadcast channel
func (s *RedisStore) Publish(ctxt context.Context, channel string, payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctxt, channel, encoded); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Publish on %s failed", channel)
		return err
	}
	return nil
}
