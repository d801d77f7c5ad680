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
)

// DataTypes the supported data types
var DataTypes = []string{"text", "image", "audio", "iot"}

// Document is a stored JSON document
type Document map[string]interface{}

// DataPoint is one piece of user data
type DataPoint struct {
	// ID document ID. Generated when empty.
	ID string `json:"id,omitempty"`
	// UserID owning user
	UserID string `json:"user_id" validate:"required"`
	// DataType one of text, image, audio, iot
	DataType string `json:"data_type" validate:"required,oneof=text image audio iot"`
	// Content the document body. A numeric "value" feeds the analytics series.
	Content map[string]interface{} `json:"content" validate:"required"`
	// Timestamp Unix seconds. Set to now when zero.
	Timestamp float64 `json:"timestamp,omitempty" validate:"gte=0"`
	// Metadata free form
	Metadata map[string]interface{} `json:"metadata"`
}

// SaveResult is the outcome of saving a DataPoint
type SaveResult struct {
	Success   bool    `json:"success"`
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
}

// SearchQuery full text search with optional tag filters
type SearchQuery struct {
	// Query prefix matched against title and description
	Query string `json:"query"`
	// Filters supports "data_type" and "user_id"
	Filters map[string]interface{} `json:"filters,omitempty"`
	// Limit max results. Defaults to 10.
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

// SearchResult search outcome
type SearchResult struct {
	Results []Document `json:"results"`
	Total   int64      `json:"total"`
	Query   string     `json:"query"`
}

// SamplePoint one time series sample
type SamplePoint struct {
	Timestamp int64
	Value     float64
}

// MarshalJSON encode as a [timestamp, value] pair
func (p SamplePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Timestamp, p.Value})
}

// SeriesSummary analytics of one data type
type SeriesSummary struct {
	Points int           `json:"points"`
	Data   []SamplePoint `json:"data"`
	Avg    float64       `json:"avg"`
}

// AnalyticsSummary analytics across data types
type AnalyticsSummary struct {
	TotalDataPoints int     `json:"total_data_points"`
	MostActiveType  *string `json:"most_active_type"`
	GeneratedAt     string  `json:"generated_at"`
}

// AnalyticsReport per user analytics
type AnalyticsReport struct {
	UserID    string                   `json:"user_id"`
	TimeRange string                   `json:"time_range"`
	Analytics map[string]SeriesSummary `json:"analytics"`
	Summary   AnalyticsSummary         `json:"summary"`
}

// DocumentStore stores user documents and their derived indexes
type DocumentStore interface {
	// Ping check the backing store is reachable
	Ping(ctxt context.Context) error

	// EnsureIndex create the search index. An existing index is not an error.
	EnsureIndex(ctxt context.Context) error

	// SaveDataPoint store the document, record it in the analytics series and append
	// a new_data event to the stream
	SaveDataPoint(ctxt context.Context, data *DataPoint) (*SaveResult, error)

	// GetUserData fetch the newest documents of a user
	GetUserData(ctxt context.Context, userID string, limit int) ([]Document, error)

	// Search run a search query
	Search(ctxt context.Context, query SearchQuery) (*SearchResult, error)

	// Analytics summarize a user's series over a time range (1h, 1d, 7d, 30d)
	Analytics(ctxt context.Context, userID, timeRange string) (*AnalyticsReport, error)

	// SeedSampleData write the demonstration documents
	SeedSampleData(ctxt context.Context) error

	// RecordConnectionCount add a sample to the live connection series
	RecordConnectionCount(ctxt context.Context, count int) error

	// Publish JSON encode the payload and publish it on a broadcast channel
	Publish(ctxt context.Context, channel string, payload interface{}) error
}
