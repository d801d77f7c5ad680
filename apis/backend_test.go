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

package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/alwitt/brane/datastore"
	"github.com/alwitt/brane/insights"
	"github.com/alwitt/brane/realtime"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

type publishedPayload struct {
	channel string
	payload interface{}
}

// fakeStore in memory DocumentStore
type fakeStore struct {
	lock      sync.Mutex
	pingErr   error
	saved     []datastore.DataPoint
	docs      map[string][]datastore.Document
	searched  []datastore.SearchQuery
	seeded    int
	published []publishedPayload
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string][]datastore.Document{}}
}

func (s *fakeStore) Ping(_ context.Context) error {
	return s.pingErr
}

func (s *fakeStore) EnsureIndex(_ context.Context) error {
	return nil
}

func (s *fakeStore) SaveDataPoint(
	_ context.Context, data *datastore.DataPoint,
) (*datastore.SaveResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if data.ID == "" {
		data.ID = uuid.New().String()
	}
	if data.Timestamp == 0 {
		data.Timestamp = float64(time.Now().Unix())
	}
	s.saved = append(s.saved, *data)
	s.docs[data.UserID] = append(s.docs[data.UserID], datastore.Document{
		"id": data.ID, "user_id": data.UserID, "data_type": data.DataType,
	})
	return &datastore.SaveResult{Success: true, ID: data.ID, Timestamp: data.Timestamp}, nil
}

func (s *fakeStore) GetUserData(
	_ context.Context, userID string, limit int,
) ([]datastore.Document, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	docs := s.docs[userID]
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *fakeStore) Search(
	_ context.Context, query datastore.SearchQuery,
) (*datastore.SearchResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.searched = append(s.searched, query)
	return &datastore.SearchResult{Results: []datastore.Document{}, Query: query.Query}, nil
}

func (s *fakeStore) Analytics(
	_ context.Context, userID, timeRange string,
) (*datastore.AnalyticsReport, error) {
	if timeRange == "2y" {
		return nil, fmt.Errorf("unsupported time range %s", timeRange)
	}
	return &datastore.AnalyticsReport{
		UserID:    userID,
		TimeRange: timeRange,
		Analytics: map[string]datastore.SeriesSummary{},
	}, nil
}

func (s *fakeStore) SeedSampleData(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.seeded++
	return nil
}

func (s *fakeStore) RecordConnectionCount(_ context.Context, _ int) error {
	return nil
}

func (s *fakeStore) Publish(_ context.Context, channel string, payload interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.published = append(s.published, publishedPayload{channel: channel, payload: payload})
	return nil
}

func (s *fakeStore) publishedOn(channel string) []interface{} {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := []interface{}{}
	for _, entry := range s.published {
		if entry.channel == channel {
			result = append(result, entry.payload)
		}
	}
	return result
}

// pushConnection Connection recording what was pushed to it
type pushConnection struct {
	id       string
	userID   string
	lock     sync.Mutex
	received []*realtime.Envelope
}

func (c *pushConnection) ID() string {
	return c.id
}

func (c *pushConnection) UserID() string {
	return c.userID
}

func (c *pushConnection) Send(_ context.Context, msg *realtime.Envelope) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.received = append(c.received, msg)
	return nil
}

func (c *pushConnection) Close() error {
	return nil
}

type testBackend struct {
	store    *fakeStore
	registry realtime.ConnectionRegistry
	router   *mux.Router
}

func setupTestBackend(t *testing.T, ctxt context.Context) testBackend {
	store := newFakeStore()
	registry := realtime.GetConnectionRegistry()
	tasks, err := goutils.GetNewTaskProcessorInstance(
		ctxt, "unit-test", 4, log.Fields{"module": "apis", "component": "unit-test"},
	)
	if err != nil {
		t.Fatalf("task processor: %s", err)
	}

	httpCfg := common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Brane-Request-ID"},
	}
	uut, err := GetBackendHandler(BackendHandlerParams{
		BaseContext: ctxt,
		Store:       store,
		Registry:    registry,
		Gateway:     realtime.NewEventGateway(registry, common.WebSocketConfig{}, nil),
		Tasks:       tasks,
		HTTPConfig:  httpCfg,
		Notifications: common.NotificationConfig{
			InsightsChannel: "insights",
			AlertsChannel:   "alerts",
		},
		AlertDelay: time.Millisecond * 10,
	})
	if err != nil {
		t.Fatalf("handler: %s", err)
	}
	wg := sync.WaitGroup{}
	if err := tasks.StartEventLoop(&wg); err != nil {
		t.Fatalf("task processor start: %s", err)
	}
	t.Cleanup(func() {
		_ = tasks.StopEventLoop()
		wg.Wait()
	})

	router := mux.NewRouter()
	uut.RegisterRoutes(router)
	return testBackend{store: store, registry: registry, router: router}
}

func (b testBackend) call(method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		payload.WriteString(v)
	default:
		_ = json.NewEncoder(&payload).Encode(v)
	}
	req := httptest.NewRequest(method, path, &payload)
	resp := httptest.NewRecorder()
	b.router.ServeHTTP(resp, req)
	return resp
}

func TestBackendSaveData(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut := setupTestBackend(t, ctxt)

	// Case 0: body is not JSON
	{
		resp := uut.call("POST", "/api/data", "not json")
		assert.Equal(http.StatusBadRequest, resp.Code)
	}

	// Case 1: unknown data type
	{
		resp := uut.call("POST", "/api/data", map[string]interface{}{
			"user_id": "u1", "data_type": "video", "content": map[string]interface{}{"a": 1},
		})
		assert.Equal(http.StatusBadRequest, resp.Code)
	}

	// Case 2: missing user
	{
		resp := uut.call("POST", "/api/data", map[string]interface{}{
			"data_type": "text", "content": map[string]interface{}{"a": 1},
		})
		assert.Equal(http.StatusBadRequest, resp.Code)
	}
	assert.Empty(uut.store.saved)

	// Case 3: valid data point
	{
		resp := uut.call("POST", "/api/data", map[string]interface{}{
			"user_id":   "u1",
			"data_type": "iot",
			"content":   map[string]interface{}{"value": 21.5},
		})
		assert.Equal(http.StatusOK, resp.Code)
		var result DataSavedResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.True(result.Success)
		assert.NotEmpty(result.ID)
		assert.Greater(result.Timestamp, float64(0))
		assert.Len(uut.store.saved, 1)
		assert.Equal(result.ID, uut.store.saved[0].ID)
	}

	// The delayed alert follows
	assert.Eventually(func() bool {
		return len(uut.store.publishedOn("alerts")) == 1
	}, time.Second*2, time.Millisecond*10)
	alert, ok := uut.store.publishedOn("alerts")[0].(insights.Alert)
	assert.True(ok)
	assert.Equal("u1", alert.UserID)
	assert.Equal("new_insights_available", alert.Type)
}

func TestBackendReadPaths(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut := setupTestBackend(t, ctxt)

	for i := 0; i < 3; i++ {
		_, err := uut.store.SaveDataPoint(ctxt, &datastore.DataPoint{
			UserID: "u1", DataType: "text", Content: map[string]interface{}{"title": "x"},
		})
		assert.Nil(err)
	}

	// Case 0: user data needs a user
	{
		resp := uut.call("GET", "/api/data", nil)
		assert.Equal(http.StatusBadRequest, resp.Code)
	}

	// Case 1: limit out of range
	{
		resp := uut.call("GET", "/api/data?user_id=u1&limit=0", nil)
		assert.Equal(http.StatusBadRequest, resp.Code)
		resp = uut.call("GET", "/api/data?user_id=u1&limit=abc", nil)
		assert.Equal(http.StatusBadRequest, resp.Code)
	}

	// Case 2: limited read
	{
		resp := uut.call("GET", "/api/data?user_id=u1&limit=2", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var result UserDataResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal(2, result.Total)
		assert.Len(result.Data, 2)
	}

	// Case 3: search
	{
		resp := uut.call("POST", "/api/search", map[string]interface{}{
			"query": "sensor", "filters": map[string]interface{}{"data_type": "iot"},
		})
		assert.Equal(http.StatusOK, resp.Code)
		var result SearchResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal("sensor", result.Query)
		assert.Len(uut.store.searched, 1)
		assert.Equal(10, uut.store.searched[0].Limit)
	}

	// Case 4: search limit too large
	{
		resp := uut.call("POST", "/api/search", map[string]interface{}{"limit": 5000})
		assert.Equal(http.StatusBadRequest, resp.Code)
		assert.Len(uut.store.searched, 1)
	}

	// Case 5: analytics defaults to the last hour
	{
		resp := uut.call("GET", "/api/analytics?user_id=u1", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var result AnalyticsResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal("u1", result.UserID)
		assert.Equal("1h", result.TimeRange)
	}

	// Case 6: analytics failure
	{
		resp := uut.call("GET", "/api/analytics?user_id=u1&time_range=2y", nil)
		assert.Equal(http.StatusInternalServerError, resp.Code)
	}

	// Case 7: sample data
	{
		resp := uut.call("GET", "/api/sample-data", nil)
		assert.Equal(http.StatusOK, resp.Code)
		assert.Equal(1, uut.store.seeded)
	}
}

func TestBackendInsights(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut := setupTestBackend(t, ctxt)

	session := &pushConnection{id: uuid.New().String(), userID: "u1"}
	uut.registry.Register(session, "u1")
	other := &pushConnection{id: uuid.New().String(), userID: "u2"}
	uut.registry.Register(other, "u2")

	// Case 0: missing user
	{
		resp := uut.call("POST", "/api/insights", map[string]interface{}{})
		assert.Equal(http.StatusBadRequest, resp.Code)
	}

	// Case 1: unknown analysis type
	{
		resp := uut.call("POST", "/api/insights", map[string]interface{}{
			"user_id": "u1", "analysis_type": "magic",
		})
		assert.Equal(http.StatusBadRequest, resp.Code)
	}

	// Case 2: defaults
	{
		resp := uut.call("POST", "/api/insights", map[string]interface{}{"user_id": "u1"})
		assert.Equal(http.StatusOK, resp.Code)
		var result InsightsResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal("u1", result.UserID)
		assert.Equal(insights.AnalysisCausal, result.AnalysisType)
		assert.Equal("7d", result.DataRange)

		published := uut.store.publishedOn("insights")
		assert.Len(published, 1)
		session.lock.Lock()
		assert.Len(session.received, 1)
		assert.Equal(realtime.EnvelopeTypeInsightsReady, session.received[0].Type)
		session.lock.Unlock()
		other.lock.Lock()
		assert.Empty(other.received)
		other.lock.Unlock()
	}
}

func TestBackendServiceEndpoints(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut := setupTestBackend(t, ctxt)

	// Case 0: service info
	{
		resp := uut.call("GET", "/", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var result ServiceInfoResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal("running", result.Status)
		assert.True(result.RedisConnected)
		assert.Equal("/ws/{user_id}", result.Endpoints["websocket"])
		assert.NotEmpty(resp.Header().Get("Brane-Request-ID"))
		assert.Equal(resp.Header().Get("Brane-Request-ID"), result.RequestID)
	}

	// Case 1: caller provided request ID is echoed
	{
		req := httptest.NewRequest("GET", "/alive", nil)
		req.Header.Set("Brane-Request-ID", "testing-id")
		resp := httptest.NewRecorder()
		uut.router.ServeHTTP(resp, req)
		assert.Equal(http.StatusOK, resp.Code)
		assert.Equal("testing-id", resp.Header().Get("Brane-Request-ID"))
		var result goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.True(result.Success)
		assert.Equal("testing-id", result.RequestID)

		// Error responses carry it too
		req = httptest.NewRequest("GET", "/api/data", nil)
		req.Header.Set("Brane-Request-ID", "testing-id-2")
		resp = httptest.NewRecorder()
		uut.router.ServeHTTP(resp, req)
		assert.Equal(http.StatusBadRequest, resp.Code)
		result = goutils.RestAPIBaseResponse{}
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.False(result.Success)
		assert.Equal("testing-id-2", result.RequestID)
		assert.NotNil(result.Error)
	}

	// Case 2: ready depends on the store
	{
		resp := uut.call("GET", "/ready", nil)
		assert.Equal(http.StatusOK, resp.Code)
		uut.store.pingErr = fmt.Errorf("dummy error")
		resp = uut.call("GET", "/ready", nil)
		assert.Equal(http.StatusInternalServerError, resp.Code)
		resp = uut.call("GET", "/", nil)
		var result ServiceInfoResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.False(result.RedisConnected)
		uut.store.pingErr = nil
	}

	// Case 3: realtime stats
	{
		uut.registry.Register(&pushConnection{id: uuid.New().String(), userID: "u1"}, "u1")
		uut.registry.Register(&pushConnection{id: uuid.New().String(), userID: "u1"}, "u1")
		uut.registry.Register(&pushConnection{id: uuid.New().String(), userID: "u2"}, "u2")
		resp := uut.call("GET", "/api/realtime/stats", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var result RealtimeStatsResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal(3, result.Connections)
		assert.Equal(2, result.Users)
	}
}
