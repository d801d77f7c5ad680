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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/alwitt/brane/datastore"
	"github.com/alwitt/brane/insights"
	"github.com/alwitt/brane/realtime"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// insightsAlertTask background task publishing the new insights alert for a user
type insightsAlertTask struct {
	UserID string
}

// BackendHandlerParams BackendHandler dependencies
type BackendHandlerParams struct {
	// BaseContext lifetime of the server. Cancelled on shutdown.
	BaseContext context.Context
	// Store the document store
	Store datastore.DocumentStore
	// Registry the live connection registry
	Registry realtime.ConnectionRegistry
	// Gateway runs the WebSocket sessions
	Gateway *realtime.EventGateway
	// Tasks runs the delayed insight alerts
	Tasks goutils.TaskProcessor
	// HTTPConfig the API server config
	HTTPConfig common.HTTPConfig
	// Notifications the broadcast channel config
	Notifications common.NotificationConfig
	// AlertDelay wait before the insights alert is published
	AlertDelay time.Duration
}

// BackendHandler REST handler for the data backend
type BackendHandler struct {
	goutils.RestAPIHandler
	baseContext     context.Context
	store           datastore.DocumentStore
	registry        realtime.ConnectionRegistry
	gateway         *realtime.EventGateway
	tasks           goutils.TaskProcessor
	insightsChannel string
	alertsChannel   string
	alertDelay      time.Duration
	validate        *validator.Validate
}

// GetBackendHandler define BackendHandler. Installs the insights alert handler into
// the task processor.
func GetBackendHandler(params BackendHandlerParams) (BackendHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "backend",
	}
	handler := BackendHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &params.HTTPConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range params.HTTPConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		baseContext:     params.BaseContext,
		store:           params.Store,
		registry:        params.Registry,
		gateway:         params.Gateway,
		tasks:           params.Tasks,
		insightsChannel: params.Notifications.InsightsChannel,
		alertsChannel:   params.Notifications.AlertsChannel,
		alertDelay:      params.AlertDelay,
		validate:        validator.New(),
	}
	if err := params.Tasks.AddToTaskExecutionMap(
		reflect.TypeOf(insightsAlertTask{}), handler.publishInsightsAlert,
	); err != nil {
		return BackendHandler{}, err
	}
	return handler, nil
}

// publishInsightsAlert wait out the alert delay then publish the alert
func (h BackendHandler) publishInsightsAlert(param interface{}) error {
	task, ok := param.(insightsAlertTask)
	if !ok {
		return fmt.Errorf("unexpected task parameter %s", reflect.TypeOf(param))
	}
	select {
	case <-h.baseContext.Done():
		return h.baseContext.Err()
	case <-time.After(h.alertDelay):
	}
	ctxt, cancel := context.WithTimeout(h.baseContext, time.Second*10)
	defer cancel()
	if err := h.store.Publish(ctxt, h.alertsChannel, insights.NewInsightsAlert(task.UserID)); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Failed to publish insights alert for %s", task.UserID,
		)
		return err
	}
	return nil
}

// =======================================================================
// Service info

// ServiceInfoResponse service status and entry points
type ServiceInfoResponse struct {
	goutils.RestAPIBaseResponse
	Service        string            `json:"service"`
	Status         string            `json:"status"`
	RedisConnected bool              `json:"redis_connected"`
	Timestamp      string            `json:"timestamp"`
	Endpoints      map[string]string `json:"endpoints"`
}

// ServiceInfo godoc
// @Summary Service information
// @Description Service status and the available API entry points
// @tags Service
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} ServiceInfoResponse "success"
// @Router / [get]
func (h BackendHandler) ServiceInfo(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := ServiceInfoResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Service:             "Brane AI Backend",
		Status:              "running",
		RedisConnected:      h.store.Ping(r.Context()) == nil,
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
		Endpoints: map[string]string{
			"data":      "/api/data",
			"search":    "/api/search",
			"analytics": "/api/analytics",
			"insights":  "/api/insights",
			"websocket": "/ws/{user_id}",
		},
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ServiceInfoHandler Wrapper around ServiceInfo
func (h BackendHandler) ServiceInfoHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.ServiceInfo(w, r)
	})
}

// =======================================================================
// Data

// DataSavedResponse outcome of saving a data point
type DataSavedResponse struct {
	goutils.RestAPIBaseResponse
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
}

// SaveData godoc
// @Summary Save a data point
// @Description Store a JSON document, record it for analytics, and notify live sessions
// @tags Data
// @Accept json
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Param data body datastore.DataPoint true "Data point to store"
// @Success 200 {object} DataSavedResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/data [post]
func (h BackendHandler) SaveData(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var data datastore.DataPoint
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&data); err != nil {
		msg := "Invalid data point"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	result, err := h.store.SaveDataPoint(r.Context(), &data)
	if err != nil {
		msg := "Unable to save data point"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	// The alert is best effort
	if err := h.tasks.Submit(r.Context(), insightsAlertTask{UserID: data.UserID}); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to schedule insights alert")
	}

	respCode = http.StatusOK
	respBody = DataSavedResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		ID:                  result.ID,
		Timestamp:           result.Timestamp,
	}
}

// SaveDataHandler Wrapper around SaveData
func (h BackendHandler) SaveDataHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.SaveData(w, r)
	})
}

// UserDataResponse documents of a user
type UserDataResponse struct {
	goutils.RestAPIBaseResponse
	Data  []datastore.Document `json:"data"`
	Total int                  `json:"total"`
}

// readLimit parse the optional "limit" query parameter
func readLimit(r *http.Request, defaultLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit < 1 || limit > 1000 {
		return 0, fmt.Errorf("limit %d out of range [1, 1000]", limit)
	}
	return limit, nil
}

// GetData godoc
// @Summary Fetch user data
// @Description Fetch the newest documents of a user
// @tags Data
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Param user_id query string true "User ID"
// @Param limit query integer false "Max number of documents" default(10)
// @Success 200 {object} UserDataResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/data [get]
func (h BackendHandler) GetData(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		msg := "No user_id provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	limit, err := readLimit(r, 10)
	if err != nil {
		msg := "Invalid limit"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	docs, err := h.store.GetUserData(r.Context(), userID, limit)
	if err != nil {
		msg := fmt.Sprintf("Unable to read data of %s", userID)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	respCode = http.StatusOK
	respBody = UserDataResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Data:                docs,
		Total:               len(docs),
	}
}

// GetDataHandler Wrapper around GetData
func (h BackendHandler) GetDataHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.GetData(w, r)
	})
}

// =======================================================================
// Search

// SearchResponse search outcome
type SearchResponse struct {
	goutils.RestAPIBaseResponse
	datastore.SearchResult
}

// Search godoc
// @Summary Search documents
// @Description Prefix search over title and description with data_type / user_id filters
// @tags Data
// @Accept json
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Param query body datastore.SearchQuery true "Search query"
// @Success 200 {object} SearchResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/search [post]
func (h BackendHandler) Search(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	query := datastore.SearchQuery{Limit: 10}
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&query); err != nil {
		msg := "Invalid search query"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	result, err := h.store.Search(r.Context(), query)
	if err != nil {
		msg := "Search failed"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	respCode = http.StatusOK
	respBody = SearchResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		SearchResult:        *result,
	}
}

// SearchHandler Wrapper around Search
func (h BackendHandler) SearchHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.Search(w, r)
	})
}

// =======================================================================
// Analytics

// AnalyticsResponse per user analytics
type AnalyticsResponse struct {
	goutils.RestAPIBaseResponse
	datastore.AnalyticsReport
}

// Analytics godoc
// @Summary User analytics
// @Description Hourly averages of the user's series per data type
// @tags Data
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Param user_id query string true "User ID"
// @Param time_range query string false "Time range: 1h, 1d, 7d, 30d" default(1h)
// @Success 200 {object} AnalyticsResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/analytics [get]
func (h BackendHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		msg := "No user_id provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	timeRange := r.URL.Query().Get("time_range")
	if timeRange == "" {
		timeRange = "1h"
	}

	report, err := h.store.Analytics(r.Context(), userID, timeRange)
	if err != nil {
		msg := fmt.Sprintf("Unable to compute analytics of %s", userID)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	respCode = http.StatusOK
	respBody = AnalyticsResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		AnalyticsReport:     *report,
	}
}

// AnalyticsHandler Wrapper around Analytics
func (h BackendHandler) AnalyticsHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.Analytics(w, r)
	})
}

// =======================================================================
// Insights

// InsightsResponse generated report
type InsightsResponse struct {
	goutils.RestAPIBaseResponse
	insights.Report
}

// Insights godoc
// @Summary Generate insights
// @Description Generate an insights report, publish it, and push it to the user's sessions
// @tags Insights
// @Accept json
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Param request body insights.InsightRequest true "Insight request"
// @Success 200 {object} InsightsResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/insights [post]
func (h BackendHandler) Insights(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var req insights.InsightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		msg := "Invalid insight request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	req.ApplyDefaults()

	userData, err := h.store.GetUserData(r.Context(), req.UserID, 50)
	if err != nil {
		msg := fmt.Sprintf("Unable to read data of %s", req.UserID)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	report := insights.Generate(req, userData)

	if err := h.store.Publish(r.Context(), h.insightsChannel, report); err != nil {
		msg := "Unable to publish insights"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	if err := h.registry.SendToUser(
		r.Context(), req.UserID, realtime.NewEnvelope(realtime.EnvelopeTypeInsightsReady, report),
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to push insights to sessions")
	}

	respCode = http.StatusOK
	respBody = InsightsResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Report:              report,
	}
}

// InsightsHandler Wrapper around Insights
func (h BackendHandler) InsightsHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.Insights(w, r)
	})
}

// =======================================================================
// Sample data

// SampleDataResponse outcome of seeding
type SampleDataResponse struct {
	goutils.RestAPIBaseResponse
	Message string `json:"message"`
}

// SampleData godoc
// @Summary Generate sample data
// @Description Write the demonstration documents
// @tags Data
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} SampleDataResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/sample-data [get]
func (h BackendHandler) SampleData(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.store.SeedSampleData(r.Context()); err != nil {
		msg := "Unable to generate sample data"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	respCode = http.StatusOK
	respBody = SampleDataResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Message:             "Sample data generated successfully",
	}
}

// SampleDataHandler Wrapper around SampleData
func (h BackendHandler) SampleDataHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.SampleData(w, r)
	})
}

// =======================================================================
// Real-time

// WebSocket godoc
// @Summary Real-time session
// @Description Upgrade to a WebSocket session receiving the user's live events
// @tags Realtime
// @Param user_id path string true "User ID"
// @Success 101 {string} string "switching protocols"
// @Failure 400 {string} string "error"
// @Router /ws/{user_id} [get]
func (h BackendHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	userID := mux.Vars(r)["user_id"]
	if userID == "" {
		msg := "No user_id provided"
		log.WithFields(localLogTags).Error(msg)
		if err := h.WriteRESTResponse(
			w,
			http.StatusBadRequest,
			h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg),
			nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}
	if err := h.gateway.Accept(h.baseContext, w, r, userID); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Session for %s not started", userID)
	}
}

// WebSocketHandler Wrapper around WebSocket
//
// Not wrapped by LoggingMiddleware, which writes to the response after the handler returns.
// The connection is hijacked by then.
func (h BackendHandler) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.WebSocket(w, r)
	}
}

// RealtimeStatsResponse live connection counts
type RealtimeStatsResponse struct {
	goutils.RestAPIBaseResponse
	Connections int `json:"connections"`
	Users       int `json:"users"`
}

// RealtimeStats godoc
// @Summary Real-time statistics
// @Description Live session and user counts
// @tags Realtime
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} RealtimeStatsResponse "success"
// @Router /api/realtime/stats [get]
func (h BackendHandler) RealtimeStats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := RealtimeStatsResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Connections:         h.registry.ConnectionCount(),
		Users:               h.registry.UserCount(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// RealtimeStatsHandler Wrapper around RealtimeStats
func (h BackendHandler) RealtimeStatsHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.RealtimeStats(w, r)
	})
}

// =======================================================================
// Health

// Alive godoc
// @Summary For backend liveness check
// @Description Will return success to indicate backend is live
// @tags Health
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /alive [get]
func (h BackendHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h BackendHandler) AliveHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	})
}

// Ready godoc
// @Summary For backend readiness check
// @Description Will return success if backend is ready to accept requests
// @tags Health
// @Produce json
// @Param Brane-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h BackendHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()
	if err := h.store.Ping(r.Context()); err != nil {
		msg := "Redis connection not ready"
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h BackendHandler) ReadyHandler() http.HandlerFunc {
	return h.LoggingMiddleware(func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	})
}

// =======================================================================

// RegisterRoutes install every backend route on the router
func (h BackendHandler) RegisterRoutes(router *mux.Router) {
	router.Path("/").Methods("get").HandlerFunc(h.ServiceInfoHandler())
	_ = RegisterPathPrefix(router, "/api/data", map[string]http.HandlerFunc{
		"post": h.SaveDataHandler(),
		"get":  h.GetDataHandler(),
	})
	_ = RegisterPathPrefix(router, "/api/search", map[string]http.HandlerFunc{
		"post": h.SearchHandler(),
	})
	_ = RegisterPathPrefix(router, "/api/analytics", map[string]http.HandlerFunc{
		"get": h.AnalyticsHandler(),
	})
	_ = RegisterPathPrefix(router, "/api/insights", map[string]http.HandlerFunc{
		"post": h.InsightsHandler(),
	})
	_ = RegisterPathPrefix(router, "/api/sample-data", map[string]http.HandlerFunc{
		"get": h.SampleDataHandler(),
	})
	_ = RegisterPathPrefix(router, "/api/realtime/stats", map[string]http.HandlerFunc{
		"get": h.RealtimeStatsHandler(),
	})
	_ = RegisterPathPrefix(router, "/ws/{user_id}", map[string]http.HandlerFunc{
		"get": h.WebSocketHandler(),
	})

	// Health check
	_ = RegisterPathPrefix(router, "/alive", map[string]http.HandlerFunc{
		"get": h.AliveHandler(),
	})
	_ = RegisterPathPrefix(router, "/ready", map[string]http.HandlerFunc{
		"get": h.ReadyHandler(),
	})
}
