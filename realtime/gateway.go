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

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// wsConnection Connection over a WebSocket
type wsConnection struct {
	id           string
	userID       string
	ws           *websocket.Conn
	writeTimeout time.Duration
	lock         sync.Mutex
	closed       bool
}

func (c *wsConnection) ID() string {
	return c.id
}

func (c *wsConnection) UserID() string {
	return c.userID
}

// Send write one envelope as a text frame. Writes are serialized.
func (c *wsConnection) Send(ctxt context.Context, msg *Envelope) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := ctxt.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.writeTimeout)
	if ctxtDeadline, ok := ctxt.Deadline(); ok && ctxtDeadline.Before(deadline) {
		deadline = ctxtDeadline
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close send a close frame then close the socket
func (c *wsConnection) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.ws.Close()
}

// =====================================================================================

// EventGateway runs the per client WebSocket sessions
type EventGateway struct {
	common.Component
	registry ConnectionRegistry
	cfg      common.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewEventGateway define a new gateway. allowedOrigins may contain "*" to accept
// any origin.
func NewEventGateway(
	registry ConnectionRegistry, cfg common.WebSocketConfig, allowedOrigins []string,
) *EventGateway {
	origins := map[string]bool{}
	for _, origin := range allowedOrigins {
		origins[origin] = true
	}
	return &EventGateway{
		Component: common.Component{
			LogTags: log.Fields{"module": "realtime", "component": "event-gateway"},
		},
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// Accept upgrade the request and run the session until the client leaves or ctxt
// is cancelled
func (g *EventGateway) Accept(
	ctxt context.Context, w http.ResponseWriter, r *http.Request, userID string,
) error {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(g.LogTags).Errorf("Upgrade failed for user %s", userID)
		return err
	}
	conn := &wsConnection{
		id:           uuid.New().String(),
		userID:       userID,
		ws:           ws,
		writeTimeout: time.Second * time.Duration(g.cfg.WriteTimeout),
	}
	logTags := log.Fields{}
	for k, v := range g.LogTags {
		logTags[k] = v
	}
	logTags["user_id"] = userID
	logTags["connection"] = conn.id

	g.registry.Register(conn, userID)
	log.WithFields(logTags).Info("Session started")

	var endOnce sync.Once
	endSession := func() {
		endOnce.Do(func() {
			g.registry.Unregister(conn, userID)
			if err := conn.Close(); err != nil {
				log.WithError(err).WithFields(logTags).Debug("Socket close failed")
			}
			log.WithFields(logTags).Info("Session ended")
		})
	}
	defer endSession()

	// Closing the socket unblocks the read loop on server stop
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctxt.Done():
			endSession()
		case <-readDone:
		}
	}()

	g.readLoop(ctxt, conn, logTags)
	return nil
}

// readLoop process inbound frames until the socket fails or closes
func (g *EventGateway) readLoop(ctxt context.Context, conn *wsConnection, logTags log.Fields) {
	conn.ws.SetReadLimit(g.cfg.MaxMessageSize)
	limiter := rate.NewLimiter(rate.Limit(g.cfg.InboundRate), g.cfg.InboundBurst)
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && ctxt.Err() == nil {
				log.WithError(err).WithFields(logTags).Warn("Session read failed")
			}
			return
		}
		if !limiter.Allow() {
			log.WithFields(logTags).Warn("Inbound rate exceeded, dropping message")
			continue
		}
		g.handleInbound(ctxt, conn, raw, logTags)
	}
}

// handleInbound answer pings on the same connection, echo everything else to all of the
// user's connections
func (g *EventGateway) handleInbound(
	ctxt context.Context, conn *wsConnection, raw []byte, logTags log.Fields,
) {
	var message map[string]interface{}
	if err := json.Unmarshal(raw, &message); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Ignoring non-JSON message")
		return
	}
	if msgType, _ := message["type"].(string); msgType == "ping" {
		if err := conn.Send(ctxt, NewEnvelope(EnvelopeTypePong, nil)); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to send pong")
		}
		return
	}
	if err := g.registry.SendToUser(
		ctxt, conn.userID, NewEnvelope(EnvelopeTypeEcho, message),
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Echo failed")
	}
}
