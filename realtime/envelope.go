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
	"time"
)

// Envelope types pushed to clients
const (
	EnvelopeTypeStreamData    = "stream_data"
	EnvelopeTypePubSubMessage = "pubsub_message"
	EnvelopeTypeEcho          = "echo"
	EnvelopeTypePong          = "pong"
	EnvelopeTypeInsightsReady = "insights_ready"
)

// Envelope is the message frame written to client connections
type Envelope struct {
	// Type discriminates the message
	Type string `json:"type" validate:"required"`
	// Channel is the broadcast channel the message arrived on, if any
	Channel string `json:"channel,omitempty"`
	// Data is the message payload
	Data interface{} `json:"data,omitempty"`
	// Timestamp is when the envelope was built, RFC3339
	Timestamp string `json:"timestamp,omitempty"`
}

// NewEnvelope build an envelope stamped with the current time
func NewEnvelope(msgType string, data interface{}) *Envelope {
	return &Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// StreamEvent is one entry read from the event log
type StreamEvent struct {
	// ID is the log assigned entry ID
	ID string
	// Fields is the entry's field mapping
	Fields map[string]string
}

// ChannelMessage is one payload published on a broadcast channel
type ChannelMessage struct {
	Channel string
	Payload []byte
}

// Connection is a live bidirectional channel to one client
type Connection interface {
	// ID unique connection identity
	ID() string
	// UserID the user owning this connection
	UserID() string
	// Send write one envelope to the client
	Send(ctxt context.Context, msg *Envelope) error
	// Close close the connection. Repeated calls are no-ops.
	Close() error
}

// EventSink accepts envelopes for delivery to connected clients
type EventSink interface {
	// SendToUser deliver to every connection of one user
	SendToUser(ctxt context.Context, userID string, msg *Envelope) error
	// Broadcast deliver to every connection
	Broadcast(ctxt context.Context, msg *Envelope) error
}
