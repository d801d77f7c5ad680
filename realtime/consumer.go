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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// deliveryTimeout bounds DELIVER + ACK of one fetched batch
const deliveryTimeout = time.Second * 10

// EventLog is a durable ordered log read through consumer groups
type EventLog interface {
	// EnsureGroup create the consumer group at the start of the log, creating the log
	// if needed. An existing group is not an error.
	EnsureGroup(ctxt context.Context, stream, group string) error

	// Poll fetch up to count entries for the consumer. When pendingOnly, return the
	// consumer's delivered but unacknowledged entries without blocking; otherwise wait
	// up to block for new entries. Returns no entries on timeout.
	Poll(
		ctxt context.Context,
		stream, group, consumer string,
		count int64,
		block time.Duration,
		pendingOnly bool,
	) ([]StreamEvent, error)

	// Ack acknowledge one entry for the group
	Ack(ctxt context.Context, stream, group, id string) error
}

// RedisEventLog EventLog on top of a Redis stream
type RedisEventLog struct {
	common.Component
	client redis.Cmdable
}

// NewRedisEventLog define a Redis stream backed EventLog
func NewRedisEventLog(client redis.Cmdable) *RedisEventLog {
	return &RedisEventLog{
		Component: common.Component{
			LogTags: log.Fields{"module": "realtime", "component": "redis-event-log"},
		},
		client: client,
	}
}

// EnsureGroup XGROUP CREATE <stream> <group> 0 MKSTREAM
func (l *RedisEventLog) EnsureGroup(ctxt context.Context, stream, group string) error {
	err := l.client.XGroupCreateMkStream(ctxt, stream, group, "0").Err()
	if err == nil {
		log.WithFields(l.LogTags).Infof("Created consumer group %s on %s", group, stream)
		return nil
	}
	if strings.HasPrefix(err.Error(), "BUSYGROUP") {
		log.WithFields(l.LogTags).Debugf("%s: %s on %s", ErrConsumerGroupExists, group, stream)
		return nil
	}
	return transportError("xgroup create", err)
}

// Poll XREADGROUP on the stream
func (l *RedisEventLog) Poll(
	ctxt context.Context,
	stream, group, consumer string,
	count int64,
	block time.Duration,
	pendingOnly bool,
) ([]StreamEvent, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}
	if pendingOnly {
		args.Streams = []string{stream, "0"}
		args.Block = -1
	}
	res, err := l.client.XReadGroup(ctxt, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctxt.Err() != nil {
			return nil, ctxt.Err()
		}
		return nil, transportError("xreadgroup", err)
	}
	events := make([]StreamEvent, 0, count)
	for _, oneStream := range res {
		for _, msg := range oneStream.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				fields[k] = fmt.Sprint(v)
			}
			events = append(events, StreamEvent{ID: msg.ID, Fields: fields})
		}
	}
	return events, nil
}

// Ack XACK one entry
func (l *RedisEventLog) Ack(ctxt context.Context, stream, group, id string) error {
	if err := l.client.XAck(ctxt, stream, group, id).Err(); err != nil {
		return transportError("xack", err)
	}
	return nil
}

// =====================================================================================

// StreamConsumer reads the event log through a consumer group and forwards each entry
// to connected clients, acknowledging only after the forward succeeded.
type StreamConsumer struct {
	common.Component
	eventLog EventLog
	sink     EventSink
	cfg      common.StreamConsumerConfig
	// backlog when set, re-read this consumer's pending entries before new ones
	backlog bool
}

// NewStreamConsumer define a new stream consumer
func NewStreamConsumer(
	eventLog EventLog, sink EventSink, cfg common.StreamConsumerConfig,
) (*StreamConsumer, error) {
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "realtime",
		"component": "stream-consumer",
		"instance":  fmt.Sprintf("%s/%s/%s", cfg.Stream, cfg.Group, cfg.Consumer),
	}
	return &StreamConsumer{
		Component: common.Component{LogTags: logTags},
		eventLog:  eventLog,
		sink:      sink,
		cfg:       cfg,
	}, nil
}

// pause wait out the error backoff. Returns false if ctxt ended first.
func (c *StreamConsumer) pause(ctxt context.Context) bool {
	select {
	case <-ctxt.Done():
		return false
	case <-time.After(c.cfg.ErrorBackoffDuration()):
		return true
	}
}

// Run consume the log until ctxt is cancelled
func (c *StreamConsumer) Run(ctxt context.Context) error {
	log.WithFields(c.LogTags).Info("Starting stream consumer")
	defer log.WithFields(c.LogTags).Info("Stream consumer stopped")

	for {
		err := c.eventLog.EnsureGroup(ctxt, c.cfg.Stream, c.cfg.Group)
		if err == nil {
			break
		}
		log.WithError(err).WithFields(c.LogTags).Error("Unable to ensure consumer group")
		if !c.pause(ctxt) {
			return ctxt.Err()
		}
	}

	c.backlog = true
	for {
		if ctxt.Err() != nil {
			return ctxt.Err()
		}
		events, err := c.eventLog.Poll(
			ctxt,
			c.cfg.Stream,
			c.cfg.Group,
			c.cfg.Consumer,
			c.cfg.BatchSize,
			c.cfg.PollTimeoutDuration(),
			c.backlog,
		)
		if err != nil {
			if ctxt.Err() != nil {
				return ctxt.Err()
			}
			log.WithError(err).WithFields(c.LogTags).Error("Stream poll failed")
			if !c.pause(ctxt) {
				return ctxt.Err()
			}
			continue
		}
		if len(events) == 0 {
			if c.backlog {
				log.WithFields(c.LogTags).Debug("Pending entries drained")
				c.backlog = false
			}
			continue
		}
		if err := c.process(events); err != nil {
			log.WithError(err).WithFields(c.LogTags).Error("Stream batch processing failed")
			c.backlog = true
			if !c.pause(ctxt) {
				return ctxt.Err()
			}
		}
	}
}

// process DELIVER then ACK each entry in order. Stops at the first failure so the
// remaining entries stay pending.
//
// The batch runs on its own context so cancellation never separates a delivery from
// its acknowledgement.
func (c *StreamConsumer) process(events []StreamEvent) error {
	ctxt, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	for _, event := range events {
		if len(event.Fields) == 0 {
			log.WithError(ErrMalformedMessage).WithFields(c.LogTags).Errorf(
				"Entry %s has no fields, skipping", event.ID,
			)
		} else if err := c.deliver(ctxt, event); err != nil {
			return fmt.Errorf("deliver %s: %w", event.ID, err)
		}
		if err := c.eventLog.Ack(ctxt, c.cfg.Stream, c.cfg.Group, event.ID); err != nil {
			return fmt.Errorf("ack %s: %w", event.ID, err)
		}
		log.WithFields(c.LogTags).Debugf("Processed entry %s", event.ID)
	}
	return nil
}

// deliver route one entry. Entries naming a user go to that user only.
func (c *StreamConsumer) deliver(ctxt context.Context, event StreamEvent) error {
	msg := NewEnvelope(EnvelopeTypeStreamData, event.Fields)
	if userID := event.Fields["user_id"]; userID != "" {
		return c.sink.SendToUser(ctxt, userID, msg)
	}
	return c.sink.Broadcast(ctxt, msg)
}
