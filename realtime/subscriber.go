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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// ChannelSubscription is an open subscription to a set of broadcast channels
type ChannelSubscription interface {
	// Messages the stream of published messages. Closed when the subscription ends.
	Messages() <-chan ChannelMessage
	// Close end the subscription
	Close() error
}

// ChannelSource opens subscriptions on a publish/subscribe bus
type ChannelSource interface {
	Subscribe(ctxt context.Context, channels []string) (ChannelSubscription, error)
}

// ChannelPublisher publishes payloads on a publish/subscribe bus
type ChannelPublisher interface {
	Publish(ctxt context.Context, channel string, payload []byte) error
}

// relaySubscription forwards bus specific messages onto a ChannelMessage stream
type relaySubscription struct {
	messages chan ChannelMessage
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cleanup  func() error
	once     sync.Once
}

func (s *relaySubscription) Messages() <-chan ChannelMessage {
	return s.messages
}

func (s *relaySubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.cleanup()
		s.wg.Wait()
	})
	return err
}

// =====================================================================================
// Redis Pub/Sub

// RedisChannelSource ChannelSource on Redis Pub/Sub
type RedisChannelSource struct {
	common.Component
	client *redis.Client
}

// NewRedisChannelSource define a Redis Pub/Sub channel source
func NewRedisChannelSource(client *redis.Client) *RedisChannelSource {
	return &RedisChannelSource{
		Component: common.Component{
			LogTags: log.Fields{"module": "realtime", "component": "redis-channel-source"},
		},
		client: client,
	}
}

// Subscribe SUBSCRIBE to the channels and wait for the confirmation
func (s *RedisChannelSource) Subscribe(
	ctxt context.Context, channels []string,
) (ChannelSubscription, error) {
	pubsub := s.client.Subscribe(ctxt, channels...)
	if _, err := pubsub.Receive(ctxt); err != nil {
		_ = pubsub.Close()
		return nil, transportError("subscribe", err)
	}
	log.WithFields(s.LogTags).Infof("Subscribed to %s", strings.Join(channels, ","))

	subCtxt, cancel := context.WithCancel(ctxt)
	sub := &relaySubscription{
		messages: make(chan ChannelMessage, 16),
		cancel:   cancel,
		cleanup:  pubsub.Close,
	}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(sub.messages)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtxt.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case sub.messages <- ChannelMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-subCtxt.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// RedisPublisher ChannelPublisher on Redis Pub/Sub
type RedisPublisher struct {
	client redis.Cmdable
}

// NewRedisPublisher define a Redis Pub/Sub publisher
func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish PUBLISH the payload
func (p *RedisPublisher) Publish(ctxt context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctxt, channel, payload).Err(); err != nil {
		return transportError("publish", err)
	}
	return nil
}

// =====================================================================================
// NATS

const (
	natsFlushTimeout     = time.Second * 5
	natsLivenessInterval = time.Second
)

// NATSChannelSource ChannelSource on core NATS subjects named after the channels
type NATSChannelSource struct {
	common.Component
	nc *nats.Conn
	// livenessInterval how often the relay checks the connection and subscriptions.
	// NATS never closes a ChanSubscribe channel, even when the connection closes for good.
	livenessInterval time.Duration
}

// NewNATSChannelSource define a NATS channel source
func NewNATSChannelSource(nc *nats.Conn) *NATSChannelSource {
	return &NATSChannelSource{
		Component: common.Component{
			LogTags: log.Fields{"module": "realtime", "component": "nats-channel-source"},
		},
		nc:               nc,
		livenessInterval: natsLivenessInterval,
	}
}

// relayAlive whether the connection is open and every subscription is still valid
func (s *NATSChannelSource) relayAlive(subs []*nats.Subscription) bool {
	if s.nc.IsClosed() {
		return false
	}
	for _, oneSub := range subs {
		if !oneSub.IsValid() {
			return false
		}
	}
	return true
}

// Subscribe subscribe to one subject per channel
func (s *NATSChannelSource) Subscribe(
	ctxt context.Context, channels []string,
) (ChannelSubscription, error) {
	if s.nc.IsClosed() {
		return nil, transportError("subscribe", nats.ErrConnectionClosed)
	}
	inbound := make(chan *nats.Msg, 64)
	subs := make([]*nats.Subscription, 0, len(channels))
	unsubscribeAll := func() error {
		var firstErr error
		for _, oneSub := range subs {
			if err := oneSub.Unsubscribe(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, channel := range channels {
		oneSub, err := s.nc.ChanSubscribe(channel, inbound)
		if err != nil {
			_ = unsubscribeAll()
			return nil, transportError(fmt.Sprintf("subscribe %s", channel), err)
		}
		subs = append(subs, oneSub)
	}
	flushCtxt, flushCancel := context.WithTimeout(ctxt, natsFlushTimeout)
	defer flushCancel()
	if err := s.nc.FlushWithContext(flushCtxt); err != nil {
		_ = unsubscribeAll()
		return nil, transportError("flush", err)
	}
	log.WithFields(s.LogTags).Infof("Subscribed to %s", strings.Join(channels, ","))

	subCtxt, cancel := context.WithCancel(ctxt)
	sub := &relaySubscription{
		messages: make(chan ChannelMessage, 16),
		cancel:   cancel,
		cleanup:  unsubscribeAll,
	}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(sub.messages)
		liveness := time.NewTicker(s.livenessInterval)
		defer liveness.Stop()
		for {
			select {
			case <-subCtxt.Done():
				return
			case <-liveness.C:
				if !s.relayAlive(subs) {
					log.WithFields(s.LogTags).Error("NATS connection or subscription lost")
					return
				}
			case msg := <-inbound:
				select {
				case sub.messages <- ChannelMessage{Channel: msg.Subject, Payload: msg.Data}:
				case <-subCtxt.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// NATSPublisher ChannelPublisher on core NATS
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher define a NATS publisher
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish publish the payload on the subject named after the channel
func (p *NATSPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if err := p.nc.Publish(channel, payload); err != nil {
		return transportError("publish", err)
	}
	return nil
}

// =====================================================================================

// ChannelSubscriber forwards broadcast channel messages to every connected client
type ChannelSubscriber struct {
	common.Component
	source   ChannelSource
	sink     EventSink
	channels []string
}

// NewChannelSubscriber define a new channel subscriber
func NewChannelSubscriber(
	source ChannelSource, sink EventSink, channels []string,
) (*ChannelSubscriber, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("channel subscriber requires at least one channel")
	}
	logTags := log.Fields{
		"module":    "realtime",
		"component": "channel-subscriber",
		"instance":  strings.Join(channels, ","),
	}
	return &ChannelSubscriber{
		Component: common.Component{LogTags: logTags},
		source:    source,
		sink:      sink,
		channels:  channels,
	}, nil
}

// Run subscribe and forward messages until ctxt is cancelled or the subscription ends
func (s *ChannelSubscriber) Run(ctxt context.Context) error {
	sub, err := s.source.Subscribe(ctxt, s.channels)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Subscribe failed")
		return err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Subscription close failed")
		}
	}()
	log.WithFields(s.LogTags).Info("Channel subscriber running")
	for {
		select {
		case <-ctxt.Done():
			return ctxt.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctxt.Err() != nil {
					return ctxt.Err()
				}
				return transportError("subscription", fmt.Errorf("message stream closed"))
			}
			s.forward(msg)
		}
	}
}

// forward decode and broadcast one message
func (s *ChannelSubscriber) forward(msg ChannelMessage) {
	var data interface{}
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		log.WithError(fmt.Errorf("%w: %s", ErrMalformedMessage, err.Error())).
			WithFields(s.LogTags).
			Errorf("Dropping payload on %s", msg.Channel)
		return
	}
	ctxt, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	envelope := NewEnvelope(EnvelopeTypePubSubMessage, data)
	envelope.Channel = msg.Channel
	if err := s.sink.Broadcast(ctxt, envelope); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Broadcast of %s message failed", msg.Channel,
		)
	}
}
