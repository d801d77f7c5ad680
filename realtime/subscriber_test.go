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
	"testing"
	"time"

	"github.com/alwitt/brane/core"
	"github.com/apex/log"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
)

// chanSource ChannelSource backed by a test controlled channel
type chanSource struct {
	messages chan ChannelMessage
}

type chanSubscription struct {
	messages chan ChannelMessage
}

func (s *chanSubscription) Messages() <-chan ChannelMessage {
	return s.messages
}

func (s *chanSubscription) Close() error {
	return nil
}

func (s *chanSource) Subscribe(_ context.Context, _ []string) (ChannelSubscription, error) {
	return &chanSubscription{messages: s.messages}, nil
}

func TestChannelSubscriberSkipsMalformed(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	registry := GetConnectionRegistry()
	conn := newRecordingConnection("u2")
	registry.Register(conn, "u2")

	source := &chanSource{messages: make(chan ChannelMessage, 4)}
	uut, err := NewChannelSubscriber(source, registry, []string{"brane:alerts"})
	assert.Nil(err)

	ctxt, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- uut.Run(ctxt) }()

	source.messages <- ChannelMessage{Channel: "brane:alerts", Payload: []byte("{not json")}
	source.messages <- ChannelMessage{
		Channel: "brane:alerts",
		Payload: []byte(`{"type":"new_insights_available","user_id":"u1"}`),
	}

	assert.Eventually(func() bool { return len(conn.messages()) == 1 }, time.Second, time.Millisecond*10)
	msg := conn.messages()[0]
	assert.Equal(EnvelopeTypePubSubMessage, msg.Type)
	assert.Equal("brane:alerts", msg.Channel)
	data, ok := msg.Data.(map[string]interface{})
	assert.True(ok)
	assert.Equal("new_insights_available", data["type"])

	cancel()
	assert.ErrorIs(<-done, context.Canceled)
}

func TestChannelSubscriberStreamClosed(t *testing.T) {
	assert := assert.New(t)

	source := &chanSource{messages: make(chan ChannelMessage)}
	uut, err := NewChannelSubscriber(source, GetConnectionRegistry(), []string{"brane:alerts"})
	assert.Nil(err)

	close(source.messages)
	assert.ErrorIs(uut.Run(context.Background()), ErrTransientTransport)

	_, err = NewChannelSubscriber(source, GetConnectionRegistry(), nil)
	assert.NotNil(err)
}

func TestRedisChannelBroadcast(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	mr, client := newTestRedis(t)
	registry := GetConnectionRegistry()
	conns := []*recordingConnection{
		newRecordingConnection("u2"),
		newRecordingConnection("u3"),
		newRecordingConnection("u3"),
	}
	for _, conn := range conns {
		registry.Register(conn, conn.userID)
	}

	uut, err := NewChannelSubscriber(
		NewRedisChannelSource(client), registry, []string{"brane:insights", "brane:alerts"},
	)
	assert.Nil(err)

	ctxt, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- uut.Run(ctxt) }()
	defer func() {
		cancel()
		<-done
	}()

	assert.Eventually(func() bool {
		return mr.PubSubNumSub("brane:alerts")["brane:alerts"] == 1
	}, time.Second*2, time.Millisecond*10)

	publisher := NewRedisPublisher(client)
	assert.Nil(publisher.Publish(
		context.Background(),
		"brane:alerts",
		[]byte(`{"type":"new_insights_available","user_id":"u1"}`),
	))

	assert.Eventually(func() bool {
		for _, conn := range conns {
			if len(conn.messages()) != 1 {
				return false
			}
		}
		return true
	}, time.Second*2, time.Millisecond*10)
	for _, conn := range conns {
		assert.Equal("brane:alerts", conn.messages()[0].Channel)
	}
}

func TestNATSChannelBroadcast(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	srv := test.RunRandClientPortServer()
	defer srv.Shutdown()

	params := core.NATSConnectParams{
		ServerURI:           srv.ClientURL(),
		ConnectTimeout:      time.Second * 2,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
	}
	nc, err := core.GetNATSClient(params)
	assert.Nil(err)
	defer func() {
		closeCtxt, closeCancel := context.WithTimeout(context.Background(), time.Second)
		defer closeCancel()
		nc.Close(closeCtxt)
	}()

	registry := GetConnectionRegistry()
	conn := newRecordingConnection("u1")
	registry.Register(conn, "u1")

	source := NewNATSChannelSource(nc.Conn())
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := source.Subscribe(ctxt, []string{"brane:insights", "brane:alerts"})
	assert.Nil(err)

	publisher := NewNATSPublisher(nc.Conn())
	assert.Nil(publisher.Publish(ctxt, "brane:insights", []byte(`{"insights":[]}`)))

	select {
	case msg := <-sub.Messages():
		assert.Equal("brane:insights", msg.Channel)
		assert.Equal(`{"insights":[]}`, string(msg.Payload))
	case <-time.After(time.Second * 2):
		assert.Fail("no message received")
	}
	assert.Nil(sub.Close())

	// Same path through the subscriber
	uut, err := NewChannelSubscriber(source, registry, []string{"brane:alerts"})
	assert.Nil(err)
	runCtxt, runCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- uut.Run(runCtxt) }()

	assert.Eventually(func() bool {
		_ = publisher.Publish(context.Background(), "brane:alerts", []byte(`{"type":"alert"}`))
		return len(conn.messages()) > 0
	}, time.Second*2, time.Millisecond*50)
	runCancel()
	<-done
	assert.Equal("brane:alerts", conn.messages()[0].Channel)
}

func TestNATSChannelConnectionLost(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	srv := test.RunRandClientPortServer()
	defer srv.Shutdown()

	nc, err := core.GetNATSClient(core.NATSConnectParams{
		ServerURI:           srv.ClientURL(),
		ConnectTimeout:      time.Second * 2,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
	})
	assert.Nil(err)

	registry := GetConnectionRegistry()
	source := NewNATSChannelSource(nc.Conn())
	source.livenessInterval = time.Millisecond * 20

	uut, err := NewChannelSubscriber(source, registry, []string{"brane:alerts"})
	assert.Nil(err)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- uut.Run(ctxt) }()

	// Case 0: the connection goes away for good while subscribed
	time.Sleep(time.Millisecond * 100)
	nc.Conn().Close()

	select {
	case err := <-done:
		assert.ErrorIs(err, ErrTransientTransport)
	case <-time.After(time.Second * 2):
		assert.Fail("subscriber did not notice the closed connection")
	}

	// Case 1: subscribing on a closed connection
	_, err = source.Subscribe(context.Background(), []string{"brane:alerts"})
	assert.ErrorIs(err, ErrTransientTransport)
}
