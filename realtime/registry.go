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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alwitt/brane/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ConnectionRegistry tracks the live client connections by connection and by user
type ConnectionRegistry interface {
	EventSink

	// Register add a connection for a user
	Register(conn Connection, userID string)

	// Unregister remove a connection. Removing an unknown connection is a no-op.
	Unregister(conn Connection, userID string)

	// UserConnectionCount number of connections registered for a user
	UserConnectionCount(userID string) int

	// ConnectionCount number of connections registered
	ConnectionCount() int

	// UserCount number of users with at least one connection
	UserCount() int
}

// userShard is the set of connections of one user
type userShard struct {
	lock  sync.Mutex
	conns map[string]Connection
	// dead is set once the shard empties and is being removed from the registry
	dead bool
}

// connectionRegistryImpl implements ConnectionRegistry
type connectionRegistryImpl struct {
	common.Component
	lock     sync.RWMutex
	shards   map[string]*userShard
	total    int64
	validate *validator.Validate
}

// GetConnectionRegistry define a new connection registry
func GetConnectionRegistry() ConnectionRegistry {
	logTags := log.Fields{"module": "realtime", "component": "connection-registry"}
	return &connectionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		shards:    make(map[string]*userShard),
		validate:  validator.New(),
	}
}

// lookupShard fetch the shard of a user, optionally creating it
func (r *connectionRegistryImpl) lookupShard(userID string, create bool) *userShard {
	r.lock.RLock()
	shard, ok := r.shards[userID]
	r.lock.RUnlock()
	if ok || !create {
		return shard
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if shard, ok = r.shards[userID]; !ok {
		shard = &userShard{conns: make(map[string]Connection)}
		r.shards[userID] = shard
	}
	return shard
}

// dropShard remove a dead shard if it is still the one mapped to the user
func (r *connectionRegistryImpl) dropShard(userID string, shard *userShard) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if current, ok := r.shards[userID]; ok && current == shard {
		delete(r.shards, userID)
	}
}

// Register add a connection for a user
func (r *connectionRegistryImpl) Register(conn Connection, userID string) {
	for {
		shard := r.lookupShard(userID, true)
		shard.lock.Lock()
		if shard.dead {
			// lost the race against the last unregister of this user
			shard.lock.Unlock()
			r.dropShard(userID, shard)
			continue
		}
		if _, ok := shard.conns[conn.ID()]; !ok {
			shard.conns[conn.ID()] = conn
			atomic.AddInt64(&r.total, 1)
		}
		size := len(shard.conns)
		shard.lock.Unlock()
		log.WithFields(r.LogTags).Debugf(
			"Registered connection %s for user %s (%d active)", conn.ID(), userID, size,
		)
		return
	}
}

// Unregister remove a connection. Removing an unknown connection is a no-op.
func (r *connectionRegistryImpl) Unregister(conn Connection, userID string) {
	shard := r.lookupShard(userID, false)
	if shard == nil {
		return
	}
	shard.lock.Lock()
	if _, ok := shard.conns[conn.ID()]; ok {
		delete(shard.conns, conn.ID())
		atomic.AddInt64(&r.total, -1)
		log.WithFields(r.LogTags).Debugf(
			"Unregistered connection %s of user %s", conn.ID(), userID,
		)
	}
	empty := !shard.dead && len(shard.conns) == 0
	if empty {
		shard.dead = true
	}
	shard.lock.Unlock()
	if empty {
		r.dropShard(userID, shard)
	}
}

// deliverToShard send to every connection in the shard. Caller holds the shard lock.
func (r *connectionRegistryImpl) deliverToShard(
	ctxt context.Context, shard *userShard, msg *Envelope,
) int {
	delivered := 0
	for _, conn := range shard.conns {
		if err := conn.Send(ctxt, msg); err != nil {
			failure := DeliveryError{ConnectionID: conn.ID(), Err: err}
			log.WithError(failure).WithFields(r.LogTags).Errorf(
				"Failed to send %s to user %s", msg.Type, conn.UserID(),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *connectionRegistryImpl) checkEnvelope(msg *Envelope) error {
	if msg == nil {
		return fmt.Errorf("no envelope to deliver")
	}
	return r.validate.Struct(msg)
}

// SendToUser deliver to every connection of one user
func (r *connectionRegistryImpl) SendToUser(
	ctxt context.Context, userID string, msg *Envelope,
) error {
	if err := r.checkEnvelope(msg); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Invalid envelope")
		return err
	}
	shard := r.lookupShard(userID, false)
	if shard == nil {
		return nil
	}
	shard.lock.Lock()
	defer shard.lock.Unlock()
	delivered := r.deliverToShard(ctxt, shard, msg)
	log.WithFields(r.LogTags).Debugf(
		"Sent %s to %d of %d connections of user %s",
		msg.Type, delivered, len(shard.conns), userID,
	)
	return nil
}

// Broadcast deliver to every connection
func (r *connectionRegistryImpl) Broadcast(ctxt context.Context, msg *Envelope) error {
	if err := r.checkEnvelope(msg); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Invalid envelope")
		return err
	}
	r.lock.RLock()
	shards := make([]*userShard, 0, len(r.shards))
	for _, shard := range r.shards {
		shards = append(shards, shard)
	}
	r.lock.RUnlock()

	delivered := 0
	for _, shard := range shards {
		shard.lock.Lock()
		if !shard.dead {
			delivered += r.deliverToShard(ctxt, shard, msg)
		}
		shard.lock.Unlock()
	}
	log.WithFields(r.LogTags).Debugf("Broadcast %s to %d connections", msg.Type, delivered)
	return nil
}

// UserConnectionCount number of connections registered for a user
func (r *connectionRegistryImpl) UserConnectionCount(userID string) int {
	shard := r.lookupShard(userID, false)
	if shard == nil {
		return 0
	}
	shard.lock.Lock()
	defer shard.lock.Unlock()
	return len(shard.conns)
}

// ConnectionCount number of connections registered
func (r *connectionRegistryImpl) ConnectionCount() int {
	return int(atomic.LoadInt64(&r.total))
}

// UserCount number of users with at least one connection
func (r *connectionRegistryImpl) UserCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.shards)
}
