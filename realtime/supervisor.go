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
	"time"

	"github.com/alwitt/brane/common"
	"github.com/apex/log"
)

// SupervisedTask is a long-lived task. It should return only when ctxt is cancelled.
type SupervisedTask func(ctxt context.Context) error

// Supervisor keeps named tasks running, restarting them after they exit or panic
type Supervisor struct {
	common.Component
	ctxt         context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	restartDelay time.Duration
}

// NewSupervisor define a new supervisor bound to the parent context
func NewSupervisor(
	parent context.Context, name string, restartDelay time.Duration,
) *Supervisor {
	ctxt, cancel := context.WithCancel(parent)
	return &Supervisor{
		Component: common.Component{
			LogTags: log.Fields{
				"module": "realtime", "component": "supervisor", "instance": name,
			},
		},
		ctxt:         ctxt,
		cancel:       cancel,
		restartDelay: restartDelay,
	}
}

// Go start a supervised task
func (s *Supervisor) Go(name string, task SupervisedTask) {
	logTags := log.Fields{}
	for k, v := range s.LogTags {
		logTags[k] = v
	}
	logTags["task"] = name
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := s.runOnce(task)
			if s.ctxt.Err() != nil {
				log.WithFields(logTags).Info("Task stopped")
				return
			}
			if err != nil {
				log.WithError(err).WithFields(logTags).Errorf(
					"Task exited, restarting in %s", s.restartDelay,
				)
			} else {
				log.WithFields(logTags).Warnf("Task returned, restarting in %s", s.restartDelay)
			}
			select {
			case <-s.ctxt.Done():
				return
			case <-time.After(s.restartDelay):
			}
		}
	}()
}

// runOnce run the task, converting a panic into an error
func (s *Supervisor) runOnce(task SupervisedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(s.ctxt)
}

// Context the context handed to supervised tasks
func (s *Supervisor) Context() context.Context {
	return s.ctxt
}

// Stop cancel all tasks and wait for them to return
func (s *Supervisor) Stop() {
	log.WithFields(s.LogTags).Info("Stopping supervised tasks")
	s.cancel()
	s.wg.Wait()
}
