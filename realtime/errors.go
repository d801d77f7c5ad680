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
	"errors"
	"fmt"
)

// ErrTransientTransport the connection to the event log or channel bus dropped.
// Callers back off and resume.
var ErrTransientTransport = errors.New("transient transport failure")

// ErrMalformedMessage a stream entry or channel payload could not be decoded.
// The message is skipped.
var ErrMalformedMessage = errors.New("malformed message")

// ErrConsumerGroupExists the consumer group is already present on the stream
var ErrConsumerGroupExists = errors.New("consumer group already exists")

// ErrConnectionClosed the connection no longer accepts messages
var ErrConnectionClosed = errors.New("connection closed")

// DeliveryError sending to one connection failed
type DeliveryError struct {
	ConnectionID string
	Err          error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("delivery to connection %s failed: %s", e.ConnectionID, e.Err)
}

func (e DeliveryError) Unwrap() error {
	return e.Err
}

// transportError tag err as ErrTransientTransport while keeping its text
func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %s", ErrTransientTransport, op, err.Error())
}
