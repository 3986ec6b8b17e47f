// Copyright 2023 The gateway-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"fmt"
	"sync"
	"time"
)

// Role identifies what kind of participant a client is. It is used only for
// reporting; the registry treats all roles identically.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
	RoleMQTT     Role = "mqtt"
)

// Client is the registry's record of one logical client occupying one
// physical connection within one group. A Client is owned by exactly one
// (group, channel) table slot; it is created on first registration and
// dropped when the slot is removed.
type Client struct {
	// ClientID identifies the logical client. It is stable across
	// reconnects of the same client but is not unique per connection.
	ClientID string
	// Role is the kind of participant, for reporting only.
	Role Role
	// Channel is the owning physical connection. The registry may close
	// it on eviction but does not otherwise manage its lifecycle.
	Channel Channel

	mu         sync.Mutex
	lastActive time.Time
}

// NewClient creates a client record for a connection.
func NewClient(clientID string, role Role, ch Channel) *Client {
	return &Client{
		ClientID: clientID,
		Role:     role,
		Channel:  ch,
	}
}

// Touch refreshes the client's heartbeat timestamp.
func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

// LastActive returns the time of the most recent successful registration.
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// String describes the client for log output.
func (c *Client) String() string {
	return fmt.Sprintf("client[id=%s role=%s addr=%s]", c.ClientID, c.Role, remoteAddr(c.Channel))
}

// remoteAddr formats a channel's remote address for log output.
func remoteAddr(ch Channel) string {
	if ch == nil {
		return "<nil>"
	}
	addr := ch.RemoteAddr()
	if addr == nil {
		return "<unknown>"
	}
	return addr.String()
}
