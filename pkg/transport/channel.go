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

package transport

import (
	"net"
	"sync"

	"github.com/turtacn/gateway-go/pkg/registry"
)

// TCPChannel is the canonical channel representation for one accepted TCP
// connection. One TCPChannel exists per connection for its whole lifetime;
// its pointer identity is the registry key.
type TCPChannel struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewTCPChannel wraps an accepted connection.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{conn: conn}
}

// Conn exposes the underlying connection for protocol I/O.
func (c *TCPChannel) Conn() net.Conn {
	return c.conn
}

// Close closes the underlying connection. Subsequent calls return the
// result of the first.
func (c *TCPChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote peer address.
func (c *TCPChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ContextChannel is a short-lived adapter a packet handler passes around
// instead of the connection's canonical channel. Two ContextChannels built
// from the same TCPChannel canonicalize to the same registry key.
type ContextChannel struct {
	ch *TCPChannel
}

// NewContextChannel wraps a canonical channel in a handler-scoped adapter.
func NewContextChannel(ch *TCPChannel) *ContextChannel {
	return &ContextChannel{ch: ch}
}

// Underlying returns the wrapped canonical channel.
func (c *ContextChannel) Underlying() registry.Channel {
	return c.ch
}

// Close closes the wrapped channel.
func (c *ContextChannel) Close() error {
	return c.ch.Close()
}

// RemoteAddr returns the wrapped channel's remote peer address.
func (c *ContextChannel) RemoteAddr() net.Addr {
	return c.ch.RemoteAddr()
}
