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

import "net"

// Channel is the registry's view of one physical client connection. The
// registry never reads or writes the connection; it only closes it when a
// session expires and uses the remote address for diagnostics.
type Channel interface {
	// Close tears down the underlying transport. It must be safe to call
	// more than once.
	Close() error
	// RemoteAddr returns the address of the remote peer, or nil if the
	// channel is not backed by a network connection.
	RemoteAddr() net.Addr
}

// Unwrapper is implemented by channel adapters that wrap another channel.
// Handler layers often pass short-lived wrapper objects around a single
// physical connection; Canonicalize uses this to reduce every wrapper to
// the one canonical handle.
type Unwrapper interface {
	Underlying() Channel
}

// Canonicalize resolves a channel to its canonical representation so that
// two wrappers of the same physical connection compare equal as map keys.
// Non-wrapper channels canonicalize to themselves. It must be applied
// before every table lookup, insert, or remove.
func Canonicalize(ch Channel) Channel {
	for {
		w, ok := ch.(Unwrapper)
		if !ok {
			return ch
		}
		inner := w.Underlying()
		if inner == nil || inner == ch {
			return ch
		}
		ch = inner
	}
}
