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

package gateway

import (
	"sync"

	"github.com/turtacn/gateway-go/pkg/registry"
)

// membershipTable tracks which groups each channel is registered under. The
// registry itself does not discover group membership when a connection
// drops; this table supplies it.
type membershipTable struct {
	mu     sync.Mutex
	byChan map[registry.Channel]*membership
}

type membership struct {
	clientID string
	groups   map[string]struct{}
}

func newMembershipTable() *membershipTable {
	return &membershipTable{
		byChan: make(map[registry.Channel]*membership),
	}
}

// add records that ch is registered under group. It returns the client id
// previously recorded for the channel (empty for a new channel) and whether
// this is the channel's first group.
func (t *membershipTable) add(ch registry.Channel, group, clientID string) (string, bool) {
	ch = registry.Canonicalize(ch)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byChan[ch]
	if !ok {
		m = &membership{clientID: clientID, groups: make(map[string]struct{})}
		t.byChan[ch] = m
	}
	prev := m.clientID
	m.clientID = clientID
	m.groups[group] = struct{}{}
	if !ok {
		return "", true
	}
	return prev, false
}

// remove drops group from ch's membership. It returns the channel's client
// id and true when the channel has no groups left.
func (t *membershipTable) remove(ch registry.Channel, group string) (string, bool) {
	ch = registry.Canonicalize(ch)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byChan[ch]
	if !ok {
		return "", false
	}
	delete(m.groups, group)
	if len(m.groups) == 0 {
		delete(t.byChan, ch)
		return m.clientID, true
	}
	return m.clientID, false
}

// groupsOf returns the groups ch is currently registered under.
func (t *membershipTable) groupsOf(ch registry.Channel) []string {
	ch = registry.Canonicalize(ch)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byChan[ch]
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(m.groups))
	for group := range m.groups {
		groups = append(groups, group)
	}
	return groups
}
