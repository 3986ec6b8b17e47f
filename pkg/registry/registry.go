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

// package registry tracks which client connections belong to which
// producer/consumer group. It keeps a two-level index from (group, canonical
// channel) to client session state, safe for unbounded concurrent mutation
// from connection handlers plus one periodic background expiry scan.
package registry

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/turtacn/gateway-go/pkg/metrics"
)

var (
	// ErrNotFound is returned by GetClient when no session exists for the
	// given group and channel.
	ErrNotFound = errors.New("client not found")
	// ErrNoGroup is returned when a query is called without a group.
	ErrNoGroup = errors.New("group must not be empty")
	// ErrNoChannel is returned when a query is called without a channel.
	ErrNoChannel = errors.New("channel must not be nil")
)

// Hooks is the extension point a concrete session manager implements to
// react to membership changes. Each hook is invoked after the corresponding
// table mutation is visible and cannot veto it. Implementations must be
// safe for concurrent use; the registry calls them from connection-handling
// goroutines and from the expiry scan.
type Hooks interface {
	OnRegister(group string, ch Channel)
	OnUnregister(group string, ch Channel)
	OnClosed(group string, ch Channel)
}

// NopHooks is a Hooks implementation that does nothing.
type NopHooks struct{}

func (NopHooks) OnRegister(string, Channel)   {}
func (NopHooks) OnUnregister(string, Channel) {}
func (NopHooks) OnClosed(string, Channel)     {}

// Config defines the expiry behavior of the registry.
type Config struct {
	// ScanInterval is how often the expiry scan runs.
	ScanInterval time.Duration
	// ExpiryTimeout is how long a session may go without a heartbeat
	// before it is evicted and its channel closed.
	ExpiryTimeout time.Duration
	// InitialDelay is how long StartScan waits before the first run.
	InitialDelay time.Duration
}

// DefaultConfig returns the default expiry configuration.
func DefaultConfig() *Config {
	return &Config{
		ScanInterval:  30 * time.Second,
		ExpiryTimeout: 2 * time.Minute,
		InitialDelay:  10 * time.Second,
	}
}

// Registry is the client connection table. The zero value is not usable;
// create one with New.
type Registry struct {
	hooks  Hooks
	config *Config

	mu     sync.RWMutex
	groups map[string]map[Channel]*Client

	scanOnce sync.Once
	stopScan chan struct{}
	closed   bool

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// New creates an empty registry. A nil hooks installs NopHooks; a nil config
// installs DefaultConfig. The expiry scan does not run until StartScan is
// called.
func New(hooks Hooks, config *Config) *Registry {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Registry{
		hooks:    hooks,
		config:   config,
		groups:   make(map[string]map[Channel]*Client),
		stopScan: make(chan struct{}),
		now:      time.Now,
	}
}

// Register inserts or refreshes the session for the client's channel under
// group. Re-registration of the same channel with the same client ID only
// refreshes the heartbeat. Re-registration with a different client ID is a
// consistency anomaly: the newer client wins, the anomaly is logged, and
// Register returns true. The OnRegister hook fires exactly once per call.
func (r *Registry) Register(group string, client *Client) bool {
	if client == nil {
		return false
	}
	ch := Canonicalize(client.Channel)
	now := r.now()

	r.mu.Lock()
	table, ok := r.groups[group]
	if !ok {
		table = make(map[Channel]*Client)
		r.groups[group] = table
	}
	replaced := false
	old, ok := table[ch]
	if !ok {
		table[ch] = client
		client.Touch(now)
		r.mu.Unlock()
		metrics.ActiveSessions.Inc()
		log.Printf("[INFO] Registered %s in group %s", client, group)
	} else if old.ClientID != client.ClientID {
		// Two logical clients claiming one physical connection points at
		// a bug or race upstream. The newer registration wins.
		table[ch] = client
		client.Touch(now)
		replaced = true
		r.mu.Unlock()
		metrics.AnomaliesTotal.Inc()
		log.Printf("[ERROR] Channel already registered in group %s with a different client id. old: %s new: %s",
			group, old, client)
	} else {
		old.Touch(now)
		r.mu.Unlock()
	}

	metrics.RegistrationsTotal.Inc()
	r.hooks.OnRegister(group, ch)
	return replaced
}

// Unregister removes the session for channel under group, pruning the group
// entry if it becomes empty, then fires OnUnregister. Removing an absent
// entry is a no-op.
func (r *Registry) Unregister(group string, ch Channel) {
	ch = Canonicalize(ch)
	r.remove(group, ch)
	r.hooks.OnUnregister(group, ch)
}

// OnClose removes the channel's session from every listed group and fires
// OnClosed per group. The transport layer drives this path when it observes
// a dropped connection; the registry does not discover group membership on
// its own.
func (r *Registry) OnClose(groups []string, ch Channel) {
	ch = Canonicalize(ch)
	for _, group := range groups {
		r.remove(group, ch)
		r.hooks.OnClosed(group, ch)
	}
}

// remove deletes the (group, ch) slot if present and prunes an empty group.
// ch must already be canonical.
func (r *Registry) remove(group string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.groups[group]
	if !ok {
		return
	}
	if prev, ok := table[ch]; ok {
		delete(table, ch)
		metrics.ActiveSessions.Dec()
		log.Printf("[INFO] Unregistered %s from group %s", prev, group)
	}
	if len(table) == 0 {
		delete(r.groups, group)
		log.Printf("[INFO] Group %s has no remaining connections, removed", group)
	}
}

// Channels returns the channels currently registered under group, or nil if
// the group is unknown. A group is never present with zero members, so nil
// always means the group was never registered or has been pruned.
func (r *Registry) Channels(group string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.groups[group]
	if !ok {
		return nil
	}
	channels := make([]Channel, 0, len(table))
	for ch := range table {
		channels = append(channels, ch)
	}
	return channels
}

// ClientIDs returns the client ids registered under group. Unlike Channels,
// an unknown group yields an empty slice; callers that need to distinguish
// an absent group use Channels.
func (r *Registry) ClientIDs(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.groups[group]))
	for _, client := range r.groups[group] {
		ids = append(ids, client.ClientID)
	}
	return ids
}

// GetClient returns the session for channel under group. Both arguments are
// required; missing ones are contract violations reported as ErrNoGroup or
// ErrNoChannel. An absent session is reported as ErrNotFound.
func (r *Registry) GetClient(group string, ch Channel) (*Client, error) {
	if group == "" {
		return nil, ErrNoGroup
	}
	if ch == nil {
		return nil, ErrNoChannel
	}
	ch = Canonicalize(ch)
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.groups[group][ch]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", group, ErrNotFound)
	}
	return client, nil
}

// Len reports the number of sessions currently registered across all groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, table := range r.groups {
		n += len(table)
	}
	return n
}

// StartScan launches the expiry scan loop: after the configured initial
// delay it runs once per scan interval until Close is called. The loop is
// owned by the registry; subsequent calls are no-ops.
func (r *Registry) StartScan() {
	r.scanOnce.Do(func() {
		go r.scanLoop()
		log.Printf("[INFO] Started expiry scan: interval=%v timeout=%v delay=%v",
			r.config.ScanInterval, r.config.ExpiryTimeout, r.config.InitialDelay)
	})
}

// Close stops the expiry scan promptly. It does not close registered
// channels; sessions still in the table are left untouched.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.stopScan)
	return nil
}

func (r *Registry) scanLoop() {
	delay := time.NewTimer(r.config.InitialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-r.stopScan:
		return
	}

	ticker := time.NewTicker(r.config.ScanInterval)
	defer ticker.Stop()
	for {
		// A tick queued behind Close must not trigger another pass.
		select {
		case <-r.stopScan:
			return
		default:
		}
		r.runScan()
		select {
		case <-ticker.C:
		case <-r.stopScan:
			return
		}
	}
}

// runScan executes one expiry pass. A panic in one pass must not stop the
// scan loop from scheduling the next one.
func (r *Registry) runScan() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[ERROR] Expiry scan failed: %v", rec)
		}
	}()
	r.ScanExpired()
}

// expired is one stale table entry captured during a scan.
type expired struct {
	group  string
	ch     Channel
	client *Client
}

// ScanExpired evicts every session whose heartbeat is older than the expiry
// timeout, closes its channel, and prunes groups left empty. The scan works
// on a point-in-time snapshot; sessions registered while it runs are picked
// up by the next pass.
func (r *Registry) ScanExpired() {
	now := r.now()
	var stale []expired

	r.mu.RLock()
	for group, table := range r.groups {
		for ch, client := range table {
			if now.Sub(client.LastActive()) > r.config.ExpiryTimeout {
				stale = append(stale, expired{group: group, ch: ch, client: client})
			}
		}
	}
	r.mu.RUnlock()

	for _, e := range stale {
		r.evict(now, e)
	}
}

// evict removes one stale entry and closes its channel. A failure to close
// one channel must not abort the eviction of the remaining entries.
func (r *Registry) evict(now time.Time, e expired) {
	r.mu.Lock()
	client, ok := r.groups[e.group][e.ch]
	// The slot may have been re-registered or removed since the snapshot;
	// only evict the exact session observed as stale, and re-check the
	// heartbeat in case it was refreshed.
	if !ok || client != e.client || now.Sub(client.LastActive()) <= r.config.ExpiryTimeout {
		r.mu.Unlock()
		return
	}
	delete(r.groups[e.group], e.ch)
	pruned := false
	if len(r.groups[e.group]) == 0 {
		delete(r.groups, e.group)
		pruned = true
	}
	r.mu.Unlock()

	metrics.EvictionsTotal.Inc()
	metrics.ActiveSessions.Dec()
	log.Printf("[WARN] SCAN: Removed expired %s from group %s", e.client, e.group)
	if pruned {
		log.Printf("[WARN] SCAN: Group %s has no remaining connections, removed", e.group)
	}
	if err := e.ch.Close(); err != nil {
		log.Printf("[ERROR] SCAN: Failed to close channel %s: %v", remoteAddr(e.ch), err)
	}
	r.hooks.OnClosed(e.group, e.ch)
}
