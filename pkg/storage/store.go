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

// package storage provides a client metadata store interface and an
// in-memory implementation. The gateway records connection metadata here so
// that administrative surfaces can inspect who is connected without
// touching the live registry.
package storage

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a client id is not present in the store.
	ErrNotFound = errors.New("not found")
)

// ClientInfo is the stored metadata snapshot for one connected client.
type ClientInfo struct {
	ClientID    string    `json:"client_id"`
	Group       string    `json:"group"`
	Role        string    `json:"role"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Store defines the interface for a client metadata store. It is designed
// to be implementation-agnostic, allowing for different backends such as
// in-memory or external stores.
type Store interface {
	// Get retrieves a client's metadata by client id. If the client is
	// not found, it returns ErrNotFound.
	Get(clientID string) (*ClientInfo, error)
	// Set adds or updates a client's metadata.
	Set(clientID string, info *ClientInfo) error
	// Delete removes a client's metadata. Deleting an absent client id
	// is not an error.
	Delete(clientID string) error
}

// MemStore is an in-memory implementation of the Store interface. It uses a
// map guarded by a RWMutex, making it safe for concurrent use.
type MemStore struct {
	data map[string]*ClientInfo
	mu   sync.RWMutex
}

// NewMemStore creates and returns a new instance of MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]*ClientInfo),
	}
}

// Get retrieves a client's metadata from the in-memory store.
func (s *MemStore) Get(clientID string) (*ClientInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.data[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return info, nil
}

// Set adds or updates a client's metadata in the in-memory store.
func (s *MemStore) Set(clientID string, info *ClientInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[clientID] = info
	return nil
}

// Delete removes a client's metadata from the in-memory store.
func (s *MemStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, clientID)
	return nil
}
