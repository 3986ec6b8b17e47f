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

// package transport is responsible for the network transport layer of the
// gateway. It provides a TCP server that accepts incoming client
// connections, wraps each one in a canonical channel, and hands it off to
// the protocol handling layer.
package transport

import (
	"log"
	"net"
	"sync"

	"github.com/turtacn/gateway-go/pkg/metrics"
)

// Handler processes one accepted connection. It is invoked on a dedicated
// goroutine and owns the channel until it returns.
type Handler func(ch *TCPChannel)

// Server manages the accepting and handling of raw TCP connections. For
// each incoming connection it creates a TCPChannel and runs the configured
// handler in a new goroutine.
type Server struct {
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	handler  Handler
}

// NewServer creates and returns a new transport Server. handler is called
// once per accepted connection.
func NewServer(handler Handler) *Server {
	return &Server{
		quit:    make(chan struct{}),
		handler: handler,
	}
}

// Start begins listening for new connections on the specified network
// address. It starts the accept loop in a new goroutine.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("TCP server started, listening on %s", addr)
	return nil
}

// Stop gracefully shuts down the server. It closes the listener, stops the
// accept loop, and waits for all active goroutines to finish.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	log.Println("TCP server stopped")
}

// acceptLoop is the main loop for accepting new client connections. It runs
// in a separate goroutine and continuously accepts new connections until
// the server is stopped.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("Error accepting connection: %v", err)
			}
			continue
		}
		metrics.ConnectionsTotal.Inc()
		// Handlers are not tracked by the WaitGroup; Stop closes the
		// listener but leaves established connections to their handlers.
		go s.handler(NewTCPChannel(conn))
	}
}

// Addr returns the network address that the server is listening on. It
// returns nil if the server is not listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
