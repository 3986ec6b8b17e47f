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

// package main is the entrypoint for the gateway-go application.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/gateway-go/pkg/config"
	"github.com/turtacn/gateway-go/pkg/gateway"
	"github.com/turtacn/gateway-go/pkg/metrics"
	"github.com/turtacn/gateway-go/pkg/transport"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to a .yaml/.yml/.json config file")
	flag.Parse()

	log.Println("Starting gateway-go MQTT gateway...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Node ID: %s", cfg.Gateway.NodeID)

	// Metrics server.
	go metrics.Serve(cfg.Gateway.MetricsPort)

	// Session manager and client registry.
	gw := gateway.New(cfg.Gateway.DefaultGroup, cfg.Gateway.Registry.ToRegistryConfig())
	gw.Start()
	defer gw.Close()

	// MQTT transport.
	server := transport.NewServer(gw.HandleConnection)
	if err := server.Start(cfg.Gateway.MQTTPort); err != nil {
		log.Fatalf("Failed to start MQTT server: %v", err)
	}
	defer server.Stop()

	// Wait for a shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down.", sig)
}
