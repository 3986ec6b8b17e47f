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

// package metrics provides Prometheus metrics for the application.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal is a counter for the total number of transport
	// connections accepted by the gateway.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_go_connections_total",
		Help: "The total number of connections accepted by the gateway.",
	})

	// RegistrationsTotal is a counter for client registrations, including
	// heartbeat refreshes of existing sessions.
	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_go_registrations_total",
		Help: "The total number of client registrations processed.",
	})

	// EvictionsTotal is a counter for sessions removed by the expiry scan.
	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_go_evictions_total",
		Help: "The total number of expired sessions evicted by the scan.",
	})

	// AnomaliesTotal is a counter for client id mismatches detected on
	// re-registration of an already registered channel.
	AnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_go_registration_anomalies_total",
		Help: "The total number of client id mismatches on re-registration.",
	})

	// ActiveSessions is a gauge for the number of sessions currently held
	// in the client registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_go_active_sessions",
		Help: "The number of client sessions currently registered.",
	})
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
