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

package metrics

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	assert.NotNil(t, ConnectionsTotal)
	assert.NotNil(t, RegistrationsTotal)
	assert.NotNil(t, EvictionsTotal)
	assert.NotNil(t, AnomaliesTotal)
	assert.NotNil(t, ActiveSessions)
}

func TestServe(t *testing.T) {
	// Find an available port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()

	go func() {
		server := &http.Server{}
		http.DefaultServeMux = http.NewServeMux() // Reset handler to avoid test pollution
		http.Handle("/metrics", promhttp.Handler())
		_ = server.Serve(listener)
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Trigger the metrics so they appear in the output
	ConnectionsTotal.Inc()
	RegistrationsTotal.Inc()
	EvictionsTotal.Inc()
	AnomaliesTotal.Inc()
	ActiveSessions.Set(3)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Check for our custom metrics
	assert.Contains(t, string(body), "gateway_go_connections_total")
	assert.Contains(t, string(body), "gateway_go_registrations_total")
	assert.Contains(t, string(body), "gateway_go_evictions_total")
	assert.Contains(t, string(body), "gateway_go_registration_anomalies_total")
	assert.Contains(t, string(body), "gateway_go_active_sessions")

	require.NoError(t, listener.Close())
}
