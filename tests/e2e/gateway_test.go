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

package e2e

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/gateway-go/pkg/gateway"
	"github.com/turtacn/gateway-go/pkg/registry"
	"github.com/turtacn/gateway-go/pkg/transport"
)

const e2eGroup = "E2E_GROUP"

func startGateway(t *testing.T) (*gateway.Gateway, string) {
	t.Helper()
	gw := gateway.New(e2eGroup, &registry.Config{
		ScanInterval:  time.Second,
		ExpiryTimeout: 2 * time.Minute,
		InitialDelay:  time.Second,
	})
	gw.Start()
	t.Cleanup(func() { gw.Close() })

	server := transport.NewServer(gw.HandleConnection)
	require.NoError(t, server.Start("127.0.0.1:0"))
	t.Cleanup(server.Stop)

	return gw, "tcp://" + server.Addr().String()
}

func connectClient(t *testing.T, brokerURL, clientID string) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "Failed to connect to gateway")
	require.NoError(t, token.Error(), "Connection error")

	t.Logf("Successfully connected client: %s", clientID)
	return client
}

func TestGatewayTracksClientPresence(t *testing.T) {
	gw, brokerURL := startGateway(t)

	first := connectClient(t, brokerURL, "e2e-client-1")
	second := connectClient(t, brokerURL, "e2e-client-2")

	require.Eventually(t, func() bool {
		return gw.Registry().Len() == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"e2e-client-1", "e2e-client-2"}, gw.Registry().ClientIDs(e2eGroup))

	info, err := gw.Inspect("e2e-client-1")
	require.NoError(t, err)
	assert.Equal(t, e2eGroup, info.Group)
	assert.NotEmpty(t, info.RemoteAddr)

	first.Disconnect(250)
	require.Eventually(t, func() bool {
		return gw.Registry().Len() == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"e2e-client-2"}, gw.Registry().ClientIDs(e2eGroup))

	second.Disconnect(250)
	require.Eventually(t, func() bool {
		return gw.Registry().Channels(e2eGroup) == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGatewayEvictsSilentClient(t *testing.T) {
	gw := gateway.New(e2eGroup, &registry.Config{
		ScanInterval:  50 * time.Millisecond,
		ExpiryTimeout: 200 * time.Millisecond,
		InitialDelay:  10 * time.Millisecond,
	})
	gw.Start()
	t.Cleanup(func() { gw.Close() })

	server := transport.NewServer(gw.HandleConnection)
	require.NoError(t, server.Start("127.0.0.1:0"))
	t.Cleanup(server.Stop)

	// Keepalive far beyond the expiry timeout, so no PINGREQ arrives
	// before the scan fires.
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + server.Addr().String())
	opts.SetClientID("e2e-silent-client")
	opts.SetKeepAlive(120 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer client.Disconnect(0)

	require.Eventually(t, func() bool {
		return gw.Registry().Len() == 1
	}, 2*time.Second, 20*time.Millisecond)

	// The scan evicts the silent session and closes its connection.
	require.Eventually(t, func() bool {
		return gw.Registry().Len() == 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Nil(t, gw.Registry().Channels(e2eGroup))
}
