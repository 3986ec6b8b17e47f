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
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/gateway-go/pkg/registry"
	"github.com/turtacn/gateway-go/pkg/storage"
	"github.com/turtacn/gateway-go/pkg/transport"
)

const testGroup = "TEST_GROUP"

// startGateway runs a gateway handler over one end of an in-memory pipe and
// returns the client end.
func startGateway(t *testing.T) (*Gateway, net.Conn, *transport.TCPChannel) {
	t.Helper()
	g := New(testGroup, nil)
	t.Cleanup(func() { g.Close() })

	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close() })
	ch := transport.NewTCPChannel(srv)
	go g.HandleConnection(ch)
	return g, client, ch
}

func connectPacket(clientID string) []byte {
	pk := []byte{
		0x10, 0x00, // Header, placeholder length
		0x00, 0x04, 'M', 'Q', 'T', 'T',
		0x04, 0x02, 0x00, 0x3C,
	}
	idBytes := []byte(clientID)
	pk = append(pk, byte(len(idBytes)>>8), byte(len(idBytes)&0xFF))
	pk = append(pk, idBytes...)
	pk[1] = byte(len(pk) - 2)
	return pk
}

func connect(t *testing.T, conn net.Conn, clientID string) {
	t.Helper()
	_, err := conn.Write(connectPacket(clientID))
	require.NoError(t, err)

	connack := make([]byte, 4)
	_, err = io.ReadFull(conn, connack)
	require.NoError(t, err, "Should receive a CONNACK")
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, connack)
}

func TestConnectRegistersClient(t *testing.T) {
	g, client, ch := startGateway(t)
	connect(t, client, "presence-client")

	// The CONNACK is written after the registration is visible.
	assert.ElementsMatch(t, []string{"presence-client"}, g.Registry().ClientIDs(testGroup))

	sess, err := g.Registry().GetClient(testGroup, ch)
	require.NoError(t, err)
	assert.Equal(t, registry.RoleMQTT, sess.Role)

	info, err := g.Inspect("presence-client")
	require.NoError(t, err)
	assert.Equal(t, testGroup, info.Group)
	assert.Equal(t, string(registry.RoleMQTT), info.Role)
	assert.False(t, info.ConnectedAt.IsZero())
}

func TestPingRefreshesHeartbeat(t *testing.T) {
	g, client, ch := startGateway(t)
	connect(t, client, "keepalive-client")

	sess, err := g.Registry().GetClient(testGroup, ch)
	require.NoError(t, err)
	before := sess.LastActive()

	time.Sleep(5 * time.Millisecond)
	_, err = client.Write([]byte{0xC0, 0x00})
	require.NoError(t, err)

	pingresp := make([]byte, 2)
	_, err = io.ReadFull(client, pingresp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x00}, pingresp)

	after := sess.LastActive()
	assert.True(t, after.After(before), "heartbeat should advance on PINGREQ")
	// The keepalive refreshed the existing session rather than adding one.
	assert.Equal(t, 1, g.Registry().Len())
}

func TestDisconnectUnregisters(t *testing.T) {
	g, client, _ := startGateway(t)
	connect(t, client, "leaving-client")

	_, err := client.Write([]byte{0xE0, 0x00})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return g.Registry().Len() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, g.Registry().Channels(testGroup))
	_, err = g.Inspect("leaving-client")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConnectionLossUnregisters(t *testing.T) {
	g, client, _ := startGateway(t)
	connect(t, client, "dropped-client")

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return g.Registry().Len() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, g.Registry().Channels(testGroup))
	_, err := g.Inspect("dropped-client")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEmptyClientIDRejected(t *testing.T) {
	g, client, _ := startGateway(t)

	_, err := client.Write(connectPacket(""))
	require.NoError(t, err)

	// The gateway closes the connection without a CONNACK.
	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(buf)
	assert.Error(t, err)
	assert.Equal(t, 0, g.Registry().Len())
}
