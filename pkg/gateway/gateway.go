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

// package gateway contains the MQTT-facing session manager. It speaks just
// enough of the MQTT wire protocol to track client presence: CONNECT
// registers a client in the connection registry, PINGREQ refreshes its
// heartbeat, DISCONNECT unregisters it, and a dropped connection is
// reported to the registry with the groups it belonged to. Message routing,
// subscriptions, and QoS are out of scope.
package gateway

import (
	"bufio"
	"io"
	"log"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/turtacn/gateway-go/pkg/registry"
	"github.com/turtacn/gateway-go/pkg/storage"
	"github.com/turtacn/gateway-go/pkg/transport"
)

// Gateway is the concrete session manager for MQTT clients. It owns the
// client registry, implements its lifecycle hooks, and keeps a per-channel
// record of group membership so transport-level closes can be reported with
// the affected groups.
type Gateway struct {
	group    string
	registry *registry.Registry
	store    storage.Store
	members  *membershipTable
}

// New creates a gateway that registers MQTT clients under group. A nil
// regConfig uses the registry defaults. The registry's expiry scan is not
// started until Start is called.
func New(group string, regConfig *registry.Config) *Gateway {
	g := &Gateway{
		group:   group,
		store:   storage.NewMemStore(),
		members: newMembershipTable(),
	}
	g.registry = registry.New(g, regConfig)
	return g
}

// Registry exposes the client registry for queries.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Start launches the registry's expiry scan.
func (g *Gateway) Start() {
	g.registry.StartScan()
}

// Close stops the expiry scan.
func (g *Gateway) Close() error {
	return g.registry.Close()
}

// Inspect returns the stored metadata for a connected client, or
// storage.ErrNotFound if the client is not connected.
func (g *Gateway) Inspect(clientID string) (*storage.ClientInfo, error) {
	return g.store.Get(clientID)
}

// HandleConnection processes one accepted connection until it disconnects
// or fails. It is the transport server's Handler.
func (g *Gateway) HandleConnection(ch *transport.TCPChannel) {
	defer ch.Close()
	log.Printf("Accepted connection from %s", ch.RemoteAddr())

	reader := bufio.NewReader(ch.Conn())
	var clientID string

	for {
		pk, err := readPacket(reader)
		if err != nil {
			if err != io.EOF {
				log.Printf("Error reading packet from %s: %v", ch.RemoteAddr(), err)
			}
			g.connectionLost(ch, clientID)
			return
		}

		switch pk.FixedHeader.Type {
		case packets.Connect:
			clientID = pk.Connect.ClientIdentifier
			if clientID == "" {
				log.Printf("CONNECT from %s has empty client ID. Closing.", ch.RemoteAddr())
				return
			}
			client := registry.NewClient(clientID, registry.RoleMQTT, transport.NewContextChannel(ch))
			if g.registry.Register(g.group, client) {
				log.Printf("[WARN] CONNECT replaced an existing session on the same channel, client %s", clientID)
			}
			resp := packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Connack},
				ReasonCode:  packets.CodeSuccess.Code,
			}
			err = writePacket(ch.Conn(), &resp)

		case packets.Pingreq:
			if clientID == "" {
				log.Printf("PINGREQ from %s before CONNECT. Closing.", ch.RemoteAddr())
				return
			}
			// A keepalive counts as a re-registration; the registry
			// refreshes the existing session's heartbeat.
			g.registry.Register(g.group, registry.NewClient(clientID, registry.RoleMQTT, transport.NewContextChannel(ch)))
			resp := packets.Packet{FixedHeader: packets.FixedHeader{Type: packets.Pingresp}}
			err = writePacket(ch.Conn(), &resp)

		case packets.Disconnect:
			log.Printf("Client %s sent DISCONNECT.", clientID)
			for _, group := range g.members.groupsOf(ch) {
				g.registry.Unregister(group, ch)
			}
			return

		default:
			log.Printf("Received unhandled packet type: %v", pk.FixedHeader.Type)
		}

		if err != nil {
			log.Printf("Error handling packet for %s: %v", clientID, err)
			g.connectionLost(ch, clientID)
			return
		}
	}
}

// connectionLost reports an abruptly dropped connection to the registry
// with every group the channel was registered under.
func (g *Gateway) connectionLost(ch *transport.TCPChannel, clientID string) {
	groups := g.members.groupsOf(ch)
	if len(groups) == 0 {
		return
	}
	log.Printf("Client %s disconnected.", clientID)
	g.registry.OnClose(groups, ch)
}

// OnRegister records the new member's group and metadata. Part of
// registry.Hooks.
func (g *Gateway) OnRegister(group string, ch registry.Channel) {
	client, err := g.registry.GetClient(group, ch)
	if err != nil {
		// The slot can already be gone if the client raced its own close.
		return
	}
	prev, first := g.members.add(ch, group, client.ClientID)
	if prev != "" && prev != client.ClientID {
		// The channel's session was overwritten by a different logical
		// client; retire the stale metadata record.
		g.store.Delete(prev)
	}
	if first || prev != client.ClientID {
		g.store.Set(client.ClientID, &storage.ClientInfo{
			ClientID:    client.ClientID,
			Group:       group,
			Role:        string(client.Role),
			RemoteAddr:  addrString(ch),
			ConnectedAt: client.LastActive(),
		})
	}
}

// OnUnregister drops the membership record for a gracefully removed member.
// Part of registry.Hooks.
func (g *Gateway) OnUnregister(group string, ch registry.Channel) {
	g.forget(group, ch)
}

// OnClosed drops the membership record for a member removed by a connection
// close or expiry eviction. Part of registry.Hooks.
func (g *Gateway) OnClosed(group string, ch registry.Channel) {
	g.forget(group, ch)
}

func (g *Gateway) forget(group string, ch registry.Channel) {
	clientID, last := g.members.remove(ch, group)
	if last && clientID != "" {
		g.store.Delete(clientID)
	}
}

func addrString(ch registry.Channel) string {
	if addr := ch.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
