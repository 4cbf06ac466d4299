package demo

import "github.com/vango-dev/vsock/pkg/protocol"

const (
	// SchemaName names the demo schema.
	SchemaName = "vsock-demo"

	// SchemaVersion is bumped whenever a packet is added.
	SchemaVersion = "1"

	// DefaultRoom is used when a client omits the room parameter.
	DefaultRoom = "lobby"
)

// ChatMessage is the payload of a Chat packet. Clients fill Text; the
// server fills Room and From before relaying.
type ChatMessage struct {
	Room string `json:"room,omitempty"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// Presence announces a member joining or leaving a room.
type Presence struct {
	Room    string `json:"room"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Packets is the demo schema and its packet handles. Identities follow
// definition order, so clients and servers must both build it with
// NewPackets.
type Packets struct {
	Schema *protocol.Schema

	Ping   protocol.Packet[protocol.None]
	Pong   protocol.Packet[protocol.None]
	Echo   protocol.Packet[string]
	Chat   protocol.Packet[ChatMessage]
	Joined protocol.Packet[Presence]
	Left   protocol.Packet[Presence]
}

// NewPackets builds and freezes the demo schema.
func NewPackets() *Packets {
	s := protocol.NewSchema(SchemaName, SchemaVersion)
	p := &Packets{
		Schema: s,
		Ping:   protocol.Define[protocol.None](s, "ping"),
		Pong:   protocol.Define[protocol.None](s, "pong"),
		Echo:   protocol.Define[string](s, "echo"),
		Chat:   protocol.Define[ChatMessage](s, "chat"),
		Joined: protocol.Define[Presence](s, "joined"),
		Left:   protocol.Define[Presence](s, "left"),
	}
	s.Freeze()
	return p
}
