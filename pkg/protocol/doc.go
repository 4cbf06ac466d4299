// Package protocol implements the packet schema and the JSON wire format
// for vsock.
//
// A packet is a message kind identified by a small integer. Identities are
// handed out by a Schema in definition order, so every peer that talks to
// another must define the same packets in the same order. The Schema
// fingerprint lets peers detect when that is not the case.
//
// # Defining Packets
//
//	schema := protocol.NewSchema("chat", "1")
//	Ping := protocol.Define[protocol.None](schema, "ping") // id 0, no payload
//	Echo := protocol.Define[string](schema, "echo")        // id 1
//	schema.Freeze()
//
// # Wire Format
//
// Every WebSocket text frame carries exactly one sealed value:
//
//	0            bare packet, no payload
//	[1,"hi"]     packet with payload
//	[1,null]     packet whose payload is JSON null
//
// The two shapes are never conflated: a packet defined with None always
// seals to a bare number and any other packet always seals to a pair, even
// when its payload is null.
//
// # Unknown Identities
//
// Unseal never rejects an identity it does not know. The raw number is
// passed through unchanged; Schema.Known reports whether it resolves. A
// receiver with a shorter or differently ordered schema therefore drops the
// frame at subscriber lookup instead of failing the connection.
//
// # File Structure
//
//   - schema.go: Schema, Define, Packet, Descriptor
//   - sealed.go: Sealed, Seal, Unseal, Open
//   - errors.go: sentinel errors
package protocol
