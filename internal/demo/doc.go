// Package demo defines the packet schema and connection handler served by
// "vsock serve" and spoken by "vsock dial".
//
// Clients join a room through the "room" connection parameter and pick a
// display name with "name":
//
//	ws://localhost:8080/socket?room=lobby&name=ava
//
// Ping is answered with Pong, Echo is sent back unchanged, and Chat is
// relayed to every connection in the same room. Joined and Left announce
// room membership.
package demo
