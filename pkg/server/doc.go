// Package server accepts WebSocket connections and hands each one, with its
// connection parameters, to an application Handler.
//
// For every accepted connection the server parses the query string of the
// request into socket.Params, creates a socket.Conn bound to the upgraded
// WebSocket, calls the Handler, and then runs the connection's read loop
// until it closes. The Handler runs before any frame is read, so buses it
// registers with socket.Receive see every frame of the connection.
//
//	srv := server.New(schema, func(c *socket.Conn, params socket.Params) {
//	    socket.Receive(c, Echo).Subscribe(func(s string) {
//	        socket.Send(context.Background(), c, Echo, s)
//	    })
//	}, nil)
//
//	r := chi.NewRouter()
//	r.Handle("/socket", srv)
//
// Beyond frame decoding no handshake is imposed. A client may send its
// schema fingerprint as the "schema" query parameter; a mismatch is logged,
// and rejected with 409 Conflict when RejectSchemaMismatch is set.
package server
