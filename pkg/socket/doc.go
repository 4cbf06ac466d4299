// Package socket couples a WebSocket connection to its packet router.
//
// A Conn is one side of a connection, client or server. It sends sealed
// packets as text frames and routes every inbound frame through its own
// router.Router:
//
//	conn, err := socket.Dial(ctx, "ws://localhost:8080/socket?room=42", schema, nil)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	socket.Receive(conn, Echo).Subscribe(func(s string) {
//	    fmt.Println("echo:", s)
//	})
//	err = socket.Send(ctx, conn, Echo, "hi")
//
// Server-side connections are created by pkg/server, which calls
// NewConn for every accepted WebSocket and then runs Serve.
//
// # Read Loop
//
// Serve reads frames one at a time and handles each synchronously, so
// subscribers observe frames in arrival order and a slow subscriber delays
// the frames behind it. A subscriber that panics is recovered here: the
// panic is logged with its stack, the connection is closed and Serve
// returns a *SubscriberPanicError.
//
// # Middleware
//
// Middleware wraps frame handling and sending. pkg/middleware provides
// Prometheus metrics and OpenTelemetry tracing.
package socket
