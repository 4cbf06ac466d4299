// Package router demultiplexes inbound wire frames of one connection to the
// event buses subscribed for each packet identity.
//
// A Router is owned by exactly one connection. Its identity→bus map is
// created lazily, on the first Receive call or the first frame, whichever
// comes first, and lives as long as the connection:
//
//	r := router.New(schema)
//	router.Receive(r, Echo).Subscribe(func(s string) {
//	    log.Println("echo:", s)
//	})
//	r.HandleFrame([]byte(`[1,"hi"]`)) // prints "echo: hi"
//
// # Dropped Frames
//
// Frame handling is best effort. A frame that is not a valid sealed value, a
// packet nobody subscribed to, or a payload that does not decode as the
// subscribed type is dropped without an error reaching the connection. A
// DropHook set with WithDropHook observes every drop with its Reason.
//
// # Subscriber Failures
//
// Subscribers run synchronously inside HandleFrame. A subscriber that panics
// aborts delivery to the remaining subscribers and the panic propagates out
// of HandleFrame to the caller.
package router
