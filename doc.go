// Package roomrelay is a Socket.IO v4 server for room-based broadcast relays.
//
// It speaks the Socket.IO v4 protocol over the WebSocket transport only
// (Engine.IO v4, see the engineio package) and multiplexes any number of
// namespaces over one connection. Room membership and fanout go through an
// Adapter, so several server processes can share one logical room space.
//
// # Quick Start
//
//	server := roomrelay.NewServer(nil)
//
//	server.Of("/chat").OnConnect(func(socket *roomrelay.Socket) {
//	    socket.On("join", func(args ...any) {
//	        args, ack := roomrelay.SplitAck(args)
//	        room, _ := args[0].(string)
//	        if err := socket.Join(socket.Context(), room); err != nil {
//	            return
//	        }
//	        if ack != nil {
//	            ack()
//	        }
//	    })
//	})
//
//	http.Handle("/socket.io/", server)
//	http.ListenAndServe(":3000", nil)
//
// # Namespaces
//
// A client attaches to a namespace by sending a CONNECT packet for it. Only
// namespaces created with Server.Of are served; anything else is refused
// with a CONNECT_ERROR. Each namespace has its own rooms and adapter.
//
// # Rooms and broadcasting
//
//	socket.Join(ctx, "room1")
//	server.Of("/chat").To("room1").Emit("news", "Hello room!")
//	socket.To("room1").Emit("news", "Hello everyone but me")
//
// Every socket is also a member of a room named after its ID, which is how a
// single socket is addressed from any process. Other sockets cannot join
// it; Join returns ErrReservedRoom.
//
// # Adapters
//
// MemoryAdapter keeps membership in process memory. For clustered
// deployments install a shared adapter through Config.AdapterFactory before
// any namespace is created; see the redisadapter package.
//
// # Thread Safety
//
// All exported operations are goroutine-safe. The handlers of one socket run
// one at a time on that socket's worker goroutine; handlers of different
// sockets run concurrently.
package roomrelay
