// Package transport carries opaque signed frames between the failsafe
// server and its clients.
//
// # Overview
//
// A Conn is a message-oriented, ordered, bidirectional connection. Frames
// are delivered in the order they were sent; the package never looks
// inside them. Two implementations exist:
//
//   - WebSocketConn: gorilla/websocket, used on the wire
//   - PipeConn: an in-memory pair for tests and embedding
//
// # Usage
//
// Client side:
//
//	conn, err := transport.Dial(ctx, "ws://host:8765/", header, transport.DefaultWebSocketConfig())
//	for frame := range conn.Recv() {
//	    // verify frame
//	}
//	err = conn.Err() // why the connection ended
//
// Server side, inside an http.Handler:
//
//	conn, err := transport.Accept(w, r, upgrader, transport.DefaultWebSocketConfig())
//	conn.Send(ctx, signed)
//
// # Thread Safety
//
// Send, Close and the accessors are safe for concurrent use. Writes are
// serialized per connection. The Recv channel is closed when the
// connection ends, after every frame received before that point.
package transport
