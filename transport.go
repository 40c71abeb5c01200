package corelink

import "context"

// Transport is the bidirectional channel the client talks to the Core over.
// Implementations deliver inbound traffic through the Handler bound with
// Bind, which the client does exactly once at construction.
//
// Connect may be called again after a disconnection to re-establish the
// channel. Disconnect must tolerate being called before Connect and must
// deliver HandleDisconnected at most once per established connection, before
// Disconnect returns where the implementation can manage it.
type Transport interface {
	// Bind registers the inbound handler. Called once, before Connect.
	Bind(handler Handler)
	// Connect establishes the channel, honoring ctx for cancellation.
	Connect(ctx context.Context) error
	// Disconnect closes the channel. Idempotent.
	Disconnect() error
	// Send transmits one frame. Implementations serialize writes.
	Send(ctx context.Context, frame []byte) error
	// Host identifies the remote endpoint for errors and logs.
	Host() string
}

// Handler receives inbound transport traffic.
type Handler interface {
	// HandleMessage is called once per inbound frame, in arrival order.
	HandleMessage(frame []byte)
	// HandleDisconnected is called once when an established connection ends.
	// cause is nil for a locally requested, clean shutdown.
	HandleDisconnected(cause error)
}
