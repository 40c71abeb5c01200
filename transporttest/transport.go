// Package transporttest provides a scriptable in-memory corelink.Transport
// for exercising clients without a network or a child process.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	corelink "github.com/corelink/corelink-go"
)

// Transport is a scriptable corelink.Transport. The zero value is usable:
// every operation succeeds and sent frames are recorded. Override the *Func
// fields to script failures. The Emit methods push inbound traffic through
// the bound handler synchronously, the way a transport read loop would.
type Transport struct {
	// HostName is reported by Host. Empty means "test-core".
	HostName string

	// ConnectFunc, when set, decides the outcome of Connect. A nil return
	// still marks the transport connected.
	ConnectFunc func(ctx context.Context) error

	// SendFunc, when set, decides the outcome of Send. The frame is recorded
	// either way.
	SendFunc func(ctx context.Context, frame []byte) error

	// DisconnectFunc, when set, replaces the default disconnect behavior of
	// reporting a nil cause to the handler.
	DisconnectFunc func() error

	mu          sync.Mutex
	handler     corelink.Handler
	connected   bool
	connects    int
	disconnects int
	sent        [][]byte
	cursor      int
}

var _ corelink.Transport = (*Transport)(nil)

// Request is the decoded shape of an outbound frame, for scripting replies.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

// DecodeRequest parses a frame recorded by Send.
func DecodeRequest(frame []byte) (Request, error) {
	var request Request
	if err := json.Unmarshal(frame, &request); err != nil {
		return Request{}, fmt.Errorf("transporttest: decode request: %w", err)
	}
	return request, nil
}

// Bind implements corelink.Transport.
func (transport *Transport) Bind(handler corelink.Handler) {
	transport.mu.Lock()
	transport.handler = handler
	transport.mu.Unlock()
}

// Host implements corelink.Transport.
func (transport *Transport) Host() string {
	if transport.HostName != "" {
		return transport.HostName
	}
	return "test-core"
}

// Connect implements corelink.Transport.
func (transport *Transport) Connect(ctx context.Context) error {
	transport.mu.Lock()
	transport.connects++
	transport.mu.Unlock()

	if transport.ConnectFunc != nil {
		if err := transport.ConnectFunc(ctx); err != nil {
			return err
		}
	}

	transport.mu.Lock()
	transport.connected = true
	transport.mu.Unlock()
	return nil
}

// Send implements corelink.Transport. Every frame is recorded before any
// scripted outcome applies.
func (transport *Transport) Send(ctx context.Context, frame []byte) error {
	copied := append([]byte(nil), frame...)

	transport.mu.Lock()
	transport.sent = append(transport.sent, copied)
	transport.mu.Unlock()

	if transport.SendFunc != nil {
		return transport.SendFunc(ctx, frame)
	}
	return nil
}

// Disconnect implements corelink.Transport. The default behavior mirrors a
// real transport: a connected transport reports a nil cause to the handler
// exactly once; an unconnected one does nothing.
func (transport *Transport) Disconnect() error {
	transport.mu.Lock()
	transport.disconnects++
	wasConnected := transport.connected
	transport.connected = false
	handler := transport.handler
	transport.mu.Unlock()

	if transport.DisconnectFunc != nil {
		return transport.DisconnectFunc()
	}
	if wasConnected && handler != nil {
		handler.HandleDisconnected(nil)
	}
	return nil
}

// EmitFrame delivers a raw inbound frame to the handler.
func (transport *Transport) EmitFrame(frame []byte) {
	transport.mu.Lock()
	handler := transport.handler
	transport.mu.Unlock()
	if handler != nil {
		handler.HandleMessage(frame)
	}
}

// EmitResponse delivers a successful response for a pending request id.
func (transport *Transport) EmitResponse(id string, result any) {
	frame, err := json.Marshal(map[string]any{"id": id, "result": result})
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal response: %v", err))
	}
	transport.EmitFrame(frame)
}

// EmitErrorResponse delivers a failed response for a pending request id.
func (transport *Transport) EmitErrorResponse(id, kind, message string, disconnect bool) {
	frame, err := json.Marshal(map[string]any{
		"id": id,
		"error": map[string]any{
			"kind":       kind,
			"message":    message,
			"disconnect": disconnect,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal error response: %v", err))
	}
	transport.EmitFrame(frame)
}

// EmitEvent delivers an out-of-band event frame.
func (transport *Transport) EmitEvent(listenerID, name string, payload any) {
	frame, err := json.Marshal(map[string]any{
		"listenerId": listenerID,
		"event":      name,
		"payload":    payload,
	})
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal event: %v", err))
	}
	transport.EmitFrame(frame)
}

// EmitDisconnect reports the connection lost with the given cause, the way a
// transport read loop does when the link drops.
func (transport *Transport) EmitDisconnect(cause error) {
	transport.mu.Lock()
	transport.connected = false
	handler := transport.handler
	transport.mu.Unlock()
	if handler != nil {
		handler.HandleDisconnected(cause)
	}
}

// NextSent returns the next sent frame not yet consumed by a previous
// NextSent call, waiting up to timeout for one to arrive.
func (transport *Transport) NextSent(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	for {
		transport.mu.Lock()
		if transport.cursor < len(transport.sent) {
			frame := append([]byte(nil), transport.sent[transport.cursor]...)
			transport.cursor++
			transport.mu.Unlock()
			return frame, true
		}
		transport.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Connected reports whether the transport is currently connected.
func (transport *Transport) Connected() bool {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return transport.connected
}

// Connects reports how many times Connect was called.
func (transport *Transport) Connects() int {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return transport.connects
}

// Disconnects reports how many times Disconnect was called.
func (transport *Transport) Disconnects() int {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return transport.disconnects
}

// SentFrames returns copies of every recorded frame.
func (transport *Transport) SentFrames() [][]byte {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	frames := make([][]byte, len(transport.sent))
	for index, frame := range transport.sent {
		frames[index] = append([]byte(nil), frame...)
	}
	return frames
}
