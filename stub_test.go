package corelink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubTransport is the in-package twin of transporttest.Transport. Root tests
// cannot import that package without a cycle, so they script this one instead.
type stubTransport struct {
	mu          sync.Mutex
	handler     Handler
	connected   bool
	connects    int
	disconnects int
	sent        [][]byte
	cursor      int

	connectFn    func(ctx context.Context) error
	sendFn       func(ctx context.Context, frame []byte) error
	disconnectFn func() error
}

var _ Transport = (*stubTransport)(nil)

func (stub *stubTransport) Bind(handler Handler) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.handler = handler
}

func (stub *stubTransport) Host() string { return "stub-core" }

func (stub *stubTransport) Connect(ctx context.Context) error {
	stub.mu.Lock()
	stub.connects++
	fn := stub.connectFn
	stub.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	stub.mu.Lock()
	stub.connected = true
	stub.mu.Unlock()
	return nil
}

func (stub *stubTransport) Send(ctx context.Context, frame []byte) error {
	stub.mu.Lock()
	stub.sent = append(stub.sent, append([]byte(nil), frame...))
	fn := stub.sendFn
	stub.mu.Unlock()
	if fn != nil {
		return fn(ctx, frame)
	}
	return nil
}

// Disconnect mirrors what the real transports do on an orderly shutdown: the
// handler hears about the loss with a nil cause, exactly once per link.
func (stub *stubTransport) Disconnect() error {
	stub.mu.Lock()
	stub.disconnects++
	wasConnected := stub.connected
	stub.connected = false
	handler := stub.handler
	fn := stub.disconnectFn
	stub.mu.Unlock()
	if fn != nil {
		return fn()
	}
	if wasConnected && handler != nil {
		handler.HandleDisconnected(nil)
	}
	return nil
}

func (stub *stubTransport) boundHandler() Handler {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.handler
}

func (stub *stubTransport) emitFrame(t *testing.T, frame []byte) {
	t.Helper()
	handler := stub.boundHandler()
	require.NotNil(t, handler, "transport is not bound")
	handler.HandleMessage(frame)
}

func (stub *stubTransport) emitResponse(t *testing.T, id string, result any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"id": id, "result": result})
	require.NoError(t, err)
	stub.emitFrame(t, frame)
}

func (stub *stubTransport) emitErrorResponse(t *testing.T, id, kind, message string, disconnect bool) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{
		"id": id,
		"error": map[string]any{
			"kind":       kind,
			"message":    message,
			"disconnect": disconnect,
		},
	})
	require.NoError(t, err)
	stub.emitFrame(t, frame)
}

func (stub *stubTransport) emitEvent(t *testing.T, listenerID, name string, payload any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{
		"listenerId": listenerID,
		"event":      name,
		"payload":    payload,
	})
	require.NoError(t, err)
	stub.emitFrame(t, frame)
}

// emitDisconnect reports an unsolicited link loss, as if the remote side or
// the network killed the connection.
func (stub *stubTransport) emitDisconnect(t *testing.T, cause error) {
	t.Helper()
	require.NotNil(t, stub.boundHandler(), "transport is not bound")
	stub.dropLink(cause)
}

// dropLink is emitDisconnect without the testing.T, for use on goroutines
// that are not allowed to fail the test.
func (stub *stubTransport) dropLink(cause error) {
	stub.mu.Lock()
	stub.connected = false
	handler := stub.handler
	stub.mu.Unlock()
	if handler != nil {
		handler.HandleDisconnected(cause)
	}
}

// respondWith answers every subsequent request with the given result. It runs
// on the client's send goroutine, so it must not touch testing.T.
func (stub *stubTransport) respondWith(result any) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.sendFn = func(ctx context.Context, frame []byte) error {
		var request sentRequest
		if err := json.Unmarshal(frame, &request); err != nil || request.ID == "" {
			return nil
		}
		response, err := json.Marshal(map[string]any{"id": request.ID, "result": result})
		if err != nil {
			return err
		}
		stub.mu.Lock()
		handler := stub.handler
		stub.mu.Unlock()
		if handler != nil {
			handler.HandleMessage(response)
		}
		return nil
	}
}

func (stub *stubTransport) connectCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.connects
}

func (stub *stubTransport) disconnectCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.disconnects
}

func (stub *stubTransport) sentCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.sent)
}

// nextSent returns the oldest frame not yet consumed by a previous call,
// waiting up to timeout for one to arrive.
func (stub *stubTransport) nextSent(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		stub.mu.Lock()
		if stub.cursor < len(stub.sent) {
			frame := stub.sent[stub.cursor]
			stub.cursor++
			stub.mu.Unlock()
			return frame
		}
		stub.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("no frame sent within %v", timeout)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (stub *stubTransport) awaitSentCount(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for stub.sentCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sent frames, got %d after %v", n, stub.sentCount(), timeout)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type sentRequest struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

func decodeSentRequest(t *testing.T, frame []byte) sentRequest {
	t.Helper()
	var request sentRequest
	require.NoError(t, json.Unmarshal(frame, &request))
	require.NotEmpty(t, request.ID)
	return request
}

func newTestClient(t *testing.T, stub *stubTransport, options Options) *Client {
	t.Helper()
	client, err := NewClient(stub, options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func subscribeNotifications(t *testing.T, client *Client) <-chan Notification {
	t.Helper()
	notifications, cancel, err := client.Subscribe(DefaultSubscriptionPolicy())
	require.NoError(t, err)
	t.Cleanup(cancel)
	return notifications
}

func awaitNotification(t *testing.T, notifications <-chan Notification, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case notification, ok := <-notifications:
			if !ok {
				t.Fatalf("notification stream closed while waiting for %q", kind)
			}
			if notification.Kind == kind {
				return notification
			}
		case <-deadline:
			t.Fatalf("no %q notification within 2s", kind)
		}
	}
}

func expectNoNotification(t *testing.T, notifications <-chan Notification, kind NotificationKind, window time.Duration) {
	t.Helper()
	timer := time.After(window)
	for {
		select {
		case notification, ok := <-notifications:
			if !ok {
				return
			}
			if notification.Kind == kind {
				t.Fatalf("unexpected %q notification", kind)
			}
		case <-timer:
			return
		}
	}
}
