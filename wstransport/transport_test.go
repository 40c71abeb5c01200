package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	corelink "github.com/corelink/corelink-go"
)

type recordingHandler struct {
	mu          sync.Mutex
	frames      [][]byte
	disconnects []error

	frameCh      chan []byte
	disconnectCh chan error
}

var _ corelink.Handler = (*recordingHandler)(nil)

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		frameCh:      make(chan []byte, 16),
		disconnectCh: make(chan error, 4),
	}
}

func (handler *recordingHandler) HandleMessage(frame []byte) {
	copied := append([]byte(nil), frame...)
	handler.mu.Lock()
	handler.frames = append(handler.frames, copied)
	handler.mu.Unlock()
	handler.frameCh <- copied
}

func (handler *recordingHandler) HandleDisconnected(cause error) {
	handler.mu.Lock()
	handler.disconnects = append(handler.disconnects, cause)
	handler.mu.Unlock()
	handler.disconnectCh <- cause
}

func (handler *recordingHandler) disconnectCount() int {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	return len(handler.disconnects)
}

func startEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:             url,
		ConnectAttempts: 1,
		Backoff:         BackoffConfig{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	}
}

func TestRoundTrip(t *testing.T) {
	server := startEchoServer(t)
	handler := newRecordingHandler()

	transport, err := New(testConfig(wsURL(server)))
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Connect(ctx))

	payload := []byte(`{"id":"req-1","command":"ping"}`)
	require.NoError(t, transport.Send(ctx, payload))

	select {
	case frame := <-handler.frameCh:
		require.Equal(t, payload, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame echoed back")
	}

	require.NoError(t, transport.Disconnect())
	select {
	case cause := <-handler.disconnectCh:
		require.NoError(t, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect reported")
	}
}

func TestConnectRetriesUntilUpgrade(t *testing.T) {
	var requests atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	config := testConfig(wsURL(server))
	config.ConnectAttempts = 5
	transport, err := New(config)
	require.NoError(t, err)
	transport.Bind(newRecordingHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Connect(ctx))
	require.GreaterOrEqual(t, requests.Load(), int32(3))
	require.NoError(t, transport.Disconnect())
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "never", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	config := testConfig(wsURL(server))
	config.ConnectAttempts = 2
	transport, err := New(config)
	require.NoError(t, err)
	transport.Bind(newRecordingHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = transport.Connect(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempts")
}

func TestServerDropReportsCauseOnce(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-release
		// Abrupt close, no close frame.
		conn.Close()
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	handler := newRecordingHandler()
	transport, err := New(testConfig(wsURL(server)))
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Connect(ctx))

	close(release)
	select {
	case cause := <-handler.disconnectCh:
		require.Error(t, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect reported")
	}

	// The drop is reported exactly once and Disconnect after it is a no-op.
	require.NoError(t, transport.Disconnect())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, handler.disconnectCount())
}

func TestReconnectAfterDrop(t *testing.T) {
	server := startEchoServer(t)
	handler := newRecordingHandler()

	transport, err := New(testConfig(wsURL(server)))
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, transport.Connect(ctx))
	require.NoError(t, transport.Disconnect())
	<-handler.disconnectCh

	require.NoError(t, transport.Connect(ctx))
	payload := []byte(`{"id":"req-2","command":"ping"}`)
	require.NoError(t, transport.Send(ctx, payload))
	select {
	case frame := <-handler.frameCh:
		require.Equal(t, payload, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame echoed after reconnect")
	}
	require.NoError(t, transport.Disconnect())
}

func TestSendWithoutConnect(t *testing.T) {
	transport, err := New(testConfig("ws://127.0.0.1:9"))
	require.NoError(t, err)
	transport.Bind(newRecordingHandler())

	err = transport.Send(context.Background(), []byte("{}"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectWithoutConnect(t *testing.T) {
	handler := newRecordingHandler()
	transport, err := New(testConfig("ws://127.0.0.1:9"))
	require.NoError(t, err)
	transport.Bind(handler)

	require.NoError(t, transport.Disconnect())
	require.Equal(t, 0, handler.disconnectCount())
}

func TestHostStripsScheme(t *testing.T) {
	transport, err := New(testConfig("ws://core.local:8123/session"))
	require.NoError(t, err)
	require.Equal(t, "core.local:8123", transport.Host())
}
