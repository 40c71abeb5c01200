package pipetransport

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	corelink "github.com/corelink/corelink-go"
)

type recordingHandler struct {
	mu          sync.Mutex
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
	handler.frameCh <- append([]byte(nil), frame...)
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

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func awaitDisconnect(t *testing.T, handler *recordingHandler) error {
	t.Helper()
	select {
	case cause := <-handler.disconnectCh:
		return cause
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect reported")
		return nil
	}
}

func TestRoundTripOverCat(t *testing.T) {
	requireTool(t, "cat")

	handler := newRecordingHandler()
	transport, err := New(Config{Command: "cat"})
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
	case <-time.After(5 * time.Second):
		t.Fatal("no frame echoed back")
	}

	require.NoError(t, transport.Disconnect())
	require.NoError(t, awaitDisconnect(t, handler))
	require.Equal(t, 1, handler.disconnectCount())
}

func TestProcessExitReportsCause(t *testing.T) {
	requireTool(t, "sh")

	handler := newRecordingHandler()
	transport, err := New(Config{Command: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Connect(ctx))

	cause := awaitDisconnect(t, handler)
	require.Error(t, cause)
	require.Contains(t, cause.Error(), "core process exited")
}

func TestCleanExitStillReportsCause(t *testing.T) {
	requireTool(t, "sh")

	handler := newRecordingHandler()
	transport, err := New(Config{Command: "sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Connect(ctx))

	// The client did not ask for this exit, so it is not a clean local
	// shutdown even though the status is zero.
	require.Error(t, awaitDisconnect(t, handler))
}

func TestStderrCaptured(t *testing.T) {
	requireTool(t, "sh")

	handler := newRecordingHandler()
	transport, err := New(Config{Command: "sh", Args: []string{"-c", "echo boom 1>&2; exec cat"}})
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, transport.Connect(ctx))
	t.Cleanup(func() { _ = transport.Disconnect() })

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(transport.Stderr(), "boom") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stderr not captured: %q", transport.Stderr())
}

func TestReconnectSpawnsFreshProcess(t *testing.T) {
	requireTool(t, "cat")

	handler := newRecordingHandler()
	transport, err := New(Config{Command: "cat"})
	require.NoError(t, err)
	transport.Bind(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, transport.Connect(ctx))
	require.NoError(t, transport.Disconnect())
	require.NoError(t, awaitDisconnect(t, handler))

	require.NoError(t, transport.Connect(ctx))
	payload := []byte(`{"id":"req-2","command":"ping"}`)
	require.NoError(t, transport.Send(ctx, payload))
	select {
	case frame := <-handler.frameCh:
		require.Equal(t, payload, frame)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame echoed after reconnect")
	}
	require.NoError(t, transport.Disconnect())
}

func TestSendWithoutConnect(t *testing.T) {
	transport, err := New(Config{Command: "cat"})
	require.NoError(t, err)
	transport.Bind(newRecordingHandler())

	err = transport.Send(context.Background(), []byte("{}"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectWithoutConnect(t *testing.T) {
	handler := newRecordingHandler()
	transport, err := New(Config{Command: "cat"})
	require.NoError(t, err)
	transport.Bind(handler)

	require.NoError(t, transport.Disconnect())
	require.Equal(t, 0, handler.disconnectCount())
}

func TestHostNamesExecutable(t *testing.T) {
	transport, err := New(Config{Command: "/usr/local/bin/core-daemon"})
	require.NoError(t, err)
	require.Equal(t, "pipe://core-daemon", transport.Host())
}

func TestLoadConfigOverlaysDefinedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corelink.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[pipe]
command = "core-daemon"
args = ["--mode", "rpc"]
shutdown_timeout_ms = 500
`), 0o600))

	base := Config{Command: "fallback", Dir: "/srv/core"}
	config, err := LoadConfig(path, base)
	require.NoError(t, err)

	require.Equal(t, "core-daemon", config.Command)
	require.Equal(t, []string{"--mode", "rpc"}, config.Args)
	require.Equal(t, 500*time.Millisecond, config.ShutdownTimeout)
	require.Equal(t, "/srv/core", config.Dir)
}

func TestLoadConfigParsesDurationSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corelink.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[pipe]
shutdown_timeout = "3s"
`), 0o600))

	config, err := LoadConfig(path, Config{})
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, config.ShutdownTimeout)
}
