// Package pipetransport provides a corelink.Transport that runs the Core as a
// child process and exchanges newline-delimited frames over its stdio.
package pipetransport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	corelink "github.com/corelink/corelink-go"
)

// ErrNotConnected is returned by Send when no Core process is running.
var ErrNotConnected = errors.New("pipetransport: not connected")

const defaultShutdownTimeout = 2 * time.Second

// Config describes the Core child process.
type Config struct {
	// Command is the executable to spawn. Required.
	Command string
	Args    []string
	Dir     string

	// Env entries are appended to the parent environment.
	Env []string

	// ShutdownTimeout bounds the SIGTERM grace period before the process is
	// killed. Defaults to 2s.
	ShutdownTimeout time.Duration

	Logger zerolog.Logger
}

func (config Config) withDefaults() Config {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	return config
}

// Transport implements corelink.Transport over a spawned process. Each
// Connect starts a fresh process; the transport keeps the most recent one
// around so Stderr stays readable after a crash.
type Transport struct {
	config Config
	log    zerolog.Logger

	handler corelink.Handler

	mu      sync.Mutex
	current *process
}

// process is the state of one spawned Core instance.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// writeMu serializes frame writes to stdin.
	writeMu sync.Mutex

	stderr   bytes.Buffer
	stderrMu sync.Mutex

	// alive and stopping are guarded by the transport's mu.
	alive    bool
	stopping bool

	waitDone chan struct{}
	lostOnce sync.Once
}

// New validates config and builds an unconnected transport.
func New(config Config) (*Transport, error) {
	config = config.withDefaults()
	if config.Command == "" {
		return nil, errors.New("pipetransport: command is required")
	}
	return &Transport{
		config: config,
		log:    config.Logger.With().Str("transport", "pipe").Logger(),
	}, nil
}

// Bind implements corelink.Transport. Must be called before Connect.
func (transport *Transport) Bind(handler corelink.Handler) {
	transport.handler = handler
}

// Host implements corelink.Transport.
func (transport *Transport) Host() string {
	return "pipe://" + filepath.Base(transport.config.Command)
}

// Connect spawns the Core process and starts the stdio goroutines. Calling
// Connect while a process is running is a no-op; calling it again after the
// process died spawns a new one.
func (transport *Transport) Connect(ctx context.Context) error {
	if transport.handler == nil {
		return errors.New("pipetransport: transport is not bound")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	transport.mu.Lock()
	if transport.current != nil && transport.current.alive {
		transport.mu.Unlock()
		return nil
	}
	transport.mu.Unlock()

	cmd := exec.Command(transport.config.Command, transport.config.Args...)
	if transport.config.Dir != "" {
		cmd.Dir = transport.config.Dir
	}
	if len(transport.config.Env) > 0 {
		cmd.Env = append(os.Environ(), transport.config.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("pipetransport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipetransport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pipetransport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pipetransport: start %s: %w", transport.config.Command, err)
	}

	proc := &process{
		cmd:      cmd,
		stdin:    stdin,
		alive:    true,
		waitDone: make(chan struct{}),
	}

	transport.mu.Lock()
	transport.current = proc
	transport.mu.Unlock()

	go proc.captureStderr(stderr)
	go transport.readStdout(proc, stdout)
	go transport.waitForProcess(proc)

	transport.log.Debug().Str("command", transport.config.Command).Int("pid", cmd.Process.Pid).Msg("core process started")
	return nil
}

// Send writes one frame followed by a newline, serialized against concurrent
// senders.
func (transport *Transport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	transport.mu.Lock()
	proc := transport.current
	alive := proc != nil && proc.alive
	transport.mu.Unlock()
	if !alive {
		return ErrNotConnected
	}

	line := make([]byte, 0, len(frame)+1)
	line = append(line, frame...)
	line = append(line, '\n')

	proc.writeMu.Lock()
	defer proc.writeMu.Unlock()
	if _, err := proc.stdin.Write(line); err != nil {
		return fmt.Errorf("pipetransport: write: %w", err)
	}
	return nil
}

// Disconnect closes stdin, sends SIGTERM, and escalates to SIGKILL after the
// shutdown timeout. It returns once the process is reaped and the drop was
// reported upstream. Idempotent.
func (transport *Transport) Disconnect() error {
	transport.mu.Lock()
	proc := transport.current
	if proc == nil || !proc.alive {
		transport.mu.Unlock()
		return nil
	}
	proc.stopping = true
	transport.mu.Unlock()

	_ = proc.stdin.Close()
	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-proc.waitDone:
	case <-time.After(transport.config.ShutdownTimeout):
		transport.log.Warn().Msg("core process ignored SIGTERM, killing")
		if proc.cmd.Process != nil {
			_ = proc.cmd.Process.Kill()
		}
		<-proc.waitDone
	}
	return nil
}

// Stderr returns everything the current or most recent Core process wrote to
// its stderr. Useful when diagnosing a crash.
func (transport *Transport) Stderr() string {
	transport.mu.Lock()
	proc := transport.current
	transport.mu.Unlock()
	if proc == nil {
		return ""
	}
	proc.stderrMu.Lock()
	defer proc.stderrMu.Unlock()
	return proc.stderr.String()
}

func (proc *process) captureStderr(stderr io.Reader) {
	buffer := make([]byte, 4096)
	for {
		read, err := stderr.Read(buffer)
		if read > 0 {
			proc.stderrMu.Lock()
			_, _ = proc.stderr.Write(buffer[:read])
			proc.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (transport *Transport) readStdout(proc *process, stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			transport.handler.HandleMessage(line)
		}
		if err != nil {
			return
		}
	}
}

// waitForProcess reaps the process and reports the drop upstream before
// releasing Disconnect waiters.
func (transport *Transport) waitForProcess(proc *process) {
	waitErr := proc.cmd.Wait()
	transport.connectionLost(proc, waitErr)
	close(proc.waitDone)
}

func (transport *Transport) connectionLost(proc *process, waitErr error) {
	proc.lostOnce.Do(func() {
		transport.mu.Lock()
		proc.alive = false
		stopping := proc.stopping
		transport.mu.Unlock()

		var cause error
		switch {
		case stopping:
			cause = nil
		case waitErr != nil:
			cause = fmt.Errorf("core process exited: %w", waitErr)
		default:
			cause = errors.New("core process exited")
		}

		if cause != nil {
			transport.log.Warn().Err(waitErr).Str("stderr", transport.Stderr()).Msg("core process died")
		} else {
			transport.log.Debug().Msg("core process stopped")
		}
		transport.handler.HandleDisconnected(cause)
	})
}
