// Package wstransport provides a WebSocket corelink.Transport backed by
// gorilla/websocket. The transport owns one connection at a time and keeps it
// alive with pings; reconnect policy stays in the client, which calls Connect
// again when it decides to.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	corelink "github.com/corelink/corelink-go"
)

// ErrNotConnected is returned by Send when no connection is established.
var ErrNotConnected = errors.New("wstransport: not connected")

// Config tunes the WebSocket transport. Zero fields take defaults.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the Core.
	URL string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64

	// ConnectAttempts bounds the dial retries of one Connect call.
	ConnectAttempts int
	Backoff         BackoffConfig

	Logger zerolog.Logger
}

func (config Config) withDefaults() Config {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait <= 0 {
		config.PongWait = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 16 << 20
	}
	if config.ConnectAttempts <= 0 {
		config.ConnectAttempts = 3
	}
	config.Backoff = config.Backoff.withDefaults()
	return config
}

// Transport implements corelink.Transport over a WebSocket connection.
type Transport struct {
	config Config
	log    zerolog.Logger

	handler corelink.Handler

	// mu guards the connection identity and the per-connection goroutine
	// channels. closing marks a locally requested teardown so the read loop
	// reports a nil cause.
	mu       sync.Mutex
	conn     *websocket.Conn
	closing  bool
	readDone chan struct{}
	pingStop chan struct{}

	// writeMu serializes data writes and ping control frames.
	writeMu sync.Mutex

	rng *rand.Rand
}

// New validates config and builds an unconnected transport.
func New(config Config) (*Transport, error) {
	config = config.withDefaults()
	if config.URL == "" {
		return nil, errors.New("wstransport: URL is required")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("wstransport: parse URL: %w", err)
	}
	return &Transport{
		config: config,
		log:    config.Logger.With().Str("transport", "websocket").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Bind implements corelink.Transport. Must be called before Connect.
func (transport *Transport) Bind(handler corelink.Handler) {
	transport.handler = handler
}

// Host implements corelink.Transport.
func (transport *Transport) Host() string {
	parsed, err := url.Parse(transport.config.URL)
	if err != nil || parsed.Host == "" {
		return transport.config.URL
	}
	return parsed.Host
}

// Connect dials the endpoint, retrying with backoff up to ConnectAttempts
// times, then starts the read and ping loops. Calling Connect while connected
// is a no-op; calling it again after the connection dropped dials anew.
func (transport *Transport) Connect(ctx context.Context) error {
	if transport.handler == nil {
		return errors.New("wstransport: transport is not bound")
	}

	transport.mu.Lock()
	if transport.conn != nil {
		transport.mu.Unlock()
		return nil
	}
	transport.mu.Unlock()

	conn, err := transport.dial(ctx)
	if err != nil {
		return err
	}

	conn.SetReadLimit(transport.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(transport.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(transport.config.PongWait))
	})

	readDone := make(chan struct{})
	pingStop := make(chan struct{})

	transport.mu.Lock()
	if transport.conn != nil {
		transport.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	transport.conn = conn
	transport.closing = false
	transport.readDone = readDone
	transport.pingStop = pingStop
	transport.mu.Unlock()

	go transport.readLoop(conn, readDone)
	go transport.pingLoop(conn, pingStop)

	transport.log.Debug().Str("host", transport.Host()).Msg("websocket connected")
	return nil
}

func (transport *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: transport.config.HandshakeTimeout}

	var lastErr error
	for attempt := 1; attempt <= transport.config.ConnectAttempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, transport.config.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		transport.log.Debug().Err(err).Int("attempt", attempt).Msg("dial failed")

		if attempt == transport.config.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(nextBackoffDelay(transport.config.Backoff, attempt, transport.rng)):
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w",
		transport.Host(), transport.config.ConnectAttempts, lastErr)
}

// Send writes one frame as a text message, serialized against other writes
// and bounded by the configured write timeout.
func (transport *Transport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	transport.mu.Lock()
	conn := transport.conn
	transport.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	transport.writeMu.Lock()
	defer transport.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(transport.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Disconnect sends a close frame, closes the connection, and waits for the
// read loop to report the drop upstream. Idempotent; a transport that never
// connected reports nil without invoking the handler.
func (transport *Transport) Disconnect() error {
	transport.mu.Lock()
	conn := transport.conn
	readDone := transport.readDone
	if conn == nil {
		transport.mu.Unlock()
		return nil
	}
	transport.closing = true
	transport.mu.Unlock()

	transport.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(transport.config.WriteTimeout))
	transport.writeMu.Unlock()

	err := conn.Close()

	if readDone != nil {
		select {
		case <-readDone:
		case <-time.After(transport.config.PongWait):
			transport.log.Warn().Msg("read loop did not stop in time")
		}
	}

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (transport *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			transport.connectionLost(conn, err)
			return
		}
		transport.handler.HandleMessage(frame)
	}
}

// connectionLost tears down the transport state for conn and reports the drop
// upstream exactly once. A stale conn, already replaced by a newer Connect,
// reports nothing.
func (transport *Transport) connectionLost(conn *websocket.Conn, err error) {
	transport.mu.Lock()
	if transport.conn != conn {
		transport.mu.Unlock()
		return
	}
	transport.conn = nil
	closing := transport.closing
	transport.closing = false
	if transport.pingStop != nil {
		close(transport.pingStop)
		transport.pingStop = nil
	}
	transport.mu.Unlock()

	_ = conn.Close()

	cause := err
	if closing || isExpectedClose(err) {
		cause = nil
	}
	if cause != nil {
		transport.log.Warn().Err(err).Msg("websocket connection lost")
	} else {
		transport.log.Debug().Msg("websocket closed")
	}
	transport.handler.HandleDisconnected(cause)
}

func (transport *Transport) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(transport.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			transport.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(transport.config.WriteTimeout))
			transport.writeMu.Unlock()
			if err != nil {
				transport.log.Debug().Err(err).Msg("ping write failed")
				return
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
