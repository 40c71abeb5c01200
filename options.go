package corelink

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultConnectTimeout        = 30 * time.Second
	defaultRequestTimeout        = 2 * time.Minute
	defaultAutoReconnectInterval = 1 * time.Second
)

// Options configures a Client. The zero value is usable: hooks are absent,
// logging is disabled, and timeouts take their defaults.
type Options struct {
	// Logger receives lifecycle and routing diagnostics. The zero value
	// disables logging.
	Logger zerolog.Logger

	// ConnectTimeout bounds the transport connect of one attempt when the
	// per-call option is unset. Defaults to 30s.
	ConnectTimeout time.Duration

	// RequestTimeout is the pending deadline applied by SendRequest.
	// Defaults to 2m. SendRequestTimeout overrides it per call.
	RequestTimeout time.Duration

	// AutoReconnectInterval is the minimum gap between a disconnect and the
	// next automatic reconnect. Zero means the 1s default. A negative value
	// permanently disables automatic reconnects.
	AutoReconnectInterval time.Duration

	// AfterConnect runs after the transport connects, before the connect
	// action resolves. It may issue requests through the client using the
	// ctx it receives. An error fails the connect attempt.
	AfterConnect func(ctx context.Context, action Action) error

	// BeforeDisconnect runs before the transport disconnects. It may issue
	// requests using the ctx it receives. Errors are logged and swallowed;
	// a disconnect always completes.
	BeforeDisconnect func(ctx context.Context, action Action) error

	// AfterDisconnect runs at the end of teardown, best-effort. Errors are
	// logged, never propagated.
	AfterDisconnect func(ctx context.Context) error

	// HasActiveSessions lets an embedder report live remote work, for
	// shutdown ordering in the surrounding system. Must be side-effect
	// free. Defaults to a predicate that reports false.
	HasActiveSessions func() bool
}

func (options Options) withDefaults() Options {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaultConnectTimeout
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultRequestTimeout
	}
	if options.AutoReconnectInterval == 0 {
		options.AutoReconnectInterval = defaultAutoReconnectInterval
	}
	if options.HasActiveSessions == nil {
		options.HasActiveSessions = func() bool { return false }
	}
	return options
}

// ConnectOptions tunes one Connect call.
type ConnectOptions struct {
	// Timeout bounds the transport connect. Zero uses Options.ConnectTimeout.
	Timeout time.Duration

	// Automatic marks the attempt as policy-triggered rather than
	// user-initiated. Hook requests of automatic attempts settle silently
	// when the connection dies mid-attempt.
	Automatic bool

	// AutoReconnect re-enables the automatic reconnect policy after an
	// explicit Disconnect turned it off. False leaves the policy as it is.
	AutoReconnect bool
}

// ConsoleLogger builds a human-readable stdout logger tagged with app.
func ConsoleLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}
