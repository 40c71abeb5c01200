package corelink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corelink/corelink-go/internal/runtime"
	"github.com/corelink/corelink-go/internal/stream"
)

// State is the coarse connection state derived from the live actions.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// Client multiplexes requests over a single long-lived Core connection. It
// correlates responses to pending requests, fans events out to subscribers,
// runs lifecycle hooks around connect and disconnect, and reconnects
// automatically when a request arrives after the link dropped.
//
// All methods are safe for concurrent use.
type Client struct {
	id        string
	transport Transport
	options   Options
	log       zerolog.Logger

	requests *runtime.PendingRegistry[json.RawMessage]
	counters clientCounters

	// mu guards the action slots and the reconnect bookkeeping. terminated
	// starts true: no episode is open until a connect attempt begins, and
	// teardown runs at most once per episode.
	mu               sync.Mutex
	connectAction    *action
	disconnectAction *action
	lastDisconnect   time.Time
	autoReconnect    bool
	terminated       bool

	closed    chan struct{}
	closeOnce sync.Once

	hub         *stream.Hub[Notification]
	queue       *runtime.Queue[Notification]
	dispatchEnd chan struct{}
}

// NewClient binds a client to transport. The transport's inbound callbacks
// are wired immediately; the connection itself is not opened until Connect or
// the first request.
func NewClient(transport Transport, options Options) (*Client, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}

	options = options.withDefaults()
	client := &Client{
		id:            uuid.NewString(),
		transport:     transport,
		options:       options,
		autoReconnect: true,
		terminated:    true,
		closed:        make(chan struct{}),
		queue:         runtime.NewQueue[Notification](),
		dispatchEnd:   make(chan struct{}),
	}
	client.log = options.Logger.With().Str("client", client.id).Logger()
	client.requests = runtime.NewPendingRegistry[json.RawMessage](func(id string, timeout time.Duration) error {
		return &TimeoutError{RequestID: id, Timeout: timeout}
	})
	client.hub = stream.NewHub[Notification](
		ErrClientClosed,
		func(notification Notification) string { return string(notification.Kind) },
		string(NotificationSubscriptionDrop),
		newSubscriptionDropNotification,
	)

	registerMetrics()
	transport.Bind(client)
	go client.dispatchNotifications()

	return client, nil
}

// ID is the unique identity of this client instance, used in log lines.
func (client *Client) ID() string {
	return client.id
}

// Host reports the transport's remote endpoint.
func (client *Client) Host() string {
	return client.transport.Host()
}

// State derives the connection state from the live lifecycle actions.
func (client *Client) State() State {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.disconnectAction != nil {
		return StateDisconnecting
	}
	if act := client.connectAction; act != nil {
		if act.settled() && act.err == nil {
			return StateConnected
		}
		return StateConnecting
	}
	return StateDisconnected
}

// Pending reports the number of requests awaiting settlement.
func (client *Client) Pending() int {
	return client.requests.Len()
}

// HasActiveSessions reports whether the embedder still has live remote work,
// via the predicate supplied in Options. Useful for shutdown ordering.
func (client *Client) HasActiveSessions() bool {
	return client.options.HasActiveSessions()
}

// Subscribe registers for lifecycle and event notifications under the given
// policy. The returned cancel function is idempotent. The channel closes when
// the subscription is cancelled or the client closes.
func (client *Client) Subscribe(policy SubscriptionPolicy) (<-chan Notification, func(), error) {
	if err := validateSubscriptionPolicy(policy); err != nil {
		return nil, nil, err
	}
	return client.hub.Subscribe(toStreamPolicy(policy))
}

// Close disconnects, cancels everything pending, and releases the client.
// Safe to call more than once.
func (client *Client) Close() error {
	client.closeOnce.Do(func() {
		close(client.closed)

		ctx, cancel := context.WithTimeout(context.Background(), client.options.ConnectTimeout)
		defer cancel()
		if err := client.Disconnect(ctx, nil); err != nil {
			client.log.Warn().Err(err).Msg("disconnect during close")
		}

		client.requests.Close(&CancellationError{Reason: "client closed"})
		client.queue.Close()
		client.hub.Close()

		select {
		case <-client.dispatchEnd:
		case <-time.After(250 * time.Millisecond):
			client.log.Warn().Msg("notification dispatch did not drain in time")
		}
	})
	return nil
}

func (client *Client) isClosed() bool {
	select {
	case <-client.closed:
		return true
	default:
		return false
	}
}

// notify enqueues a notification for asynchronous fan-out. Transport and
// lifecycle goroutines never publish to subscribers directly.
func (client *Client) notify(notification Notification) {
	client.queue.Push(notification)
}

func (client *Client) dispatchNotifications() {
	defer close(client.dispatchEnd)
	for {
		notification, ok := client.queue.Pop()
		if !ok {
			return
		}
		client.hub.Publish(notification)
	}
}
