package corelink

import (
	"context"
	"fmt"
	"time"
)

// Connect establishes the transport connection and runs the after-connect
// hook. Concurrent callers share a single in-flight attempt. Calling Connect
// from inside the before-disconnect hook returns nil immediately so the hook
// cannot deadlock the teardown it is part of.
func (client *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	if ctx == nil {
		return ErrNilContext
	}
	if client.isClosed() {
		return ErrClientClosed
	}

	client.mu.Lock()
	if opts.AutoReconnect {
		client.autoReconnect = true
	}
	if client.disconnectAction != nil && client.disconnectAction.callingHook {
		client.mu.Unlock()
		return nil
	}
	if client.connectAction != nil {
		act := client.connectAction
		client.mu.Unlock()
		return act.wait(ctx)
	}
	act := newAction(ActionConnect, opts.Automatic, nil)
	client.connectAction = act
	client.mu.Unlock()

	return client.runConnect(ctx, act, opts)
}

func (client *Client) runConnect(ctx context.Context, act *action, opts ConnectOptions) (err error) {
	log := client.log.With().Str("action", act.id).Logger()
	defer func() {
		if err != nil {
			client.mu.Lock()
			if client.connectAction == act {
				client.connectAction = nil
			}
			client.mu.Unlock()
			recordConnect("error", act.automatic)
			client.counters.connectFailures.Add(1)
		} else {
			recordConnect("ok", act.automatic)
			client.counters.connects.Add(1)
		}
		act.settle(err)
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = client.options.ConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host := client.transport.Host()

	// Transports start their link watchers inside Connect, so a drop can be
	// reported before Connect returns. The episode opens before the dial; a
	// failed dial delivers no HandleDisconnected and closes it again.
	client.mu.Lock()
	client.terminated = false
	client.mu.Unlock()

	if err := client.transport.Connect(connectCtx); err != nil {
		client.mu.Lock()
		client.terminated = true
		client.mu.Unlock()
		log.Error().Err(err).Str("host", host).Msg("connect failed")
		return fmt.Errorf("connect %s: %w", host, err)
	}

	if client.options.AfterConnect != nil {
		client.mu.Lock()
		act.callingHook = true
		client.mu.Unlock()

		hookErr := client.options.AfterConnect(withHookAction(ctx, act), act.info())

		client.mu.Lock()
		act.callingHook = false
		act.hookRequestID = ""
		client.mu.Unlock()

		if hookErr != nil {
			log.Error().Err(hookErr).Str("host", host).Msg("after-connect hook failed, disconnecting")
			if derr := client.transport.Disconnect(); derr != nil {
				log.Warn().Err(derr).Msg("transport disconnect after failed hook")
			}
			return fmt.Errorf("after-connect hook: %w", hookErr)
		}
	}

	client.mu.Lock()
	interrupted := client.connectAction != act
	client.mu.Unlock()
	if interrupted {
		return &DisconnectedError{Host: host}
	}

	log.Info().Str("host", host).Bool("automatic", act.automatic).Msg("connected")
	client.notify(Notification{Kind: NotificationConnected})
	return nil
}

// Disconnect tears the connection down and permanently disables automatic
// reconnection. Concurrent callers share a single in-flight teardown. cause,
// when non-nil, is surfaced on the disconnected notification instead of the
// transport's own close reason. Disconnect reports success even when the
// transport close fails; failures are logged.
func (client *Client) Disconnect(ctx context.Context, cause error) error {
	if ctx == nil {
		return ErrNilContext
	}

	client.mu.Lock()
	client.autoReconnect = false
	if client.disconnectAction != nil {
		act := client.disconnectAction
		client.mu.Unlock()
		return act.wait(ctx)
	}
	act := newAction(ActionDisconnect, false, cause)
	client.disconnectAction = act
	client.mu.Unlock()

	return client.runDisconnect(ctx, act)
}

func (client *Client) runDisconnect(ctx context.Context, act *action) error {
	host := client.transport.Host()
	log := client.log.With().Str("action", act.id).Logger()
	defer func() {
		act.settle(nil)
		client.mu.Lock()
		if client.disconnectAction == act {
			client.disconnectAction = nil
		}
		client.mu.Unlock()
	}()

	// Requests swept by an explicit disconnect cancel with no error; the
	// caller asked for this teardown, so they settle as empty successes.
	client.requests.CancelAll(nil)
	setPendingRequests(0)

	if client.options.BeforeDisconnect != nil {
		client.mu.Lock()
		act.callingHook = true
		client.mu.Unlock()

		hookErr := client.options.BeforeDisconnect(withHookAction(ctx, act), act.info())

		client.mu.Lock()
		act.callingHook = false
		act.hookRequestID = ""
		client.mu.Unlock()

		if hookErr != nil {
			log.Warn().Err(hookErr).Msg("before-disconnect hook failed")
		}
	}

	if err := client.transport.Disconnect(); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("transport disconnect")
	}

	client.connectionTerminated(act.fatal)
	return nil
}

// connectionTerminated is the single teardown path for an established
// connection. It runs at most once per connection, whether the trigger is an
// explicit Disconnect or the transport reporting the link gone.
func (client *Client) connectionTerminated(cause error) {
	host := client.transport.Host()

	client.mu.Lock()
	if client.terminated {
		client.mu.Unlock()
		return
	}
	client.terminated = true
	client.lastDisconnect = time.Now()

	notifyErr := cause
	if client.disconnectAction != nil && client.disconnectAction.fatal != nil {
		notifyErr = client.disconnectAction.fatal
	}
	explicit := client.disconnectAction != nil
	var sweepErr error
	if !explicit {
		sweepErr = &DisconnectedError{Host: host}
	}

	var emptyIDs, failIDs []string
	if act := client.connectAction; act != nil {
		if act.callingHook && act.hookRequestID != "" {
			if act.automatic {
				emptyIDs = append(emptyIDs, act.hookRequestID)
			} else {
				failIDs = append(failIDs, act.hookRequestID)
			}
		}
		client.connectAction = nil
	}
	if act := client.disconnectAction; act != nil && act.callingHook && act.hookRequestID != "" {
		emptyIDs = append(emptyIDs, act.hookRequestID)
	}
	client.mu.Unlock()

	client.log.Info().Err(notifyErr).Str("host", host).Msg("disconnected")
	client.notify(Notification{Kind: NotificationDisconnected, Err: notifyErr})

	for _, id := range emptyIDs {
		client.requests.Resolve(id, nil)
	}
	for _, id := range failIDs {
		client.requests.Reject(id, &DisconnectedError{Host: host})
	}
	client.requests.CancelAll(sweepErr)
	setPendingRequests(0)

	// One record per episode, labelled by whichever side initiated it.
	if explicit {
		recordDisconnect("explicit")
	} else {
		recordDisconnect("transport")
	}
	client.counters.disconnects.Add(1)

	if client.options.AfterDisconnect != nil {
		if err := client.options.AfterDisconnect(context.Background()); err != nil {
			client.log.Warn().Err(err).Msg("after-disconnect hook failed")
		}
	}
}

// ShouldAutoConnect reports whether a request arriving now is allowed to
// trigger an implicit connect. Reconnection is debounced: after a disconnect
// the client only reconnects once AutoReconnectInterval has elapsed.
func (client *Client) ShouldAutoConnect() bool {
	if client.isClosed() {
		return false
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	if client.options.AutoReconnectInterval < 0 {
		return false
	}
	if !client.autoReconnect {
		return false
	}
	if client.connectAction != nil {
		return false
	}
	if client.disconnectAction != nil && client.disconnectAction.callingHook {
		return false
	}
	if client.lastDisconnect.IsZero() {
		return true
	}
	return time.Since(client.lastDisconnect) >= client.options.AutoReconnectInterval
}

// currentHookAction returns the action whose lifecycle hook issued the
// request carried by ctx, or nil when the context does not belong to the
// client's live hook invocation.
func (client *Client) currentHookAction(ctx context.Context) *action {
	act := hookActionFrom(ctx)
	if act == nil {
		return nil
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if (act == client.connectAction || act == client.disconnectAction) && act.callingHook {
		return act
	}
	return nil
}

func (client *Client) disconnecting() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.disconnectAction != nil
}
