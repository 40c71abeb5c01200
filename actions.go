package corelink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActionKind names the two lifecycle transitions.
type ActionKind string

const (
	ActionConnect    ActionKind = "connect"
	ActionDisconnect ActionKind = "disconnect"
)

// Action is the read-only view of an in-progress connect or disconnect
// handed to lifecycle hooks.
type Action struct {
	ID        string
	Kind      ActionKind
	Automatic bool
	StartedAt time.Time
	Fatal     error
}

// action tracks one in-progress connect or disconnect attempt. At most one
// live action exists per kind; concurrent callers join it and share its
// outcome. callingHook and hookRequestID are guarded by the owning client's
// mutex.
type action struct {
	id        string
	kind      ActionKind
	automatic bool
	fatal     error
	startedAt time.Time

	callingHook   bool
	hookRequestID string

	done       chan struct{}
	settleOnce sync.Once
	err        error
}

func newAction(kind ActionKind, automatic bool, fatal error) *action {
	return &action{
		id:        uuid.NewString(),
		kind:      kind,
		automatic: automatic,
		fatal:     fatal,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (act *action) info() Action {
	return Action{
		ID:        act.id,
		Kind:      act.kind,
		Automatic: act.automatic,
		StartedAt: act.startedAt,
		Fatal:     act.fatal,
	}
}

func (act *action) settle(err error) {
	act.settleOnce.Do(func() {
		act.err = err
		close(act.done)
	})
}

func (act *action) wait(ctx context.Context) error {
	select {
	case <-act.done:
		return act.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (act *action) settled() bool {
	select {
	case <-act.done:
		return true
	default:
		return false
	}
}

// Requests issued from inside a lifecycle hook carry the invoking action in
// their context, so sendRequest can tag them onto it and skip the
// auto-connect gate.
type hookActionKey struct{}

func withHookAction(ctx context.Context, act *action) context.Context {
	return context.WithValue(ctx, hookActionKey{}, act)
}

func hookActionFrom(ctx context.Context) *action {
	act, _ := ctx.Value(hookActionKey{}).(*action)
	return act
}
