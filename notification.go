package corelink

import (
	"encoding/json"
	"fmt"

	"github.com/corelink/corelink-go/internal/stream"
)

// NotificationKind tags entries on the event surface.
type NotificationKind string

const (
	// NotificationConnected is emitted after a connect action completes.
	NotificationConnected NotificationKind = "connected"
	// NotificationDisconnected is emitted once per disconnection episode.
	// Err carries the disconnect's fatal error, the transport's cause, or
	// nil for a clean shutdown.
	NotificationDisconnected NotificationKind = "disconnected"
	// NotificationEvent wraps an out-of-band event from the Core.
	NotificationEvent NotificationKind = "event"
	// NotificationProtocolError reports an inbound frame the client could
	// not interpret. Raw holds the offending frame.
	NotificationProtocolError NotificationKind = "protocol_error"
	// NotificationSubscriptionDrop reports that a lossy subscription shed
	// an entry.
	NotificationSubscriptionDrop NotificationKind = "subscription_drop"
)

// Notification is one entry on the event surface.
type Notification struct {
	Kind  NotificationKind
	Err   error
	Event *CoreEvent
	Raw   json.RawMessage
}

// CoreEvent is an out-of-band event emitted by the Core, named by the
// listener that produced it.
type CoreEvent struct {
	ListenerID string
	Name       string
	Payload    json.RawMessage
}

// SubscriptionMode selects what a subscription does when its buffer is full.
type SubscriptionMode string

const (
	SubscriptionModeDrop  SubscriptionMode = "drop"
	SubscriptionModeBlock SubscriptionMode = "block"
	SubscriptionModeRing  SubscriptionMode = "ring"
)

type SubscriptionPolicy struct {
	Buffer        int
	Mode          SubscriptionMode
	EmitDropEvent bool
}

func DefaultSubscriptionPolicy() SubscriptionPolicy {
	return SubscriptionPolicy{Buffer: 128, Mode: SubscriptionModeDrop}
}

func validateSubscriptionPolicy(policy SubscriptionPolicy) error {
	if policy.Buffer <= 0 {
		return fmt.Errorf("%w: buffer must be > 0", ErrInvalidSubscriptionPolicy)
	}
	switch policy.Mode {
	case SubscriptionModeDrop, SubscriptionModeBlock, SubscriptionModeRing:
		return nil
	default:
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidSubscriptionPolicy, policy.Mode)
	}
}

func toStreamPolicy(policy SubscriptionPolicy) stream.Policy {
	return stream.Policy{
		Buffer:        policy.Buffer,
		Mode:          stream.Mode(policy.Mode),
		EmitDropEvent: policy.EmitDropEvent,
	}
}

func newSubscriptionDropNotification(mode stream.Mode, droppedKind string) Notification {
	raw, _ := json.Marshal(map[string]any{
		"kind":        NotificationSubscriptionDrop,
		"mode":        mode,
		"droppedKind": droppedKind,
	})
	return Notification{Kind: NotificationSubscriptionDrop, Raw: raw}
}
