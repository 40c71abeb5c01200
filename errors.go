package corelink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrClientClosed indicates the client was closed by the caller.
	ErrClientClosed = errors.New("corelink client closed")
	// ErrInvalidSubscriptionPolicy indicates an unsupported subscription mode or buffer.
	ErrInvalidSubscriptionPolicy = errors.New("invalid subscription policy")
	// ErrNilContext indicates a required context argument was nil.
	ErrNilContext = errors.New("context is required")
	// ErrNilTransport indicates NewClient was called without a transport.
	ErrNilTransport = errors.New("transport is required")
)

// DisconnectedError is the canonical connection-lost failure. Every pending
// request swept during teardown fails with it, tagged with the transport's
// identity.
type DisconnectedError struct {
	Host string
}

func (err *DisconnectedError) Error() string {
	if err == nil || err.Host == "" {
		return "core disconnected"
	}
	return fmt.Sprintf("core disconnected (%s)", err.Host)
}

// TimeoutError is returned when a pending request's deadline elapses before a
// response arrives.
type TimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

func (err *TimeoutError) Error() string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("request %s timed out after %s", err.RequestID, err.Timeout)
}

// CancellationError is the terminal error a registry-wide sweep attaches when
// the sweep is not caused by a disconnection, for example client shutdown.
type CancellationError struct {
	Reason string
}

func (err *CancellationError) Error() string {
	if err == nil || strings.TrimSpace(err.Reason) == "" {
		return "request cancelled"
	}
	return fmt.Sprintf("request cancelled: %s", err.Reason)
}

// RemoteError is a failure reported by the Core for a specific request. It is
// passed through to the caller unless it marks the session as gone, in which
// case it is normalized to DisconnectedError. Launch failures are exempt from
// that normalization so callers can tell "remote is gone" from "remote failed
// to start".
type RemoteError struct {
	Kind       string
	Message    string
	Disconnect bool
}

func (err *RemoteError) Error() string {
	if err == nil {
		return ""
	}
	message := strings.TrimSpace(err.Message)
	if message == "" {
		message = "remote command failed"
	}
	if err.Kind == "" {
		return message
	}
	return fmt.Sprintf("%s: %s", err.Kind, message)
}

// IsLaunchFailure reports whether err carries the distinguished remote
// failed-to-start class.
func IsLaunchFailure(err error) bool {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		return false
	}
	return remoteErr.Kind == launchFailureKind || remoteErr.Kind == dependencyFailureKind
}
