package wire

import (
	"encoding/json"
	"strings"
	"time"
)

// Request is the outbound envelope for one command sent to the Core.
type Request struct {
	ID      string    `json:"id"`
	Command string    `json:"command"`
	Args    any       `json:"args,omitempty"`
	SentAt  time.Time `json:"sentAt"`
}

// Message is the inbound envelope. A frame carrying a correlation id is a
// response to a pending request; a frame carrying an event name or listener
// id is an out-of-band event emitted by the Core.
type Message struct {
	ID         string          `json:"id,omitempty"`
	Event      string          `json:"event,omitempty"`
	ListenerID string          `json:"listenerId,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *RemoteError    `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RemoteError is the failure payload of a response frame.
type RemoteError struct {
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message"`
	Disconnect bool   `json:"disconnect,omitempty"`
}

const (
	// KindSessionGone marks errors reporting that the remote session no
	// longer exists.
	KindSessionGone = "session_gone"
	// KindLaunchFailure marks errors from the Core failing to start.
	KindLaunchFailure = "launch_failure"
	// KindDependencyFailure marks errors from a missing or broken Core
	// dependency, reported the same way as launch failures.
	KindDependencyFailure = "dependency_failure"
)

func Decode(frame []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(frame, &message); err != nil {
		return Message{}, err
	}
	return message, nil
}

func (message Message) IsResponse() bool {
	return strings.TrimSpace(message.ID) != ""
}

func (message Message) IsEvent() bool {
	return strings.TrimSpace(message.Event) != "" || strings.TrimSpace(message.ListenerID) != ""
}

// SessionGone reports whether the error says the remote session is gone,
// either by kind or by an explicit disconnect mark.
func (remoteErr *RemoteError) SessionGone() bool {
	if remoteErr == nil {
		return false
	}
	return remoteErr.Kind == KindSessionGone || remoteErr.Disconnect
}

// LaunchFailure reports whether the error belongs to the distinguished
// failed-to-start class that is never masked as a disconnect.
func (remoteErr *RemoteError) LaunchFailure() bool {
	if remoteErr == nil {
		return false
	}
	return remoteErr.Kind == KindLaunchFailure || remoteErr.Kind == KindDependencyFailure
}
