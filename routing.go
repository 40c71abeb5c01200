package corelink

import (
	"encoding/json"
	"errors"

	"github.com/corelink/corelink-go/internal/wire"
)

// Distinguished remote error kinds, re-exported from the wire model for the
// classification in errors.go.
const (
	launchFailureKind     = wire.KindLaunchFailure
	dependencyFailureKind = wire.KindDependencyFailure
)

// HandleMessage implements Handler. It runs on the transport's read
// goroutine: responses settle their pending entry, events become
// notifications, anything else surfaces as a protocol error.
func (client *Client) HandleMessage(frame []byte) {
	message, err := wire.Decode(frame)
	if err != nil {
		client.log.Warn().Err(err).Int("bytes", len(frame)).Msg("undecodable frame")
		client.notify(Notification{
			Kind: NotificationProtocolError,
			Err:  err,
			Raw:  append(json.RawMessage(nil), frame...),
		})
		return
	}

	switch {
	case message.IsResponse():
		client.resolveResponse(message)
	case message.IsEvent():
		client.notify(Notification{
			Kind: NotificationEvent,
			Event: &CoreEvent{
				ListenerID: message.ListenerID,
				Name:       message.Event,
				Payload:    append(json.RawMessage(nil), message.Payload...),
			},
			Raw: append(json.RawMessage(nil), frame...),
		})
	default:
		client.log.Warn().Msg("frame is neither response nor event")
		client.notify(Notification{
			Kind: NotificationProtocolError,
			Err:  errors.New("frame is neither response nor event"),
			Raw:  append(json.RawMessage(nil), frame...),
		})
	}
}

// HandleDisconnected implements Handler. The transport reports the link gone
// at most once per established connection; cause is nil for a locally
// requested close.
func (client *Client) HandleDisconnected(cause error) {
	client.connectionTerminated(cause)
}

func (client *Client) resolveResponse(message wire.Message) {
	defer setPendingRequests(float64(client.requests.Len()))

	if message.Error != nil {
		if !client.requests.Reject(message.ID, client.normalizeResponseError(message.Error)) {
			client.log.Debug().Str("id", message.ID).Msg("error response for unknown request")
		}
		return
	}
	if !client.requests.Resolve(message.ID, append(json.RawMessage(nil), message.Result...)) {
		client.log.Debug().Str("id", message.ID).Msg("response for unknown request")
	}
}

// normalizeResponseError maps remote failures that mean "the session is gone"
// onto the canonical DisconnectedError, so callers see one failure shape for
// every way a connection can die. Launch and dependency failures pass through
// verbatim even mid-disconnect: their diagnostics must survive.
func (client *Client) normalizeResponseError(remote *wire.RemoteError) error {
	if remote.LaunchFailure() {
		return &RemoteError{Kind: remote.Kind, Message: remote.Message, Disconnect: remote.Disconnect}
	}
	if client.disconnecting() || remote.SessionGone() {
		return &DisconnectedError{Host: client.transport.Host()}
	}
	return &RemoteError{Kind: remote.Kind, Message: remote.Message, Disconnect: remote.Disconnect}
}
