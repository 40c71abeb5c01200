package corelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corelink/corelink-go/internal/runtime"
	"github.com/corelink/corelink-go/internal/wire"
)

// Result is the successful payload of one request round-trip. Data is nil for
// acknowledgement-only responses and for hook requests settled early by a
// teardown.
type Result struct {
	Data json.RawMessage
}

// SendRequest issues command with args and waits for the correlated response,
// using the client's default request timeout.
func (client *Client) SendRequest(ctx context.Context, command string, args any) (Result, error) {
	return client.sendRequest(ctx, command, args, client.options.RequestTimeout)
}

// SendRequestTimeout is SendRequest with a per-call timeout. A timeout of
// zero or less disables the per-request timer; the context or a disconnect
// still settles the request.
func (client *Client) SendRequestTimeout(ctx context.Context, command string, args any, timeout time.Duration) (Result, error) {
	return client.sendRequest(ctx, command, args, timeout)
}

func (client *Client) sendRequest(ctx context.Context, command string, args any, timeout time.Duration) (Result, error) {
	if ctx == nil {
		return Result{}, ErrNilContext
	}
	if command == "" {
		return Result{}, errors.New("command is required")
	}
	if client.isClosed() {
		return Result{}, ErrClientClosed
	}

	// Hook requests skip the auto-connect gate: they run while a lifecycle
	// action already owns the connection.
	hookAct := client.currentHookAction(ctx)
	if hookAct == nil && client.ShouldAutoConnect() {
		if err := client.Connect(ctx, ConnectOptions{Automatic: true}); err != nil {
			return Result{}, err
		}
	}

	id, outcomes := client.requests.Create(timeout, hookAct != nil)
	setPendingRequests(float64(client.requests.Len()))

	if hookAct != nil {
		client.mu.Lock()
		hookAct.hookRequestID = id
		client.mu.Unlock()
		defer func() {
			client.mu.Lock()
			if hookAct.hookRequestID == id {
				hookAct.hookRequestID = ""
			}
			client.mu.Unlock()
		}()
	}

	start := time.Now()
	frame, err := json.Marshal(wire.Request{ID: id, Command: command, Args: args, SentAt: start})
	if err != nil {
		client.requests.Delete(id)
		setPendingRequests(float64(client.requests.Len()))
		return Result{}, fmt.Errorf("encode %s request: %w", command, err)
	}

	client.log.Debug().Str("id", id).Str("command", command).Msg("sending request")

	sendErrs := make(chan error, 1)
	go func() {
		sendErrs <- client.transport.Send(ctx, frame)
	}()

	// The send fault races the settlement: a response routed off the read
	// goroutine can legitimately land before the writer returns. A settlement
	// that already arrived wins over the fault.
	for {
		select {
		case err := <-sendErrs:
			if err != nil {
				select {
				case outcome := <-outcomes:
					return client.finishRequest(outcome, start)
				default:
				}
				client.requests.Delete(id)
				setPendingRequests(float64(client.requests.Len()))
				client.requestSettled("error", time.Since(start))
				return Result{}, fmt.Errorf("send %s request: %w", command, err)
			}
			sendErrs = nil
		case outcome := <-outcomes:
			return client.finishRequest(outcome, start)
		case <-ctx.Done():
			client.requests.Delete(id)
			setPendingRequests(float64(client.requests.Len()))
			client.requestSettled("cancelled", time.Since(start))
			return Result{}, ctx.Err()
		}
	}
}

// finishRequest translates a registry settlement into the caller-facing
// result. A cancellation swept by an explicit disconnect carries no error:
// the caller asked for the teardown, so the request simply reports empty.
func (client *Client) finishRequest(outcome runtime.Outcome[json.RawMessage], start time.Time) (Result, error) {
	elapsed := time.Since(start)
	setPendingRequests(float64(client.requests.Len()))

	if outcome.Cancelled {
		client.requestSettled("cancelled", elapsed)
		if outcome.Err == nil {
			return Result{}, nil
		}
		return Result{}, outcome.Err
	}
	if outcome.Err != nil {
		var timeout *TimeoutError
		if errors.As(outcome.Err, &timeout) {
			client.requestSettled("timeout", elapsed)
		} else {
			client.requestSettled("error", elapsed)
		}
		return Result{}, outcome.Err
	}
	client.requestSettled("ok", elapsed)
	return Result{Data: outcome.Value}, nil
}
