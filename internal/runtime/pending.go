package runtime

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is the settlement of one pending request. Cancelled marks a
// registry-wide sweep as a settlement kind of its own, so callers can tell a
// cancelled request apart from one that failed.
type Outcome[T any] struct {
	Value     T
	Err       error
	Cancelled bool
}

// PendingInfo is a read-only snapshot of a live registry entry.
type PendingInfo struct {
	ID        string
	CreatedAt time.Time
	Timeout   time.Duration
	Bypass    bool
}

// PendingRegistry tracks in-flight requests by correlation id. Entries settle
// exactly once: resolved with a value, rejected with an error, or cancelled by
// a sweep. Generic over the response payload type so the root package can keep
// wire types private.
type PendingRegistry[T any] struct {
	mu         sync.Mutex
	pending    map[string]*pendingEntry[T]
	counter    uint64
	closed     bool
	closedErr  error
	timeoutErr func(id string, timeout time.Duration) error
}

type pendingEntry[T any] struct {
	info  PendingInfo
	ch    chan Outcome[T]
	timer *time.Timer
}

// NewPendingRegistry builds a registry whose timed-out entries settle with the
// error produced by timeoutErr.
func NewPendingRegistry[T any](timeoutErr func(id string, timeout time.Duration) error) *PendingRegistry[T] {
	return &PendingRegistry[T]{
		pending:    map[string]*pendingEntry[T]{},
		timeoutErr: timeoutErr,
	}
}

// Create allocates a fresh correlation id and a one-shot settlement channel.
// A positive timeout arms a timer that rejects the entry with the registry's
// timeout error if nothing settles it first. bypass records that the request
// was issued from inside a lifecycle hook and skips connection gating.
func (registry *PendingRegistry[T]) Create(timeout time.Duration, bypass bool) (string, <-chan Outcome[T]) {
	registry.mu.Lock()

	registry.counter++
	id := fmt.Sprintf("req-%d", registry.counter)

	entry := &pendingEntry[T]{
		info: PendingInfo{
			ID:        id,
			CreatedAt: time.Now(),
			Timeout:   timeout,
			Bypass:    bypass,
		},
		ch: make(chan Outcome[T], 1),
	}

	if registry.closed {
		closedErr := registry.closedErr
		registry.mu.Unlock()
		entry.ch <- Outcome[T]{Err: closedErr, Cancelled: true}
		close(entry.ch)
		return id, entry.ch
	}

	registry.pending[id] = entry
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			registry.expire(id, timeout)
		})
	}
	registry.mu.Unlock()

	return id, entry.ch
}

// Resolve settles id with value. Unknown or already-settled ids are ignored.
func (registry *PendingRegistry[T]) Resolve(id string, value T) bool {
	entry := registry.take(id)
	if entry == nil {
		return false
	}
	entry.settle(Outcome[T]{Value: value})
	return true
}

// Reject settles id with err. Unknown or already-settled ids are ignored.
func (registry *PendingRegistry[T]) Reject(id string, err error) bool {
	entry := registry.take(id)
	if entry == nil {
		return false
	}
	entry.settle(Outcome[T]{Err: err})
	return true
}

// Delete removes an entry without settling it. Used when the caller already
// handled the outcome itself, for example after a local send failure.
func (registry *PendingRegistry[T]) Delete(id string) {
	entry := registry.take(id)
	if entry == nil {
		return
	}
	close(entry.ch)
}

// CancelAll settles every live entry as cancelled with err and clears the
// registry. After it returns no previously pending outcome settles otherwise.
func (registry *PendingRegistry[T]) CancelAll(err error) {
	for _, entry := range registry.drain(false, nil) {
		entry.settle(Outcome[T]{Err: err, Cancelled: true})
	}
}

// Close cancels every live entry with err and rejects all future Create calls
// with the same error. Terminal; used on client shutdown.
func (registry *PendingRegistry[T]) Close(err error) {
	for _, entry := range registry.drain(true, err) {
		entry.settle(Outcome[T]{Err: err, Cancelled: true})
	}
}

// Len reports the number of live entries.
func (registry *PendingRegistry[T]) Len() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.pending)
}

// Info returns the snapshot of a live entry, if present.
func (registry *PendingRegistry[T]) Info(id string) (PendingInfo, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	entry := registry.pending[id]
	if entry == nil {
		return PendingInfo{}, false
	}
	return entry.info, true
}

func (registry *PendingRegistry[T]) expire(id string, timeout time.Duration) {
	entry := registry.take(id)
	if entry == nil {
		return
	}
	entry.settle(Outcome[T]{Err: registry.timeoutErr(id, timeout)})
}

func (registry *PendingRegistry[T]) take(id string) *pendingEntry[T] {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	entry := registry.pending[id]
	if entry == nil {
		return nil
	}
	delete(registry.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

func (registry *PendingRegistry[T]) drain(closed bool, closedErr error) []*pendingEntry[T] {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if closed && !registry.closed {
		registry.closed = true
		registry.closedErr = closedErr
	}

	drained := make([]*pendingEntry[T], 0, len(registry.pending))
	for id, entry := range registry.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		drained = append(drained, entry)
		delete(registry.pending, id)
	}
	return drained
}

func (entry *pendingEntry[T]) settle(outcome Outcome[T]) {
	entry.ch <- outcome
	close(entry.ch)
}
