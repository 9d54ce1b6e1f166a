// Package transport delivers companion requests to the session authority
// and resolves exactly one reply per request, or fails with a typed error.
// It also ingests unsolicited context pushes through the same decode-and-
// route path as replies, so consumers have one ingestion point regardless
// of how a message arrived.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/claude/liftsync/internal/wire"
)

// ErrUnreachable is returned synchronously when the peer is not reachable
// at call time. Requests are never queued: a stale request executed against
// session state that changed while disconnected is worse than an explicit
// failure the caller can retry.
var ErrUnreachable = errors.New("peer not reachable")

// ErrTimedOut is returned when a reachable peer accepted delivery but no
// reply arrived within the request timeout.
var ErrTimedOut = errors.New("request timed out")

// ErrNotActivated is returned for requests before Activate.
var ErrNotActivated = errors.New("transport not activated")

// PeerError reports a transport-level delivery failure from a reachable
// peer.
type PeerError struct {
	Err error
}

func (e *PeerError) Error() string { return fmt.Sprintf("peer delivery failed: %v", e.Err) }
func (e *PeerError) Unwrap() error { return e.Err }

// Link is the underlying channel to the peer. Implementations decide how
// bytes move; the Transport owns request/reply semantics and routing.
type Link interface {
	// Start begins peer discovery. Safe to call once.
	Start()
	// Reachable reports whether the peer is currently reachable.
	Reachable() bool
	// Exchange delivers a request and returns the peer's reply.
	Exchange(ctx context.Context, msg wire.Message) (wire.Message, error)
	// TakeContext consumes the pending context push, if any.
	TakeContext(ctx context.Context) (wire.Message, bool, error)
	// Notify registers a reachability-change callback. Callbacks fire on
	// every transition, from the link's own goroutine.
	Notify(fn func(reachable bool))
}

// Transport wraps a Link with activation state, a bounded request timeout,
// and observer fan-out for inbound messages and reachability changes.
type Transport struct {
	link    Link
	log     *slog.Logger
	timeout time.Duration

	mu             sync.Mutex
	activated      bool
	observers      []func(wire.Message)
	reachObservers []func(bool)
}

// New creates a Transport over the given link. A zero timeout disables the
// bound (not recommended; a peer that accepts delivery but never replies
// would suspend the caller indefinitely).
func New(link Link, timeout time.Duration, log *slog.Logger) *Transport {
	t := &Transport{link: link, log: log, timeout: timeout}
	link.Notify(t.onReachability)
	return t
}

// Activate begins peer discovery. Calling it again is a no-op.
func (t *Transport) Activate() {
	t.mu.Lock()
	if t.activated {
		t.mu.Unlock()
		return
	}
	t.activated = true
	t.mu.Unlock()
	t.link.Start()
}

// IsActivated reports whether Activate has been called.
func (t *Transport) IsActivated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activated
}

// IsReachable reports whether the peer is currently reachable.
func (t *Transport) IsReachable() bool {
	return t.link.Reachable()
}

// Subscribe registers an observer for every inbound message: request
// replies and unsolicited context pushes alike.
func (t *Transport) Subscribe(fn func(wire.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// SubscribeReachability registers an observer for reachability transitions.
func (t *Transport) SubscribeReachability(fn func(bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reachObservers = append(t.reachObservers, fn)
}

// Request delivers a request and suspends the caller until exactly one
// reply arrives, the peer reports a delivery failure, or the timeout
// elapses. Reachability is checked before any delivery is attempted; an
// unreachable peer fails immediately with ErrUnreachable and causes no
// observable side effect on the authority.
func (t *Transport) Request(ctx context.Context, msg wire.Message) (wire.Message, error) {
	if !t.IsActivated() {
		return wire.Message{}, ErrNotActivated
	}
	if !msg.Kind.IsRequest() {
		return wire.Message{}, fmt.Errorf("%s is not a request kind", msg.Kind)
	}
	if !t.link.Reachable() {
		return wire.Message{}, ErrUnreachable
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	reply, err := t.link.Exchange(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wire.Message{}, ErrTimedOut
		}
		return wire.Message{}, &PeerError{Err: err}
	}

	t.dispatch(reply)
	return reply, nil
}

// onReachability runs on every link transition. On reconnect it drains the
// peer's pending context slot so the companion learns about state that
// changed while unreachable.
func (t *Transport) onReachability(reachable bool) {
	t.log.Info("reachability changed", "reachable", reachable)

	for _, fn := range t.snapshotReachObservers() {
		fn(reachable)
	}

	if reachable {
		t.drainContext()
	}
}

func (t *Transport) drainContext() {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	for {
		msg, ok, err := t.link.TakeContext(ctx)
		if err != nil {
			// Context pushes are best-effort: log and move on.
			t.log.Warn("draining pending context", "error", err)
			return
		}
		if !ok {
			return
		}
		t.log.Info("applying pushed context", "kind", msg.Kind)
		t.dispatch(msg)
	}
}

func (t *Transport) dispatch(msg wire.Message) {
	for _, fn := range t.snapshotObservers() {
		fn(msg)
	}
}

// Observer slices are copied under the lock and invoked outside it so an
// observer may issue a follow-up Request without deadlocking.
func (t *Transport) snapshotObservers() []func(wire.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.observers)
}

func (t *Transport) snapshotReachObservers() []func(bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.reachObservers)
}
