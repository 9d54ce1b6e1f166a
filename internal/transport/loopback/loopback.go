// Package loopback is an in-memory transport link that invokes an
// authority handler directly. It backs tests and the companion's offline
// rehearsal wiring, with reachability controlled by the caller.
package loopback

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/claude/liftsync/internal/wire"
)

// Handler processes one request and returns the reply envelope.
type Handler func(ctx context.Context, msg wire.Message) wire.Message

// Link connects a transport directly to an authority handler.
type Link struct {
	handler Handler

	mu        sync.Mutex
	reachable bool
	pending   *wire.Message
	handled   int
	notify    []func(bool)
}

// New creates a loopback link. It starts unreachable.
func New(handler Handler) *Link {
	return &Link{handler: handler}
}

// Start implements transport.Link. Discovery is immediate for a loopback.
func (l *Link) Start() {}

// Reachable implements transport.Link.
func (l *Link) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable
}

// SetReachable flips the reachability flag and fires notifications on a
// transition.
func (l *Link) SetReachable(reachable bool) {
	l.mu.Lock()
	changed := l.reachable != reachable
	l.reachable = reachable
	fns := slices.Clone(l.notify)
	l.mu.Unlock()

	if changed {
		for _, fn := range fns {
			fn(reachable)
		}
	}
}

// Exchange implements transport.Link by calling the handler inline.
func (l *Link) Exchange(ctx context.Context, msg wire.Message) (wire.Message, error) {
	l.mu.Lock()
	reachable := l.reachable
	l.mu.Unlock()
	if !reachable {
		return wire.Message{}, errors.New("loopback peer not reachable")
	}
	if err := ctx.Err(); err != nil {
		return wire.Message{}, err
	}

	l.mu.Lock()
	l.handled++
	l.mu.Unlock()

	done := make(chan wire.Message, 1)
	go func() { done <- l.handler(ctx, msg) }()
	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

// PushContext stores msg as the pending context, superseding any previous
// one. It implements authority.ContextSink.
func (l *Link) PushContext(msg wire.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = &msg
}

// TakeContext implements transport.Link: it consumes the pending context.
func (l *Link) TakeContext(_ context.Context) (wire.Message, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return wire.Message{}, false, nil
	}
	msg := *l.pending
	l.pending = nil
	return msg, true, nil
}

// Notify implements transport.Link.
func (l *Link) Notify(fn func(bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notify = append(l.notify, fn)
}

// Handled reports how many exchanges reached the handler. Tests use it to
// assert that unreachable requests cause no side effect.
func (l *Link) Handled() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handled
}
