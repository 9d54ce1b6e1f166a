package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/liftsync/internal/transport/loopback"
	"github.com/claude/liftsync/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoHandler(_ context.Context, msg wire.Message) wire.Message {
	return wire.MustMessage(wire.KindRestDayNotice, wire.RestDayNotice{Message: "Rest Day"})
}

// TestRequestUnreachable verifies a request against an unreachable peer
// fails synchronously with ErrUnreachable and never reaches the handler.
func TestRequestUnreachable(t *testing.T) {
	link := loopback.New(echoHandler)
	tr := New(link, time.Second, testLogger())
	tr.Activate()

	_, err := tr.Request(context.Background(), wire.Message{Kind: wire.KindFetchToday})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if n := link.Handled(); n != 0 {
		t.Errorf("handler invoked %d times, want 0", n)
	}
}

// TestRequestBeforeActivate verifies requests are rejected until Activate.
func TestRequestBeforeActivate(t *testing.T) {
	link := loopback.New(echoHandler)
	link.SetReachable(true)
	tr := New(link, time.Second, testLogger())

	_, err := tr.Request(context.Background(), wire.Message{Kind: wire.KindFetchToday})
	if !errors.Is(err, ErrNotActivated) {
		t.Fatalf("err = %v, want ErrNotActivated", err)
	}
}

// TestRequestResolvesOneReply verifies the reply resolves the call and is
// also routed through the subscriber path.
func TestRequestResolvesOneReply(t *testing.T) {
	link := loopback.New(echoHandler)
	link.SetReachable(true)
	tr := New(link, time.Second, testLogger())
	tr.Activate()

	var mu sync.Mutex
	var seen []wire.Kind
	tr.Subscribe(func(msg wire.Message) {
		mu.Lock()
		seen = append(seen, msg.Kind)
		mu.Unlock()
	})

	reply, err := tr.Request(context.Background(), wire.Message{Kind: wire.KindFetchToday})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Kind != wire.KindRestDayNotice {
		t.Errorf("reply kind = %q, want rest-day-notice", reply.Kind)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != wire.KindRestDayNotice {
		t.Errorf("subscriber saw %v, want one rest-day-notice", seen)
	}
}

// TestRequestRejectsResponseKind verifies only request kinds can be sent.
func TestRequestRejectsResponseKind(t *testing.T) {
	link := loopback.New(echoHandler)
	link.SetReachable(true)
	tr := New(link, time.Second, testLogger())
	tr.Activate()

	if _, err := tr.Request(context.Background(), wire.Message{Kind: wire.KindSessionSnapshot}); err == nil {
		t.Fatal("response kind accepted as a request")
	}
}

// TestRequestTimesOut verifies the bounded-timeout behavior: a peer that
// accepts delivery but never replies resolves as ErrTimedOut.
func TestRequestTimesOut(t *testing.T) {
	stall := func(ctx context.Context, _ wire.Message) wire.Message {
		<-ctx.Done()
		return wire.Message{}
	}
	link := loopback.New(stall)
	link.SetReachable(true)
	tr := New(link, 20*time.Millisecond, testLogger())
	tr.Activate()

	start := time.Now()
	_, err := tr.Request(context.Background(), wire.Message{Kind: wire.KindFetchToday})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("request blocked %v, want bounded", time.Since(start))
	}
}

// TestPeerErrorWrapped verifies a delivery failure surfaces as *PeerError.
func TestPeerErrorWrapped(t *testing.T) {
	link := loopback.New(echoHandler)
	tr := New(link, time.Second, testLogger())
	tr.Activate()
	link.SetReachable(true)

	// A canceled context models the link reporting a delivery failure.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Request(ctx, wire.Message{Kind: wire.KindFetchToday})
	var pe *PeerError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PeerError", err)
	}
}

// TestReconnectDrainsPendingContext verifies a context pushed while
// unreachable is delivered through the subscriber path on the next
// reachability-restored transition, and is consumed by that delivery.
func TestReconnectDrainsPendingContext(t *testing.T) {
	link := loopback.New(echoHandler)
	tr := New(link, time.Second, testLogger())
	tr.Activate()

	var mu sync.Mutex
	var seen []wire.Kind
	tr.Subscribe(func(msg wire.Message) {
		mu.Lock()
		seen = append(seen, msg.Kind)
		mu.Unlock()
	})

	link.PushContext(wire.MustMessage(wire.KindCompletionSummary, wire.CompletionSummary{TotalSets: 3}))
	link.SetReachable(true)

	mu.Lock()
	got := append([]wire.Kind(nil), seen...)
	mu.Unlock()
	if len(got) != 1 || got[0] != wire.KindCompletionSummary {
		t.Fatalf("subscriber saw %v, want one completion-summary", got)
	}

	// The slot was consumed: a second transition delivers nothing new.
	link.SetReachable(false)
	link.SetReachable(true)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Errorf("subscriber saw %d messages after re-transition, want 1", len(seen))
	}
}

// TestNewerPushSupersedes verifies only the latest pending context is
// delivered.
func TestNewerPushSupersedes(t *testing.T) {
	link := loopback.New(echoHandler)
	tr := New(link, time.Second, testLogger())
	tr.Activate()

	var mu sync.Mutex
	var seen []wire.Message
	tr.Subscribe(func(msg wire.Message) {
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
	})

	link.PushContext(wire.MustMessage(wire.KindSessionSnapshot, wire.SessionSnapshot{TotalSets: 1}))
	link.PushContext(wire.MustMessage(wire.KindSessionSnapshot, wire.SessionSnapshot{TotalSets: 2}))
	link.SetReachable(true)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("subscriber saw %d messages, want 1", len(seen))
	}
	snap, err := wire.DecodePayload[wire.SessionSnapshot](seen[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalSets != 2 {
		t.Errorf("delivered snapshot has %d sets, want the superseding push (2)", snap.TotalSets)
	}
}
