package httplink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claude/liftsync/internal/wire"
)

const testAPIKey = "test-key-123"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoHandler replies to fetch-today with a rest-day notice and fails
// loudly on anything else.
func echoHandler(t *testing.T) Handler {
	t.Helper()
	return func(_ context.Context, msg wire.Message) wire.Message {
		if msg.Kind != wire.KindFetchToday {
			t.Errorf("handler got kind %q, want %q", msg.Kind, wire.KindFetchToday)
		}
		return wire.MustMessage(wire.KindRestDayNotice, wire.RestDayNotice{Message: "Rest Day"})
	}
}

func newTestPair(t *testing.T, h Handler) (*Server, *Client, *httptest.Server) {
	t.Helper()
	srv := NewServer(h, testAPIKey, testLogger())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	client := NewClient(ts.URL, testAPIKey, time.Minute, testLogger())
	return srv, client, ts
}

// TestExchangeRoundTrip verifies a request envelope travels to the handler
// and its reply comes back decoded.
func TestExchangeRoundTrip(t *testing.T) {
	_, client, _ := newTestPair(t, echoHandler(t))

	reply, err := client.Exchange(context.Background(), wire.Message{Kind: wire.KindFetchToday})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if reply.Kind != wire.KindRestDayNotice {
		t.Errorf("reply kind = %q, want %q", reply.Kind, wire.KindRestDayNotice)
	}
	rest, err := wire.DecodePayload[wire.RestDayNotice](reply)
	if err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if rest.Message != "Rest Day" {
		t.Errorf("message = %q, want %q", rest.Message, "Rest Day")
	}
}

// TestAPIKeyRequired verifies the message endpoint rejects missing and
// wrong keys without invoking the handler.
func TestAPIKeyRequired(t *testing.T) {
	invoked := 0
	_, _, ts := newTestPair(t, func(_ context.Context, msg wire.Message) wire.Message {
		invoked++
		return wire.MustMessage(wire.KindRestDayNotice, wire.RestDayNotice{Message: "x"})
	})

	body := `{"kind":"fetch-today"}`

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/message", strings.NewReader(body))
			if err != nil {
				t.Fatalf("creating request: %v", err)
			}
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
	if invoked != 0 {
		t.Errorf("handler invoked %d times, want 0", invoked)
	}
}

// TestUnknownKindDropped verifies an envelope with an unrecognized kind is
// dropped with 204, not treated as an application error.
func TestUnknownKindDropped(t *testing.T) {
	invoked := 0
	_, _, ts := newTestPair(t, func(_ context.Context, msg wire.Message) wire.Message {
		invoked++
		return wire.ErrorMessage(wire.CodeInternal, "unexpected")
	})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/message",
		strings.NewReader(`{"kind":"delete-everything","payload":{}}`))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if invoked != 0 {
		t.Errorf("handler invoked %d times, want 0", invoked)
	}
}

// TestNonRequestKindRejected verifies the message endpoint refuses
// response-family kinds.
func TestNonRequestKindRejected(t *testing.T) {
	_, _, ts := newTestPair(t, echoHandler(t))

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/message",
		strings.NewReader(`{"kind":"session-snapshot","payload":{}}`))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing diagnostic")
	}
}

// TestContextSlot verifies pushed context is held until consumed, consumed
// exactly once, and superseded by a newer push.
func TestContextSlot(t *testing.T) {
	srv, client, _ := newTestPair(t, echoHandler(t))

	// Empty slot: nothing to take.
	if _, ok, err := client.TakeContext(context.Background()); err != nil || ok {
		t.Fatalf("TakeContext on empty slot = ok %v, err %v; want false, nil", ok, err)
	}

	srv.PushContext(wire.MustMessage(wire.KindSessionSnapshot, wire.SessionSnapshot{TotalSets: 1}))
	srv.PushContext(wire.MustMessage(wire.KindSessionSnapshot, wire.SessionSnapshot{TotalSets: 2}))

	msg, ok, err := client.TakeContext(context.Background())
	if err != nil {
		t.Fatalf("TakeContext: %v", err)
	}
	if !ok {
		t.Fatal("TakeContext found nothing, want the superseding push")
	}
	snap, err := wire.DecodePayload[wire.SessionSnapshot](msg)
	if err != nil {
		t.Fatalf("decoding context: %v", err)
	}
	if snap.TotalSets != 2 {
		t.Errorf("TotalSets = %d, want 2 (newest push wins)", snap.TotalSets)
	}

	// Consumed: the slot is empty again.
	if _, ok, err := client.TakeContext(context.Background()); err != nil || ok {
		t.Errorf("TakeContext after consume = ok %v, err %v; want false, nil", ok, err)
	}
}

// TestProbeReachability verifies the client's probe flips reachability from
// the ping endpoint and reports the transition.
func TestProbeReachability(t *testing.T) {
	_, client, ts := newTestPair(t, echoHandler(t))

	var transitions []bool
	client.Notify(func(reachable bool) { transitions = append(transitions, reachable) })

	client.probe()
	if !client.Reachable() {
		t.Fatal("not reachable after successful probe")
	}

	ts.Close()
	client.probe()
	if client.Reachable() {
		t.Fatal("still reachable after server shutdown")
	}

	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

// TestExchangePeerFailure verifies a non-200 reply surfaces as an error.
func TestExchangePeerFailure(t *testing.T) {
	_, client, ts := newTestPair(t, echoHandler(t))
	ts.Close()

	_, err := client.Exchange(context.Background(), wire.Message{Kind: wire.KindFetchToday})
	if err == nil {
		t.Fatal("exchange against closed server succeeded, want error")
	}
}
