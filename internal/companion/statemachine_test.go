package companion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/liftsync/internal/transport"
	"github.com/claude/liftsync/internal/transport/loopback"
	"github.com/claude/liftsync/internal/wire"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedAuthority is a minimal authority double driving the scenarios.
type scriptedAuthority struct {
	mu      sync.Mutex
	restDay bool
	plan    wire.TodaySnapshot
	session *wire.SessionSnapshot
}

func newScriptedAuthority() *scriptedAuthority {
	return &scriptedAuthority{
		plan: wire.TodaySnapshot{
			PlanID:           uuid.New(),
			Name:             "Push Day",
			MuscleGroups:     []string{"Chest", "Shoulders"},
			ExerciseCount:    2,
			EstimatedMinutes: 45,
		},
	}
}

func (s *scriptedAuthority) handle(_ context.Context, msg wire.Message) wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Kind {
	case wire.KindFetchToday:
		if s.restDay {
			return wire.MustMessage(wire.KindRestDayNotice, wire.RestDayNotice{Message: "Rest Day"})
		}
		today := s.plan
		if s.session != nil {
			id := s.session.SessionID
			today.InProgressSessionID = &id
		}
		return wire.MustMessage(wire.KindTodaySnapshot, today)

	case wire.KindStartSession:
		if s.session == nil {
			s.session = &wire.SessionSnapshot{
				SessionID: uuid.New(),
				PlanID:    s.plan.PlanID,
				Name:      s.plan.Name,
				StartedAt: time.Now(),
				Exercises: []wire.ExerciseState{
					{LogID: uuid.New(), Name: "Bench Press", SuggestedWeight: 80, SuggestedReps: 8},
					{LogID: uuid.New(), Name: "Overhead Press", SuggestedWeight: 45, SuggestedReps: 10},
				},
			}
		}
		return wire.MustMessage(wire.KindSessionSnapshot, *s.session)

	case wire.KindFetchSessionState:
		if s.session == nil {
			return wire.ErrorMessage(wire.CodeNoActiveSession, "no workout in progress")
		}
		return wire.MustMessage(wire.KindSessionSnapshot, *s.session)

	case wire.KindLogSet:
		req, _ := wire.DecodePayload[wire.LogSetRequest](msg)
		ex := s.session.FindExercise(req.ExerciseLogID)
		if ex == nil {
			return wire.MustMessage(wire.KindLogConfirmation, wire.LogConfirmation{
				Success: false, Reason: "exercise not found in this session",
			})
		}
		ex.Sets = append(ex.Sets, wire.LoggedSet{
			ID: uuid.New(), SetNumber: len(ex.Sets) + 1,
			Weight: req.Weight, Reps: req.Reps, Warmup: req.Warmup,
		})
		s.session.TotalSets++
		if !req.Warmup {
			s.session.TotalVolume += req.Weight * float64(req.Reps)
		}
		return wire.MustMessage(wire.KindLogConfirmation, wire.LogConfirmation{
			Success: true, Session: s.session,
		})

	case wire.KindAdvanceExercise, wire.KindRetreatExercise:
		delta := 1
		if msg.Kind == wire.KindRetreatExercise {
			delta = -1
		}
		idx := s.session.CurrentExerciseIndex + delta
		if idx < 0 {
			idx = 0
		}
		if idx > len(s.session.Exercises)-1 {
			idx = len(s.session.Exercises) - 1
		}
		s.session.CurrentExerciseIndex = idx
		return wire.MustMessage(wire.KindSessionSnapshot, *s.session)

	case wire.KindCompleteSession:
		summary := wire.CompletionSummary{
			SessionID:   s.session.SessionID,
			TotalVolume: s.session.TotalVolume,
			TotalSets:   s.session.TotalSets,
		}
		s.session = nil
		return wire.MustMessage(wire.KindCompletionSummary, summary)
	}
	return wire.ErrorMessage(wire.CodeInvalidInput, "unsupported")
}

// harness wires a state machine to a scripted authority over a loopback
// link, reachable from the start.
func harness(t *testing.T) (*StateMachine, *InputController, *scriptedAuthority, *loopback.Link) {
	t.Helper()
	auth := newScriptedAuthority()
	link := loopback.New(auth.handle)
	link.SetReachable(true)
	tr := transport.New(link, time.Second, testLogger())
	sm := NewStateMachine(tr, testLogger())
	ic := NewInputController(sm, testLogger())
	return sm, ic, auth, link
}

// TestRestDayScenario: fetch-today against an authority with no plan leaves
// today in RestDay and workout Idle.
func TestRestDayScenario(t *testing.T) {
	sm, _, auth, _ := harness(t)
	auth.restDay = true

	sm.Activate(context.Background())

	rest, ok := sm.Today().(TodayRestDay)
	if !ok {
		t.Fatalf("today = %T, want TodayRestDay", sm.Today())
	}
	if rest.Message != "Rest Day" {
		t.Errorf("message = %q, want %q", rest.Message, "Rest Day")
	}
	if _, idle := sm.Workout().(WorkoutIdle); !idle {
		t.Errorf("workout = %T, want WorkoutIdle", sm.Workout())
	}
	if got := sm.CurrentScreen(); got != ScreenRestDay {
		t.Errorf("screen = %q, want %q", got, ScreenRestDay)
	}
}

// TestStartWorkoutNavigatesOnce: starting a session enters the active
// workout screen exactly once, and repeated snapshots replace in place
// without stacking frames.
func TestStartWorkoutNavigatesOnce(t *testing.T) {
	sm, ic, _, _ := harness(t)
	sm.Activate(context.Background())

	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("start workout: %v", err)
	}

	active, ok := sm.Workout().(WorkoutActive)
	if !ok {
		t.Fatalf("workout = %T, want WorkoutActive", sm.Workout())
	}
	if active.Snapshot.CurrentExerciseIndex != 0 {
		t.Errorf("index = %d, want 0", active.Snapshot.CurrentExerciseIndex)
	}
	if got := sm.CurrentScreen(); got != ScreenActiveWorkout {
		t.Errorf("screen = %q, want %q", got, ScreenActiveWorkout)
	}

	frames := func() int {
		n := 0
		sm.mu.Lock()
		defer sm.mu.Unlock()
		for _, s := range sm.nav {
			if s == ScreenActiveWorkout {
				n++
			}
		}
		return n
	}
	if n := frames(); n != 1 {
		t.Fatalf("active-workout frames = %d, want 1", n)
	}

	// A second snapshot (idempotent start retry) must not re-navigate.
	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if n := frames(); n != 1 {
		t.Errorf("active-workout frames after retry = %d, want 1", n)
	}
}

// TestResumeChainsSessionFetch: when the today snapshot names an
// in-progress session, session state is fetched without user action.
func TestResumeChainsSessionFetch(t *testing.T) {
	sm, _, auth, _ := harness(t)

	// Session already active on the authority before the companion wakes.
	auth.handle(context.Background(),
		wire.MustMessage(wire.KindStartSession, wire.StartSessionRequest{PlanID: auth.plan.PlanID}))

	sm.Activate(context.Background())

	active, ok := sm.Workout().(WorkoutActive)
	if !ok {
		t.Fatalf("workout = %T, want WorkoutActive after chained fetch", sm.Workout())
	}
	if active.Snapshot.SessionID != auth.session.SessionID {
		t.Errorf("session = %s, want %s", active.Snapshot.SessionID, auth.session.SessionID)
	}
	if got := sm.CurrentScreen(); got != ScreenActiveWorkout {
		t.Errorf("screen = %q, want %q", got, ScreenActiveWorkout)
	}
}

// TestInputBufferFollowsExercise: the buffer seeds from the current
// exercise's suggestion and resets on index changes and successful logs.
func TestInputBufferFollowsExercise(t *testing.T) {
	sm, ic, _, _ := harness(t)
	sm.Activate(context.Background())
	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("start workout: %v", err)
	}

	if in := sm.Input(); in.Weight != 80 || in.Reps != 8 {
		t.Fatalf("input = %+v, want 80 x 8 (bench suggestion)", in)
	}

	ic.AdjustWeight(WeightStep)
	ic.AdjustReps(-2)
	if in := sm.Input(); in.Weight != 82.5 || in.Reps != 6 {
		t.Fatalf("input after adjust = %+v, want 82.5 x 6", in)
	}

	// A successful log against the current exercise resets to suggestion.
	if err := ic.LogSet(context.Background()); err != nil {
		t.Fatalf("log set: %v", err)
	}
	if in := sm.Input(); in.Weight != 80 || in.Reps != 8 {
		t.Errorf("input after log = %+v, want reset to 80 x 8", in)
	}

	// Moving to the next exercise reseeds from its suggestion.
	if err := ic.AdvanceExercise(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if in := sm.Input(); in.Weight != 45 || in.Reps != 10 {
		t.Errorf("input after advance = %+v, want 45 x 10 (press suggestion)", in)
	}
}

// TestInputBounds: gesture adjustments clamp to the local bounds.
func TestInputBounds(t *testing.T) {
	sm, ic, _, _ := harness(t)

	ic.AdjustReps(-100)
	if in := sm.Input(); in.Reps != MinReps {
		t.Errorf("reps = %d, want clamp at %d", in.Reps, MinReps)
	}
	ic.AdjustWeight(-500)
	if in := sm.Input(); in.Weight != 0 {
		t.Errorf("weight = %.1f, want clamp at 0", in.Weight)
	}
}

// TestCompletionEntersSummary: a completion summary always pushes the
// summary frame and moves workout to Completed.
func TestCompletionEntersSummary(t *testing.T) {
	sm, ic, _, _ := harness(t)
	sm.Activate(context.Background())
	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("start workout: %v", err)
	}
	if err := ic.LogSet(context.Background()); err != nil {
		t.Fatalf("log set: %v", err)
	}
	if err := ic.CompleteWorkout(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	done, ok := sm.Workout().(WorkoutCompleted)
	if !ok {
		t.Fatalf("workout = %T, want WorkoutCompleted", sm.Workout())
	}
	if done.Summary.TotalSets != 1 {
		t.Errorf("summary sets = %d, want 1", done.Summary.TotalSets)
	}
	if got := sm.CurrentScreen(); got != ScreenSummary {
		t.Errorf("screen = %q, want %q", got, ScreenSummary)
	}
}

// TestLogFailureSurfacesReason: a failed confirmation reaches the error
// observers verbatim and leaves the projection untouched.
func TestLogFailureSurfacesReason(t *testing.T) {
	sm, ic, auth, _ := harness(t)
	sm.Activate(context.Background())
	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("start workout: %v", err)
	}

	var mu sync.Mutex
	var errs []string
	sm.OnError(func(s string) {
		mu.Lock()
		errs = append(errs, s)
		mu.Unlock()
	})

	// Invalidate the exercise ids on the authority side so the log misses.
	auth.mu.Lock()
	auth.session.Exercises[0].LogID = uuid.New()
	auth.session.Exercises[1].LogID = uuid.New()
	auth.mu.Unlock()

	if err := ic.LogSet(context.Background()); err != nil {
		t.Fatalf("log set transport error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || errs[0] != "exercise not found in this session" {
		t.Errorf("errors = %v, want the authority's reason verbatim", errs)
	}
}

// TestUnreachableLogSet: gestures against an unreachable phone fail with
// ErrUnreachable and surface a user-facing error.
func TestUnreachableLogSet(t *testing.T) {
	sm, ic, _, link := harness(t)
	sm.Activate(context.Background())
	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("start workout: %v", err)
	}

	var mu sync.Mutex
	var errs []string
	sm.OnError(func(s string) {
		mu.Lock()
		errs = append(errs, s)
		mu.Unlock()
	})

	link.SetReachable(false)
	err := ic.LogSet(context.Background())
	if !errors.Is(err, transport.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Errorf("error callbacks = %d, want 1", len(errs))
	}
}

// TestRehearsalIsLocalOnly: rehearsal sets never reach the authority, are
// tagged non-authoritative, and authoritative snapshots displace them.
func TestRehearsalIsLocalOnly(t *testing.T) {
	sm, ic, _, link := harness(t)
	sm.Activate(context.Background())

	link.SetReachable(false)
	sm.StartRehearsal()

	if !sm.InRehearsal() {
		t.Fatal("not in rehearsal after StartRehearsal")
	}
	exchangesBefore := link.Handled()

	if err := ic.LogSet(context.Background()); err != nil {
		t.Fatalf("rehearsal log: %v", err)
	}
	if link.Handled() != exchangesBefore {
		t.Error("rehearsal log reached the authority")
	}

	active := sm.Workout().(WorkoutActive)
	if !active.Rehearsal {
		t.Error("rehearsal snapshot not tagged")
	}
	if active.Snapshot.TotalSets != 1 {
		t.Errorf("rehearsal sets = %d, want 1", active.Snapshot.TotalSets)
	}

	// Reconnect and start a real session: authoritative state wins.
	link.SetReachable(true)
	if err := ic.StartWorkout(context.Background()); err != nil {
		t.Fatalf("start real workout: %v", err)
	}
	active = sm.Workout().(WorkoutActive)
	if active.Rehearsal {
		t.Error("authoritative snapshot still tagged rehearsal")
	}
	if active.Snapshot.TotalSets != 0 {
		t.Errorf("real session inherited %d rehearsal sets", active.Snapshot.TotalSets)
	}
}

// TestReconnectRefreshesToday: restoring reachability triggers an automatic
// fetch-today.
func TestReconnectRefreshesToday(t *testing.T) {
	auth := newScriptedAuthority()
	link := loopback.New(auth.handle)
	tr := transport.New(link, time.Second, testLogger())
	sm := NewStateMachine(tr, testLogger())

	// Unreachable at activation: today stays Loading.
	sm.Activate(context.Background())
	if _, loading := sm.Today().(TodayLoading); !loading {
		t.Fatalf("today = %T, want TodayLoading while unreachable", sm.Today())
	}

	link.SetReachable(true)

	planned, ok := sm.Today().(TodayPlanned)
	if !ok {
		t.Fatalf("today = %T, want TodayPlanned after reconnect", sm.Today())
	}
	if planned.Snapshot.Name != "Push Day" {
		t.Errorf("plan = %q, want %q", planned.Snapshot.Name, "Push Day")
	}
}
