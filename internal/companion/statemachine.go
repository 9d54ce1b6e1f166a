// Package companion holds the wrist-device projection of workout state and
// drives all screen transitions from it. The projection is only ever
// replaced from full authority snapshots (or explicit rehearsal data);
// nothing renders directly from the wire.
package companion

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/claude/liftsync/internal/transport"
	"github.com/claude/liftsync/internal/wire"
)

// TodayState is the projection of today's plan.
type TodayState interface{ isTodayState() }

// TodayLoading is the initial state and the state during a fetch.
type TodayLoading struct{}

// TodayRestDay means no plan is scheduled today.
type TodayRestDay struct{ Message string }

// TodayPlanned carries today's plan snapshot.
type TodayPlanned struct{ Snapshot wire.TodaySnapshot }

// TodayLoadError means the last fetch failed.
type TodayLoadError struct{ Reason string }

func (TodayLoading) isTodayState()   {}
func (TodayRestDay) isTodayState()   {}
func (TodayPlanned) isTodayState()   {}
func (TodayLoadError) isTodayState() {}

// WorkoutState is the projection of the session.
type WorkoutState interface{ isWorkoutState() }

// WorkoutIdle means no session is active or loading.
type WorkoutIdle struct{}

// WorkoutLoading means a session fetch or start is in flight.
type WorkoutLoading struct{}

// WorkoutActive carries the session snapshot. Rehearsal marks local-only
// simulated state that is never authoritative.
type WorkoutActive struct {
	Snapshot  wire.SessionSnapshot
	Rehearsal bool
}

// WorkoutCompleted carries the completion summary.
type WorkoutCompleted struct {
	Summary   wire.CompletionSummary
	Rehearsal bool
}

// WorkoutLoadError means the last session request failed.
type WorkoutLoadError struct{ Reason string }

func (WorkoutIdle) isWorkoutState()      {}
func (WorkoutLoading) isWorkoutState()   {}
func (WorkoutActive) isWorkoutState()    {}
func (WorkoutCompleted) isWorkoutState() {}
func (WorkoutLoadError) isWorkoutState() {}

// Screen identifies what the UI should show.
type Screen string

const (
	ScreenLoading       Screen = "loading"
	ScreenToday         Screen = "today"
	ScreenRestDay       Screen = "rest-day"
	ScreenActiveWorkout Screen = "active-workout"
	ScreenSummary       Screen = "summary"
	ScreenError         Screen = "error"
)

// ScreenFor derives the visible screen purely from the two state variables
// and the navigation stack. The state machine never infers a screen from
// anything else.
func ScreenFor(today TodayState, _ WorkoutState, nav []Screen) Screen {
	if len(nav) > 0 {
		return nav[len(nav)-1]
	}
	switch today.(type) {
	case TodayRestDay:
		return ScreenRestDay
	case TodayPlanned:
		return ScreenToday
	case TodayLoadError:
		return ScreenError
	default:
		return ScreenLoading
	}
}

// InputBuffer is the pending weight/reps entry for the current exercise.
type InputBuffer struct {
	Weight float64
	Reps   int
	Warmup bool
}

// StateMachine holds the companion's projection and fans out state changes
// to registered observers.
type StateMachine struct {
	tr  *transport.Transport
	log *slog.Logger

	mu        sync.Mutex
	activated bool
	today     TodayState
	workout   WorkoutState
	nav       []Screen
	input     InputBuffer

	onToday   []func(TodayState)
	onWorkout []func(WorkoutState)
	onScreen  []func(Screen)
	onPR      []func(wire.PRDescriptor)
	onError   []func(string)
}

// NewStateMachine creates a StateMachine over the given transport.
func NewStateMachine(tr *transport.Transport, log *slog.Logger) *StateMachine {
	return &StateMachine{
		tr:      tr,
		log:     log,
		today:   TodayLoading{},
		workout: WorkoutIdle{},
	}
}

// Observer registration. Multiple consumers may subscribe; callbacks run in
// registration order after the state change is committed.

func (m *StateMachine) OnToday(fn func(TodayState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onToday = append(m.onToday, fn)
}

func (m *StateMachine) OnWorkout(fn func(WorkoutState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWorkout = append(m.onWorkout, fn)
}

func (m *StateMachine) OnScreen(fn func(Screen)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onScreen = append(m.onScreen, fn)
}

func (m *StateMachine) OnPR(fn func(wire.PRDescriptor)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPR = append(m.onPR, fn)
}

func (m *StateMachine) OnError(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = append(m.onError, fn)
}

// Activate wires the machine to the transport and begins the initial
// fetch-today. Whenever reachability is restored, today is refreshed
// automatically; if the result names an in-progress session, session state
// is fetched in a chained request so resuming needs no extra tap.
func (m *StateMachine) Activate(ctx context.Context) {
	m.mu.Lock()
	if m.activated {
		m.mu.Unlock()
		return
	}
	m.activated = true
	m.mu.Unlock()

	m.tr.Subscribe(m.ingest)
	m.tr.SubscribeReachability(func(reachable bool) {
		if reachable {
			m.RefreshToday(ctx)
		}
	})
	m.tr.Activate()

	if m.tr.IsReachable() {
		m.RefreshToday(ctx)
	}
}

// RefreshToday issues a fetch-today request. The reply lands through the
// transport's subscriber path.
func (m *StateMachine) RefreshToday(ctx context.Context) {
	m.mu.Lock()
	m.today = TodayLoading{}
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()

	if _, err := m.tr.Request(ctx, wire.Message{Kind: wire.KindFetchToday}); err != nil {
		reason := userErrorText(err)
		m.mu.Lock()
		m.today = TodayLoadError{Reason: reason}
		fire = m.notifyLocked()
		errFns := m.errorObserversLocked()
		m.mu.Unlock()
		fire()
		for _, fn := range errFns {
			fn(reason)
		}
	}
}

// Today returns the today projection.
func (m *StateMachine) Today() TodayState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.today
}

// Workout returns the workout projection.
func (m *StateMachine) Workout() WorkoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workout
}

// CurrentScreen returns the screen derived from the current projection.
func (m *StateMachine) CurrentScreen() Screen {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ScreenFor(m.today, m.workout, m.nav)
}

// Input returns the current input buffer.
func (m *StateMachine) Input() InputBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// Back pops the top navigation frame, if any.
func (m *StateMachine) Back() {
	m.mu.Lock()
	if len(m.nav) > 0 {
		m.nav = m.nav[:len(m.nav)-1]
	}
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()
}

// ingest is the single ingestion point for every inbound message, whether
// it arrived as a request reply or as an unsolicited context push.
func (m *StateMachine) ingest(msg wire.Message) {
	m.mu.Lock()
	followup, fire := m.applyLocked(msg)
	m.mu.Unlock()
	fire()
	if followup != nil {
		followup()
	}
}

// applyLocked processes one message under the lock and returns a chained
// request to run after release (so follow-up replies can re-enter ingest)
// plus the observer notifications to fire.
func (m *StateMachine) applyLocked(msg wire.Message) (followup func(), fire func()) {
	fire = func() {}

	switch msg.Kind {
	case wire.KindTodaySnapshot, wire.KindRestDayNotice:
		snap, rest, err := wire.DecodeTodayReply(msg)
		if err != nil {
			return nil, m.decodeFailureLocked(msg, err)
		}
		if rest != nil {
			m.today = TodayRestDay{Message: rest.Message}
			return nil, m.notifyLocked()
		}
		m.today = TodayPlanned{Snapshot: *snap}
		if snap.InProgressSessionID != nil {
			if _, active := m.workout.(WorkoutActive); !active {
				m.workout = WorkoutLoading{}
				return m.fetchSessionState, m.notifyLocked()
			}
		}
		return nil, m.notifyLocked()

	case wire.KindSessionSnapshot:
		snap, err := wire.DecodePayload[wire.SessionSnapshot](msg)
		if err != nil {
			return nil, m.decodeFailureLocked(msg, err)
		}
		if err := snap.Validate(); err != nil {
			return nil, m.decodeFailureLocked(msg, err)
		}
		m.applySnapshotLocked(snap, false)
		return nil, m.notifyLocked()

	case wire.KindLogConfirmation:
		conf, err := wire.DecodePayload[wire.LogConfirmation](msg)
		if err != nil {
			return nil, m.decodeFailureLocked(msg, err)
		}
		if !conf.Success {
			return nil, m.emitErrorLocked(conf.Reason)
		}
		var prFns []func(wire.PRDescriptor)
		if conf.PR != nil {
			prFns = slices.Clone(m.onPR)
		}
		if conf.Session != nil {
			m.applySnapshotLocked(*conf.Session, true)
		}
		notify := m.notifyLocked()
		pr := conf.PR
		return nil, func() {
			notify()
			for _, fn := range prFns {
				fn(*pr)
			}
		}

	case wire.KindCompletionSummary:
		summary, err := wire.DecodePayload[wire.CompletionSummary](msg)
		if err != nil {
			return nil, m.decodeFailureLocked(msg, err)
		}
		m.workout = WorkoutCompleted{Summary: summary}
		// The summary screen is entered unconditionally.
		m.nav = append(m.nav, ScreenSummary)
		return nil, m.notifyLocked()

	case wire.KindError:
		reply, err := wire.DecodePayload[wire.ErrorReply](msg)
		if err != nil {
			return nil, m.decodeFailureLocked(msg, err)
		}
		// Domain errors are already descriptive; surface verbatim.
		return nil, m.emitErrorLocked(reply.Message)

	default:
		m.log.Warn("ignoring message", "kind", msg.Kind)
		return nil, fire
	}
}

// applySnapshotLocked replaces the workout projection with an authoritative
// snapshot. Entering the active-workout screen happens only on the
// not-Active → Active edge so repeated snapshots never stack duplicate
// frames. Authoritative data always displaces rehearsal state.
func (m *StateMachine) applySnapshotLocked(snap wire.SessionSnapshot, logged bool) {
	prev, wasActive := m.workout.(WorkoutActive)
	if wasActive && prev.Rehearsal {
		wasActive = false
		m.nav = popScreen(m.nav, ScreenActiveWorkout)
	}

	m.workout = WorkoutActive{Snapshot: snap}

	if !wasActive {
		if len(m.nav) == 0 || m.nav[len(m.nav)-1] != ScreenActiveWorkout {
			m.nav = append(m.nav, ScreenActiveWorkout)
		}
		m.resetInputLocked(snap)
		return
	}
	if prev.Snapshot.CurrentExerciseIndex != snap.CurrentExerciseIndex || logged {
		m.resetInputLocked(snap)
	}
}

// resetInputLocked seeds the input buffer from the current exercise's
// suggestion.
func (m *StateMachine) resetInputLocked(snap wire.SessionSnapshot) {
	if ex := snap.CurrentExercise(); ex != nil {
		m.input = InputBuffer{Weight: ex.SuggestedWeight, Reps: ex.SuggestedReps}
	}
}

func (m *StateMachine) fetchSessionState() {
	if _, err := m.tr.Request(context.Background(), wire.Message{Kind: wire.KindFetchSessionState}); err != nil {
		reason := userErrorText(err)
		m.mu.Lock()
		m.workout = WorkoutLoadError{Reason: reason}
		fire := m.notifyLocked()
		errFns := m.errorObserversLocked()
		m.mu.Unlock()
		fire()
		for _, fn := range errFns {
			fn(reason)
		}
	}
}

// decodeFailureLocked handles an undecodable payload: logged, and surfaced
// as a generic message through the error observers.
func (m *StateMachine) decodeFailureLocked(msg wire.Message, err error) func() {
	m.log.Warn("undecodable payload", "kind", msg.Kind, "error", err)
	return m.emitErrorLocked("Couldn't understand the phone's response")
}

func (m *StateMachine) emitErrorLocked(text string) func() {
	fns := m.errorObserversLocked()
	return func() {
		for _, fn := range fns {
			fn(text)
		}
	}
}

func (m *StateMachine) errorObserversLocked() []func(string) {
	return slices.Clone(m.onError)
}

// notifyLocked snapshots the current states and returns a closure that
// fires the observers outside the lock.
func (m *StateMachine) notifyLocked() func() {
	today := m.today
	workout := m.workout
	screen := ScreenFor(m.today, m.workout, m.nav)
	todayFns := slices.Clone(m.onToday)
	workoutFns := slices.Clone(m.onWorkout)
	screenFns := slices.Clone(m.onScreen)
	return func() {
		for _, fn := range todayFns {
			fn(today)
		}
		for _, fn := range workoutFns {
			fn(workout)
		}
		for _, fn := range screenFns {
			fn(screen)
		}
	}
}

func popScreen(nav []Screen, screen Screen) []Screen {
	if len(nav) > 0 && nav[len(nav)-1] == screen {
		return nav[:len(nav)-1]
	}
	return nav
}

// userErrorText maps a transport failure to the text shown on the error
// screen.
func userErrorText(err error) string {
	switch {
	case errors.Is(err, transport.ErrUnreachable):
		return "Phone not reachable"
	case errors.Is(err, transport.ErrTimedOut):
		return "Phone took too long to respond"
	default:
		var pe *transport.PeerError
		if errors.As(err, &pe) {
			return "Couldn't deliver to phone"
		}
		return err.Error()
	}
}
