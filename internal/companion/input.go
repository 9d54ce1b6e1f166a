package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/claude/liftsync/internal/wire"
)

// Input bounds enforced locally before anything is sent.
const (
	MinReps       = 1
	WeightStep    = 2.5
	MaxBufferReps = 50
	MaxBufferLoad = 1000
)

// ErrNoCurrentExercise is returned by gestures that need an active
// exercise.
var ErrNoCurrentExercise = errors.New("no current exercise")

// InputController translates user gestures into requests. It enforces the
// local bounds; the authority revalidates on its side.
type InputController struct {
	sm  *StateMachine
	log *slog.Logger
}

// NewInputController creates an InputController bound to a state machine.
func NewInputController(sm *StateMachine, log *slog.Logger) *InputController {
	return &InputController{sm: sm, log: log}
}

// AdjustWeight moves the pending weight by delta, clamped to [0, MaxBufferLoad].
func (c *InputController) AdjustWeight(delta float64) {
	c.sm.mu.Lock()
	defer c.sm.mu.Unlock()
	w := c.sm.input.Weight + delta
	if w < 0 {
		w = 0
	}
	if w > MaxBufferLoad {
		w = MaxBufferLoad
	}
	c.sm.input.Weight = w
}

// AdjustReps moves the pending reps by delta, clamped to [MinReps, MaxBufferReps].
func (c *InputController) AdjustReps(delta int) {
	c.sm.mu.Lock()
	defer c.sm.mu.Unlock()
	r := c.sm.input.Reps + delta
	if r < MinReps {
		r = MinReps
	}
	if r > MaxBufferReps {
		r = MaxBufferReps
	}
	c.sm.input.Reps = r
}

// ToggleWarmup flips the pending warmup flag.
func (c *InputController) ToggleWarmup() {
	c.sm.mu.Lock()
	defer c.sm.mu.Unlock()
	c.sm.input.Warmup = !c.sm.input.Warmup
}

// StartWorkout asks the authority to start (or resume) a session for
// today's plan.
func (c *InputController) StartWorkout(ctx context.Context) error {
	c.sm.mu.Lock()
	planned, ok := c.sm.today.(TodayPlanned)
	c.sm.mu.Unlock()
	if !ok {
		return errors.New("no plan scheduled today")
	}

	c.sm.setWorkoutLoading()
	msg, err := wire.NewMessage(wire.KindStartSession,
		wire.StartSessionRequest{PlanID: planned.Snapshot.PlanID})
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// LogSet sends the input buffer as a log-set request against the current
// exercise. In rehearsal mode the set is recorded locally instead and is
// never authoritative.
func (c *InputController) LogSet(ctx context.Context) error {
	c.sm.mu.Lock()
	active, ok := c.sm.workout.(WorkoutActive)
	input := c.sm.input
	c.sm.mu.Unlock()
	if !ok {
		return errors.New("no workout in progress")
	}
	ex := active.Snapshot.CurrentExercise()
	if ex == nil {
		return ErrNoCurrentExercise
	}
	if input.Reps < MinReps {
		return fmt.Errorf("at least %d rep required", MinReps)
	}
	if input.Weight < 0 {
		return errors.New("weight must not be negative")
	}

	if active.Rehearsal {
		c.sm.logRehearsalSet(input)
		return nil
	}

	msg, err := wire.NewMessage(wire.KindLogSet, wire.LogSetRequest{
		ExerciseLogID: ex.LogID,
		Weight:        input.Weight,
		Reps:          input.Reps,
		Warmup:        input.Warmup,
	})
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// AdvanceExercise moves to the next exercise; past the last it is a no-op
// on the authority.
func (c *InputController) AdvanceExercise(ctx context.Context) error {
	if c.sm.InRehearsal() {
		c.sm.navigateRehearsal(+1)
		return nil
	}
	return c.send(ctx, wire.Message{Kind: wire.KindAdvanceExercise})
}

// RetreatExercise moves to the previous exercise.
func (c *InputController) RetreatExercise(ctx context.Context) error {
	if c.sm.InRehearsal() {
		c.sm.navigateRehearsal(-1)
		return nil
	}
	return c.send(ctx, wire.Message{Kind: wire.KindRetreatExercise})
}

// CompleteWorkout finishes the session.
func (c *InputController) CompleteWorkout(ctx context.Context) error {
	if c.sm.InRehearsal() {
		c.sm.completeRehearsal()
		return nil
	}

	c.sm.mu.Lock()
	active, ok := c.sm.workout.(WorkoutActive)
	c.sm.mu.Unlock()
	if !ok {
		return errors.New("no workout in progress")
	}

	msg, err := wire.NewMessage(wire.KindCompleteSession,
		wire.CompleteSessionRequest{SessionID: active.Snapshot.SessionID})
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// send issues the request; the reply lands through the state machine's
// ingestion path. Failures surface through the error observers and are
// also returned so callers can retry.
func (c *InputController) send(ctx context.Context, msg wire.Message) error {
	if _, err := c.sm.tr.Request(ctx, msg); err != nil {
		c.log.Warn("request failed", "kind", msg.Kind, "error", err)
		reason := userErrorText(err)
		c.sm.mu.Lock()
		fire := c.sm.emitErrorLocked(reason)
		c.sm.mu.Unlock()
		fire()
		return err
	}
	return nil
}

func (m *StateMachine) setWorkoutLoading() {
	m.mu.Lock()
	if _, active := m.workout.(WorkoutActive); !active {
		m.workout = WorkoutLoading{}
	}
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()
}
