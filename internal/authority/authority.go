// Package authority owns the canonical in-progress workout session on the
// primary device. It handles inbound requests from the companion, mutates
// canonical state, and replies with full snapshots. State transitions move
// between NoSession, Active, and Completed; Completed is terminal per
// session id and idempotently re-answerable.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/liftsync/internal/store"
	"github.com/claude/liftsync/internal/wire"
	"github.com/google/uuid"
)

// ContextSink receives opportunistic context pushes: the latest canonical
// snapshot, kept until the companion consumes it or a newer push supersedes
// it. The transport's authority side implements this.
type ContextSink interface {
	PushContext(msg wire.Message)
}

// Authority is the session authority. All request handling is serialized;
// no concurrent mutation of one session snapshot can occur.
type Authority struct {
	store  *store.Store
	log    *slog.Logger
	userID int
	sink   ContextSink
	now    func() time.Time

	mu        sync.Mutex
	active    *wire.SessionSnapshot
	completed map[uuid.UUID]wire.CompletionSummary
}

// New creates an Authority backed by the given store.
func New(st *store.Store, userID int, log *slog.Logger) *Authority {
	return &Authority{
		store:     st,
		log:       log,
		userID:    userID,
		now:       time.Now,
		completed: make(map[uuid.UUID]wire.CompletionSummary),
	}
}

// SetContextSink wires the transport's context-push slot. Optional; without
// a sink, pushes are skipped.
func (a *Authority) SetContextSink(sink ContextSink) {
	a.sink = sink
}

// Handle processes one companion request and returns the reply envelope.
// Domain failures come back as error or failed-confirmation replies; this
// method itself never fails.
func (a *Authority) Handle(ctx context.Context, msg wire.Message) wire.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch msg.Kind {
	case wire.KindFetchToday:
		return a.handleFetchToday(ctx)
	case wire.KindStartSession:
		return a.handleStartSession(ctx, msg)
	case wire.KindLogSet:
		return a.handleLogSet(ctx, msg)
	case wire.KindFetchSessionState:
		return a.handleFetchSessionState()
	case wire.KindAdvanceExercise:
		return a.handleNavigate(+1)
	case wire.KindRetreatExercise:
		return a.handleNavigate(-1)
	case wire.KindCompleteSession:
		return a.handleCompleteSession(ctx, msg)
	default:
		a.log.Warn("unsupported request kind", "kind", msg.Kind)
		return wire.ErrorMessage(wire.CodeInvalidInput,
			fmt.Sprintf("unsupported request kind %q", msg.Kind))
	}
}

// ActiveSession returns a copy of the active session snapshot, or nil.
func (a *Authority) ActiveSession() *wire.SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil
	}
	snap := cloneSnapshot(a.active)
	return &snap
}

func (a *Authority) handleFetchToday(ctx context.Context) wire.Message {
	plan, err := a.store.TodayPlan(ctx, a.userID, a.now().Weekday())
	if err != nil {
		a.log.Error("fetch today", "error", err)
		return wire.ErrorMessage(wire.CodeInternal, "could not load today's plan")
	}
	if plan == nil {
		return wire.MustMessage(wire.KindRestDayNotice, wire.RestDayNotice{Message: "Rest Day"})
	}

	snap := wire.TodaySnapshot{
		PlanID:           plan.ID,
		Name:             plan.Name,
		MuscleGroups:     plan.MuscleGroups,
		ExerciseCount:    len(plan.Exercises),
		EstimatedMinutes: plan.EstimatedMinutes,
	}
	if a.active != nil && a.active.PlanID == plan.ID {
		id := a.active.SessionID
		snap.InProgressSessionID = &id
	}
	return wire.MustMessage(wire.KindTodaySnapshot, snap)
}

func (a *Authority) handleStartSession(ctx context.Context, msg wire.Message) wire.Message {
	req, err := wire.DecodePayload[wire.StartSessionRequest](msg)
	if err != nil {
		return wire.ErrorMessage(wire.CodeInvalidInput, "malformed start-session request")
	}

	if a.active != nil {
		if a.active.PlanID == req.PlanID {
			// Retried start against the same plan resumes the
			// existing session.
			return a.snapshotReply()
		}
		return wire.ErrorMessage(wire.CodeAlreadyInProgress,
			fmt.Sprintf("a %s session is already in progress", a.active.Name))
	}

	plan, err := a.store.PlanByID(ctx, req.PlanID)
	if err != nil {
		a.log.Error("start session: plan lookup", "error", err)
		return wire.ErrorMessage(wire.CodeInternal, "could not load plan")
	}
	if plan == nil {
		return wire.ErrorMessage(wire.CodeInvalidInput, "unknown plan")
	}

	snap := &wire.SessionSnapshot{
		SessionID: uuid.New(),
		PlanID:    plan.ID,
		Name:      plan.Name,
		StartedAt: a.now(),
	}
	for _, ex := range plan.Exercises {
		state := wire.ExerciseState{
			LogID:           uuid.New(),
			Name:            ex.Name,
			MuscleGroup:     ex.MuscleGroup,
			TargetSets:      ex.TargetSets,
			RepRangeMin:     ex.RepRangeMin,
			RepRangeMax:     ex.RepRangeMax,
			SuggestedWeight: ex.DefaultWeight,
			SuggestedReps:   ex.DefaultReps,
		}
		if ex.SupersetGroup != nil && ex.SupersetPosition != nil {
			state.Superset = &wire.SupersetRef{Group: *ex.SupersetGroup, Position: *ex.SupersetPosition}
		}
		if weight, reps, ok, err := a.store.LastTopSet(ctx, a.userID, ex.Name); err != nil {
			a.log.Warn("start session: suggestion lookup", "exercise", ex.Name, "error", err)
		} else if ok {
			state.SuggestedWeight = weight
			state.SuggestedReps = reps
		}
		if best, err := a.store.PreviousBestDisplay(ctx, a.userID, ex.Name); err != nil {
			a.log.Warn("start session: previous best lookup", "exercise", ex.Name, "error", err)
		} else {
			state.PreviousBest = best
		}
		snap.Exercises = append(snap.Exercises, state)
	}

	a.active = snap
	a.log.Info("session started", "session", snap.SessionID, "plan", plan.Name,
		"exercises", len(snap.Exercises))
	return a.pushAndReplySnapshot()
}

func (a *Authority) handleLogSet(ctx context.Context, msg wire.Message) wire.Message {
	if a.active == nil {
		return wire.ErrorMessage(wire.CodeNoActiveSession, "no workout in progress")
	}

	req, err := wire.DecodePayload[wire.LogSetRequest](msg)
	if err != nil {
		return logFailure("malformed log-set request")
	}
	if req.Weight < 0 || req.Reps < 0 {
		return logFailure("weight and reps must not be negative")
	}

	ex := a.active.FindExercise(req.ExerciseLogID)
	if ex == nil {
		return logFailure("exercise not found in this session")
	}

	set := wire.LoggedSet{
		ID:        uuid.New(),
		SetNumber: len(ex.Sets) + 1,
		Weight:    req.Weight,
		Reps:      req.Reps,
		Warmup:    req.Warmup,
	}

	var pr *wire.PRDescriptor
	if !req.Warmup && req.Reps > 0 {
		est := estimatedOneRepMax(req.Weight, req.Reps)
		best, found, err := a.store.BestEstimatedOneRepMax(ctx, a.userID, ex.Name)
		if err != nil {
			a.log.Warn("log set: best lookup", "exercise", ex.Name, "error", err)
		} else if found && est > best {
			// A PR needs a prior best to beat; the first time an
			// exercise is ever performed does not count.
			set.PR = true
			pr = &wire.PRDescriptor{
				Exercise:    ex.Name,
				Metric:      wire.MetricEstimatedOneRepMax,
				Value:       est,
				Improvement: est - best,
			}
		}
	}

	ex.Sets = append(ex.Sets, set)
	a.active.TotalSets++
	if !set.Warmup {
		a.active.TotalVolume += set.Weight * float64(set.Reps)
	}

	a.log.Info("set logged", "exercise", ex.Name, "set", set.SetNumber,
		"weight", set.Weight, "reps", set.Reps, "warmup", set.Warmup, "pr", set.PR)

	snap := cloneSnapshot(a.active)
	reply := wire.MustMessage(wire.KindLogConfirmation, wire.LogConfirmation{
		Success: true,
		PR:      pr,
		Session: &snap,
	})
	a.pushContext(wire.MustMessage(wire.KindSessionSnapshot, snap))
	return reply
}

func (a *Authority) handleFetchSessionState() wire.Message {
	if a.active == nil {
		return wire.ErrorMessage(wire.CodeNoActiveSession, "no workout in progress")
	}
	return a.snapshotReply()
}

func (a *Authority) handleNavigate(delta int) wire.Message {
	if a.active == nil {
		return wire.ErrorMessage(wire.CodeNoActiveSession, "no workout in progress")
	}

	idx := a.active.CurrentExerciseIndex + delta
	max := len(a.active.Exercises) - 1
	if max < 0 {
		max = 0
	}
	if idx < 0 {
		idx = 0
	}
	if idx > max {
		idx = max
	}

	// Clamped navigation past either end is a no-op, not an error.
	if idx != a.active.CurrentExerciseIndex {
		a.active.CurrentExerciseIndex = idx
		return a.pushAndReplySnapshot()
	}
	return a.snapshotReply()
}

func (a *Authority) handleCompleteSession(ctx context.Context, msg wire.Message) wire.Message {
	var req wire.CompleteSessionRequest
	if len(msg.Payload) > 0 {
		var err error
		req, err = wire.DecodePayload[wire.CompleteSessionRequest](msg)
		if err != nil {
			return wire.ErrorMessage(wire.CodeInvalidInput, "malformed complete-session request")
		}
	}

	if a.active == nil || (req.SessionID != uuid.Nil && req.SessionID != a.active.SessionID) {
		// A retried completion against an already-completed session
		// returns the previously computed summary.
		if summary, ok := a.completed[req.SessionID]; ok {
			return wire.MustMessage(wire.KindCompletionSummary, summary)
		}
		return wire.ErrorMessage(wire.CodeNoActiveSession, "no workout in progress")
	}

	ended := a.now()
	summary := summarize(a.active, ended)

	if err := a.store.SaveCompletedSession(ctx, flatten(a.active, a.userID, ended, summary)); err != nil {
		// Keep the session active so the companion can retry.
		a.log.Error("complete session: persist", "error", err)
		return wire.ErrorMessage(wire.CodeInternal, "could not save completed workout")
	}

	a.completed[a.active.SessionID] = summary
	a.log.Info("session completed", "session", a.active.SessionID,
		"duration_sec", summary.DurationSec, "volume", summary.TotalVolume, "prs", summary.PRCount)
	a.active = nil

	reply := wire.MustMessage(wire.KindCompletionSummary, summary)
	a.pushContext(reply)
	return reply
}

func (a *Authority) snapshotReply() wire.Message {
	snap := cloneSnapshot(a.active)
	return wire.MustMessage(wire.KindSessionSnapshot, snap)
}

func (a *Authority) pushAndReplySnapshot() wire.Message {
	reply := a.snapshotReply()
	a.pushContext(reply)
	return reply
}

func (a *Authority) pushContext(msg wire.Message) {
	if a.sink != nil {
		a.sink.PushContext(msg)
	}
}

func logFailure(reason string) wire.Message {
	return wire.MustMessage(wire.KindLogConfirmation, wire.LogConfirmation{
		Success: false,
		Reason:  reason,
	})
}

// estimatedOneRepMax applies the Epley formula.
func estimatedOneRepMax(weight float64, reps int) float64 {
	if reps <= 0 {
		return 0
	}
	return weight * (1 + float64(reps)/30)
}

func summarize(snap *wire.SessionSnapshot, ended time.Time) wire.CompletionSummary {
	summary := wire.CompletionSummary{
		SessionID:   snap.SessionID,
		DurationSec: int(ended.Sub(snap.StartedAt).Seconds()),
		TotalVolume: snap.TotalVolume,
		TotalSets:   snap.TotalSets,
	}
	for _, ex := range snap.Exercises {
		if len(ex.Sets) > 0 {
			summary.ExercisesWorked++
		}
		for _, set := range ex.Sets {
			if set.PR {
				summary.PRCount++
			}
		}
	}
	return summary
}

func flatten(snap *wire.SessionSnapshot, userID int, ended time.Time, summary wire.CompletionSummary) *store.CompletedSession {
	sess := &store.CompletedSession{
		ID:          snap.SessionID,
		UserID:      userID,
		PlanID:      snap.PlanID,
		Name:        snap.Name,
		StartedAt:   snap.StartedAt,
		EndedAt:     ended,
		TotalVolume: summary.TotalVolume,
		TotalSets:   summary.TotalSets,
		PRCount:     summary.PRCount,
	}
	for _, ex := range snap.Exercises {
		for _, set := range ex.Sets {
			sess.Sets = append(sess.Sets, store.SessionSet{
				ID:           set.ID,
				ExerciseName: ex.Name,
				MuscleGroup:  ex.MuscleGroup,
				SetNumber:    set.SetNumber,
				Weight:       set.Weight,
				Reps:         set.Reps,
				Warmup:       set.Warmup,
				PR:           set.PR,
			})
		}
	}
	return sess
}

// cloneSnapshot deep-copies a snapshot so replies never alias canonical
// state.
func cloneSnapshot(snap *wire.SessionSnapshot) wire.SessionSnapshot {
	out := *snap
	out.Exercises = make([]wire.ExerciseState, len(snap.Exercises))
	for i, ex := range snap.Exercises {
		out.Exercises[i] = ex
		if ex.Sets != nil {
			out.Exercises[i].Sets = append([]wire.LoggedSet(nil), ex.Sets...)
		}
		if ex.Superset != nil {
			ref := *ex.Superset
			out.Exercises[i].Superset = &ref
		}
	}
	return out
}
