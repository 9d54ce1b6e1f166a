package companion

import (
	"time"

	"github.com/claude/liftsync/internal/wire"
	"github.com/google/uuid"
)

// Offline rehearsal: a local-only simulated session used when the phone is
// unreachable. Rehearsal state is tagged on WorkoutActive/WorkoutCompleted,
// never sent to the authority, and displaced the moment authoritative data
// arrives. Nothing logged here counts toward history or PRs.

// InRehearsal reports whether the current workout state is rehearsal data.
func (m *StateMachine) InRehearsal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch w := m.workout.(type) {
	case WorkoutActive:
		return w.Rehearsal
	case WorkoutCompleted:
		return w.Rehearsal
	default:
		return false
	}
}

// StartRehearsal builds a local-only session from today's plan. It fails
// quietly into an error callback when no plan is known or a real session is
// already active.
func (m *StateMachine) StartRehearsal() {
	m.mu.Lock()

	if w, active := m.workout.(WorkoutActive); active && !w.Rehearsal {
		fire := m.emitErrorLocked("A real workout is already in progress")
		m.mu.Unlock()
		fire()
		return
	}
	planned, ok := m.today.(TodayPlanned)
	if !ok {
		fire := m.emitErrorLocked("No plan to rehearse today")
		m.mu.Unlock()
		fire()
		return
	}

	snap := wire.SessionSnapshot{
		SessionID: uuid.New(),
		PlanID:    planned.Snapshot.PlanID,
		Name:      planned.Snapshot.Name + " (rehearsal)",
		StartedAt: time.Now(),
	}
	for i := 0; i < planned.Snapshot.ExerciseCount; i++ {
		group := ""
		if i < len(planned.Snapshot.MuscleGroups) {
			group = planned.Snapshot.MuscleGroups[i]
		}
		snap.Exercises = append(snap.Exercises, wire.ExerciseState{
			LogID:           uuid.New(),
			Name:            rehearsalExerciseName(i),
			MuscleGroup:     group,
			TargetSets:      3,
			RepRangeMin:     8,
			RepRangeMax:     12,
			SuggestedWeight: 20,
			SuggestedReps:   10,
		})
	}

	m.workout = WorkoutActive{Snapshot: snap, Rehearsal: true}
	if len(m.nav) == 0 || m.nav[len(m.nav)-1] != ScreenActiveWorkout {
		m.nav = append(m.nav, ScreenActiveWorkout)
	}
	m.resetInputLocked(snap)
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()
	m.log.Info("rehearsal session started", "session", snap.SessionID)
}

func rehearsalExerciseName(i int) string {
	return "Exercise " + string(rune('A'+i%26))
}

// logRehearsalSet is the only place the companion ever fabricates a logged
// set, and it is reachable exclusively from rehearsal state.
func (m *StateMachine) logRehearsalSet(input InputBuffer) {
	m.mu.Lock()
	w, ok := m.workout.(WorkoutActive)
	if !ok || !w.Rehearsal {
		m.mu.Unlock()
		return
	}

	snap := w.Snapshot
	ex := snap.CurrentExercise()
	if ex == nil {
		m.mu.Unlock()
		return
	}
	ex.Sets = append(ex.Sets, wire.LoggedSet{
		ID:        uuid.New(),
		SetNumber: len(ex.Sets) + 1,
		Weight:    input.Weight,
		Reps:      input.Reps,
		Warmup:    input.Warmup,
	})
	snap.TotalSets++
	if !input.Warmup {
		snap.TotalVolume += input.Weight * float64(input.Reps)
	}

	m.workout = WorkoutActive{Snapshot: snap, Rehearsal: true}
	m.resetInputLocked(snap)
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()
}

func (m *StateMachine) navigateRehearsal(delta int) {
	m.mu.Lock()
	w, ok := m.workout.(WorkoutActive)
	if !ok || !w.Rehearsal {
		m.mu.Unlock()
		return
	}

	snap := w.Snapshot
	idx := snap.CurrentExerciseIndex + delta
	max := len(snap.Exercises) - 1
	if max < 0 {
		max = 0
	}
	if idx < 0 {
		idx = 0
	}
	if idx > max {
		idx = max
	}
	changed := idx != snap.CurrentExerciseIndex
	snap.CurrentExerciseIndex = idx

	m.workout = WorkoutActive{Snapshot: snap, Rehearsal: true}
	if changed {
		m.resetInputLocked(snap)
	}
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()
}

func (m *StateMachine) completeRehearsal() {
	m.mu.Lock()
	w, ok := m.workout.(WorkoutActive)
	if !ok || !w.Rehearsal {
		m.mu.Unlock()
		return
	}

	snap := w.Snapshot
	summary := wire.CompletionSummary{
		SessionID:   snap.SessionID,
		DurationSec: int(time.Since(snap.StartedAt).Seconds()),
		TotalVolume: snap.TotalVolume,
		TotalSets:   snap.TotalSets,
	}
	for _, ex := range snap.Exercises {
		if len(ex.Sets) > 0 {
			summary.ExercisesWorked++
		}
	}

	m.workout = WorkoutCompleted{Summary: summary, Rehearsal: true}
	m.nav = append(m.nav, ScreenSummary)
	fire := m.notifyLocked()
	m.mu.Unlock()
	fire()
	m.log.Info("rehearsal session completed", "session", snap.SessionID, "sets", summary.TotalSets)
}
