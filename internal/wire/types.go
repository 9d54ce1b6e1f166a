package wire

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TodaySnapshot describes the plan scheduled for today. A non-nil
// InProgressSessionID means a session against this plan is already active
// and can be resumed.
type TodaySnapshot struct {
	PlanID              uuid.UUID  `json:"plan_id"`
	Name                string     `json:"name"`
	MuscleGroups        []string   `json:"muscle_groups"`
	ExerciseCount       int        `json:"exercise_count"`
	EstimatedMinutes    int        `json:"estimated_minutes"`
	InProgressSessionID *uuid.UUID `json:"in_progress_session_id,omitempty"`
}

// RestDayNotice is the fetch-today reply when no plan is scheduled.
type RestDayNotice struct {
	Message string `json:"message"`
}

// SessionSnapshot is the full canonical state of an in-progress session.
// Replies always carry the complete snapshot, never a delta, so the
// companion can replace its projection atomically.
type SessionSnapshot struct {
	SessionID            uuid.UUID       `json:"session_id"`
	PlanID               uuid.UUID       `json:"plan_id"`
	Name                 string          `json:"name"`
	StartedAt            time.Time       `json:"started_at"`
	CurrentExerciseIndex int             `json:"current_exercise_index"`
	Exercises            []ExerciseState `json:"exercises"`
	TotalVolume          float64         `json:"total_volume"`
	TotalSets            int             `json:"total_sets"`
}

// ExerciseState is one exercise slot within a session.
type ExerciseState struct {
	LogID           uuid.UUID    `json:"log_id"`
	Name            string       `json:"name"`
	MuscleGroup     string       `json:"muscle_group"`
	TargetSets      int          `json:"target_sets"`
	RepRangeMin     int          `json:"rep_range_min"`
	RepRangeMax     int          `json:"rep_range_max"`
	Sets            []LoggedSet  `json:"sets"`
	SuggestedWeight float64      `json:"suggested_weight"`
	SuggestedReps   int          `json:"suggested_reps"`
	PreviousBest    string       `json:"previous_best,omitempty"`
	Superset        *SupersetRef `json:"superset,omitempty"`
}

// SupersetRef marks membership in a superset group.
type SupersetRef struct {
	Group    int `json:"group"`
	Position int `json:"position"`
}

// LoggedSet is one logged set. Only the authority appends these; the
// companion never fabricates one outside rehearsal mode.
type LoggedSet struct {
	ID        uuid.UUID `json:"id"`
	SetNumber int       `json:"set_number"`
	Weight    float64   `json:"weight"`
	Reps      int       `json:"reps"`
	Warmup    bool      `json:"warmup"`
	PR        bool      `json:"pr"`
}

// PRDescriptor describes a personal record achieved by a logged set.
type PRDescriptor struct {
	Exercise    string  `json:"exercise"`
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	Improvement float64 `json:"improvement"`
}

// MetricEstimatedOneRepMax is the metric kind used by PR descriptors.
const MetricEstimatedOneRepMax = "estimated_1rm"

// LogConfirmation is the reply to a log-set request. On success it carries
// the full updated session snapshot; on failure a human-readable reason.
type LogConfirmation struct {
	Success bool             `json:"success"`
	PR      *PRDescriptor    `json:"pr,omitempty"`
	Session *SessionSnapshot `json:"session,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// CompletionSummary supersedes a SessionSnapshot once a session completes.
type CompletionSummary struct {
	SessionID       uuid.UUID `json:"session_id"`
	DurationSec     int       `json:"duration_sec"`
	TotalVolume     float64   `json:"total_volume"`
	TotalSets       int       `json:"total_sets"`
	ExercisesWorked int       `json:"exercises_worked"`
	PRCount         int       `json:"pr_count"`
}

// ErrorReply is the authority's domain-error response. Message is already
// user-facing text and is surfaced verbatim.
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Domain error codes carried by ErrorReply.
const (
	CodeNoActiveSession   = "no_active_session"
	CodeAlreadyInProgress = "already_in_progress"
	CodeExerciseNotFound  = "exercise_not_found"
	CodeInvalidInput      = "invalid_input"
	CodeInternal          = "internal"
)

// StartSessionRequest asks the authority to create (or resume) a session
// for a plan.
type StartSessionRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
}

// LogSetRequest asks the authority to append a set to an exercise log.
type LogSetRequest struct {
	ExerciseLogID uuid.UUID `json:"exercise_log_id"`
	Weight        float64   `json:"weight"`
	Reps          int       `json:"reps"`
	Warmup        bool      `json:"warmup"`
}

// CompleteSessionRequest finishes the active session. SessionID lets a
// retried request match an already-completed session.
type CompleteSessionRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

// ErrorMessage builds an error envelope. Building it cannot fail.
func ErrorMessage(code, message string) Message {
	return MustMessage(KindError, ErrorReply{Code: code, Message: message})
}

// Validate checks the snapshot invariants: the exercise index must be a
// valid index into Exercises or equal to its length (all done), and each
// exercise's set numbers must form a contiguous 1-based sequence.
func (s *SessionSnapshot) Validate() error {
	if s.CurrentExerciseIndex < 0 || s.CurrentExerciseIndex > len(s.Exercises) {
		return fmt.Errorf("exercise index %d out of range [0,%d]",
			s.CurrentExerciseIndex, len(s.Exercises))
	}
	for _, ex := range s.Exercises {
		for i, set := range ex.Sets {
			if set.SetNumber != i+1 {
				return fmt.Errorf("%s: set %d has number %d, want %d",
					ex.Name, i, set.SetNumber, i+1)
			}
		}
	}
	return nil
}

// CurrentExercise returns the exercise at the current index, or nil when
// the index equals the exercise count (all done).
func (s *SessionSnapshot) CurrentExercise() *ExerciseState {
	if s.CurrentExerciseIndex >= len(s.Exercises) {
		return nil
	}
	return &s.Exercises[s.CurrentExerciseIndex]
}

// FindExercise returns the exercise with the given log id, or nil.
func (s *SessionSnapshot) FindExercise(logID uuid.UUID) *ExerciseState {
	for i := range s.Exercises {
		if s.Exercises[i].LogID == logID {
			return &s.Exercises[i]
		}
	}
	return nil
}
