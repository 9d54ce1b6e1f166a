package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CompletedSession is a finished session persisted with all its sets.
type CompletedSession struct {
	ID          uuid.UUID
	UserID      int
	PlanID      uuid.UUID
	Name        string
	StartedAt   time.Time
	EndedAt     time.Time
	TotalVolume float64
	TotalSets   int
	PRCount     int
	Sets        []SessionSet
}

// SessionSet is one persisted set of a completed session.
type SessionSet struct {
	ID           uuid.UUID
	ExerciseName string
	MuscleGroup  string
	SetNumber    int
	Weight       float64
	Reps         int
	Warmup       bool
	PR           bool
}

// SaveCompletedSession persists a session and its sets in one transaction.
// Saving the same session id twice is a no-op for the session row.
func (s *Store) SaveCompletedSession(ctx context.Context, sess *CompletedSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, user_id, plan_id, name, started_at, ended_at,
		 total_volume, total_sets, pr_count)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		sess.ID.String(), sess.UserID, sess.PlanID.String(), sess.Name,
		sess.StartedAt, sess.EndedAt, sess.TotalVolume, sess.TotalSets, sess.PRCount)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already persisted (retried completion).
		return tx.Commit()
	}

	for _, set := range sess.Sets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_sets (id, session_id, exercise_name, muscle_group,
			 set_number, weight, reps, is_warmup, is_pr)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			set.ID.String(), sess.ID.String(), set.ExerciseName, set.MuscleGroup,
			set.SetNumber, set.Weight, set.Reps, set.Warmup, set.PR,
		); err != nil {
			return fmt.Errorf("inserting session set: %w", err)
		}
	}

	return tx.Commit()
}

// SessionExists reports whether a session id is already persisted.
func (s *Store) SessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ?`, id.String()).Scan(&n); err != nil {
		return false, fmt.Errorf("checking session %s: %w", id, err)
	}
	return n > 0, nil
}

// BestEstimatedOneRepMax returns the best Epley-estimated one-rep-max ever
// recorded for an exercise across completed sessions. The second return is
// false when the exercise has never been performed (warmups and zero-rep
// sets do not count).
func (s *Store) BestEstimatedOneRepMax(ctx context.Context, userID int, exercise string) (float64, bool, error) {
	var best sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ss.weight * (1.0 + ss.reps / 30.0))
		 FROM session_sets ss
		 JOIN sessions se ON se.id = ss.session_id
		 WHERE se.user_id = ? AND ss.exercise_name = ? AND ss.is_warmup = 0 AND ss.reps > 0`,
		userID, exercise).Scan(&best)
	if err != nil {
		return 0, false, fmt.Errorf("querying best 1RM: %w", err)
	}
	if !best.Valid {
		return 0, false, nil
	}
	return best.Float64, true, nil
}

// LastTopSet returns the heaviest working set from the most recent session
// containing the exercise, for seeding weight/reps suggestions.
func (s *Store) LastTopSet(ctx context.Context, userID int, exercise string) (weight float64, reps int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT ss.weight, ss.reps
		 FROM session_sets ss
		 JOIN sessions se ON se.id = ss.session_id
		 WHERE se.user_id = ? AND ss.exercise_name = ? AND ss.is_warmup = 0
		 ORDER BY se.started_at DESC, ss.weight DESC
		 LIMIT 1`,
		userID, exercise).Scan(&weight, &reps)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("querying last top set: %w", err)
	}
	return weight, reps, true, nil
}

// PreviousBestDisplay returns a display string for the all-time best set of
// an exercise, e.g. "102.5 kg × 8", or "" when no history exists.
func (s *Store) PreviousBestDisplay(ctx context.Context, userID int, exercise string) (string, error) {
	var (
		weight float64
		reps   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT ss.weight, ss.reps
		 FROM session_sets ss
		 JOIN sessions se ON se.id = ss.session_id
		 WHERE se.user_id = ? AND ss.exercise_name = ? AND ss.is_warmup = 0 AND ss.reps > 0
		 ORDER BY ss.weight * (1.0 + ss.reps / 30.0) DESC
		 LIMIT 1`,
		userID, exercise).Scan(&weight, &reps)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying previous best: %w", err)
	}
	return fmt.Sprintf("%g kg × %d", weight, reps), nil
}

// SessionHistory retrieves completed sessions in a time range, newest
// first, without their sets.
func (s *Store) SessionHistory(ctx context.Context, userID int, start, end time.Time) ([]CompletedSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, plan_id, name, started_at, ended_at, total_volume, total_sets, pr_count
		 FROM sessions
		 WHERE user_id = ? AND started_at >= ? AND started_at < ?
		 ORDER BY started_at DESC`,
		userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying session history: %w", err)
	}
	defer rows.Close()

	var result []CompletedSession
	for rows.Next() {
		var (
			sess           CompletedSession
			idStr, planStr string
		)
		if err := rows.Scan(&idStr, &sess.UserID, &planStr, &sess.Name,
			&sess.StartedAt, &sess.EndedAt, &sess.TotalVolume, &sess.TotalSets, &sess.PRCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parsing session id %q: %w", idStr, err)
		}
		if planStr != "" {
			if pid, perr := uuid.Parse(planStr); perr == nil {
				sess.PlanID = pid
			}
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

// SessionSets retrieves the sets of one completed session in logged order.
func (s *Store) SessionSets(ctx context.Context, sessionID uuid.UUID) ([]SessionSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exercise_name, muscle_group, set_number, weight, reps, is_warmup, is_pr
		 FROM session_sets
		 WHERE session_id = ?
		 ORDER BY rowid ASC`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying session sets: %w", err)
	}
	defer rows.Close()

	var result []SessionSet
	for rows.Next() {
		var (
			set   SessionSet
			idStr string
		)
		if err := rows.Scan(&idStr, &set.ExerciseName, &set.MuscleGroup,
			&set.SetNumber, &set.Weight, &set.Reps, &set.Warmup, &set.PR); err != nil {
			return nil, fmt.Errorf("scanning session set: %w", err)
		}
		set.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parsing set id %q: %w", idStr, err)
		}
		result = append(result, set)
	}
	return result, rows.Err()
}
