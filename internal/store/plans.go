package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan is a training-split day: the exercises scheduled for one weekday.
type Plan struct {
	ID               uuid.UUID
	UserID           int
	Name             string
	Weekday          time.Weekday
	MuscleGroups     []string
	EstimatedMinutes int
	Exercises        []PlanExercise
}

// PlanExercise is one exercise slot in a plan.
type PlanExercise struct {
	ID               uuid.UUID
	Position         int
	Name             string
	MuscleGroup      string
	TargetSets       int
	RepRangeMin      int
	RepRangeMax      int
	DefaultWeight    float64
	DefaultReps      int
	SupersetGroup    *int
	SupersetPosition *int
}

// GetOrCreateUser finds or creates a user by name. Updates last_seen on
// each call.
func (s *Store) GetOrCreateUser(ctx context.Context, name string) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name)
		VALUES (?)
		ON CONFLICT (name) DO UPDATE SET last_seen = CURRENT_TIMESTAMP
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting user: %w", err)
	}
	return id, nil
}

// SavePlan inserts or replaces a plan and its exercises.
func (s *Store) SavePlan(ctx context.Context, plan Plan) error {
	groups, err := json.Marshal(plan.MuscleGroups)
	if err != nil {
		return fmt.Errorf("encoding muscle groups: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning plan tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO plans (id, user_id, name, weekday, muscle_groups, estimated_minutes)
		 VALUES (?,?,?,?,?,?)`,
		plan.ID.String(), plan.UserID, plan.Name, int(plan.Weekday), string(groups), plan.EstimatedMinutes,
	); err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plan_exercises WHERE plan_id = ?`, plan.ID.String()); err != nil {
		return fmt.Errorf("clearing plan exercises: %w", err)
	}

	for _, ex := range plan.Exercises {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plan_exercises (id, plan_id, position, name, muscle_group,
			 target_sets, rep_range_min, rep_range_max, default_weight, default_reps,
			 superset_group, superset_position)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			ex.ID.String(), plan.ID.String(), ex.Position, ex.Name, ex.MuscleGroup,
			ex.TargetSets, ex.RepRangeMin, ex.RepRangeMax, ex.DefaultWeight, ex.DefaultReps,
			ex.SupersetGroup, ex.SupersetPosition,
		); err != nil {
			return fmt.Errorf("inserting plan exercise %s: %w", ex.Name, err)
		}
	}

	return tx.Commit()
}

// PlanByID returns the plan with the given id, exercises loaded, or nil
// when it does not exist.
func (s *Store) PlanByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, weekday, muscle_groups, estimated_minutes
		 FROM plans
		 WHERE id = ?`,
		id.String())
	return s.scanPlan(ctx, row)
}

// TodayPlan returns the plan scheduled for the given weekday, with its
// exercises loaded, or nil when none is scheduled (a rest day).
func (s *Store) TodayPlan(ctx context.Context, userID int, weekday time.Weekday) (*Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, weekday, muscle_groups, estimated_minutes
		 FROM plans
		 WHERE user_id = ? AND weekday = ?
		 LIMIT 1`,
		userID, int(weekday))
	return s.scanPlan(ctx, row)
}

func (s *Store) scanPlan(ctx context.Context, row *sql.Row) (*Plan, error) {
	var (
		plan   Plan
		idStr  string
		wd     int
		groups string
	)
	err := row.Scan(&idStr, &plan.UserID, &plan.Name, &wd, &groups, &plan.EstimatedMinutes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying today plan: %w", err)
	}

	plan.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing plan id %q: %w", idStr, err)
	}
	plan.Weekday = time.Weekday(wd)
	if err := json.Unmarshal([]byte(groups), &plan.MuscleGroups); err != nil {
		return nil, fmt.Errorf("decoding muscle groups: %w", err)
	}

	plan.Exercises, err = s.planExercises(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Store) planExercises(ctx context.Context, planID uuid.UUID) ([]PlanExercise, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, name, muscle_group, target_sets, rep_range_min,
		 rep_range_max, default_weight, default_reps, superset_group, superset_position
		 FROM plan_exercises
		 WHERE plan_id = ?
		 ORDER BY position ASC`,
		planID.String())
	if err != nil {
		return nil, fmt.Errorf("querying plan exercises: %w", err)
	}
	defer rows.Close()

	var result []PlanExercise
	for rows.Next() {
		var (
			ex    PlanExercise
			idStr string
		)
		if err := rows.Scan(&idStr, &ex.Position, &ex.Name, &ex.MuscleGroup,
			&ex.TargetSets, &ex.RepRangeMin, &ex.RepRangeMax,
			&ex.DefaultWeight, &ex.DefaultReps,
			&ex.SupersetGroup, &ex.SupersetPosition); err != nil {
			return nil, fmt.Errorf("scanning plan exercise: %w", err)
		}
		ex.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parsing exercise id %q: %w", idStr, err)
		}
		result = append(result, ex)
	}
	return result, rows.Err()
}
