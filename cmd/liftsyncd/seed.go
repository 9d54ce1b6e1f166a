package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/claude/liftsync/internal/store"
	"github.com/google/uuid"
)

// seedTodayPlan creates a small push-day plan for today's weekday so a
// fresh install has something to train against. Existing plans win.
func seedTodayPlan(ctx context.Context, st *store.Store, userID int, log *slog.Logger) error {
	weekday := time.Now().Weekday()

	existing, err := st.TodayPlan(ctx, userID, weekday)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Info("plan already exists for today", "plan", existing.Name)
		return nil
	}

	group := 1
	pos1, pos2 := 1, 2
	plan := store.Plan{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             "Push Day",
		Weekday:          weekday,
		MuscleGroups:     []string{"Chest", "Shoulders", "Triceps"},
		EstimatedMinutes: 60,
		Exercises: []store.PlanExercise{
			{
				ID: uuid.New(), Position: 1, Name: "Bench Press", MuscleGroup: "Chest",
				TargetSets: 4, RepRangeMin: 6, RepRangeMax: 10,
				DefaultWeight: 60, DefaultReps: 8,
			},
			{
				ID: uuid.New(), Position: 2, Name: "Overhead Press", MuscleGroup: "Shoulders",
				TargetSets: 3, RepRangeMin: 8, RepRangeMax: 12,
				DefaultWeight: 40, DefaultReps: 10,
			},
			{
				ID: uuid.New(), Position: 3, Name: "Incline Dumbbell Press", MuscleGroup: "Chest",
				TargetSets: 3, RepRangeMin: 8, RepRangeMax: 12,
				DefaultWeight: 22.5, DefaultReps: 10,
				SupersetGroup: &group, SupersetPosition: &pos1,
			},
			{
				ID: uuid.New(), Position: 4, Name: "Cable Pushdowns", MuscleGroup: "Triceps",
				TargetSets: 3, RepRangeMin: 10, RepRangeMax: 15,
				DefaultWeight: 30, DefaultReps: 12,
				SupersetGroup: &group, SupersetPosition: &pos2,
			},
		},
	}

	if err := st.SavePlan(ctx, plan); err != nil {
		return err
	}
	log.Info("seeded plan", "plan", plan.Name, "weekday", weekday.String())
	return nil
}
