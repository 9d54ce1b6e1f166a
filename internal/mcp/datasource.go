package mcp

import (
	"context"
	"time"

	"github.com/claude/liftsync/internal/store"
	"github.com/claude/liftsync/internal/wire"
	"github.com/google/uuid"
)

// DataSource abstracts the persisted training data for MCP tools.
// *store.Store satisfies it directly.
type DataSource interface {
	TodayPlan(ctx context.Context, userID int, weekday time.Weekday) (*store.Plan, error)
	BestEstimatedOneRepMax(ctx context.Context, userID int, exercise string) (float64, bool, error)
	LastTopSet(ctx context.Context, userID int, exercise string) (weight float64, reps int, ok bool, err error)
	SessionHistory(ctx context.Context, userID int, start, end time.Time) ([]store.CompletedSession, error)
	SessionSets(ctx context.Context, sessionID uuid.UUID) ([]store.SessionSet, error)
}

// Compile-time check: *store.Store satisfies DataSource.
var _ DataSource = (*store.Store)(nil)

// SessionSource exposes the live session that has not been persisted yet.
// The session authority satisfies it.
type SessionSource interface {
	ActiveSession() *wire.SessionSnapshot
}
