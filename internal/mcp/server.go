package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
// sessions may be nil when no authority is running (e.g. a standalone
// query session against the store).
func New(ds DataSource, sessions SessionSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("LiftSync", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("LiftSync workout data. Query today's plan, the live session, exercise bests, and completed session history. All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, sessions: sessions, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolGetTodayPlan, Handler: h.getTodayPlan},
		server.ServerTool{Tool: toolGetActiveSession, Handler: h.getActiveSession},
		server.ServerTool{Tool: toolGetExerciseBest, Handler: h.getExerciseBest},
		server.ServerTool{Tool: toolGetSessionHistory, Handler: h.getSessionHistory},
		server.ServerTool{Tool: toolGetSessionSets, Handler: h.getSessionSets},
	)

	s.AddResources(
		server.ServerResource{Resource: resTodayPlan, Handler: h.todayPlanResource},
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessionsResource},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds       DataSource
	sessions SessionSource
	log      *slog.Logger
}
