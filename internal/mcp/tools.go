package mcp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 30 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -30)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolGetTodayPlan = mcp.NewTool("get_today_plan",
	mcp.WithDescription("Get the training plan scheduled for today: exercises, target sets and rep ranges, supersets. Returns a rest-day notice when nothing is scheduled."),
	mcp.WithString("weekday", mcp.Description("Override the weekday (e.g. 'Monday'). Defaults to today."),
		mcp.Enum("Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday")),
)

var toolGetActiveSession = mcp.NewTool("get_active_session",
	mcp.WithDescription("Get the live workout session if one is in progress: current exercise, logged sets, running volume and set totals."),
)

var toolGetExerciseBest = mcp.NewTool("get_exercise_best",
	mcp.WithDescription("Get the all-time best estimated one-rep-max (Epley) and the most recent top set for an exercise."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exact exercise name (e.g. 'Bench Press')")),
)

var toolGetSessionHistory = mcp.NewTool("get_session_history",
	mcp.WithDescription("List completed workout sessions in a time range with volume, set and PR totals."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
)

var toolGetSessionSets = mcp.NewTool("get_session_sets",
	mcp.WithDescription("List every set of one completed session: exercise, weight, reps, warmup and PR flags."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from get_session_history")),
)

// --- Tool handlers ---

func (h *handlers) getTodayPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	weekday := time.Now().Weekday()
	if s := req.GetString("weekday", ""); s != "" {
		parsed, ok := parseWeekday(s)
		if !ok {
			return mcp.NewToolResultError("invalid weekday: " + s), nil
		}
		weekday = parsed
	}

	uid := UserIDFromContext(ctx)
	plan, err := h.ds.TodayPlan(ctx, uid, weekday)
	if err != nil {
		h.log.Error("mcp get_today_plan", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if plan == nil {
		return mcp.NewToolResultText("Rest day: no plan scheduled for " + weekday.String() + "."), nil
	}

	result, err := mcp.NewToolResultJSON(plan)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getActiveSession(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.sessions == nil {
		return mcp.NewToolResultText("No session authority is running."), nil
	}
	snap := h.sessions.ActiveSession()
	if snap == nil {
		return mcp.NewToolResultText("No workout in progress."), nil
	}

	result, err := mcp.NewToolResultJSON(snap)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getExerciseBest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exercise, err := req.RequireString("exercise")
	if err != nil {
		return mcp.NewToolResultError("exercise parameter is required"), nil
	}

	uid := UserIDFromContext(ctx)
	best, found, err := h.ds.BestEstimatedOneRepMax(ctx, uid, exercise)
	if err != nil {
		h.log.Error("mcp get_exercise_best", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if !found {
		return mcp.NewToolResultText("No history for " + exercise + "."), nil
	}

	out := map[string]any{
		"exercise":      exercise,
		"estimated_1rm": best,
	}
	if weight, reps, ok, err := h.ds.LastTopSet(ctx, uid, exercise); err == nil && ok {
		out["last_top_set"] = map[string]any{"weight": weight, "reps": reps}
	}

	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSessionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	uid := UserIDFromContext(ctx)
	sessions, err := h.ds.SessionHistory(ctx, uid, start, end)
	if err != nil {
		h.log.Error("mcp get_session_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSessionSets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid session_id: " + err.Error()), nil
	}

	sets, err := h.ds.SessionSets(ctx, id)
	if err != nil {
		h.log.Error("mcp get_session_sets", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sets)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}
