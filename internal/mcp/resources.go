package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

var resTodayPlan = mcp.NewResource(
	"liftsync://today_plan",
	"Today's Plan",
	mcp.WithResourceDescription("The training plan scheduled for today, plus the live session if one is in progress"),
	mcp.WithMIMEType("application/json"),
)

var resRecentSessions = mcp.NewResource(
	"liftsync://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("Completed workout sessions from the last 14 days"),
	mcp.WithMIMEType("application/json"),
)

func (h *handlers) todayPlanResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uid := UserIDFromContext(ctx)
	now := time.Now()

	plan, err := h.ds.TodayPlan(ctx, uid, now.Weekday())
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"date": now.Format("2006-01-02"),
		"plan": plan,
	}
	if plan == nil {
		out["rest_day"] = true
	}
	if h.sessions != nil {
		if snap := h.sessions.ActiveSession(); snap != nil {
			out["active_session"] = snap
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (h *handlers) recentSessionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uid := UserIDFromContext(ctx)
	end := time.Now()
	start := end.AddDate(0, 0, -14)

	sessions, err := h.ds.SessionHistory(ctx, uid, start, end)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
