// Package mcpserver exposes stored meetings as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mohammad-safakhou/meetingmind/internal/export"
	"github.com/mohammad-safakhou/meetingmind/models"
)

// Store is the read side the tools need.
type Store interface {
	GetMeeting(ctx context.Context, meetingID string) (models.Meeting, error)
	ListMeetings(ctx context.Context, userID string, limit int) ([]models.Meeting, error)
	ListSegments(ctx context.Context, meetingID string) ([]models.Segment, error)
	ListActionItems(ctx context.Context, meetingID string) ([]models.ActionItem, error)
}

// Tools binds the MCP tool handlers to a store.
type Tools struct {
	Store Store
}

// New builds the MCP server with every meeting tool registered.
func New(st Store, version string) *server.MCPServer {
	t := &Tools{Store: st}
	s := server.NewMCPServer("meetingmind", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_meetings",
		mcp.WithDescription("List recorded meetings, newest first, with status and summary."),
		mcp.WithString("user_id", mcp.Description("Only meetings owned by this user")),
		mcp.WithNumber("limit", mcp.Description("Maximum meetings to return (default 20)")),
	), t.ListMeetings)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Return a meeting's summary, action items and speaker-labelled transcript as markdown."),
		mcp.WithString("meeting_id", mcp.Required(), mcp.Description("Meeting identifier")),
	), t.GetTranscript)

	s.AddTool(mcp.NewTool("list_action_items",
		mcp.WithDescription("List the action items extracted from a meeting."),
		mcp.WithString("meeting_id", mcp.Required(), mcp.Description("Meeting identifier")),
	), t.ListActionItems)
	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (t *Tools) ListMeetings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return mcp.NewToolResultError("limit must be within 1..200"), nil
	}
	ms, err := t.Store.ListMeetings(ctx, req.GetString("user_id", ""), limit)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return jsonResult(ms)
}

func (t *Tools) GetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("meeting_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := t.Store.GetMeeting(ctx, id)
	if errors.Is(err, models.ErrMeetingNotFound) {
		return mcp.NewToolResultError("meeting " + id + " not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	segs, err := t.Store.ListSegments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	items, err := t.Store.ListActionItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	return mcp.NewToolResultText(export.RenderMarkdown(m, segs, items)), nil
}

func (t *Tools) ListActionItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("meeting_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := t.Store.GetMeeting(ctx, id); errors.Is(err, models.ErrMeetingNotFound) {
		return mcp.NewToolResultError("meeting " + id + " not found"), nil
	} else if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	items, err := t.Store.ListActionItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	return jsonResult(items)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
