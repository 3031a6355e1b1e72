package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/bevel/coach/internal/db"
)

const readOnlyMessage = "check-in changes are disabled (server started with --read-only)"

// --- Tool Definitions ---

func listCheckInsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_checkins",
		"List scheduled check-ins, newest first, optionally filtered by status.",
		[]byte(`{
			"type": "object",
			"properties": {
				"status": {
					"type": "string",
					"enum": ["active", "completed", "dismissed"],
					"description": "Only return check-ins with this status"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum number of check-ins (default 50)"
				},
				"offset": {
					"type": "integer",
					"description": "Number of check-ins to skip"
				}
			}
		}`),
	)
}

func getCheckInTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"get_checkin",
		"Get a single check-in by event ID.",
		[]byte(`{
			"type": "object",
			"properties": {
				"event_id": {
					"type": "integer",
					"description": "Check-in event ID"
				}
			},
			"required": ["event_id"]
		}`),
	)
}

func updateCheckInTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"update_checkin",
		"Change the time, message or category of a check-in. Omitted fields are kept.",
		[]byte(`{
			"type": "object",
			"properties": {
				"event_id": {
					"type": "integer",
					"description": "Check-in event ID"
				},
				"check_in_time": {
					"type": "string",
					"format": "date-time",
					"description": "New ISO-8601 time, e.g. 2025-12-15T18:00:00"
				},
				"message_content": {
					"type": "string",
					"description": "New reminder text shown to the user"
				},
				"category": {
					"type": "string",
					"description": "New category, e.g. workout, sleep, medication"
				}
			},
			"required": ["event_id"]
		}`),
	)
}

func setCheckInStatusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"set_checkin_status",
		"Mark a check-in active, completed or dismissed.",
		[]byte(`{
			"type": "object",
			"properties": {
				"event_id": {
					"type": "integer",
					"description": "Check-in event ID"
				},
				"status": {
					"type": "string",
					"enum": ["active", "completed", "dismissed"]
				}
			},
			"required": ["event_id", "status"]
		}`),
	)
}

func deleteCheckInTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"delete_checkin",
		"Delete one or more check-ins.",
		[]byte(`{
			"type": "object",
			"properties": {
				"event_ids": {
					"type": "array",
					"items": {"type": "integer"},
					"description": "Check-in event IDs to delete"
				}
			},
			"required": ["event_ids"]
		}`),
	)
}

// --- Tool Handlers ---

// checkInResult mirrors a check-in row.
type checkInResult struct {
	EventID        int64  `json:"event_id"`
	MessageContent string `json:"message_content"`
	CheckInTime    string `json:"check_in_time"`
	Category       string `json:"category"`
	CreatedAt      string `json:"created_at"`
	Status         string `json:"status"`
}

func toResult(c db.CheckIn) checkInResult {
	return checkInResult{
		EventID:        c.EventID,
		MessageContent: c.MessageContent,
		CheckInTime:    c.CheckInTime,
		Category:       c.Category,
		CreatedAt:      c.CreatedAt,
		Status:         c.Status,
	}
}

type listArgs struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (s *Server) handleListCheckIns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Limit <= 0 {
		args.Limit = 50
	}
	if args.Offset < 0 {
		return mcp.NewToolResultError("offset must be non-negative"), nil
	}

	var status *string
	if args.Status != "" {
		if !validStatus(args.Status) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", args.Status)), nil
		}
		status = &args.Status
	}

	checkIns, err := s.db.ListCheckIns(ctx, status, args.Limit, args.Offset)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list check-ins: %v", err)), nil
	}

	results := make([]checkInResult, len(checkIns))
	for i, c := range checkIns {
		results[i] = toResult(c)
	}
	return resultJSON(results)
}

type idArgs struct {
	EventID int64 `json:"event_id"`
}

func (s *Server) handleGetCheckIn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args idArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.EventID <= 0 {
		return mcp.NewToolResultError("event_id is required"), nil
	}

	c, err := s.db.GetCheckIn(ctx, args.EventID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get check-in: %v", err)), nil
	}
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("check-in %d not found", args.EventID)), nil
	}
	return resultJSON(toResult(*c))
}

type updateArgs struct {
	EventID        int64   `json:"event_id"`
	CheckInTime    *string `json:"check_in_time"`
	MessageContent *string `json:"message_content"`
	Category       *string `json:"category"`
}

func (s *Server) handleUpdateCheckIn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.readOnly {
		return mcp.NewToolResultError(readOnlyMessage), nil
	}

	var args updateArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.EventID <= 0 {
		return mcp.NewToolResultError("event_id is required"), nil
	}

	c, err := s.db.GetCheckIn(ctx, args.EventID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get check-in: %v", err)), nil
	}
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("check-in %d not found", args.EventID)), nil
	}

	if args.CheckInTime != nil {
		c.CheckInTime = strings.TrimSpace(*args.CheckInTime)
	}
	if args.MessageContent != nil {
		c.MessageContent = strings.TrimSpace(*args.MessageContent)
	}
	if args.Category != nil {
		c.Category = strings.TrimSpace(*args.Category)
	}

	if err := s.db.UpdateCheckIn(ctx, c); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update check-in: %v", err)), nil
	}

	s.log.Info("updated check-in", zap.Int64("event_id", c.EventID))
	return resultJSON(toResult(*c))
}

type statusArgs struct {
	EventID int64  `json:"event_id"`
	Status  string `json:"status"`
}

func (s *Server) handleSetCheckInStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.readOnly {
		return mcp.NewToolResultError(readOnlyMessage), nil
	}

	var args statusArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.EventID <= 0 || args.Status == "" {
		return mcp.NewToolResultError("event_id and status are required"), nil
	}
	if !validStatus(args.Status) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", args.Status)), nil
	}

	c, err := s.db.GetCheckIn(ctx, args.EventID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get check-in: %v", err)), nil
	}
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("check-in %d not found", args.EventID)), nil
	}

	if err := s.db.SetCheckInStatus(ctx, args.EventID, args.Status); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("set status: %v", err)), nil
	}
	c.Status = args.Status

	s.log.Info("set check-in status", zap.Int64("event_id", c.EventID), zap.String("status", c.Status))
	return resultJSON(toResult(*c))
}

type deleteArgs struct {
	EventIDs []int64 `json:"event_ids"`
}

// deleteResult is the success response for delete_checkin.
type deleteResult struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleDeleteCheckIn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.readOnly {
		return mcp.NewToolResultError(readOnlyMessage), nil
	}

	var args deleteArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if len(args.EventIDs) == 0 {
		return mcp.NewToolResultError("event_ids is required"), nil
	}

	n, err := s.db.DeleteCheckIns(ctx, args.EventIDs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete check-ins: %v", err)), nil
	}

	s.log.Info("deleted check-ins", zap.Int64s("event_ids", args.EventIDs), zap.Int64("rows", n))
	return resultJSON(deleteResult{Deleted: n})
}

func validStatus(s string) bool {
	switch s {
	case db.StatusActive, db.StatusCompleted, db.StatusDismissed:
		return true
	}
	return false
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
