package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/goccy/go-json"

	"github.com/bevel/coach/internal/db"
)

// Tool names the model is offered.
const (
	ScheduleCheckinTool       = "schedule_checkin"
	UpdateOrDeleteCheckinTool = "update_or_delete_checkin"
)

// Action is the classification result for an existing check-in.
type Action string

const (
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNone   Action = "none"
)

// NewCheckIn is one check-in the extraction call asked to schedule.
type NewCheckIn struct {
	Category       string `json:"category"`
	CheckInTime    string `json:"check_in_time"`
	MessageContent string `json:"message_content"`
}

// Change is the classification call's verdict on existing check-ins.
type Change struct {
	EventIDs       IDList `json:"event_ids"`
	Action         Action `json:"action"`
	UpdatedTime    string `json:"updated_time"`
	UpdatedMessage string `json:"updated_message"`
}

// IDList accepts event IDs as strings or numbers, a single value, or null.
type IDList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *IDList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if !strings.HasPrefix(trimmed, "[") {
		trimmed = "[" + trimmed + "]"
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch id := v.(type) {
		case string:
			out = append(out, id)
		case json.Number:
			out = append(out, integralID(id))
		default:
			return fmt.Errorf("event id %v has type %T", v, v)
		}
	}
	*l = out
	return nil
}

// integralID normalizes whole numbers such as 3 or 3.0 to "3". Anything
// else is returned as written so Int64s reports it as invalid.
func integralID(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 1 || f >= math.MaxInt64 {
		return n.String()
	}
	return strconv.FormatInt(int64(f), 10)
}

// Int64s parses the IDs, returning the valid ones and the rejected values.
func (l IDList) Int64s() (ids []int64, invalid []string) {
	for _, s := range l {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil || id <= 0 {
			invalid = append(invalid, s)
			continue
		}
		ids = append(ids, id)
	}
	return ids, invalid
}

var scheduleCheckinParam = anthropic.ToolParam{
	Name:        ScheduleCheckinTool,
	Description: anthropic.String("Create scheduled check-ins for the user if applicable"),
	InputSchema: anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"checkins": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category":        map[string]any{"type": "string"},
						"check_in_time":   map[string]any{"type": "string", "format": "date-time"},
						"message_content": map[string]any{"type": "string"},
					},
					"required": []string{"category", "check_in_time", "message_content"},
				},
			},
		},
		Required: []string{"checkins"},
	},
}

var updateOrDeleteCheckinParam = anthropic.ToolParam{
	Name:        UpdateOrDeleteCheckinTool,
	Description: anthropic.String("Update or delete a check-in for the user if applicable"),
	InputSchema: anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"event_ids": map[string]any{
				"type":  []string{"array", "null"},
				"items": map[string]any{"type": "string"},
			},
			"action": map[string]any{
				"type": "string",
				"enum": []string{string(ActionUpdate), string(ActionDelete), string(ActionNone)},
			},
			"updated_time":    map[string]any{"type": "string", "format": "date-time"},
			"updated_message": map[string]any{"type": "string"},
		},
		Required: []string{"action", "event_ids"},
	},
}

// ExtractCheckIns asks the model which new check-ins the user message calls
// for. The model may decline to call the tool, which yields no check-ins.
func (c *Client) ExtractCheckIns(ctx context.Context, existing []db.CheckIn, userMessage string) ([]NewCheckIn, error) {
	msg, err := c.call(ctx, CallExtract, c.toolParams(c.opts.ExtractModel, c.opts.Prompts.Create, existing, userMessage,
		scheduleCheckinParam, anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}))
	if err != nil {
		return nil, err
	}

	input, err := toolInput(msg, ScheduleCheckinTool)
	if errors.Is(err, ErrNoToolCall) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var args struct {
		CheckIns []NewCheckIn `json:"checkins"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedToolInput, ScheduleCheckinTool, err)
	}
	return args.CheckIns, nil
}

// ClassifyChange forces the update/delete tool and returns its verdict.
func (c *Client) ClassifyChange(ctx context.Context, existing []db.CheckIn, userMessage string) (*Change, error) {
	msg, err := c.call(ctx, CallClassify, c.toolParams(c.opts.ClassifyModel, c.opts.Prompts.Update, existing, userMessage,
		updateOrDeleteCheckinParam, anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: UpdateOrDeleteCheckinTool}}))
	if err != nil {
		return nil, err
	}

	input, err := toolInput(msg, UpdateOrDeleteCheckinTool)
	if err != nil {
		return nil, err
	}

	var change Change
	if err := json.Unmarshal(input, &change); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedToolInput, UpdateOrDeleteCheckinTool, err)
	}
	switch change.Action {
	case ActionUpdate, ActionDelete, ActionNone:
	default:
		return nil, fmt.Errorf("%w: %s: unknown action %q", ErrMalformedToolInput, UpdateOrDeleteCheckinTool, change.Action)
	}
	return &change, nil
}

func (c *Client) toolParams(model, system string, existing []db.CheckIn, userMessage string, tool anthropic.ToolParam, choice anthropic.ToolChoiceUnionParam) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(c.opts.ToolMaxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(ExistingCheckInsMessage(existing)),
				anthropic.NewTextBlock(userMessage),
			),
		},
		Tools:      []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: choice,
	}
}

// existingCheckIn is the JSON shape check-ins are shown to the model in.
type existingCheckIn struct {
	EventID        int64  `json:"event_id"`
	MessageContent string `json:"message_content"`
	CheckInTime    string `json:"check_in_time"`
	Category       string `json:"category"`
	CreatedAt      string `json:"created_at"`
	Status         string `json:"status"`
}

// ExistingCheckInsMessage renders active check-ins as the context message
// that precedes the user's message in both structured calls.
func ExistingCheckInsMessage(existing []db.CheckIn) string {
	view := make([]existingCheckIn, len(existing))
	for i, c := range existing {
		view[i] = existingCheckIn{
			EventID:        c.EventID,
			MessageContent: c.MessageContent,
			CheckInTime:    c.CheckInTime,
			Category:       c.Category,
			CreatedAt:      c.CreatedAt,
			Status:         c.Status,
		}
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	return "Here are the user's existing active check-ins:\n" + string(data)
}

// toolInput returns the raw input of the first call to the named tool.
func toolInput(msg *anthropic.Message, name string) ([]byte, error) {
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == name {
			if len(block.Input) == 0 {
				return nil, fmt.Errorf("%w: %s: empty input", ErrMalformedToolInput, name)
			}
			return block.Input, nil
		}
	}
	return nil, ErrNoToolCall
}
