// Package llm wraps the Anthropic Messages API for the three calls a chat
// turn makes: the conversational reply, check-in extraction and the
// update/delete classification.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bevel/coach/internal/prompts"
)

// Call names passed to Observer.
const (
	CallReply    = "reply"
	CallExtract  = "extract"
	CallClassify = "classify"
)

var (
	// ErrEmptyReply is returned when the reply call produced no text.
	ErrEmptyReply = errors.New("no text block in response")
	// ErrNoToolCall is returned when the model did not call the expected tool.
	ErrNoToolCall = errors.New("no tool call in response")
	// ErrMalformedToolInput is returned when tool input does not match its schema.
	ErrMalformedToolInput = errors.New("malformed tool input")
)

// Role is the speaker of a conversation turn as the model sees it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation history.
type Turn struct {
	Role Role
	Text string
}

// Observer is notified after every API call.
type Observer func(call string, d time.Duration, err error)

// Options configures models, token limits and prompts.
type Options struct {
	ChatModel     string
	ExtractModel  string
	ClassifyModel string
	ChatMaxTokens int
	ToolMaxTokens int
	// ChatSystemPrompt is sent with the reply call when non-empty.
	ChatSystemPrompt string
	Prompts          prompts.Set
	Observer         Observer
}

// Client issues the chat-turn calls against the Messages API.
type Client struct {
	api  anthropic.Client
	opts Options
}

// New creates a Client. Request options are passed to the Anthropic SDK;
// without option.WithAPIKey the SDK reads ANTHROPIC_API_KEY.
func New(opts Options, reqOpts ...option.RequestOption) *Client {
	if opts.ChatMaxTokens <= 0 {
		opts.ChatMaxTokens = 1024
	}
	if opts.ToolMaxTokens <= 0 {
		opts.ToolMaxTokens = 250
	}
	if opts.Prompts.Create == "" {
		opts.Prompts.Create = prompts.CreateCheckIn
	}
	if opts.Prompts.Update == "" {
		opts.Prompts.Update = prompts.UpdateOrDeleteCheckIn
	}
	return &Client{api: anthropic.NewClient(reqOpts...), opts: opts}
}

// Reply generates the coach's conversational answer to the history, whose
// last turn is the current user message.
func (c *Client) Reply(ctx context.Context, history []Turn) (string, error) {
	messages := toMessageParams(history)
	if len(messages) == 0 {
		return "", fmt.Errorf("reply: empty conversation")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.ChatModel),
		MaxTokens: int64(c.opts.ChatMaxTokens),
		Messages:  messages,
	}
	if c.opts.ChatSystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.opts.ChatSystemPrompt}}
	}

	msg, err := c.call(ctx, CallReply, params)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyReply
	}
	return strings.Join(parts, ""), nil
}

func (c *Client) call(ctx context.Context, name string, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	start := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	if c.opts.Observer != nil {
		c.opts.Observer(name, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("anthropic %s: %w", name, err)
	}
	return msg, nil
}

// toMessageParams converts turns into Messages API params. Consecutive turns
// from the same role are merged, blank turns are dropped, and leading
// assistant turns are skipped since a conversation must open with the user.
func toMessageParams(history []Turn) []anthropic.MessageParam {
	var merged []Turn
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		role := t.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if len(merged) == 0 && role == RoleAssistant {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == role {
			merged[n-1].Text += "\n\n" + text
			continue
		}
		merged = append(merged, Turn{Role: role, Text: text})
	}

	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, t := range merged {
		block := anthropic.NewTextBlock(t.Text)
		if t.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
