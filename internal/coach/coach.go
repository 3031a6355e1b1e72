// Package coach handles one chat turn: the conversational reply plus the
// side path that keeps the user's check-ins in sync with what they said.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bevel/coach/internal/db"
	"github.com/bevel/coach/internal/hub"
	"github.com/bevel/coach/internal/llm"
)

// Senders as they appear in the conversation payload.
const (
	SenderUser  = "User"
	SenderCoach = "Coach"
)

// ErrEmptyMessage is returned when the user message is blank.
var ErrEmptyMessage = errors.New("message is required")

// Message is one entry of the client-held conversation.
type Message struct {
	Text      string `json:"text"`
	Sender    string `json:"sender" validate:"required,oneof=User Coach"`
	Timestamp string `json:"timestamp"`
}

// Conversation is the full client-held history.
type Conversation struct {
	Messages []Message `json:"messages" validate:"dive"`
}

// Outcome summarizes what the side path did to the check-in table.
type Outcome struct {
	Action   string  // created, updated, deleted or none
	EventIDs []int64 // rows written
}

// Result is the response of a chat turn.
type Result struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
	Outcome      Outcome      `json:"-"`
}

// Model is the subset of llm.Client used by a chat turn.
type Model interface {
	Reply(ctx context.Context, history []llm.Turn) (string, error)
	ExtractCheckIns(ctx context.Context, existing []db.CheckIn, userMessage string) ([]llm.NewCheckIn, error)
	ClassifyChange(ctx context.Context, existing []db.CheckIn, userMessage string) (*llm.Change, error)
}

// Store is the subset of db.DB used by a chat turn.
type Store interface {
	ActiveCheckIns(ctx context.Context, since time.Time) ([]db.CheckIn, error)
	InsertCheckIn(ctx context.Context, c *db.CheckIn) (int64, error)
	UpdateCheckIns(ctx context.Context, ids []int64, checkInTime, message string) (int64, error)
	DeleteCheckIns(ctx context.Context, ids []int64) (int64, error)
}

// Publisher receives check-in change events.
type Publisher interface {
	Publish(ev hub.Event)
}

// Recorder counts check-in writes.
type Recorder interface {
	CheckInWrites(action string, n int)
}

// Options holds the optional collaborators of a Service.
type Options struct {
	// Window bounds which check-ins count as existing. Defaults to 7 days.
	Window  time.Duration
	Events  Publisher
	Metrics Recorder
	Logger  *zap.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service runs chat turns.
type Service struct {
	model  Model
	store  Store
	events Publisher
	rec    Recorder
	log    *zap.Logger
	window time.Duration
	now    func() time.Time
}

// New creates a Service.
func New(model Model, store Store, opts Options) *Service {
	s := &Service{
		model:  model,
		store:  store,
		events: opts.Events,
		rec:    opts.Metrics,
		log:    opts.Logger,
		window: opts.Window,
		now:    opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.window <= 0 {
		s.window = 7 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SendMessage replies to message given the prior conversation, then creates,
// updates or deletes check-ins based on what the user said. Only the reply
// call and transport failures of the side calls fail the turn; storage
// errors and unusable tool output are logged.
func (s *Service) SendMessage(ctx context.Context, chatID, message string, history []Message) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	log := s.log.With(zap.String("chat_id", chatID))

	reply, err := s.model.Reply(ctx, Turns(history, message))
	if err != nil {
		return nil, err
	}

	outcome, err := s.syncCheckIns(ctx, log, chatID, message)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339)
	userMsg := Message{Text: message, Sender: SenderUser, Timestamp: now}
	coachMsg := Message{Text: reply, Sender: SenderCoach, Timestamp: now}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages, userMsg, coachMsg)

	log.Debug("chat turn complete",
		zap.Int("history", len(history)),
		zap.String("checkin_action", outcome.Action),
		zap.Int64s("event_ids", outcome.EventIDs),
	)
	return &Result{
		Message:      coachMsg,
		Conversation: Conversation{Messages: messages},
		Outcome:      outcome,
	}, nil
}

// Turns maps the conversation into model turns and appends the current
// message as the final user turn.
func Turns(history []Message, message string) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Sender == SenderCoach {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Text: m.Text})
	}
	return append(turns, llm.Turn{Role: llm.RoleUser, Text: message})
}

func (s *Service) syncCheckIns(ctx context.Context, log *zap.Logger, chatID, message string) (Outcome, error) {
	active, err := s.store.ActiveCheckIns(ctx, s.now().Add(-s.window))
	if err != nil {
		log.Error("load active check-ins", zap.Error(err))
		active = nil
	}

	outcome, handled, err := s.applyChange(ctx, log, chatID, active, message)
	if err != nil || handled {
		return outcome, err
	}
	return s.schedule(ctx, log, chatID, active, message)
}

// applyChange runs the classification call. handled reports whether the
// message was about existing check-ins, in which case extraction is skipped.
func (s *Service) applyChange(ctx context.Context, log *zap.Logger, chatID string, active []db.CheckIn, message string) (Outcome, bool, error) {
	none := Outcome{Action: "none"}

	change, err := s.model.ClassifyChange(ctx, active, message)
	if errors.Is(err, llm.ErrNoToolCall) || errors.Is(err, llm.ErrMalformedToolInput) {
		log.Warn("unusable classification output", zap.Error(err))
		return none, false, nil
	}
	if err != nil {
		return none, false, fmt.Errorf("classify check-in change: %w", err)
	}
	if change.Action != llm.ActionUpdate && change.Action != llm.ActionDelete {
		return none, false, nil
	}

	ids, invalid := change.EventIDs.Int64s()
	if len(invalid) > 0 {
		log.Warn("ignoring invalid event ids", zap.Strings("event_ids", invalid))
	}
	if len(ids) == 0 {
		log.Info("change without event ids", zap.String("action", string(change.Action)))
		return none, true, nil
	}

	switch change.Action {
	case llm.ActionDelete:
		n, err := s.store.DeleteCheckIns(ctx, ids)
		if err != nil {
			log.Error("delete check-ins", zap.Int64s("event_ids", ids), zap.Error(err))
			return none, true, nil
		}
		if n == 0 {
			log.Warn("no check-ins matched delete", zap.Int64s("event_ids", ids))
			return none, true, nil
		}
		log.Info("deleted check-ins", zap.Int64s("event_ids", ids), zap.Int64("rows", n))
		s.record(hub.KindDeleted, int(n))
		s.publish(hub.Event{Kind: hub.KindDeleted, ChatID: chatID, EventIDs: ids})
		return Outcome{Action: "deleted", EventIDs: ids}, true, nil

	default:
		n, err := s.store.UpdateCheckIns(ctx, ids, change.UpdatedTime, change.UpdatedMessage)
		if errors.Is(err, db.ErrIncompleteCheckIn) {
			log.Warn("update without a time", zap.Int64s("event_ids", ids))
			return none, true, nil
		}
		if err != nil {
			log.Error("update check-ins", zap.Int64s("event_ids", ids), zap.Error(err))
			return none, true, nil
		}
		if n == 0 {
			log.Warn("no check-ins matched update", zap.Int64s("event_ids", ids))
			return none, true, nil
		}
		log.Info("updated check-ins", zap.Int64s("event_ids", ids), zap.Int64("rows", n))
		s.record(hub.KindUpdated, int(n))
		s.publish(hub.Event{
			Kind:     hub.KindUpdated,
			ChatID:   chatID,
			EventIDs: ids,
			Time:     change.UpdatedTime,
			Message:  change.UpdatedMessage,
		})
		return Outcome{Action: "updated", EventIDs: ids}, true, nil
	}
}

func (s *Service) schedule(ctx context.Context, log *zap.Logger, chatID string, active []db.CheckIn, message string) (Outcome, error) {
	candidates, err := s.model.ExtractCheckIns(ctx, active, message)
	if errors.Is(err, llm.ErrMalformedToolInput) {
		log.Warn("unusable extraction output", zap.Error(err))
		return Outcome{Action: "none"}, nil
	}
	if err != nil {
		return Outcome{Action: "none"}, fmt.Errorf("extract check-ins: %w", err)
	}

	var created []int64
	for _, cand := range candidates {
		c := &db.CheckIn{
			Category:       strings.TrimSpace(cand.Category),
			CheckInTime:    strings.TrimSpace(cand.CheckInTime),
			MessageContent: strings.TrimSpace(cand.MessageContent),
			CreatedAt:      s.now().UTC().Format(time.RFC3339),
		}
		id, err := s.store.InsertCheckIn(ctx, c)
		if errors.Is(err, db.ErrIncompleteCheckIn) {
			log.Warn("skipping incomplete check-in", zap.Error(err))
			s.record("skipped", 1)
			continue
		}
		if err != nil {
			log.Error("save check-in", zap.String("category", c.Category), zap.Error(err))
			continue
		}
		created = append(created, id)
		s.publish(hub.Event{
			Kind:     hub.KindCreated,
			ChatID:   chatID,
			EventIDs: []int64{id},
			Category: c.Category,
			Time:     c.CheckInTime,
			Message:  c.MessageContent,
			Status:   db.StatusActive,
		})
	}

	if len(created) == 0 {
		return Outcome{Action: "none"}, nil
	}
	log.Info("scheduled check-ins", zap.Int64s("event_ids", created))
	s.record(hub.KindCreated, len(created))
	return Outcome{Action: "created", EventIDs: created}, nil
}

func (s *Service) publish(ev hub.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

func (s *Service) record(action string, n int) {
	if s.rec != nil {
		s.rec.CheckInWrites(action, n)
	}
}
