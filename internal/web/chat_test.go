package web

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/bevel/coach/internal/coach"
	"github.com/bevel/coach/internal/hub"
)

func postChat(e *testEnv, chatID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/chat/"+chatID+"/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func TestSendMessageSuccess(t *testing.T) {
	e := newTestEnv(t)
	body := `{"message":"I ran 5k","conversation":{"messages":[` +
		`{"text":"Hi","sender":"User","timestamp":"2025-12-15T13:00:00Z"},` +
		`{"text":"Hello!","sender":"Coach","timestamp":"2025-12-15T13:00:01Z"}]}}`

	w := postChat(e, "chat-42", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if e.chat.chatID != "chat-42" || e.chat.message != "I ran 5k" || len(e.chat.history) != 2 {
		t.Fatalf("unexpected call %+v", e.chat)
	}

	var resp SendMessageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message.Sender != coach.SenderCoach || resp.Message.Text != "Nice work!" {
		t.Fatalf("unexpected message %+v", resp.Message)
	}
	if len(resp.Conversation.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(resp.Conversation.Messages))
	}
}

func TestSendMessageWithoutConversation(t *testing.T) {
	e := newTestEnv(t)
	w := postChat(e, "c1", `{"message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(e.chat.history) != 0 {
		t.Fatalf("expected empty history, got %+v", e.chat.history)
	}
}

func TestSendMessageEmpty(t *testing.T) {
	e := newTestEnv(t)

	for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `{}`} {
		w := postChat(e, "c1", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Message is required") {
			t.Fatalf("%s: unexpected body %s", body, w.Body.String())
		}
	}
	if e.chat.message != "" {
		t.Fatal("chat should not be called for an empty message")
	}
}

func TestSendMessageInvalidJSON(t *testing.T) {
	e := newTestEnv(t)
	w := postChat(e, "c1", `{"message":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSendMessageInvalidSender(t *testing.T) {
	e := newTestEnv(t)
	w := postChat(e, "c1", `{"message":"hi","conversation":{"messages":[{"text":"x","sender":"Robot"}]}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "oneof") {
		t.Fatalf("expected validation detail, got %s", w.Body.String())
	}
}

func TestSendMessageFailureIsRedacted(t *testing.T) {
	e := newTestEnv(t)
	e.chat.err = errors.New("anthropic reply: 401 invalid x-api-key sk-ant-secret-value")

	w := postChat(e, "c1", `{"message":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	var resp ChatErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "Failed to process chat message" {
		t.Fatalf("unexpected error %q", resp.Error)
	}
	if strings.Contains(resp.Details, "sk-ant-secret-value") {
		t.Fatalf("secret leaked in details: %q", resp.Details)
	}
	if !strings.Contains(resp.Details, "401 invalid x-api-key [REDACTED:ANTHROPIC_API_KEY]") {
		t.Fatalf("expected redacted details, got %q", resp.Details)
	}
}

func TestSendMessageServiceRejectsEmpty(t *testing.T) {
	e := newTestEnv(t)
	e.chat.err = coach.ErrEmptyMessage

	w := postChat(e, "c1", `{"message":"\u200b"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// readEvent reads one SSE frame, skipping retry and comment frames.
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			return event, data
		}
	}
}

func TestChatEventsStream(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	e.hub.Publish(hub.Event{Kind: hub.KindCreated, ChatID: "c1", EventIDs: []int64{7}, Category: "workout"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/chat/c1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	event, data := readEvent(t, r)
	if event != hub.KindCreated {
		t.Fatalf("expected created event, got %q", event)
	}
	var ev hub.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.EventIDs[0] != 7 || ev.Category != "workout" {
		t.Fatalf("unexpected event %+v", ev)
	}

	e.hub.Close("c1")
	if event, _ := readEvent(t, r); event != "done" {
		t.Fatalf("expected done after close, got %q", event)
	}
}

func TestAllEventsRequiresAPIKey(t *testing.T) {
	e := newTestEnvWithConfigKey(t, "k")
	w := e.do(httptest.NewRequest("GET", "/api/v1/checkins/events", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestChatEventsRejectsWildcard(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(httptest.NewRequest("GET", "/api/chat/*/events", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
