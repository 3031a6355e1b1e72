package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bevel/coach/internal/coach"
	"github.com/bevel/coach/internal/config"
	"github.com/bevel/coach/internal/db"
	"github.com/bevel/coach/internal/hub"
	"github.com/bevel/coach/internal/metrics"
)

// fakeChat records the last turn and returns a canned result or error.
type fakeChat struct {
	chatID  string
	message string
	history []coach.Message
	reply   string
	err     error
}

func (f *fakeChat) SendMessage(_ context.Context, chatID, message string, history []coach.Message) (*coach.Result, error) {
	f.chatID, f.message, f.history = chatID, message, history
	if f.err != nil {
		return nil, f.err
	}
	reply := coach.Message{Text: f.reply, Sender: coach.SenderCoach, Timestamp: "2025-12-15T14:00:00Z"}
	msgs := append([]coach.Message{}, history...)
	msgs = append(msgs, coach.Message{Text: message, Sender: coach.SenderUser, Timestamp: "2025-12-15T14:00:00Z"}, reply)
	return &coach.Result{Message: reply, Conversation: coach.Conversation{Messages: msgs}}, nil
}

type testEnv struct {
	srv     *Server
	db      *db.DB
	hub     *hub.Hub
	chat    *fakeChat
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, &config.Config{})
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	h := hub.New(0, 0)
	chat := &fakeChat{reply: "Nice work!"}
	m := metrics.New()
	return &testEnv{
		srv: New(cfg, chat, database, h,
			WithMetrics(m),
			WithRedactor(NewRedactor(map[string]string{"ANTHROPIC_API_KEY": "sk-ant-secret-value"})),
		),
		db:      database,
		hub:     h,
		chat:    chat,
		metrics: m,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) insertCheckIn(t *testing.T, category, when, msg string) int64 {
	t.Helper()
	id, err := e.db.InsertCheckIn(context.Background(), &db.CheckIn{Category: category, CheckInTime: when, MessageContent: msg})
	if err != nil {
		t.Fatalf("InsertCheckIn: %v", err)
	}
	return id
}

func TestRootReturnsHello(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"message"`) {
		t.Fatalf("expected hello message, got %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"healthy"}` {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(httptest.NewRequest("GET", "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(httptest.NewRequest("GET", "/health", nil))
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Fatalf("expected generated UUID request ID, got %q", id)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	w = e.do(req)
	if id := w.Header().Get("X-Request-ID"); id != "client-id" {
		t.Fatalf("expected client request ID to be kept, got %q", id)
	}
}

func TestCORSDefaultOrigin(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := e.do(req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials allowed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = e.do(req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for unknown origin, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnvWithConfig(t, &config.Config{AllowedOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest("OPTIONS", "/api/chat/abc/send", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := e.do(req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("expected requested headers allowed, got %q", got)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatalf("expected POST allowed, got %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestOpenAPISpec(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(httptest.NewRequest("GET", "/api/openapi.yaml", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("expected application/yaml, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "/api/chat/{chat_id}/send") {
		t.Fatal("expected chat endpoint in OpenAPI document")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(httptest.NewRequest("GET", "/health", nil))

	w := e.do(httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `coach_http_requests_total{method="GET",route="GET /health",status="200"} 1`) {
		t.Fatalf("expected request counter for /health, got:\n%s", body)
	}
}

func TestDashboardRendersMarkdown(t *testing.T) {
	e := newTestEnv(t)
	e.insertCheckIn(t, "workout", "2025-12-15T16:00:00", "How was your **run**?")

	w := e.do(httptest.NewRequest("GET", "/checkins", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Fatal("expected full layout")
	}
	if !strings.Contains(body, "<strong>run</strong>") {
		t.Fatalf("expected markdown rendered, got:\n%s", body)
	}
	if !strings.Contains(body, "active (1)") {
		t.Fatal("expected status counts")
	}
}

func TestDashboardHTMXPartial(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("GET", "/checkins", nil)
	req.Header.Set("HX-Request", "true")
	w := e.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Fatal("HTMX partial should not include layout")
	}
	if !strings.Contains(w.Body.String(), "No check-ins yet.") {
		t.Fatal("expected empty state")
	}
}

func TestDashboardStatusFilter(t *testing.T) {
	e := newTestEnv(t)
	e.insertCheckIn(t, "workout", "2025-12-15T16:00:00", "still active")
	done := e.insertCheckIn(t, "sleep", "2025-12-15T22:00:00", "already done")
	_ = e.db.SetCheckInStatus(context.Background(), done, db.StatusCompleted)

	w := e.do(httptest.NewRequest("GET", "/checkins?status=completed", nil))
	body := w.Body.String()
	if strings.Contains(body, "still active") || !strings.Contains(body, "already done") {
		t.Fatalf("expected only completed check-ins, got:\n%s", body)
	}
}

func TestDashboardStatusForm(t *testing.T) {
	e := newTestEnv(t)
	id := e.insertCheckIn(t, "workout", "2025-12-15T16:00:00", "x")

	req := httptest.NewRequest("POST", "/checkins/1/status", strings.NewReader("status=dismissed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	c, _ := e.db.GetCheckIn(context.Background(), id)
	if c.Status != db.StatusDismissed {
		t.Fatalf("expected dismissed, got %q", c.Status)
	}

	req = httptest.NewRequest("POST", "/checkins/1/status", strings.NewReader("status=archived"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := e.do(req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/checkins/99/status", strings.NewReader("status=completed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := e.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing check-in, got %d", w.Code)
	}
}

func TestDashboardDeleteForm(t *testing.T) {
	e := newTestEnv(t)
	id := e.insertCheckIn(t, "workout", "2025-12-15T16:00:00", "x")

	w := e.do(httptest.NewRequest("POST", "/checkins/1/delete", nil))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if c, _ := e.db.GetCheckIn(context.Background(), id); c != nil {
		t.Fatal("expected check-in deleted")
	}
}

func TestDashboardFormsRejectCrossSite(t *testing.T) {
	e := newTestEnv(t)
	id := e.insertCheckIn(t, "workout", "2025-12-15T16:00:00", "x")

	req := httptest.NewRequest("POST", "/checkins/1/delete", nil)
	req.Header.Set("Origin", "https://evil.example")
	if w := e.do(req); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/checkins/1/status", strings.NewReader("status=dismissed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	if w := e.do(req); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-site fetch, got %d", w.Code)
	}

	c, _ := e.db.GetCheckIn(context.Background(), id)
	if c == nil || c.Status != db.StatusActive {
		t.Fatalf("check-in should be untouched, got %+v", c)
	}

	req = httptest.NewRequest("POST", "/checkins/1/delete", nil)
	req.Header.Set("Origin", "http://example.com")
	if w := e.do(req); w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 for same origin, got %d", w.Code)
	}
}

func TestRedactor(t *testing.T) {
	r := NewRedactor(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-abc/123",
		"EMPTY":             "",
	})

	got := r.Redact("401 from https://api?key=sk-ant-abc%2F123 using sk-ant-abc/123")
	if strings.Contains(got, "sk-ant-abc") {
		t.Fatalf("secret should be redacted, got %q", got)
	}
	if !strings.Contains(got, "[REDACTED:ANTHROPIC_API_KEY]") || !strings.Contains(got, "[REDACTED:ANTHROPIC_API_KEY:urlencoded]") {
		t.Fatalf("expected raw and urlencoded placeholders, got %q", got)
	}

	var nilRedactor *Redactor
	if got := nilRedactor.Redact("plain"); got != "plain" {
		t.Fatalf("nil redactor should pass through, got %q", got)
	}
}
