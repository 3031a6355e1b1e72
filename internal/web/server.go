package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/bevel/coach/api"
	"github.com/bevel/coach/internal/coach"
	"github.com/bevel/coach/internal/config"
	"github.com/bevel/coach/internal/db"
	"github.com/bevel/coach/internal/hub"
	"github.com/bevel/coach/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

// Chat runs one chat turn.
type Chat interface {
	SendMessage(ctx context.Context, chatID, message string, history []coach.Message) (*coach.Result, error)
}

// EventHub is the subset of hub.Hub the server streams from and publishes to.
type EventHub interface {
	Subscribe(chatID string) (<-chan hub.Event, func())
	Publish(ev hub.Event)
}

// ServerOption configures optional Server features.
type ServerOption func(*Server)

// WithLogger sets the server logger. The default discards output.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRedactor sets the filter applied to error details sent to clients.
func WithRedactor(r *Redactor) ServerOption {
	return func(s *Server) { s.redact = r }
}

// Server is the HTTP server for the coach backend.
type Server struct {
	cfg      *config.Config
	chat     Chat
	db       *db.DB
	hub      EventHub
	metrics  *metrics.Metrics
	log      *zap.Logger
	redact   *Redactor
	validate *validator.Validate
	md       goldmark.Markdown
	mux      *http.ServeMux
	tmpl     *template.Template
	server   *http.Server
}

// New creates a new web server. hub may be nil, in which case the event
// stream endpoints report that streaming is unavailable.
func New(cfg *config.Config, chat Chat, database *db.DB, h EventHub, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		chat:     chat,
		db:       database,
		hub:      h,
		log:      zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.redact == nil {
		s.redact = NewRedactor(nil)
	}

	s.parseTemplates()
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE needs no write timeout
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the mux wrapped in the middleware chain. Metrics sit
// closest to the mux so they see the matched route pattern.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	h = s.requestLogger(h)
	h = s.cors(h)
	return h
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) parseTemplates() {
	funcMap := template.FuncMap{
		"statusClass": func(status string) string {
			switch status {
			case db.StatusActive:
				return "status-active"
			case db.StatusCompleted:
				return "status-completed"
			case db.StatusDismissed:
				return "status-dismissed"
			default:
				return "status-unknown"
			}
		},
		"renderMarkdown": func(md string) template.HTML {
			var buf bytes.Buffer
			if err := s.md.Convert([]byte(md), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(md))
			}
			return template.HTML(buf.String())
		},
	}

	s.tmpl = template.Must(
		template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"),
	)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Chat
	s.mux.HandleFunc("POST /api/chat/{chat_id}/send", s.handleSendMessage)
	s.mux.HandleFunc("GET /api/chat/{chat_id}/events", s.handleChatEvents)

	// Check-in API
	s.mux.Handle("GET /api/v1/checkins", s.requireAPIKey(s.handleAPIListCheckIns))
	s.mux.Handle("POST /api/v1/checkins", s.requireAPIKey(s.handleAPICreateCheckIn))
	s.mux.Handle("GET /api/v1/checkins/events", s.requireAPIKey(s.handleAllEvents))
	s.mux.Handle("GET /api/v1/checkins/{id}", s.requireAPIKey(s.handleAPIGetCheckIn))
	s.mux.Handle("PUT /api/v1/checkins/{id}", s.requireAPIKey(s.handleAPIUpdateCheckIn))
	s.mux.Handle("DELETE /api/v1/checkins/{id}", s.requireAPIKey(s.handleAPIDeleteCheckIn))

	// Dashboard
	s.mux.HandleFunc("GET /checkins", s.handleCheckIns)
	s.mux.Handle("POST /checkins/{id}/status", s.sameOrigin(s.handleCheckInStatus))
	s.mux.Handle("POST /checkins/{id}/delete", s.sameOrigin(s.handleCheckInDelete))

	s.mux.HandleFunc("GET /api/openapi.yaml", s.handleOpenAPISpec)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// render executes a template. If HX-Request header is set, render just the
// content block; otherwise render the full layout wrapping the content.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") != "" {
		_, _ = w.Write(buf.Bytes())
		return
	}

	layoutData := struct {
		Page    string
		Content template.HTML
		Version string
	}{
		Page:    name,
		Content: template.HTML(buf.String()),
		Version: config.Version,
	}
	if err := s.tmpl.ExecuteTemplate(w, "layout.html", layoutData); err != nil {
		s.log.Error("render layout", zap.String("template", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from coach backend"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}
