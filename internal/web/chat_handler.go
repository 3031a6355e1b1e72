package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/bevel/coach/internal/coach"
	"github.com/bevel/coach/internal/hub"
)

// handleSendMessage handles POST /api/chat/{chat_id}/send.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if err := s.validate.Struct(req.Conversation); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	res, err := s.chat.SendMessage(r.Context(), chatID, req.Message, req.Conversation.Messages)
	if errors.Is(err, coach.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if err != nil {
		s.log.Error("chat turn failed",
			zap.String("chat_id", chatID),
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ChatErrorResponse{
			Error:   "Failed to process chat message",
			Details: s.redact.Redact(err.Error()),
		})
		return
	}

	writeJSON(w, http.StatusOK, SendMessageResponse{
		Message:      res.Message,
		Conversation: res.Conversation,
	})
}

// handleChatEvents streams check-in changes made by one chat's turns.
func (s *Server) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	if chatID == hub.AllChats {
		writeError(w, http.StatusBadRequest, "invalid chat ID")
		return
	}
	s.streamEvents(w, r, chatID)
}

// handleAllEvents streams every check-in change.
func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, hub.AllChats)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_, _ = fmt.Fprintf(w, "retry: 5000\n\n")
	flusher.Flush()

	if s.hub == nil {
		_, _ = fmt.Fprintf(w, "event: error\ndata: event stream not available\n\n")
		flusher.Flush()
		return
	}

	ch, unsubscribe := s.hub.Subscribe(topic)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				_, _ = fmt.Fprintf(w, "event: done\ndata: stream closed\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encode event", zap.Error(err))
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
