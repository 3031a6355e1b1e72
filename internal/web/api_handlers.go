package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/bevel/coach/internal/db"
	"github.com/bevel/coach/internal/hub"
)

// --- JSON Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireJSON checks the Content-Type header and returns false (with a 415 response) if it is not application/json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// parseLimitOffset extracts limit and offset query params with defaults and validation.
func parseLimitOffset(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// validationMessage turns validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()+": "+rule)
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// --- Check-in API ---

// handleAPIListCheckIns returns a paginated list of check-ins, optionally
// filtered by status.
func (s *Server) handleAPIListCheckIns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}

	checkIns, err := s.db.ListCheckIns(r.Context(), status, limit, offset)
	if err != nil {
		s.log.Error("list check-ins", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, APICheckInsResponse{CheckIns: toAPICheckIns(checkIns)})
}

func (s *Server) handleAPIGetCheckIn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid check-in ID")
		return
	}

	c, err := s.db.GetCheckIn(r.Context(), id)
	if err != nil {
		s.log.Error("get check-in", zap.Int64("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "check-in not found")
		return
	}

	writeJSON(w, http.StatusOK, toAPICheckIn(*c))
}

// handleAPICreateCheckIn schedules a check-in by hand.
func (s *Server) handleAPICreateCheckIn(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var req APICreateCheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.MessageContent = strings.TrimSpace(req.MessageContent)
	req.CheckInTime = strings.TrimSpace(req.CheckInTime)
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	c := &db.CheckIn{
		MessageContent: req.MessageContent,
		CheckInTime:    req.CheckInTime,
		Category:       req.Category,
	}
	id, err := s.db.InsertCheckIn(r.Context(), c)
	if err != nil {
		s.log.Error("create check-in", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if req.Status != "" && req.Status != db.StatusActive {
		if err := s.db.SetCheckInStatus(r.Context(), id, req.Status); err != nil {
			s.log.Error("set check-in status", zap.Int64("event_id", id), zap.Error(err))
		}
	}
	s.recordWrite(hub.KindCreated, 1)

	created, err := s.db.GetCheckIn(r.Context(), id)
	if err != nil || created == nil {
		writeJSON(w, http.StatusCreated, map[string]any{"event_id": id})
		return
	}
	s.publish(hub.Event{
		Kind:     hub.KindCreated,
		EventIDs: []int64{id},
		Category: created.Category,
		Time:     created.CheckInTime,
		Message:  created.MessageContent,
		Status:   created.Status,
	})
	writeJSON(w, http.StatusCreated, toAPICheckIn(*created))
}

// handleAPIUpdateCheckIn applies a partial update.
func (s *Server) handleAPIUpdateCheckIn(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid check-in ID")
		return
	}

	existing, err := s.db.GetCheckIn(r.Context(), id)
	if err != nil {
		s.log.Error("get check-in", zap.Int64("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "check-in not found")
		return
	}

	var req APIUpdateCheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	updated := *existing
	if req.MessageContent != nil {
		updated.MessageContent = strings.TrimSpace(*req.MessageContent)
	}
	if req.CheckInTime != nil {
		updated.CheckInTime = strings.TrimSpace(*req.CheckInTime)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Status != nil {
		updated.Status = *req.Status
	}

	if err := s.db.UpdateCheckIn(r.Context(), &updated); err != nil {
		if errors.Is(err, db.ErrIncompleteCheckIn) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("update check-in", zap.Int64("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	kind := hub.KindUpdated
	if updated.Status != existing.Status &&
		updated.MessageContent == existing.MessageContent &&
		updated.CheckInTime == existing.CheckInTime &&
		updated.Category == existing.Category {
		kind = hub.KindStatus
	}
	s.recordWrite(kind, 1)
	s.publish(hub.Event{
		Kind:     kind,
		EventIDs: []int64{id},
		Category: updated.Category,
		Time:     updated.CheckInTime,
		Message:  updated.MessageContent,
		Status:   updated.Status,
	})

	writeJSON(w, http.StatusOK, toAPICheckIn(updated))
}

func (s *Server) handleAPIDeleteCheckIn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid check-in ID")
		return
	}

	n, err := s.db.DeleteCheckIns(r.Context(), []int64{id})
	if err != nil {
		s.log.Error("delete check-in", zap.Int64("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "check-in not found")
		return
	}

	s.recordWrite(hub.KindDeleted, 1)
	s.publish(hub.Event{Kind: hub.KindDeleted, EventIDs: []int64{id}})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(ev hub.Event) {
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}

func (s *Server) recordWrite(action string, n int) {
	if s.metrics != nil {
		s.metrics.CheckInWrites(action, n)
	}
}
