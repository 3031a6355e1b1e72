package web

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/bevel/coach/internal/db"
	"github.com/bevel/coach/internal/hub"
)

var dashboardStatuses = []string{db.StatusActive, db.StatusCompleted, db.StatusDismissed}

// handleCheckIns renders the check-in dashboard.
func (s *Server) handleCheckIns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var status *string
	filter := r.URL.Query().Get("status")
	if filter != "" {
		status = &filter
	}

	checkIns, err := s.db.ListCheckIns(r.Context(), status, limit, offset)
	if err != nil {
		s.log.Error("list check-ins", zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	counts, err := s.db.CountCheckIns(r.Context())
	if err != nil {
		s.log.Error("count check-ins", zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	data := struct {
		CheckIns []db.CheckIn
		Counts   map[string]int
		Total    int
		Filter   string
		Statuses []string
	}{
		CheckIns: checkIns,
		Counts:   counts,
		Total:    total,
		Filter:   filter,
		Statuses: dashboardStatuses,
	}

	s.render(w, r, "checkins.html", data)
}

// handleCheckInStatus sets a check-in's status from the dashboard form.
func (s *Server) handleCheckInStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		http.Error(w, "invalid check-in ID", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	status := r.FormValue("status")
	if err := s.validate.Var(status, "required,oneof=active completed dismissed"); err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	existing, err := s.db.GetCheckIn(r.Context(), id)
	if err != nil {
		s.log.Error("get check-in", zap.Int64("event_id", id), zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "check-in not found", http.StatusNotFound)
		return
	}

	if err := s.db.SetCheckInStatus(r.Context(), id, status); err != nil {
		s.log.Error("set check-in status", zap.Int64("event_id", id), zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	s.recordWrite(hub.KindStatus, 1)
	s.publish(hub.Event{Kind: hub.KindStatus, EventIDs: []int64{id}, Status: status})

	http.Redirect(w, r, "/checkins", http.StatusSeeOther)
}

// handleCheckInDelete deletes a check-in from the dashboard.
func (s *Server) handleCheckInDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		http.Error(w, "invalid check-in ID", http.StatusBadRequest)
		return
	}

	n, err := s.db.DeleteCheckIns(r.Context(), []int64{id})
	if err != nil {
		s.log.Error("delete check-in", zap.Int64("event_id", id), zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if n > 0 {
		s.recordWrite(hub.KindDeleted, int(n))
		s.publish(hub.Event{Kind: hub.KindDeleted, EventIDs: []int64{id}})
	}

	http.Redirect(w, r, "/checkins", http.StatusSeeOther)
}
