package api

import (
	"net/http"
	"strconv"

	"github.com/smartcat/habitat-core/internal/audit"
)

// recordChange queues an audit entry. It is a no-op without a trail.
func (s *Server) recordChange(e audit.Entry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(e)
}

func (s *Server) recordRule(action audit.Action, id int64, details map[string]any) {
	s.recordChange(audit.Entry{
		Action:     action,
		EntityType: audit.EntityAlertRule,
		EntityID:   strconv.FormatInt(id, 10),
		Details:    details,
	})
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action: create, update, delete or complete
//   - entityType: device, settings, calibration, alert_rule or command
//   - deviceId: entries about one device
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entityType"),
		DeviceID:   q.Get("deviceId"),
	}
	limit, ok := queryLimit(w, r, 200)
	if !ok {
		return
	}
	filter.Limit = limit
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
