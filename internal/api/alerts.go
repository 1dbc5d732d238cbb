package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/audit"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r, s.alertLimit)
	if !ok {
		return
	}
	if limit == 0 {
		limit = s.alertLimit
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), dev.ID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": dev.ID, "alerts": alerts, "count": len(alerts)})
}

// handleExportAlerts streams the alert history as an XLSX workbook. The
// workbook is built in memory first so a failure can still return JSON.
func (s *Server) handleExportAlerts(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r, s.alertLimit)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := s.alerts.ExportAlerts(r.Context(), &buf, dev.ID, limit); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="alerts-`+dev.ID+`.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may have gone away
	buf.WriteTo(w)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.alerts.ListRules(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []alert.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleCreateRule stores a new rule. Rules are enabled unless the body
// says otherwise.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule := alert.Rule{Enabled: true}
	if !decodeJSON(w, r, &rule) {
		return
	}
	created, err := s.alerts.CreateRule(r.Context(), rule)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordRule(audit.ActionCreate, created.ID, map[string]any{"metric": created.Metric, "threshold": created.Threshold})
	writeJSON(w, http.StatusCreated, created)
}

// ruleID parses the {id} URL parameter.
func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "rule id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.alerts.GetRule(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var rule alert.Rule
	if !decodeJSON(w, r, &rule) {
		return
	}
	updated, err := s.alerts.UpdateRule(r.Context(), id, rule)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordRule(audit.ActionUpdate, id, map[string]any{"metric": updated.Metric, "threshold": updated.Threshold, "enabled": updated.Enabled})
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := s.alerts.DeleteRule(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordRule(audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}
