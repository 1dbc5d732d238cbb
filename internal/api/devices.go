package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smartcat/habitat-core/internal/audit"
	"github.com/smartcat/habitat-core/internal/device"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// maxHistoryLimit caps the history page size.
const maxHistoryLimit = 1000

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.List()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	dev, err := s.devices.Create(r.Context(), device.Device{ID: req.ID, Name: req.Name})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordChange(audit.Entry{Action: audit.ActionCreate, EntityType: audit.EntityDevice, EntityID: dev.ID, DeviceID: dev.ID,
		Details: map[string]any{"name": dev.Name}})
	writeJSON(w, http.StatusCreated, dev)
}

// resolveDevice maps the {id} URL parameter to a registered device,
// writing the error response itself when it fails.
func (s *Server) resolveDevice(w http.ResponseWriter, r *http.Request) (device.Device, bool) {
	dev, err := s.devices.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return device.Device{}, false
	}
	return dev, true
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := device.NormalizeID(chi.URLParam(r, "id"))
	if err := s.devices.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordChange(audit.Entry{Action: audit.ActionDelete, EntityType: audit.EntityDevice, EntityID: id, DeviceID: id})
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyReading ingests one sensor reading from the hardware.
func (s *Server) handleApplyReading(w http.ResponseWriter, r *http.Request) {
	var reading snapshot.Reading
	if !decodeJSON(w, r, &reading) {
		return
	}

	snap, err := s.snapshots.ApplyReading(r.Context(), chi.URLParam(r, "id"), reading)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	snap, found := s.snapshots.Latest(dev.ID)
	if !found {
		s.writeServiceError(w, r, snapshot.ErrNoSnapshot)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHistory returns snapshots newest first.
//
// Query parameters:
//   - limit: page size (default: snapshot.history_limit, max 1000)
//   - since: RFC 3339 lower bound; all snapshots at or after it are returned
//     unless limit is also given
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}

	limit, ok := queryLimit(w, r, maxHistoryLimit)
	if !ok {
		return
	}

	var (
		history []snapshot.Snapshot
		err     error
	)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		history, err = s.snapshots.HistorySince(r.Context(), dev.ID, since)
		if err == nil && limit > 0 && len(history) > limit {
			history = history[:limit]
		}
	} else {
		history, err = s.snapshots.History(r.Context(), dev.ID, limit)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": dev.ID, "history": history, "count": len(history)})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	settings, err := s.snapshots.Settings(r.Context(), dev.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleApplySettings merges the body over the current settings, so
// clients may send only the fields they change.
func (s *Server) handleApplySettings(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	settings, err := s.snapshots.Settings(r.Context(), dev.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !decodeJSON(w, r, &settings) {
		return
	}

	saved, err := s.snapshots.ApplySettings(r.Context(), dev.ID, settings)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordChange(audit.Entry{Action: audit.ActionUpdate, EntityType: audit.EntitySettings, DeviceID: dev.ID})
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	cal, err := s.snapshots.Calibration(r.Context(), dev.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (s *Server) handleApplyCalibration(w http.ResponseWriter, r *http.Request) {
	var cal snapshot.Calibration
	if !decodeJSON(w, r, &cal) {
		return
	}
	saved, err := s.snapshots.ApplyCalibration(r.Context(), chi.URLParam(r, "id"), cal)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordChange(audit.Entry{Action: audit.ActionUpdate, EntityType: audit.EntityCalibration,
		DeviceID: device.NormalizeID(chi.URLParam(r, "id"))})
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handlePatchStatus(w http.ResponseWriter, r *http.Request) {
	var patch snapshot.StatusPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	snap, err := s.snapshots.PatchStatus(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// queryLimit parses an optional positive limit parameter. Zero means absent.
func queryLimit(w http.ResponseWriter, r *http.Request, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxLimit), true
}
