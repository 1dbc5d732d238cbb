package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/smartcat/habitat-core/internal/audit"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/device"
)

const maxCommandListLimit = 200

// enqueueCommandRequest is the body of POST /commands. DeviceID defaults to
// the default device.
type enqueueCommandRequest struct {
	DeviceID string          `json:"deviceId"`
	Type     command.Type    `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req enqueueCommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dev, err := s.devices.Resolve(r.Context(), device.NormalizeID(req.DeviceID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	cmd, err := s.commands.EnqueueFor(r.Context(), dev.ID, req.Type, req.Payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, maxCommandListLimit)
	if !ok {
		return
	}
	cmds, err := s.commands.List(r.Context(), command.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if cmds == nil {
		cmds = []command.Command{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

// commandID parses the {id} URL parameter.
func commandID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "command id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := commandID(w, r)
	if !ok {
		return
	}
	cmd, err := s.commands.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleClaimCommands hands the oldest pending commands to the polling
// hardware. An empty queue answers 204.
func (s *Server) handleClaimCommands(w http.ResponseWriter, r *http.Request) {
	limit := 1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cmds, err := s.commands.ClaimBatch(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(cmds) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

type completeCommandRequest struct {
	Status        command.Status `json:"status"`
	ResultMessage string         `json:"resultMessage"`
}

func (s *Server) handleCompleteCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := commandID(w, r)
	if !ok {
		return
	}
	var req completeCommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cmd, err := s.commands.Complete(r.Context(), id, req.Status, req.ResultMessage)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if cmd == nil {
		s.writeServiceError(w, r, command.ErrCommandNotFound)
		return
	}
	s.recordChange(audit.Entry{
		Action:     audit.ActionComplete,
		EntityType: audit.EntityCommand,
		EntityID:   strconv.FormatInt(cmd.ID, 10),
		DeviceID:   cmd.DeviceID,
		Details:    map[string]any{"type": cmd.Type, "status": cmd.Status},
	})
	writeJSON(w, http.StatusOK, cmd)
}
