package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/notify"
)

// pushAvailable writes 503 when no push targets store is wired.
func (s *Server) pushAvailable(w http.ResponseWriter) bool {
	if s.pushTargets == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "push notifications are not configured")
		return false
	}
	return true
}

// handlePushPublicKey returns the VAPID public key browsers subscribe with.
func (s *Server) handlePushPublicKey(w http.ResponseWriter, _ *http.Request) {
	if s.vapidKey == "" {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "web push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.vapidKey})
}

func (s *Server) handleSubscribeWeb(w http.ResponseWriter, r *http.Request) {
	if !s.pushAvailable(w) {
		return
	}
	var sub notify.WebSubscription
	if !decodeJSON(w, r, &sub) {
		return
	}
	if sub.Language == "" {
		sub.Language = alert.Lang(r.Header.Get("Accept-Language"))
	}
	if err := sub.Validate(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.pushTargets.SaveWebSubscription(r.Context(), sub); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"endpoint": sub.Endpoint, "language": sub.Language})
}

func (s *Server) handleUnsubscribeWeb(w http.ResponseWriter, r *http.Request) {
	if !s.pushAvailable(w) {
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeBadRequest(w, "endpoint is required")
		return
	}
	if err := s.pushTargets.RemoveWebSubscription(r.Context(), req.Endpoint); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterNative(w http.ResponseWriter, r *http.Request) {
	if !s.pushAvailable(w) {
		return
	}
	var dev notify.NativeDevice
	if !decodeJSON(w, r, &dev) {
		return
	}
	if dev.Language == "" {
		dev.Language = alert.Lang(r.Header.Get("Accept-Language"))
	}
	if err := dev.Validate(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.pushTargets.SaveNativeDevice(r.Context(), dev); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     dev.Token,
		"platform":  dev.Platform,
		"transport": dev.Transport,
		"language":  dev.Language,
	})
}

func (s *Server) handleUnregisterNative(w http.ResponseWriter, r *http.Request) {
	if !s.pushAvailable(w) {
		return
	}
	if err := s.pushTargets.RemoveNativeDevice(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushHealth(w http.ResponseWriter, _ *http.Request) {
	if s.push == nil {
		writeJSON(w, http.StatusOK, notify.Health{Channels: map[notify.Channel]notify.ChannelHealth{}})
		return
	}
	writeJSON(w, http.StatusOK, s.push.Health())
}

// pushTestRequest is the body of POST /push/test. Every field is optional.
type pushTestRequest struct {
	Severity alert.Severity `json:"severity"`
	Message  string         `json:"message"`
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Action   string         `json:"action"`
}

// handlePushTest sends a synthetic alert to every registered target.
func (s *Server) handlePushTest(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		s.writeServiceError(w, r, notify.ErrPushNotConfigured)
		return
	}
	var req pushTestRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	summary, err := s.push.SendTest(r.Context(), notify.TestRequest{
		Severity: req.Severity,
		Message:  req.Message,
		Title:    req.Title,
		URL:      req.URL,
		Action:   req.Action,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
