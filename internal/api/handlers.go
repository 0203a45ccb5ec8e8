package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/auth"
	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/internal/schedule"
	"github.com/juicebox-server/juicebox-service/internal/storage"
)

// ========== Auth handlers ==========

// HandleLogin exchanges the admin password for an access token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.auth.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		s.respondError(w, http.StatusNotFound, "authentication disabled")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(s.auth.TTL().Seconds()),
		"token_type":   "Bearer",
	})
}

// ========== Session handlers ==========

// HandleListSessions lists live device sessions
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// HandleGetSession returns the session of one device. Without a live
// session the last stored status report is returned with state CLOSED.
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device")
	for _, info := range s.sessions.Sessions() {
		if info.DeviceID == deviceID {
			if info.LastStatus == nil {
				info.LastStatus = s.lastStatus(r, deviceID)
			}
			s.respondJSON(w, http.StatusOK, info)
			return
		}
	}

	report := s.lastStatus(r, deviceID)
	if report == nil {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, models.SessionInfo{
		DeviceID:   deviceID,
		State:      models.SessionClosed,
		LastSeen:   report.ReceivedAt,
		LastStatus: report,
	})
}

func (s *RESTServer) lastStatus(r *http.Request, deviceID string) *models.StatusReport {
	if s.store == nil {
		return nil
	}
	report, err := s.store.GetLastStatusReport(r.Context(), deviceID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Str("device", deviceID).Msg("Failed to load last status report")
		}
		return nil
	}
	return report
}

// ========== Schedule handlers ==========

type scheduleResponse struct {
	Schedule     string              `json:"schedule"`
	Start        *schedule.TimeOfDay `json:"start,omitempty"`
	End          *schedule.TimeOfDay `json:"end,omitempty"`
	MaxCurrent   int                 `json:"maxCurrent"`
	InWindow     bool                `json:"inWindow"`
	Desired      models.CommandState `json:"desired"`
	EvaluatedAt  time.Time           `json:"evaluatedAt"`
	EnforceDrift bool                `json:"enforceOnDrift"`
	TickInterval string              `json:"tickInterval"`
	IdleTimeout  string              `json:"idleTimeout"`
}

// HandleGetSchedule reports the schedule and the command it yields now
func (s *RESTServer) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	w0 := s.planner.Window()

	resp := scheduleResponse{
		Schedule:     w0.String(),
		MaxCurrent:   s.config.Charging.MaxCurrent,
		InWindow:     schedule.IsWithinWindow(w0, now),
		Desired:      s.planner.Desired(now),
		EvaluatedAt:  now,
		EnforceDrift: s.config.Charging.EnforceOnDrift,
		TickInterval: s.config.Session.TickInterval.String(),
		IdleTimeout:  s.config.Session.IdleTimeout.String(),
	}
	if w0 != nil {
		start, end := w0.Start, w0.End
		resp.Start, resp.End = &start, &end
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// ========== Event handlers ==========

// HandleListEvents lists stored events, newest first
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	var filters storage.EventFilters
	if device := q.Get("device"); device != "" {
		filters.DeviceID = &device
	}
	if t := q.Get("type"); t != "" {
		et := models.EventType(t)
		filters.Type = &et
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid since, expected RFC3339")
			return
		}
		filters.StartTime = &ts
	}

	events, total, err := s.store.ListEvents(r.Context(), filters, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ========== Misc handlers ==========

// HandleHealth health check handler
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"time":     s.now(),
		"sessions": len(s.sessions.Sessions()),
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
