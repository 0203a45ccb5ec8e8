package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/juicebox-server/juicebox-service/internal/auth"
	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/internal/schedule"
	"github.com/juicebox-server/juicebox-service/internal/storage"
)

type staticSessions []models.SessionInfo

func (s staticSessions) Sessions() []models.SessionInfo { return s }

type windowPlanner struct {
	w *schedule.Window
}

func (p windowPlanner) Window() *schedule.Window { return p.w }

func (p windowPlanner) Desired(now time.Time) models.CommandState {
	if schedule.IsWithinWindow(p.w, now) {
		return models.NewCommandState(32)
	}
	return models.CommandOff()
}

func newTestServer(t *testing.T, jwt config.JWTConfig) *RESTServer {
	t.Helper()
	cfg := config.Default()
	cfg.Charging.MaxCurrent = 32
	cfg.Charging.Schedule = "08:00-17:00"
	cfg.API.JWT = jwt
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	cmd := models.NewCommandState(32)
	sessions := staticSessions{{
		SessionID:   "s1",
		DeviceID:    "dev1",
		RemoteAddr:  "192.0.2.10:50000",
		State:       models.SessionActive,
		Online:      true,
		LastApplied: &cmd,
	}}
	s := NewRESTServer(cfg, sessions, windowPlanner{cfg.Charging.Window}, nil)
	s.now = func() time.Time { return time.Date(2024, 3, 14, 10, 0, 0, 0, time.Local) }
	return s
}

func do(t *testing.T, s *RESTServer, method, path, token string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, config.JWTConfig{})
	rec, body := do(t, s, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK || body["status"] != "healthy" || body["sessions"] != float64(1) {
		t.Errorf("%d %v", rec.Code, body)
	}
}

func TestSessions(t *testing.T) {
	s := newTestServer(t, config.JWTConfig{})

	rec, body := do(t, s, http.MethodGet, "/api/v1/sessions", "", nil)
	if rec.Code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("%d %v", rec.Code, body)
	}

	rec, body = do(t, s, http.MethodGet, "/api/v1/sessions/dev1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("%d %v", rec.Code, body)
	}
	if body["state"] != "active" {
		t.Errorf("state = %v", body["state"])
	}
	applied, _ := body["lastApplied"].(map[string]interface{})
	if applied["currentAmps"] != float64(32) || applied["chargingEnabled"] != true {
		t.Errorf("lastApplied = %v", body["lastApplied"])
	}

	rec, _ = do(t, s, http.MethodGet, "/api/v1/sessions/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device: %d", rec.Code)
	}
}

type reportStore struct {
	storage.Store
	reports map[string]*models.StatusReport
}

func (s reportStore) GetLastStatusReport(_ context.Context, deviceID string) (*models.StatusReport, error) {
	if r, ok := s.reports[deviceID]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func TestSessionFallsBackToStoredStatus(t *testing.T) {
	s := newTestServer(t, config.JWTConfig{})
	seen := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	s.store = reportStore{reports: map[string]*models.StatusReport{
		"dev1": {DeviceID: "dev1", ReceivedAt: seen, Status: "charging", Voltage: 240},
		"dev2": {DeviceID: "dev2", ReceivedAt: seen, Status: "unplugged", Voltage: 239},
	}}

	rec, body := do(t, s, http.MethodGet, "/api/v1/sessions/dev1", "", nil)
	if rec.Code != http.StatusOK || body["state"] != "active" {
		t.Fatalf("%d %v", rec.Code, body)
	}
	live, _ := body["lastStatus"].(map[string]interface{})
	if live["status"] != "charging" {
		t.Errorf("live lastStatus = %v", body["lastStatus"])
	}

	rec, body = do(t, s, http.MethodGet, "/api/v1/sessions/dev2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("%d %v", rec.Code, body)
	}
	if body["state"] != "closed" || body["online"] != false {
		t.Errorf("offline device = %v", body)
	}
	stored, _ := body["lastStatus"].(map[string]interface{})
	if stored["status"] != "unplugged" {
		t.Errorf("stored lastStatus = %v", body["lastStatus"])
	}

	rec, _ = do(t, s, http.MethodGet, "/api/v1/sessions/dev3", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device: %d", rec.Code)
	}
}

func TestSchedule(t *testing.T) {
	s := newTestServer(t, config.JWTConfig{})
	rec, body := do(t, s, http.MethodGet, "/api/v1/schedule", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("%d %v", rec.Code, body)
	}
	if body["schedule"] != "08:00-17:00" || body["start"] != "08:00" || body["inWindow"] != true {
		t.Errorf("body = %v", body)
	}
	desired, _ := body["desired"].(map[string]interface{})
	if desired["currentAmps"] != float64(32) {
		t.Errorf("desired = %v", body["desired"])
	}
}

func TestEventsWithoutStore(t *testing.T) {
	s := newTestServer(t, config.JWTConfig{})
	rec, _ := do(t, s, http.MethodGet, "/api/v1/events", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, config.JWTConfig{Secret: "key", AdminPasswordHash: hash, AccessTokenTTL: time.Hour})

	rec, _ := do(t, s, http.MethodGet, "/api/v1/sessions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"password":"nope"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", rec.Code)
	}

	rec, body := do(t, s, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"password":"s3cret"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %v", rec.Code, body)
	}
	token, _ := body["access_token"].(string)
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token = %q", token)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/v1/sessions", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health must stay public: %d", rec.Code)
	}
}
