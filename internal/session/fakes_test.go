package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

type fakeConn struct {
	addr   string
	events chan juicebox.Event
	errs   chan error

	mu      sync.Mutex
	sent    [][2]uint8
	sendErr error
	closed  bool
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:   addr,
		events: make(chan juicebox.Event, 8),
		errs:   make(chan error, 1),
	}
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) ReadEvent(ctx context.Context) (juicebox.Event, error) {
	select {
	case <-ctx.Done():
		return juicebox.Event{}, ctx.Err()
	case err := <-c.errs:
		return juicebox.Event{}, err
	case ev, ok := <-c.events:
		if !ok {
			return juicebox.Event{Kind: juicebox.EventDisconnect}, nil
		}
		return ev, nil
	}
}

func (c *fakeConn) SendCurrentCommand(offline, instant uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, [2]uint8{offline, instant})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCommands() [][2]uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]uint8(nil), c.sent...)
}

func (c *fakeConn) status(deviceID string, at time.Time) {
	c.events <- juicebox.Event{
		Kind:     juicebox.EventStatusReport,
		Received: at,
		Message: &juicebox.Message{
			DeviceID:         deviceID,
			Type:             juicebox.PayloadData,
			Status:           juicebox.StatusPluggedIn,
			CurrentAvailable: 40,
		},
	}
}

type fakeListener struct {
	conns chan Conn
}

func newFakeListener() *fakeListener {
	return &fakeListener{conns: make(chan Conn)}
}

func (l *fakeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c, ok := <-l.conns:
		if !ok {
			return nil, errors.New("listener closed")
		}
		return c, nil
	}
}

type fakeHandler struct {
	mu          sync.Mutex
	established map[string]int
	statuses    int
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{established: make(map[string]int)}
}

func (h *fakeHandler) SessionEstablished(_ context.Context, s *Session) {
	h.mu.Lock()
	h.established[s.ID()]++
	h.mu.Unlock()
}

func (h *fakeHandler) StatusReceived(*Session, *models.StatusReport) {
	h.mu.Lock()
	h.statuses++
	h.mu.Unlock()
}

func (h *fakeHandler) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.established[id]
}

type recordingSink struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recordingSink) Record(_ context.Context, ev *models.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) states(sessionID string) []models.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SessionState
	for _, ev := range r.events {
		if ev.SessionID == sessionID && ev.Type == models.EventTypeSessionState && ev.State != nil {
			out = append(out, *ev.State)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TickInterval:     time.Second,
		IdleTimeout:      2 * time.Minute,
		LostAfter:        45 * time.Second,
		HandshakeTimeout: time.Second,
		SweepInterval:    time.Hour, // tests call Sweep directly
		InboxSize:        4,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
