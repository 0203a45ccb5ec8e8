package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/events"
	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

// Handler is notified about session activity. The reconciler implements it.
type Handler interface {
	// SessionEstablished runs on every transition into Active, including
	// restoration of a lost session. ctx is cancelled when the session closes.
	SessionEstablished(ctx context.Context, s *Session)
	StatusReceived(s *Session, report *models.StatusReport)
}

// Manager accepts device streams and runs the per-session state machine.
// At most one non-closed session exists per device ID.
type Manager struct {
	listener Listener
	handler  Handler
	sink     events.Sink
	cfg      config.SessionConfig
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager
func NewManager(listener Listener, handler Handler, sink events.Sink, cfg config.SessionConfig, opts ...Option) *Manager {
	if sink == nil {
		sink = events.Discard{}
	}
	m := &Manager{
		listener: listener,
		handler:  handler,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start accepts device streams until ctx is cancelled or the listener fails
func (m *Manager) Start(ctx context.Context) error {
	log.Info().
		Dur("idleTimeout", m.cfg.IdleTimeout).
		Dur("lostAfter", m.cfg.LostAfter).
		Msg("Session manager started")

	go m.sweepIdle(ctx)

	defer m.shutdown()
	for {
		conn, err := m.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept device stream: %w", err)
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.serve(ctx, conn)
		}()
	}
}

// shutdown closes every live session and waits for their goroutines
func (m *Manager) shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, s := range m.liveSessions() {
		m.closeSession(s, ErrShutdown)
	}
	m.wg.Wait()
	log.Info().Msg("Session manager stopped")
}

// serve runs one session from first contact to Closed
func (m *Manager) serve(ctx context.Context, conn Conn) {
	s := newSession(ctx, conn, m.now())
	defer s.cancel()

	m.setState(s, models.SessionHandshaking, nil)

	hctx, cancel := context.WithTimeout(s.ctx, m.cfg.HandshakeTimeout)
	ev, err := conn.ReadEvent(hctx)
	cancel()
	if err == nil && ev.Message == nil {
		err = ErrDisconnected
	}
	if err != nil {
		perr := &ProtocolError{RemoteAddr: conn.RemoteAddr(), Err: fmt.Errorf("handshake: %w", err)}
		s.setCloseErr(perr)
		_ = conn.Close()
		m.setState(s, models.SessionClosed, perr)
		return
	}

	s.setDeviceID(ev.Message.DeviceID)
	if !m.register(s) {
		// shutting down
		_ = conn.Close()
		m.setState(s, models.SessionClosed, ErrShutdown)
		return
	}
	m.setState(s, models.SessionActive, nil)

	m.KeepaliveReceived(s, ev)
	m.onSessionEstablished(s)

	m.readLoop(s)
}

func (m *Manager) readLoop(s *Session) {
	for {
		ev, err := s.conn.ReadEvent(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				// closed elsewhere: replacement, idle timeout or shutdown
				return
			}
			m.closeSession(s, &ProtocolError{DeviceID: s.DeviceID(), RemoteAddr: s.RemoteAddr(), Err: err})
			return
		}

		switch ev.Kind {
		case juicebox.EventDisconnect:
			m.closeSession(s, ErrDisconnected)
			return
		default:
			m.KeepaliveReceived(s, ev)
		}
	}
}

// register indexes s by device ID. A live session for the same device is moved
// to Closing before s is inserted.
func (m *Manager) register(s *Session) bool {
	deviceID := s.DeviceID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	old := m.sessions[deviceID]
	var replaced bool
	if old != nil && old != s {
		replaced = beginClose(old, ErrSuperseded)
	}
	m.sessions[deviceID] = s
	m.mu.Unlock()

	if replaced {
		m.recordState(old, models.SessionClosing, ErrSuperseded)
		ev := models.NewEvent(models.EventTypeSessionReplaced, models.EventLevelInfo, deviceID, old.ID(), m.now())
		ev.Description = fmt.Sprintf("session replaced by %s from %s", s.ID(), s.RemoteAddr())
		ev.Details = models.Variables{"newSession": s.ID(), "remoteAddr": s.RemoteAddr()}
		m.record(ev)
		m.finishClose(old)
	}
	return true
}

// onSessionEstablished forgets any applied command and asks the handler to re-assert
func (m *Manager) onSessionEstablished(s *Session) {
	s.markEstablished()
	s.ClearLastApplied()
	s.signalReassert()
	if m.handler != nil {
		m.handler.SessionEstablished(s.ctx, s)
	}
}

// KeepaliveReceived updates last-seen, forwards status reports and restores a
// session that had been marked lost
func (m *Manager) KeepaliveReceived(s *Session, ev juicebox.Event) {
	now := ev.Received
	if now.IsZero() {
		now = m.now()
	}
	wasOnline := s.touch(now)

	if ev.Kind == juicebox.EventStatusReport && ev.Message != nil && ev.Message.IsData() {
		report := models.NewStatusReport(ev.Message, now)
		s.setStatus(report)

		e := models.NewEvent(models.EventTypeStatus, models.EventLevelDebug, s.DeviceID(), s.ID(), now)
		e.Status = report
		e.Command = s.LastApplied()
		e.Description = ev.Message.String()
		m.record(e)

		if m.handler != nil {
			m.handler.StatusReceived(s, report)
		}
	} else if ev.Message != nil {
		log.Debug().
			Str("device", s.DeviceID()).
			Str("message", ev.Message.String()).
			Msg("Keepalive received")
	}

	if !wasOnline && s.State() == models.SessionActive && s.wasEstablished() {
		e := models.NewEvent(models.EventTypeSessionRestored, models.EventLevelInfo, s.DeviceID(), s.ID(), now)
		e.Description = "lost session restored by keepalive"
		m.record(e)
		m.onSessionEstablished(s)
	}
}

// SendCommand delivers cmd through the session's transport
func (m *Manager) SendCommand(s *Session, cmd models.CommandState) error {
	return s.SendCommand(cmd)
}

// closeSession moves an Active session through Closing to Closed
func (m *Manager) closeSession(s *Session, reason error) {
	m.mu.Lock()
	ok := beginClose(s, reason)
	m.mu.Unlock()
	if ok {
		m.recordState(s, models.SessionClosing, reason)
		m.finishClose(s)
	}
}

// beginClose transitions s to Closing and stops its workers. Ticks already
// running may finish; no new ones start.
func beginClose(s *Session, reason error) bool {
	if _, ok := s.transition(models.SessionClosing); !ok {
		return false
	}
	s.setCloseErr(reason)
	s.cancel()
	return true
}

// finishClose releases the transport once any in-flight send has completed
func (m *Manager) finishClose(s *Session) {
	s.sendMu.Lock()
	err := s.conn.Close()
	s.sendMu.Unlock()
	if err != nil {
		log.Debug().Err(err).Str("device", s.DeviceID()).Msg("Close device stream")
	}

	m.mu.Lock()
	if cur, ok := m.sessions[s.DeviceID()]; ok && cur == s {
		delete(m.sessions, s.DeviceID())
	}
	m.mu.Unlock()

	m.setState(s, models.SessionClosed, s.Err())
}

// sweepIdle closes sessions that stopped sending keepalives
func (m *Manager) sweepIdle(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one idle check over all sessions
func (m *Manager) Sweep() {
	now := m.now()
	for _, s := range m.liveSessions() {
		if s.State() != models.SessionActive {
			continue
		}
		idle := now.Sub(s.LastSeen())
		if idle > m.cfg.IdleTimeout {
			log.Info().
				Str("device", s.DeviceID()).
				Dur("idle", idle).
				Msg("Session idle timeout")
			m.closeSession(s, &IdleTimeoutError{DeviceID: s.DeviceID(), Idle: idle})
			continue
		}
		if s.markLost(now, m.cfg.LostAfter) {
			log.Warn().
				Str("device", s.DeviceID()).
				Str("session", s.ID()).
				Dur("idle", idle).
				Msg("Session lost, waiting for keepalive")
		}
	}
}

// Session returns the live session for a device
func (m *Manager) Session(deviceID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Sessions returns snapshots of every live session ordered by device ID
func (m *Manager) Sessions() []models.SessionInfo {
	list := m.liveSessions()
	infos := make([]models.SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].DeviceID < infos[j].DeviceID })
	return infos
}

func (m *Manager) liveSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

func (m *Manager) setState(s *Session, next models.SessionState, reason error) {
	if _, ok := s.transition(next); !ok {
		log.Warn().
			Str("device", s.DeviceID()).
			Str("from", s.State().String()).
			Str("to", next.String()).
			Msg("Ignored invalid session transition")
		return
	}
	m.recordState(s, next, reason)
}

func (m *Manager) recordState(s *Session, state models.SessionState, reason error) {
	level := models.EventLevelInfo
	logLevel := zerolog.InfoLevel
	if reason != nil && !errors.Is(reason, ErrShutdown) && !errors.Is(reason, ErrSuperseded) {
		level = models.EventLevelWarning
		logLevel = zerolog.WarnLevel
	}

	log.WithLevel(logLevel).
		Err(reason).
		Str("device", s.DeviceID()).
		Str("session", s.ID()).
		Str("addr", s.RemoteAddr()).
		Str("state", state.String()).
		Msg("Session state changed")

	ev := models.NewEvent(models.EventTypeSessionState, level, s.DeviceID(), s.ID(), m.now())
	st := state
	ev.State = &st
	ev.Command = s.LastApplied()
	ev.Description = "session " + state.String()
	ev.Details = models.Variables{"remoteAddr": s.RemoteAddr()}
	if reason != nil {
		ev.Details["reason"] = reason.Error()
	}
	m.record(ev)
}

func (m *Manager) record(ev *models.Event) {
	// the sink reports its own failures
	_ = m.sink.Record(context.Background(), ev)
}
