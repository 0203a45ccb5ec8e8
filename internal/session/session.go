package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

// Conn is one device stream as exposed by the protocol transport
type Conn interface {
	RemoteAddr() string
	ReadEvent(ctx context.Context) (juicebox.Event, error)
	SendCurrentCommand(offlineAmps, instantAmps uint8) error
	Close() error
}

// Listener hands out a Conn for every new inbound device stream
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
}

// Session is the lifetime of one logical connection with a device.
// It is owned by the Manager; other components only hold a reference.
type Session struct {
	id        string
	conn      Conn
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	deviceID    string
	state       models.SessionState
	lastApplied *models.CommandState
	lastSeen    time.Time
	lastStatus  *models.StatusReport
	online      bool
	established bool
	closeErr    error

	// sendMu serialises writes to the device
	sendMu sync.Mutex

	reassert chan struct{}
	worker   atomic.Bool
}

func newSession(parent context.Context, conn Conn, now time.Time) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		state:     models.SessionAwaiting,
		reassert:  make(chan struct{}, 1),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// DeviceID returns the device identity learned during the handshake
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// RemoteAddr returns the device's transport address
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// State returns the current lifecycle state
func (s *Session) State() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Context is cancelled once the session starts closing
func (s *Session) Context() context.Context {
	return s.ctx
}

// Err returns the reason the session closed, if any
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeErr
}

// LastApplied returns a copy of the last command the device accepted, or nil
func (s *Session) LastApplied() *models.CommandState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastApplied == nil {
		return nil
	}
	c := *s.lastApplied
	return &c
}

// SetLastApplied records a command as applied
func (s *Session) SetLastApplied(cmd models.CommandState) {
	s.mu.Lock()
	s.lastApplied = &cmd
	s.mu.Unlock()
}

// ClearLastApplied forgets the applied command so the next evaluation re-sends
func (s *Session) ClearLastApplied() {
	s.mu.Lock()
	s.lastApplied = nil
	s.mu.Unlock()
}

// LastSeen returns the time of the last keepalive
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// LastStatus returns the most recent status report, or nil
func (s *Session) LastStatus() *models.StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStatus
}

// Reassert delivers a signal whenever the session (re)enters Active
func (s *Session) Reassert() <-chan struct{} {
	return s.reassert
}

// ClaimWorker returns true exactly once per session
func (s *Session) ClaimWorker() bool {
	return s.worker.CompareAndSwap(false, true)
}

// SendCommand writes cmd to the device. Both current fields always carry the
// same value: the device's offline and instant fields behave swapped relative
// to the vendor documentation, so neither can be relied on alone.
func (s *Session) SendCommand(cmd models.CommandState) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.State() != models.SessionActive {
		return &TransportError{DeviceID: s.DeviceID(), Err: ErrSessionNotActive}
	}
	if err := s.conn.SendCurrentCommand(cmd.CurrentAmps, cmd.CurrentAmps); err != nil {
		return &TransportError{DeviceID: s.DeviceID(), Err: err}
	}
	return nil
}

// Info returns a snapshot for reporting
func (s *Session) Info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := models.SessionInfo{
		SessionID:  s.id,
		DeviceID:   s.deviceID,
		RemoteAddr: s.conn.RemoteAddr(),
		State:      s.state,
		Online:     s.online,
		LastSeen:   s.lastSeen,
		CreatedAt:  s.createdAt,
		LastStatus: s.lastStatus,
	}
	if s.lastApplied != nil {
		c := *s.lastApplied
		info.LastApplied = &c
	}
	return info
}

func (s *Session) transition(next models.SessionState) (models.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if !prev.CanTransition(next) {
		return prev, false
	}
	s.state = next
	return prev, true
}

func (s *Session) setDeviceID(id string) {
	s.mu.Lock()
	s.deviceID = id
	s.mu.Unlock()
}

func (s *Session) setCloseErr(err error) {
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.mu.Unlock()
}

// touch records a keepalive and reports whether the session was online before
func (s *Session) touch(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasOnline := s.online
	s.lastSeen = now
	s.online = true
	return wasOnline
}

func (s *Session) setStatus(report *models.StatusReport) {
	s.mu.Lock()
	s.lastStatus = report
	s.mu.Unlock()
}

// markLost flags an Active session as offline once no keepalive arrived within lostAfter
func (s *Session) markLost(now time.Time, lostAfter time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online || s.state != models.SessionActive || now.Sub(s.lastSeen) <= lostAfter {
		return false
	}
	s.online = false
	return true
}

func (s *Session) markEstablished() {
	s.mu.Lock()
	s.established = true
	s.mu.Unlock()
}

func (s *Session) wasEstablished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.established
}

func (s *Session) signalReassert() {
	select {
	case s.reassert <- struct{}{}:
	default:
	}
}
