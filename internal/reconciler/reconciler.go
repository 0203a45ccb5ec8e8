// Package reconciler drives each device towards the charging state the
// schedule asks for.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/events"
	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/internal/schedule"
	"github.com/juicebox-server/juicebox-service/internal/session"
)

// DefaultTickInterval is used when no interval is configured
const DefaultTickInterval = 30 * time.Second

// Target is the view of a device session the reconciler needs.
// *session.Session implements it.
type Target interface {
	ID() string
	DeviceID() string
	State() models.SessionState
	LastApplied() *models.CommandState
	SetLastApplied(cmd models.CommandState)
	ClearLastApplied()
	SendCommand(cmd models.CommandState) error
	Reassert() <-chan struct{}
	ClaimWorker() bool
}

// Reconciler computes the desired command from the schedule and applies it
// to every Active session
type Reconciler struct {
	maxAmps        uint8
	window         *schedule.Window
	enforceOnDrift bool
	tick           time.Duration
	sink           events.Sink
	now            func() time.Time

	wg sync.WaitGroup
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithTickInterval sets the periodic evaluation interval
func WithTickInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.tick = d
		}
	}
}

// New creates a reconciler from a validated charging configuration
func New(cfg config.ChargingConfig, sink events.Sink, opts ...Option) *Reconciler {
	if sink == nil {
		sink = events.Discard{}
	}
	r := &Reconciler{
		maxAmps:        cfg.MaxCurrentAmps(),
		window:         cfg.Window,
		enforceOnDrift: cfg.EnforceOnDrift,
		tick:           DefaultTickInterval,
		sink:           sink,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the configured schedule, nil meaning always on
func (r *Reconciler) Window() *schedule.Window {
	return r.window
}

// Desired returns the command the schedule asks for at now
func (r *Reconciler) Desired(now time.Time) models.CommandState {
	if schedule.IsWithinWindow(r.window, now) {
		return models.NewCommandState(r.maxAmps)
	}
	return models.CommandOff()
}

// Reconcile compares the desired command with the one last applied to t and
// sends it when they differ or when force is set. A failed send leaves the
// last-applied command untouched so the next evaluation retries.
func (r *Reconciler) Reconcile(ctx context.Context, t Target, force bool) error {
	if t.State() != models.SessionActive {
		return nil
	}

	now := r.now()
	desired := r.Desired(now)
	last := t.LastApplied()
	if !force && last != nil && *last == desired {
		return nil
	}

	if err := t.SendCommand(desired); err != nil {
		log.Warn().
			Err(err).
			Str("device", t.DeviceID()).
			Str("session", t.ID()).
			Uint8("amps", desired.CurrentAmps).
			Msg("Command failed, will retry")

		ev := r.commandEvent(models.EventTypeCommandFailed, models.EventLevelWarning, t, desired, last, force, now)
		ev.Description = fmt.Sprintf("send %s failed: %v", desired, err)
		ev.Details["error"] = err.Error()
		r.record(ctx, ev)
		return err
	}
	t.SetLastApplied(desired)

	log.Info().
		Str("device", t.DeviceID()).
		Str("session", t.ID()).
		Uint8("amps", desired.CurrentAmps).
		Bool("charging", desired.ChargingEnabled).
		Bool("forced", force).
		Msg("Command applied")

	ev := r.commandEvent(models.EventTypeCommandApplied, models.EventLevelInfo, t, desired, last, force, now)
	ev.Description = "charging " + desired.String()
	r.record(ctx, ev)
	return nil
}

// Start launches the evaluation worker for t. Only the first call per
// session starts a worker; it exits when ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, t Target) {
	if !t.ClaimWorker() {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, t)
	}()
}

// Wait blocks until every worker has exited
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// SessionEstablished implements session.Handler. The re-assertion itself is
// driven by the session's reassert signal.
func (r *Reconciler) SessionEstablished(ctx context.Context, s *session.Session) {
	r.Start(ctx, s)
}

// StatusReceived implements session.Handler
func (r *Reconciler) StatusReceived(s *session.Session, report *models.StatusReport) {
	r.checkDrift(s, report)
}

// checkDrift forgets the applied command when the device reports a different
// available current, so the next tick re-sends it
func (r *Reconciler) checkDrift(t Target, report *models.StatusReport) {
	if !r.enforceOnDrift || report == nil {
		return
	}
	last := t.LastApplied()
	if last == nil || report.CurrentAvailable == int(last.CurrentAmps) {
		return
	}
	log.Info().
		Str("device", t.DeviceID()).
		Int("reported", report.CurrentAvailable).
		Uint8("applied", last.CurrentAmps).
		Msg("Device current drifted from applied command")
	t.ClearLastApplied()
}

// run serialises every evaluation for one session
func (r *Reconciler) run(ctx context.Context, t Target) {
	log.Debug().Str("device", t.DeviceID()).Str("session", t.ID()).Msg("Reconciler worker started")
	defer log.Debug().Str("device", t.DeviceID()).Str("session", t.ID()).Msg("Reconciler worker stopped")

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Reassert():
			_ = r.Reconcile(ctx, t, true)
		case <-ticker.C:
			_ = r.Reconcile(ctx, t, false)
		}
	}
}

func (r *Reconciler) commandEvent(typ models.EventType, level models.EventLevel, t Target, cmd models.CommandState, last *models.CommandState, force bool, now time.Time) *models.Event {
	ev := models.NewEvent(typ, level, t.DeviceID(), t.ID(), now)
	c := cmd
	ev.Command = &c
	ev.Details = models.Variables{
		"forced":   force,
		"schedule": r.window.String(),
	}
	if last != nil {
		ev.Details["previous"] = last.String()
	}
	return ev
}

func (r *Reconciler) record(ctx context.Context, ev *models.Event) {
	// the sink reports its own failures
	_ = r.sink.Record(context.WithoutCancel(ctx), ev)
}
