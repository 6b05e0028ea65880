// Package heartbeat drives a session's tick loop: write the heartbeat, then
// run one self-heal pass, every interval.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/heal"
	"github.com/grovetools/claims/logging"
	"github.com/sirupsen/logrus"
)

// Beater refreshes a session heartbeat.
type Beater interface {
	Heartbeat(ctx context.Context, sessionID string) error
}

// Healer runs one self-heal pass.
type Healer interface {
	SelfHeal(ctx context.Context, currentSessionID string, opts heal.Options) (*heal.Result, error)
}

// Config wires a Loop.
type Config struct {
	SessionID string
	Interval  time.Duration
	DryRun    bool

	Beater Beater
	Healer Healer
	Logger *logrus.Entry
	// OnTick, if set, receives every tick's report.
	OnTick func(Tick)
}

// Tick is the outcome of one iteration.
type Tick struct {
	At           time.Time
	HeartbeatErr error
	Heal         *heal.Result
	HealErr      error
}

// Loop is the heartbeat tick loop of one session.
type Loop struct {
	sessionID string
	dryRun    bool
	beater    Beater
	onTick    func(Tick)
	logger    *logrus.Entry

	mu       sync.Mutex
	interval time.Duration
	healer   Healer
	reset    chan time.Duration
}

// NewLoop creates a loop from cfg.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.SessionID == "" {
		return nil, errors.InvalidInput("session id is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.InvalidInput("heartbeat interval must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Loop{
		sessionID: cfg.SessionID,
		dryRun:    cfg.DryRun,
		beater:    cfg.Beater,
		healer:    cfg.Healer,
		onTick:    cfg.OnTick,
		interval:  cfg.Interval,
		logger:    cfg.Logger.WithField("session_id", cfg.SessionID),
		reset:     make(chan time.Duration, 1),
	}, nil
}

// Interval returns the current tick interval.
func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Reconfigure swaps the healer and, when positive, the interval. It takes
// effect on the next tick. It never blocks: at most one reset is pending and
// it always carries the latest interval.
func (l *Loop) Reconfigure(interval time.Duration, healer Healer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if healer != nil {
		l.healer = healer
	}
	if interval <= 0 || interval == l.interval {
		return
	}
	l.interval = interval

	// Producers are serialized by mu, so the drain always leaves room.
	select {
	case <-l.reset:
	default:
	}
	select {
	case l.reset <- interval:
	default:
	}
}

// Tick writes the heartbeat and runs one self-heal pass. A heartbeat failure
// does not prevent healing.
func (l *Loop) Tick(ctx context.Context) Tick {
	l.mu.Lock()
	healer := l.healer
	l.mu.Unlock()

	t := Tick{At: time.Now()}
	if err := l.beater.Heartbeat(ctx, l.sessionID); err != nil {
		t.HeartbeatErr = err
		l.logger.WithError(err).Warn("Heartbeat failed")
	}

	if healer != nil {
		t.Heal, t.HealErr = healer.SelfHeal(ctx, l.sessionID, heal.Options{DryRun: l.dryRun})
		if t.HealErr != nil {
			l.logger.WithError(t.HealErr).Warn("Self-heal failed")
		} else {
			fields := logrus.Fields{
				"released": len(t.Heal.Released),
				"errors":   len(t.Heal.Errors),
				"deferred": len(t.Heal.Deferred),
				"elapsed":  t.Heal.Elapsed,
			}
			if len(t.Heal.Released) > 0 || len(t.Heal.Errors) > 0 {
				l.logger.WithFields(fields).Info("Self-heal pass")
			} else {
				l.logger.WithFields(fields).Debug("Self-heal pass")
			}
		}
	}

	if l.onTick != nil {
		l.onTick(t)
	}
	return t
}

// Run ticks immediately and then every interval until ctx is done or the
// session is no longer in the store.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.Interval())
	defer ticker.Stop()

	l.logger.WithField("interval", l.Interval()).Info("Heartbeat loop started")
	for {
		t := l.Tick(ctx)
		if errors.Is(t.HeartbeatErr, errors.ErrCodeSessionNotFound) {
			l.logger.Info("Session released, stopping heartbeat loop")
			return t.HeartbeatErr
		}

		if !l.wait(ctx, ticker) {
			l.logger.Info("Heartbeat loop stopped")
			return nil
		}
	}
}

// wait blocks until the next tick, applying interval changes meanwhile.
func (l *Loop) wait(ctx context.Context, ticker *time.Ticker) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case interval := <-l.reset:
			ticker.Reset(interval)
			l.logger.WithField("interval", interval).Info("Heartbeat interval changed")
		case <-ticker.C:
			return true
		}
	}
}
