package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/chess-movesync/internal/obslog"
	"go.uber.org/zap"
)

const (
	// DuplicateWindow is the cool-down before the same move may be sent again.
	DuplicateWindow = 500 * time.Millisecond

	normalLagMS uint32 = 20
	urgentLagMS uint32 = 50
)

// ErrDuplicate is returned when a move repeats the previous one inside DuplicateWindow.
var ErrDuplicate = errors.New("duplicate move suppressed")

// Submitter accepts a move for transmission; *session.Session implements it.
type Submitter interface {
	SubmitMove(ctx context.Context, move string, lagMS uint32, highCommitment bool) error
}

// Dispatcher decides whether an automated move is sent and with which lag
// parameters. It outlives a single game; call Reset between games.
type Dispatcher struct {
	mu      sync.Mutex
	enabled bool
	urgent  bool
	busy    bool

	lastMove string
	lastAt   time.Time
	hasLast  bool

	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Dispatcher)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{now: time.Now, logger: obslog.L()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetEnabled toggles automated submission. Moves already in flight are unaffected.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	d.logger.Info("automove_toggle", zap.Bool("enabled", enabled))
}

func (d *Dispatcher) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetUrgentMode switches to the larger lag budget and high-commitment frames.
func (d *Dispatcher) SetUrgentMode(urgent bool) {
	d.mu.Lock()
	d.urgent = urgent
	d.mu.Unlock()
	d.logger.Info("automove_urgent_toggle", zap.Bool("urgent", urgent))
}

func (d *Dispatcher) IsUrgentMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urgent
}

// SetBusy marks that a decision engine is still computing the next candidate.
func (d *Dispatcher) SetBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
}

func (d *Dispatcher) IsBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// ShouldSubmit is true only when enabled, on our turn, and not busy.
func (d *Dispatcher) ShouldSubmit(isOurTurn bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || !isOurTurn {
		return false
	}
	if d.busy {
		d.logger.Debug("automove_wait_busy")
		return false
	}
	return true
}

// Submit forwards move to s unless it repeats the previous move within
// DuplicateWindow. The move is recorded as last submitted before s is
// called, so a rejected send still arms the window.
func (d *Dispatcher) Submit(ctx context.Context, move string, s Submitter) error {
	d.mu.Lock()
	now := d.now()
	if d.hasLast && d.lastMove == move && now.Sub(d.lastAt) < DuplicateWindow {
		d.mu.Unlock()
		d.logger.Warn("automove_duplicate_blocked", zap.String("move", move))
		return ErrDuplicate
	}
	d.lastMove, d.lastAt, d.hasLast = move, now, true
	urgent := d.urgent
	d.mu.Unlock()

	lag := normalLagMS
	if urgent {
		lag = urgentLagMS
	}
	if err := s.SubmitMove(ctx, move, lag, urgent); err != nil {
		d.logger.Warn("automove_send_failed", zap.String("move", move), zap.Error(err))
		return err
	}
	d.logger.Info("automove_executed", zap.String("move", move), zap.Uint32("lag_ms", lag), zap.Bool("urgent", urgent))
	return nil
}

// TrySubmit is Submit reduced to whether the frame was sent.
func (d *Dispatcher) TrySubmit(ctx context.Context, move string, s Submitter) bool {
	return d.Submit(ctx, move, s) == nil
}

// Reset forgets the last submitted move and clears the busy flag.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastMove, d.lastAt, d.hasLast = "", time.Time{}, false
	d.busy = false
}
