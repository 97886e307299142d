package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FireFunc is called when a process deadline is reached.
type FireFunc func(ctx context.Context, publicID uuid.UUID) error

// Timers keeps one in-process timer per process. Scheduling a process again
// replaces its previous timer.
type Timers struct {
	ctx    context.Context
	fire   FireFunc
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	stopped bool
}

func NewTimers(ctx context.Context, logger *slog.Logger, fire FireFunc) *Timers {
	return &Timers{
		ctx:    ctx,
		fire:   fire,
		logger: logger.With("module", "expiry_timers"),
		now:    time.Now,
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

func (t *Timers) Schedule(publicID uuid.UUID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	if previous, ok := t.timers[publicID]; ok {
		previous.Stop()
	}

	var timer *time.Timer

	timer = time.AfterFunc(max(at.Sub(t.now()), 0), func() {
		t.mu.Lock()
		if t.timers[publicID] == timer {
			delete(t.timers, publicID)
		}
		t.mu.Unlock()

		err := t.fire(t.ctx, publicID)
		if err != nil {
			t.logger.ErrorContext(t.ctx, "Failed to expire process", "public_id", publicID, "error", err)
		}
	})

	t.timers[publicID] = timer
}

func (t *Timers) Cancel(publicID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[publicID]; ok {
		timer.Stop()
		delete(t.timers, publicID)
	}
}

// Len returns the number of pending timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.timers)
}

// Stop cancels every timer and rejects further scheduling.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for publicID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, publicID)
	}

	t.stopped = true
}
