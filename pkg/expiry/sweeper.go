package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultSweepBatch    = 100
)

// Sweeper periodically expires pending processes whose deadline has passed.
// It catches what in-process timers miss across restarts.
type Sweeper struct {
	persistence persistence.Persistence
	fire        FireFunc
	interval    time.Duration
	batch       int
	logger      *slog.Logger
	now         func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSweeper(
	logger *slog.Logger,
	persistence persistence.Persistence,
	fire FireFunc,
	interval time.Duration,
	batch int,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	if batch <= 0 {
		batch = DefaultSweepBatch
	}

	return &Sweeper{
		persistence: persistence,
		fire:        fire,
		interval:    interval,
		batch:       batch,
		logger:      logger.With("module", "expiry_sweeper"),
		now:         time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting expiry sweeper", "interval", s.interval, "batch", s.batch)
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.run)
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.cron.Start()

	return nil
}

func (s *Sweeper) run() {
	expired, err := s.Sweep(s.ctx)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Expiry sweep failed", "error", err)

		return
	}

	if expired > 0 {
		s.logger.InfoContext(s.ctx, "Expiry sweep finished", "fired", expired)
	}
}

// Sweep fires every overdue pending process, oldest deadline first, one
// batch at a time, and returns how many were fired. Processes that fail to
// fire stay pending and are paged past, so they cannot starve the rest.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	fired := 0
	failed := 0
	seen := make(map[uuid.UUID]struct{})

	for {
		processes, err := s.persistence.FindProcesses(ctx, persistence.ProcessQuery{
			State:             models.ProcessStatePending,
			ExpiredBefore:     s.now().UTC(),
			OldestExpiryFirst: true,
			Limit:             s.batch,
			Offset:            failed,
		})
		if err != nil {
			return fired, fmt.Errorf("failed to find expired processes: %w", err)
		}

		progressed := false

		for _, process := range processes {
			if _, ok := seen[process.PublicID]; ok {
				continue
			}

			seen[process.PublicID] = struct{}{}
			progressed = true

			err = s.fire(ctx, process.PublicID)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to expire process", "public_id", process.PublicID, "error", err)

				failed++

				continue
			}

			fired++
		}

		if len(processes) < s.batch || !progressed || ctx.Err() != nil {
			return fired, ctx.Err()
		}
	}
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping expiry sweeper")

	if s.cancel != nil {
		s.cancel()
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	return nil
}
