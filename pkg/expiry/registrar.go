package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/eventbus"
	"github.com/sovereignrag/process/pkg/events"
	"github.com/sovereignrag/process/pkg/models"
)

type Scheduler interface {
	Schedule(publicID uuid.UUID, at time.Time)
	Cancel(publicID uuid.UUID)
}

// Registrar arms a timer for every pending process announced on the bus and
// disarms it once the process finishes.
type Registrar struct {
	scheduler Scheduler
	logger    *slog.Logger
}

func NewRegistrar(logger *slog.Logger, scheduler Scheduler) *Registrar {
	return &Registrar{
		scheduler: scheduler,
		logger:    logger.With("module", "expiry_registrar"),
	}
}

func (r *Registrar) Register(subscriber eventbus.EventSubscriber) error {
	err := subscriber.Handle(events.ProcessCreatedEvent, eventbus.On(r.handleCreated))
	if err != nil {
		return fmt.Errorf("failed to register %s handler: %w", events.ProcessCreatedEvent, err)
	}

	err = subscriber.Handle(events.ProcessTransitionedEvent, eventbus.On(r.handleTransitioned))
	if err != nil {
		return fmt.Errorf("failed to register %s handler: %w", events.ProcessTransitionedEvent, err)
	}

	return nil
}

func (r *Registrar) handleCreated(ctx context.Context, created *events.ProcessCreated) error {
	if created.State != models.ProcessStatePending {
		return nil
	}

	r.scheduler.Schedule(created.PublicID, created.Expiry)

	r.logger.DebugContext(ctx, "Scheduled expiry", "public_id", created.PublicID, "expiry", created.Expiry)

	return nil
}

func (r *Registrar) handleTransitioned(ctx context.Context, transitioned *events.ProcessTransitioned) error {
	if !transitioned.Terminal() {
		return nil
	}

	r.scheduler.Cancel(transitioned.PublicID)

	r.logger.DebugContext(ctx, "Cancelled expiry", "public_id", transitioned.PublicID, "state", transitioned.NewState)

	return nil
}
