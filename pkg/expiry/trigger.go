// Package expiry moves pending processes to EXPIRED once their deadline passes.
package expiry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/engine"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

type EventProcessor interface {
	ProcessEvent(
		ctx context.Context,
		process *models.Process,
		event models.ProcessEvent,
		userID uuid.UUID,
		requestID int64,
	) (engine.Result, error)
}

// Trigger expires a single process on behalf of the system user.
type Trigger struct {
	persistence persistence.Persistence
	processor   EventProcessor
	principal   SystemPrincipal
	logger      *slog.Logger
}

func NewTrigger(
	logger *slog.Logger,
	persistence persistence.Persistence,
	processor EventProcessor,
	principal SystemPrincipal,
) *Trigger {
	return &Trigger{
		persistence: persistence,
		processor:   processor,
		principal:   principal,
		logger:      logger.With("module", "expiry_trigger"),
	}
}

// Fire expires the process if it is still pending. Processes that are gone
// or already left PENDING are ignored.
func (t *Trigger) Fire(ctx context.Context, publicID uuid.UUID) error {
	process, err := t.persistence.ProcessByPublicID(ctx, publicID)
	if persistence.IsProcessNotFound(err) {
		t.logger.WarnContext(ctx, "Expiry fired for unknown process", "public_id", publicID)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load process %s for expiry: %w", publicID, err)
	}

	if process.State != models.ProcessStatePending {
		t.logger.DebugContext(ctx, "Skipping expiry", "public_id", publicID, "state", process.State)

		return nil
	}

	userID, err := t.principal.SystemUserID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve system user: %w", err)
	}

	result, err := t.processor.ProcessEvent(ctx, process, models.ProcessEventExpired, userID, 0)
	if err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "Expiry handled",
		"public_id", publicID,
		"type", process.Type,
		"outcome", result.Outcome,
		"state", result.To)

	return nil
}
