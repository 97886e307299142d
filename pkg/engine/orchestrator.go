// Package engine drives processes through their state machine using
// conditional updates against the store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/eventbus"
	"github.com/sovereignrag/process/pkg/events"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/otelhelper"
	"github.com/sovereignrag/process/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Outcome string

const (
	// OutcomeApplied means the transition was stored.
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeStale means another writer moved the process first.
	OutcomeStale Outcome = "STALE"
	// OutcomeAlreadyTerminal means the process had already finished.
	OutcomeAlreadyTerminal Outcome = "ALREADY_TERMINAL"
)

// Result describes what an event did to a process. From is the state the
// event was evaluated against and To the state the process is in afterwards,
// as far as the engine observed it.
type Result struct {
	Outcome  Outcome             `json:"outcome"`
	PublicID uuid.UUID           `json:"public_id"`
	Event    models.ProcessEvent `json:"event"`
	From     models.ProcessState `json:"from"`
	To       models.ProcessState `json:"to"`
}

func (r Result) Applied() bool {
	return r.Outcome == OutcomeApplied
}

type Orchestrator struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

func NewOrchestrator(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
) *Orchestrator {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return &Orchestrator{
		persistence: persistence,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "orchestrator"),
		now:         time.Now,
	}
}

// ProcessEvent applies event to the process as it was observed by the caller.
// Losing a race is not an error: the result then carries OutcomeStale and the
// state the winner left behind.
func (o *Orchestrator) ProcessEvent(
	ctx context.Context,
	process *models.Process,
	event models.ProcessEvent,
	userID uuid.UUID,
	requestID int64,
) (Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "engine.process_event",
		attribute.String(otelhelper.PublicIDKey, process.PublicID.String()),
		attribute.String(otelhelper.ProcessTypeKey, string(process.Type)),
		attribute.String(otelhelper.ProcessEventKey, string(event)),
		attribute.String(otelhelper.ProcessStateKey, string(process.State)),
		attribute.Int64(otelhelper.RequestIDKey, requestID),
	)
	defer span.End()

	result := Result{
		PublicID: process.PublicID,
		Event:    event,
		From:     process.State,
		To:       process.State,
	}

	if process.State.Terminal() {
		result.Outcome = OutcomeAlreadyTerminal
		span.SetAttributes(attribute.String(otelhelper.TransitionResult, string(result.Outcome)))

		o.logger.DebugContext(ctx, "Ignoring event for finished process",
			"public_id", process.PublicID,
			"state", process.State,
			"event", event)

		return result, nil
	}

	next, ok := TableFor(process.Type.Flow()).Next(process.State, event)
	if !ok {
		err := &TransitionError{
			PublicID: process.PublicID,
			State:    process.State,
			Event:    event,
			Err:      ErrIllegalTransition,
		}
		otelhelper.SetError(span, err)

		return result, err
	}

	span.SetAttributes(attribute.String(otelhelper.NextStateKey, string(next)))

	return o.apply(ctx, span, process, persistence.TransitionCommand{
		PublicID:  process.PublicID,
		RequestID: requestID,
		Expected:  process.State,
		Next:      next,
		Event:     event,
		UserID:    userID,
		At:        o.now().UTC(),
	}, result)
}

// ProcessEventByID loads the process and applies event to it.
func (o *Orchestrator) ProcessEventByID(
	ctx context.Context,
	publicID uuid.UUID,
	event models.ProcessEvent,
	userID uuid.UUID,
) (Result, error) {
	process, err := o.persistence.ProcessByPublicID(ctx, publicID)
	if err != nil {
		return Result{}, err
	}

	return o.ProcessEvent(ctx, process, event, userID, 0)
}

// Complete moves a pending process to COMPLETE without consulting the table.
func (o *Orchestrator) Complete(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (Result, error) {
	return o.direct(ctx, publicID, requestID, userID, models.ProcessEventCompleted, models.ProcessStateComplete)
}

// Fail moves a pending process to FAILED without consulting the table.
func (o *Orchestrator) Fail(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (Result, error) {
	return o.direct(ctx, publicID, requestID, userID, models.ProcessEventFailed, models.ProcessStateFailed)
}

// Expire moves a pending process to EXPIRED without consulting the table.
func (o *Orchestrator) Expire(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (Result, error) {
	return o.direct(ctx, publicID, requestID, userID, models.ProcessEventExpired, models.ProcessStateExpired)
}

func (o *Orchestrator) direct(
	ctx context.Context,
	publicID uuid.UUID,
	requestID int64,
	userID uuid.UUID,
	event models.ProcessEvent,
	next models.ProcessState,
) (Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "engine.direct_transition",
		attribute.String(otelhelper.PublicIDKey, publicID.String()),
		attribute.String(otelhelper.ProcessEventKey, string(event)),
		attribute.String(otelhelper.NextStateKey, string(next)),
		attribute.Int64(otelhelper.RequestIDKey, requestID),
	)
	defer span.End()

	process, err := o.persistence.ProcessByPublicID(ctx, publicID)
	if err != nil {
		otelhelper.SetError(span, err)

		return Result{}, err
	}

	result := Result{
		PublicID: publicID,
		Event:    event,
		From:     models.ProcessStatePending,
		To:       process.State,
	}

	if process.State.Terminal() {
		result.From = process.State
		result.Outcome = OutcomeAlreadyTerminal

		return result, nil
	}

	return o.apply(ctx, span, process, persistence.TransitionCommand{
		PublicID:  publicID,
		RequestID: requestID,
		Expected:  models.ProcessStatePending,
		Next:      next,
		Event:     event,
		UserID:    userID,
		At:        o.now().UTC(),
	}, result)
}

func (o *Orchestrator) apply(
	ctx context.Context,
	span trace.Span,
	process *models.Process,
	command persistence.TransitionCommand,
	result Result,
) (Result, error) {
	applied, err := o.persistence.ApplyTransition(ctx, command)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, fmt.Errorf("failed to apply %s to process %s: %w", command.Event, command.PublicID, err)
	}

	if !applied {
		return o.stale(ctx, span, command, result)
	}

	result.Outcome = OutcomeApplied
	result.To = command.Next
	span.SetAttributes(attribute.String(otelhelper.TransitionResult, string(result.Outcome)))

	o.logger.InfoContext(ctx, "Process transitioned",
		"public_id", command.PublicID,
		"type", process.Type,
		"event", command.Event,
		"from", command.Expected,
		"to", command.Next)

	observed := *process
	observed.State = command.Expected

	changed := events.NewProcessTransitioned(&observed, command.Event, command.Next, command.UserID, command.RequestID)

	err = o.publisher.Publish(ctx, command.PublicID.String(), changed)
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to publish transition",
			"public_id", command.PublicID,
			"event", command.Event,
			"error", err)
	}

	return result, nil
}

// stale re-reads the process after a lost race so the caller learns the
// state the winner produced.
func (o *Orchestrator) stale(
	ctx context.Context,
	span trace.Span,
	command persistence.TransitionCommand,
	result Result,
) (Result, error) {
	result.Outcome = OutcomeStale

	current, err := o.persistence.ProcessByPublicID(ctx, command.PublicID)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, fmt.Errorf("failed to reload process %s: %w", command.PublicID, err)
	}

	result.To = current.State
	span.SetAttributes(attribute.String(otelhelper.TransitionResult, string(result.Outcome)))

	o.logger.InfoContext(ctx, "Transition lost to a concurrent writer",
		"public_id", command.PublicID,
		"event", command.Event,
		"expected", command.Expected,
		"observed", current.State)

	return result, nil
}
