package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/engine"
	"github.com/sovereignrag/process/pkg/eventbus"
	"github.com/sovereignrag/process/pkg/events"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

// Transitioner applies events to stored processes.
type Transitioner interface {
	ProcessEvent(
		ctx context.Context,
		process *models.Process,
		event models.ProcessEvent,
		userID uuid.UUID,
		requestID int64,
	) (engine.Result, error)
	Complete(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (engine.Result, error)
	Fail(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (engine.Result, error)
	Expire(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (engine.Result, error)
}

// Process is the entry point business code uses to create processes, raise
// events on them and look them up.
type Process struct {
	persistence  persistence.Persistence
	transitioner Transitioner
	publisher    eventbus.EventPublisher
	validate     *validator.Validate
	logger       *slog.Logger
	now          func() time.Time
}

func NewProcess(
	logger *slog.Logger,
	persistence persistence.Persistence,
	transitioner Transitioner,
	publisher eventbus.EventPublisher,
) *Process {
	return &Process{
		persistence:  persistence,
		transitioner: transitioner,
		publisher:    publisher,
		validate:     newValidator(),
		logger:       logger.With("module", "process_service"),
		now:          time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Process) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateProcess stores a new process together with its creation request and
// the transition out of INITIAL, then announces it.
func (s *Process) CreateProcess(ctx context.Context, payload models.CreateProcessPayload) (*models.Process, error) {
	err := s.validate.StructCtx(ctx, payload)
	if err != nil {
		return nil, invalidPayload("CreateProcess", err)
	}

	publicID := payload.PublicID
	if publicID == uuid.Nil {
		publicID, err = uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to allocate process id: %w", err)
		}
	}

	initialState := payload.InitialState
	if initialState == "" {
		initialState = models.ProcessStatePending
	}

	duration := payload.Type.Duration()
	if payload.ExpiresIn > 0 {
		duration = payload.ExpiresIn
	}

	now := s.now().UTC()

	process := &models.Process{
		PublicID:            publicID,
		Type:                payload.Type,
		Description:         payload.Description,
		State:               initialState,
		Channel:             payload.Channel,
		Expiry:              now.Add(duration),
		ExternalReference:   payload.ExternalReference,
		IntegratorReference: payload.IntegratorReference,
		CreatedAt:           now,
		Requests: []*models.ProcessRequest{{
			UserID:       payload.UserID,
			Type:         models.RequestTypeCreateNewProcess,
			State:        models.ProcessStateComplete,
			Channel:      payload.Channel,
			Data:         payload.Data,
			Stakeholders: payload.Stakeholders,
			CreatedAt:    now,
		}},
		Transitions: []*models.Transition{{
			Event:     models.ProcessEventCreated,
			UserID:    payload.UserID,
			OldState:  models.ProcessStateInitial,
			NewState:  initialState,
			CreatedAt: now,
		}},
	}

	err = s.persistence.CreateProcess(ctx, process)
	if err != nil {
		return nil, fmt.Errorf("failed to create process: %w", err)
	}

	s.logger.InfoContext(ctx, "Process created",
		"public_id", process.PublicID,
		"type", process.Type,
		"state", process.State,
		"expiry", process.Expiry)

	err = s.publisher.Publish(ctx, process.PublicID.String(), events.NewProcessCreated(process, payload.UserID))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish process created event",
			"public_id", process.PublicID,
			"error", err)
	}

	return process, nil
}

// MakeRequest records the request on the process and raises its event. The
// request is kept even when the event does not move the process.
func (s *Process) MakeRequest(ctx context.Context, payload models.MakeRequestPayload) (*models.ProcessRequest, engine.Result, error) {
	err := s.validate.StructCtx(ctx, payload)
	if err != nil {
		return nil, engine.Result{}, invalidPayload("MakeRequest", err)
	}

	process, err := s.persistence.ProcessByPublicID(ctx, payload.PublicID)
	if err != nil {
		return nil, engine.Result{}, err
	}

	state := payload.State
	if state == "" {
		state = models.ProcessStatePending
	}

	request := &models.ProcessRequest{
		UserID:       payload.UserID,
		Type:         payload.Type,
		State:        state,
		Channel:      payload.Channel,
		Data:         payload.Data,
		Stakeholders: payload.Stakeholders,
		CreatedAt:    s.now().UTC(),
	}

	err = s.persistence.AppendRequest(ctx, process.PublicID, request)
	if err != nil {
		return nil, engine.Result{}, fmt.Errorf("failed to record request: %w", err)
	}

	result, err := s.transitioner.ProcessEvent(ctx, process, payload.Event, payload.UserID, request.ID)
	if err != nil {
		return request, result, err
	}

	if result.Applied() {
		request.State = result.To
	}

	return request, result, nil
}

// ProcessEvent raises event on the stored process without recording a request.
func (s *Process) ProcessEvent(
	ctx context.Context,
	publicID uuid.UUID,
	event models.ProcessEvent,
	userID uuid.UUID,
) (engine.Result, error) {
	if !event.Valid() {
		return engine.Result{}, NewValidationError("ProcessEvent", "INVALID_EVENT", "unknown event "+string(event), ErrInvalidRequest)
	}

	process, err := s.persistence.ProcessByPublicID(ctx, publicID)
	if err != nil {
		return engine.Result{}, err
	}

	return s.transitioner.ProcessEvent(ctx, process, event, userID, 0)
}

// CompleteProcess moves a pending process and one of its requests to COMPLETE.
func (s *Process) CompleteProcess(ctx context.Context, publicID uuid.UUID, requestID int64, userID uuid.UUID) (engine.Result, error) {
	return s.transitioner.Complete(ctx, publicID, requestID, userID)
}

func (s *Process) FailProcess(ctx context.Context, publicID uuid.UUID, userID uuid.UUID) (engine.Result, error) {
	return s.transitioner.Fail(ctx, publicID, 0, userID)
}

func (s *Process) ExpireProcess(ctx context.Context, publicID uuid.UUID, userID uuid.UUID) (engine.Result, error) {
	return s.transitioner.Expire(ctx, publicID, 0, userID)
}

// SetRequestData stores value under name on the request, replacing any
// previous value.
func (s *Process) SetRequestData(
	ctx context.Context,
	publicID uuid.UUID,
	requestID int64,
	name models.DataName,
	value string,
) error {
	if !name.Valid() {
		return NewValidationError("SetRequestData", "INVALID_DATA_NAME", "unknown data name "+string(name), ErrInvalidRequest)
	}

	return s.persistence.SetRequestData(ctx, publicID, requestID, name, value)
}

// Transitions returns the history of the process, oldest first.
func (s *Process) Transitions(ctx context.Context, publicID uuid.UUID) ([]*models.Transition, error) {
	_, err := s.persistence.ProcessByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	return s.persistence.Transitions(ctx, publicID)
}
