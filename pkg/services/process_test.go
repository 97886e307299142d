package services

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/engine"
	"github.com/sovereignrag/process/pkg/events"
	"github.com/sovereignrag/process/pkg/mocks"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
	"github.com/sovereignrag/process/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Process, *memory.Persistence, *mocks.MockEventBus) {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	orchestrator := engine.NewOrchestrator(slog.Default(), store, publisher, nil)

	return NewProcess(slog.Default(), store, orchestrator, publisher), store, publisher
}

func passwordReset(userID uuid.UUID) models.CreateProcessPayload {
	return models.CreateProcessPayload{
		UserID:            userID,
		Type:              models.ProcessTypePasswordReset,
		InitialState:      models.ProcessStatePending,
		Channel:           models.ChannelWeb,
		ExternalReference: "reset-" + userID.String(),
		Data: map[models.DataName]string{
			models.DataUserEmail: "user@example.com",
		},
		Stakeholders: []models.Stakeholder{
			{StakeholderID: userID.String(), Type: models.StakeholderForUser},
		},
	}
}

func TestProcess_CreateProcess(t *testing.T) {
	t.Parallel()

	service, store, publisher := newService(t)
	userID := uuid.New()
	before := time.Now().UTC()

	payload := passwordReset(userID)
	payload.ExpiresIn = 900 * time.Second

	process, err := service.CreateProcess(t.Context(), payload)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, process.PublicID)
	assert.Equal(t, uuid.Version(7), process.PublicID.Version())
	assert.Equal(t, models.ProcessStatePending, process.State)
	assert.WithinDuration(t, before.Add(900*time.Second), process.Expiry, 5*time.Second)

	stored, err := store.ProcessByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)

	initial := stored.InitialRequest()
	require.NotNil(t, initial)
	assert.Equal(t, models.ProcessStateComplete, initial.State)
	assert.Equal(t, "user@example.com", initial.Data[models.DataUserEmail])

	transitions, err := service.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.ProcessStateInitial, transitions[0].OldState)
	assert.Equal(t, models.ProcessStatePending, transitions[0].NewState)
	assert.Equal(t, models.ProcessEventCreated, transitions[0].Event)

	publisher.AssertCalled(t, "Publish", mock.Anything, process.PublicID.String(), mock.MatchedBy(func(e events.ProcessCreated) bool {
		return e.PublicID == process.PublicID && e.Expiry.Equal(process.Expiry) && e.UserID == userID
	}))
}

func TestProcess_CreateProcess_Options(t *testing.T) {
	t.Parallel()

	service, _, _ := newService(t)
	publicID := uuid.New()

	payload := passwordReset(uuid.New())
	payload.PublicID = publicID
	payload.InitialState = ""

	process, err := service.CreateProcess(t.Context(), payload)
	require.NoError(t, err)

	assert.Equal(t, publicID, process.PublicID)
	assert.Equal(t, models.ProcessStatePending, process.State)
	assert.WithinDuration(t, time.Now().Add(20*time.Minute), process.Expiry, 5*time.Second)

	_, err = service.CreateProcess(t.Context(), payload)
	assert.True(t, IsConflictError(err))
}

func TestProcess_CreateProcess_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*models.CreateProcessPayload)
	}{
		{"missing user", func(p *models.CreateProcessPayload) { p.UserID = uuid.Nil }},
		{"unknown type", func(p *models.CreateProcessPayload) { p.Type = "LOAN_APPLICATION" }},
		{"initial state", func(p *models.CreateProcessPayload) { p.InitialState = models.ProcessStateInitial }},
		{"terminal initial state", func(p *models.CreateProcessPayload) { p.InitialState = models.ProcessStateComplete }},
		{"expired initial state", func(p *models.CreateProcessPayload) { p.InitialState = models.ProcessStateExpired }},
		{"unknown channel", func(p *models.CreateProcessPayload) { p.Channel = "FAX" }},
		{"unknown data name", func(p *models.CreateProcessPayload) { p.Data = map[models.DataName]string{"SHOE_SIZE": "42"} }},
		{"stakeholder without id", func(p *models.CreateProcessPayload) {
			p.Stakeholders = []models.Stakeholder{{Type: models.StakeholderActorUser}}
		}},
		{"negative expiry", func(p *models.CreateProcessPayload) { p.ExpiresIn = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service, store, publisher := newService(t)

			payload := passwordReset(uuid.New())
			tt.mutate(&payload)

			_, err := service.CreateProcess(t.Context(), payload)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var serviceErr *ServiceError
			require.ErrorAs(t, err, &serviceErr)
			assert.Equal(t, "CreateProcess", serviceErr.Op)

			processes, err := store.FindProcesses(t.Context(), persistence.ProcessQuery{})
			require.NoError(t, err)
			assert.Empty(t, processes)
			publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcess_CreateProcess_DuplicatePendingReference(t *testing.T) {
	t.Parallel()

	service, _, _ := newService(t)
	payload := passwordReset(uuid.New())

	first, err := service.CreateProcess(t.Context(), payload)
	require.NoError(t, err)

	_, err = service.CreateProcess(t.Context(), payload)
	require.ErrorIs(t, err, ErrDuplicatePendingProcess)
	assert.True(t, IsConflictError(err))

	_, err = service.FailProcess(t.Context(), first.PublicID, uuid.New())
	require.NoError(t, err)

	second, err := service.CreateProcess(t.Context(), payload)
	require.NoError(t, err)
	assert.NotEqual(t, first.PublicID, second.PublicID)
}

func TestProcess_CreateProcess_PublishFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	service := NewProcess(slog.Default(), store, engine.NewOrchestrator(slog.Default(), store, publisher, nil), publisher)

	process, err := service.CreateProcess(t.Context(), passwordReset(uuid.New()))
	require.NoError(t, err)

	_, err = store.ProcessByPublicID(t.Context(), process.PublicID)
	assert.NoError(t, err)
}

// One process is created, completed, and then hit by a late expiry.
func TestProcess_Lifecycle(t *testing.T) {
	t.Parallel()

	service, store, _ := newService(t)
	userID := uuid.New()

	process, err := service.CreateProcess(t.Context(), passwordReset(userID))
	require.NoError(t, err)
	require.Equal(t, models.ProcessStatePending, process.State)

	completion, result, err := service.MakeRequest(t.Context(), models.MakeRequestPayload{
		PublicID: process.PublicID,
		UserID:   userID,
		Type:     models.RequestTypeCompleteProcess,
		Event:    models.ProcessEventCompleted,
		Channel:  models.ChannelWeb,
		Data:     map[models.DataName]string{models.DataVerificationToken: "123456"},
	})
	require.NoError(t, err)
	assert.True(t, result.Applied())
	assert.Equal(t, models.ProcessStateComplete, completion.State)

	stored, err := store.ProcessByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStateComplete, stored.State)
	assert.Equal(t, models.ProcessStateComplete, stored.Request(completion.ID).State)

	transitions, err := service.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)

	late, result, err := service.MakeRequest(t.Context(), models.MakeRequestPayload{
		PublicID: process.PublicID,
		UserID:   uuid.New(),
		Type:     models.RequestTypeExpireProcess,
		Event:    models.ProcessEventExpired,
		Channel:  models.ChannelSystem,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeAlreadyTerminal, result.Outcome)

	stored, err = store.ProcessByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStateComplete, stored.State)
	require.Len(t, stored.Requests, 3)
	assert.Equal(t, models.ProcessStatePending, stored.Request(late.ID).State)

	transitions, err = service.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

// Completion and failure race on a fresh process.
func TestProcess_ConcurrentTerminalRequests(t *testing.T) {
	t.Parallel()

	for range 20 {
		service, store, _ := newService(t)

		process, err := service.CreateProcess(t.Context(), passwordReset(uuid.New()))
		require.NoError(t, err)

		var wg sync.WaitGroup

		for _, event := range []models.ProcessEvent{models.ProcessEventCompleted, models.ProcessEventFailed} {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, _, err := service.MakeRequest(t.Context(), models.MakeRequestPayload{
					PublicID: process.PublicID,
					UserID:   uuid.New(),
					Type:     models.RequestTypeCompleteProcess,
					Event:    event,
					Channel:  models.ChannelAPI,
				})
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		stored, err := store.ProcessByPublicID(t.Context(), process.PublicID)
		require.NoError(t, err)
		assert.Contains(t, []models.ProcessState{models.ProcessStateComplete, models.ProcessStateFailed}, stored.State)

		transitions, err := store.Transitions(t.Context(), process.PublicID)
		require.NoError(t, err)
		require.Len(t, transitions, 2)
		assert.Equal(t, stored.State, transitions[1].NewState)

		advanced := 0

		for _, request := range stored.Requests {
			if request.Type == models.RequestTypeCompleteProcess && request.State == stored.State {
				advanced++
			}
		}

		assert.Equal(t, 1, advanced)
	}
}

func TestProcess_TerminalIsSticky(t *testing.T) {
	t.Parallel()

	for _, terminal := range []models.ProcessEvent{
		models.ProcessEventCompleted,
		models.ProcessEventFailed,
		models.ProcessEventExpired,
	} {
		t.Run(string(terminal), func(t *testing.T) {
			t.Parallel()

			service, store, _ := newService(t)

			process, err := service.CreateProcess(t.Context(), passwordReset(uuid.New()))
			require.NoError(t, err)

			result, err := service.ProcessEvent(t.Context(), process.PublicID, terminal, uuid.New())
			require.NoError(t, err)
			require.True(t, result.Applied())

			for _, event := range []models.ProcessEvent{
				models.ProcessEventCompleted,
				models.ProcessEventFailed,
				models.ProcessEventExpired,
				models.ProcessEventAuthTokenResend,
				models.ProcessEventRemotePaymentCompleted,
			} {
				result, err := service.ProcessEvent(t.Context(), process.PublicID, event, uuid.New())
				require.NoError(t, err)
				assert.Equal(t, engine.OutcomeAlreadyTerminal, result.Outcome)
			}

			_, err = service.CompleteProcess(t.Context(), process.PublicID, 0, uuid.New())
			require.NoError(t, err)

			transitions, err := store.Transitions(t.Context(), process.PublicID)
			require.NoError(t, err)
			assert.Len(t, transitions, 2)
		})
	}
}

func TestProcess_MakeRequest_Errors(t *testing.T) {
	t.Parallel()

	service, _, _ := newService(t)

	_, _, err := service.MakeRequest(t.Context(), models.MakeRequestPayload{
		PublicID: uuid.New(),
		UserID:   uuid.New(),
		Type:     models.RequestTypeCompleteProcess,
		Event:    models.ProcessEventCompleted,
		Channel:  models.ChannelWeb,
	})
	assert.True(t, IsNotFoundError(err))

	_, _, err = service.MakeRequest(t.Context(), models.MakeRequestPayload{
		PublicID: uuid.New(),
		UserID:   uuid.New(),
		Type:     models.RequestTypeCompleteProcess,
		Event:    "PROCESS_TELEPORTED",
		Channel:  models.ChannelWeb,
	})
	assert.True(t, IsValidationError(err))

	process, err := service.CreateProcess(t.Context(), passwordReset(uuid.New()))
	require.NoError(t, err)

	request, _, err := service.MakeRequest(t.Context(), models.MakeRequestPayload{
		PublicID: process.PublicID,
		UserID:   uuid.New(),
		Type:     models.RequestTypeStatusCheckRetry,
		Event:    models.ProcessEventReverseTransaction,
		Channel:  models.ChannelWeb,
	})
	require.Error(t, err)
	assert.True(t, engine.IsIllegalTransition(err))
	assert.True(t, IsValidationError(err))
	require.NotNil(t, request, "the request is recorded even when its event is rejected")

	stored, err := service.FindByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatePending, stored.State)
	assert.Len(t, stored.Requests, 2)
}

func TestProcess_SetRequestData(t *testing.T) {
	t.Parallel()

	service, _, _ := newService(t)

	process, err := service.CreateProcess(t.Context(), passwordReset(uuid.New()))
	require.NoError(t, err)

	requestID := process.InitialRequest().ID

	require.NoError(t, service.SetRequestData(t.Context(), process.PublicID, requestID, models.DataVerificationToken, "first"))
	require.NoError(t, service.SetRequestData(t.Context(), process.PublicID, requestID, models.DataVerificationToken, "second"))

	stored, err := service.FindByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.InitialRequest().Data[models.DataVerificationToken])
	assert.Len(t, stored.InitialRequest().Data, 2)

	err = service.SetRequestData(t.Context(), process.PublicID, requestID, "SHOE_SIZE", "42")
	assert.True(t, IsValidationError(err))

	err = service.SetRequestData(t.Context(), process.PublicID, requestID+100, models.DataVerificationToken, "x")
	assert.True(t, IsNotFoundError(err))
}

func TestProcess_HealthCheck(t *testing.T) {
	t.Parallel()

	service, _, _ := newService(t)

	message, healthy := service.HealthCheck(t.Context())
	assert.True(t, healthy)
	assert.Equal(t, "Persistence layer is healthy", message)

	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	message, healthy = NewProcess(slog.Default(), store, nil, nil).HealthCheck(t.Context())
	assert.False(t, healthy)
	assert.Contains(t, message, "connection refused")
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
		conflict   bool
	}{
		{"invalid request", NewValidationError("op", "CODE", "bad", ErrInvalidRequest), true, false, false},
		{"illegal transition", &engine.TransitionError{Err: engine.ErrIllegalTransition}, true, false, false},
		{"process not found", persistence.NewProcessError("op", uuid.New(), persistence.ErrProcessNotFound), false, true, false},
		{"request not found", persistence.NewProcessError("op", uuid.New(), persistence.ErrRequestNotFound), false, true, false},
		{"duplicate", persistence.NewProcessReferenceError("op", "ref", persistence.ErrDuplicatePendingProcess), false, false, true},
		{"other", errors.New("boom"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.validation, IsValidationError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFoundError(tt.err))
			assert.Equal(t, tt.conflict, IsConflictError(tt.err))
		})
	}
}
