package engine_test

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

func newPublisher() *mocks.MockEventBus {
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	return publisher
}

func seedPending(t *testing.T, store persistence.Persistence, processType models.ProcessType) *models.Process {
	t.Helper()

	now := time.Now().UTC()
	userID := uuid.New()

	process := &models.Process{
		PublicID:  uuid.New(),
		Type:      processType,
		State:     models.ProcessStatePending,
		Channel:   models.ChannelAPI,
		Expiry:    now.Add(processType.Duration()),
		CreatedAt: now,
		Requests: []*models.ProcessRequest{{
			UserID:  userID,
			Type:    models.RequestTypeCreateNewProcess,
			State:   models.ProcessStateComplete,
			Channel: models.ChannelAPI,
		}},
		Transitions: []*models.Transition{{
			Event:    models.ProcessEventCreated,
			UserID:   userID,
			OldState: models.ProcessStateInitial,
			NewState: models.ProcessStatePending,
		}},
	}

	require.NoError(t, store.CreateProcess(t.Context(), process))

	return process
}

func TestTables(t *testing.T) {
	t.Parallel()

	for key, next := range engine.DefaultTable {
		got, ok := engine.TransactionTable.Next(key.State, key.Event)
		assert.True(t, ok, "transaction table misses %s/%s", key.State, key.Event)
		assert.Equal(t, next, got)
	}

	tests := []struct {
		name  string
		flow  models.Flow
		state models.ProcessState
		event models.ProcessEvent
		want  models.ProcessState
		ok    bool
	}{
		{"created", models.FlowDefault, models.ProcessStateInitial, models.ProcessEventCreated, models.ProcessStatePending, true},
		{"completed", models.FlowDefault, models.ProcessStatePending, models.ProcessEventCompleted, models.ProcessStateComplete, true},
		{"resend keeps pending", models.FlowDefault, models.ProcessStatePending, models.ProcessEventAuthTokenResend, models.ProcessStatePending, true},
		{"no rule from terminal", models.FlowDefault, models.ProcessStateComplete, models.ProcessEventExpired, "", false},
		{"payment outside transaction flow", models.FlowDefault, models.ProcessStatePending, models.ProcessEventRemotePaymentCompleted, "", false},
		{"payment completes transaction", models.FlowTransaction, models.ProcessStatePending, models.ProcessEventRemotePaymentCompleted, models.ProcessStateComplete, true},
		{"reversal fails transaction", models.FlowTransaction, models.ProcessStatePending, models.ProcessEventReverseTransaction, models.ProcessStateFailed, true},
		{"offers keep transaction pending", models.FlowTransaction, models.ProcessStatePending, models.ProcessEventCreditRatingOffersReceived, models.ProcessStatePending, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := engine.TableFor(tt.flow).Next(tt.state, tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrchestrator_ProcessEvent_Applied(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	publisher := newPublisher()
	orchestrator := engine.NewOrchestrator(slog.Default(), store, publisher, nil)

	process := seedPending(t, store, models.ProcessTypePasswordReset)
	userID := uuid.New()

	result, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventCompleted, userID, 0)
	require.NoError(t, err)

	assert.True(t, result.Applied())
	assert.Equal(t, models.ProcessStatePending, result.From)
	assert.Equal(t, models.ProcessStateComplete, result.To)

	stored, err := store.ProcessByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStateComplete, stored.State)

	transitions, err := store.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.ProcessEventCompleted, transitions[1].Event)
	assert.Equal(t, userID, transitions[1].UserID)

	publisher.AssertCalled(t, "Publish", mock.Anything, process.PublicID.String(), mock.MatchedBy(func(e events.ProcessTransitioned) bool {
		return e.OldState == models.ProcessStatePending &&
			e.NewState == models.ProcessStateComplete &&
			e.Terminal()
	}))
}

func TestOrchestrator_ProcessEvent_AlreadyTerminal(t *testing.T) {
	t.Parallel()

	store := &mocks.MockPersistence{}
	publisher := &mocks.MockEventBus{}
	orchestrator := engine.NewOrchestrator(slog.Default(), store, publisher, nil)

	process := &models.Process{
		PublicID: uuid.New(),
		Type:     models.ProcessTypeEmailVerification,
		State:    models.ProcessStateFailed,
	}

	result, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventCompleted, uuid.New(), 0)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeAlreadyTerminal, result.Outcome)
	assert.Equal(t, models.ProcessStateFailed, result.To)
	store.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_ProcessEvent_Illegal(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	orchestrator := engine.NewOrchestrator(slog.Default(), store, newPublisher(), nil)

	process := seedPending(t, store, models.ProcessTypeTwoFactorAuth)

	_, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventRemotePaymentCompleted, uuid.New(), 0)
	require.Error(t, err)
	assert.True(t, engine.IsIllegalTransition(err))

	var transitionErr *engine.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.ProcessStatePending, transitionErr.State)

	stored, err := store.ProcessByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatePending, stored.State)
}

func TestOrchestrator_ProcessEvent_TransactionFlow(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	orchestrator := engine.NewOrchestrator(slog.Default(), store, newPublisher(), nil)

	process := seedPending(t, store, models.ProcessTypeTransaction)

	result, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventRemotePaymentResult, uuid.New(), 0)
	require.NoError(t, err)
	assert.True(t, result.Applied())
	assert.Equal(t, models.ProcessStatePending, result.To)

	result, err = orchestrator.ProcessEventByID(t.Context(), process.PublicID, models.ProcessEventReversePendingFunds, uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Applied())
	assert.Equal(t, models.ProcessStateFailed, result.To)

	transitions, err := store.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Len(t, transitions, 3)
}

func TestOrchestrator_ProcessEvent_StaleSnapshot(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	orchestrator := engine.NewOrchestrator(slog.Default(), store, newPublisher(), nil)

	process := seedPending(t, store, models.ProcessTypePasswordReset)
	snapshot := process.Clone()

	_, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventFailed, uuid.New(), 0)
	require.NoError(t, err)

	result, err := orchestrator.ProcessEvent(t.Context(), snapshot, models.ProcessEventCompleted, uuid.New(), 0)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeStale, result.Outcome)
	assert.Equal(t, models.ProcessStateFailed, result.To)

	transitions, err := store.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

func TestOrchestrator_SingleWinner(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	orchestrator := engine.NewOrchestrator(slog.Default(), store, newPublisher(), nil)

	process := seedPending(t, store, models.ProcessTypeMerchantUserInvitation)
	terminalEvents := []models.ProcessEvent{
		models.ProcessEventCompleted,
		models.ProcessEventFailed,
		models.ProcessEventExpired,
	}

	const callers = 30

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []engine.Result
	)

	for i := range callers {
		wg.Add(1)

		go func(event models.ProcessEvent) {
			defer wg.Done()

			result, err := orchestrator.ProcessEvent(t.Context(), process.Clone(), event, uuid.New(), 0)
			assert.NoError(t, err)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(terminalEvents[i%len(terminalEvents)])
	}

	wg.Wait()

	stored, err := store.ProcessByPublicID(t.Context(), process.PublicID)
	require.NoError(t, err)
	require.True(t, stored.State.Terminal())

	applied := 0

	for _, result := range results {
		if result.Applied() {
			applied++

			assert.Equal(t, stored.State, result.To)

			continue
		}

		assert.Equal(t, engine.OutcomeStale, result.Outcome)
		assert.Equal(t, stored.State, result.To)
	}

	assert.Equal(t, 1, applied)

	transitions, err := store.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

func TestOrchestrator_DirectPath(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	orchestrator := engine.NewOrchestrator(slog.Default(), store, newPublisher(), nil)

	process := seedPending(t, store, models.ProcessTypeWebhookCreation)
	requestID := process.InitialRequest().ID

	result, err := orchestrator.Complete(t.Context(), process.PublicID, requestID, uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Applied())
	assert.Equal(t, models.ProcessStateComplete, result.To)

	result, err = orchestrator.Expire(t.Context(), process.PublicID, 0, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeAlreadyTerminal, result.Outcome)
	assert.Equal(t, models.ProcessStateComplete, result.To)

	result, err = orchestrator.Fail(t.Context(), process.PublicID, 0, uuid.New())
	require.NoError(t, err)
	assert.False(t, result.Applied())

	transitions, err := store.Transitions(t.Context(), process.PublicID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.ProcessEventCompleted, transitions[1].Event)

	_, err = orchestrator.Complete(t.Context(), uuid.New(), 0, uuid.New())
	assert.True(t, persistence.IsProcessNotFound(err))
}

func TestOrchestrator_StoreFailure(t *testing.T) {
	t.Parallel()

	store := &mocks.MockPersistence{}
	publisher := &mocks.MockEventBus{}
	orchestrator := engine.NewOrchestrator(slog.Default(), store, publisher, nil)

	process := &models.Process{
		PublicID: uuid.New(),
		Type:     models.ProcessTypePasswordReset,
		State:    models.ProcessStatePending,
	}

	store.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(c persistence.TransitionCommand) bool {
		return c.PublicID == process.PublicID &&
			c.Expected == models.ProcessStatePending &&
			c.Next == models.ProcessStateComplete
	})).Return(false, errors.New("connection reset"))

	_, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventCompleted, uuid.New(), 7)
	require.ErrorContains(t, err, "connection reset")

	store.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_PublishFailureIsNotReturned(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	orchestrator := engine.NewOrchestrator(slog.Default(), store, publisher, nil)
	process := seedPending(t, store, models.ProcessTypeUserRegistration)

	result, err := orchestrator.ProcessEvent(t.Context(), process, models.ProcessEventExpired, uuid.New(), 0)
	require.NoError(t, err)
	assert.True(t, result.Applied())
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}
