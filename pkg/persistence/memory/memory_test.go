package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
	"github.com/sovereignrag/process/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcess(processType models.ProcessType, reference string) *models.Process {
	now := time.Now().UTC()
	userID := uuid.New()

	return &models.Process{
		PublicID:          uuid.New(),
		Type:              processType,
		Description:       processType.Description(),
		State:             models.ProcessStatePending,
		Channel:           models.ChannelWeb,
		Expiry:            now.Add(processType.Duration()),
		ExternalReference: reference,
		CreatedAt:         now,
		Requests: []*models.ProcessRequest{{
			UserID:  userID,
			Type:    models.RequestTypeCreateNewProcess,
			State:   models.ProcessStateComplete,
			Channel: models.ChannelWeb,
			Data:    map[models.DataName]string{models.DataUserEmail: "user@example.com"},
			Stakeholders: []models.Stakeholder{
				{StakeholderID: userID.String(), Type: models.StakeholderForUser},
			},
		}},
		Transitions: []*models.Transition{{
			Event:    models.ProcessEventCreated,
			UserID:   userID,
			OldState: models.ProcessStateInitial,
			NewState: models.ProcessStatePending,
		}},
	}
}

func TestPersistence_CreateProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	process := newProcess(models.ProcessTypePasswordReset, "")

	require.NoError(t, store.CreateProcess(ctx, process))
	assert.NotZero(t, process.ID)
	assert.NotZero(t, process.Requests[0].ID)
	assert.NotZero(t, process.Transitions[0].ID)

	found, err := store.ProcessByPublicID(ctx, process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, process.PublicID, found.PublicID)
	assert.Equal(t, models.ProcessStatePending, found.State)
	assert.Equal(t, "user@example.com", found.InitialRequest().Data[models.DataUserEmail])

	found.State = models.ProcessStateFailed
	again, err := store.ProcessByPublicID(ctx, process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatePending, again.State, "returned processes must be copies")

	err = store.CreateProcess(ctx, process)
	assert.ErrorIs(t, err, persistence.ErrProcessAlreadyExists)
}

func TestPersistence_DuplicatePendingReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.CreateProcess(ctx, newProcess(models.ProcessTypeWebhookCreation, "hook-1")))

	err := store.CreateProcess(ctx, newProcess(models.ProcessTypeWebhookCreation, "hook-1"))
	assert.True(t, persistence.IsDuplicatePendingProcess(err))

	// Another type may hold the same reference.
	require.NoError(t, store.CreateProcess(ctx, newProcess(models.ProcessTypeWebhookUpdate, "hook-1")))
}

func TestPersistence_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	_, err := store.ProcessByPublicID(ctx, uuid.New())
	assert.True(t, persistence.IsProcessNotFound(err))

	_, err = store.ProcessByExternalReference(ctx, "missing")
	assert.True(t, persistence.IsProcessNotFound(err))

	_, err = store.ProcessByExternalReference(ctx, "")
	assert.True(t, persistence.IsProcessNotFound(err))

	_, err = store.Transitions(ctx, uuid.New())
	assert.True(t, persistence.IsProcessNotFound(err))
}

func TestPersistence_ApplyTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	process := newProcess(models.ProcessTypePasswordReset, "")
	require.NoError(t, store.CreateProcess(ctx, process))

	request := &models.ProcessRequest{
		UserID:  uuid.New(),
		Type:    models.RequestTypeCompleteProcess,
		State:   models.ProcessStatePending,
		Channel: models.ChannelWeb,
	}
	require.NoError(t, store.AppendRequest(ctx, process.PublicID, request))

	applied, err := store.ApplyTransition(ctx, persistence.TransitionCommand{
		PublicID:  process.PublicID,
		RequestID: request.ID,
		Expected:  models.ProcessStatePending,
		Next:      models.ProcessStateComplete,
		Event:     models.ProcessEventCompleted,
		UserID:    request.UserID,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	found, err := store.ProcessByPublicID(ctx, process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStateComplete, found.State)
	assert.Equal(t, models.ProcessStateComplete, found.Request(request.ID).State)

	// The second writer observes the terminal state and leaves no trace.
	applied, err = store.ApplyTransition(ctx, persistence.TransitionCommand{
		PublicID: process.PublicID,
		Expected: models.ProcessStatePending,
		Next:     models.ProcessStateExpired,
		Event:    models.ProcessEventExpired,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	transitions, err := store.Transitions(ctx, process.PublicID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.ProcessStateInitial, transitions[0].OldState)
	assert.Equal(t, models.ProcessStateComplete, transitions[1].NewState)
}

func TestPersistence_ApplyTransition_UnknownRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	process := newProcess(models.ProcessTypePasswordReset, "")
	require.NoError(t, store.CreateProcess(ctx, process))

	applied, err := store.ApplyTransition(ctx, persistence.TransitionCommand{
		PublicID:  process.PublicID,
		RequestID: 9999,
		Expected:  models.ProcessStatePending,
		Next:      models.ProcessStateComplete,
		Event:     models.ProcessEventCompleted,
	})
	assert.False(t, applied)
	assert.True(t, persistence.IsRequestNotFound(err))

	found, err := store.ProcessByPublicID(ctx, process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStatePending, found.State)
	assert.Len(t, found.Transitions, 1)
}

func TestPersistence_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	process := newProcess(models.ProcessTypeTwoFactorAuth, "")
	require.NoError(t, store.CreateProcess(ctx, process))

	targets := []struct {
		event models.ProcessEvent
		next  models.ProcessState
	}{
		{models.ProcessEventCompleted, models.ProcessStateComplete},
		{models.ProcessEventFailed, models.ProcessStateFailed},
		{models.ProcessEventExpired, models.ProcessStateExpired},
	}

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)

	for i := range 30 {
		target := targets[i%len(targets)]

		wg.Add(1)

		go func() {
			defer wg.Done()

			applied, err := store.ApplyTransition(ctx, persistence.TransitionCommand{
				PublicID: process.PublicID,
				Expected: models.ProcessStatePending,
				Next:     target.next,
				Event:    target.event,
			})
			assert.NoError(t, err)

			if applied {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	transitions, err := store.Transitions(ctx, process.PublicID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)

	found, err := store.ProcessByPublicID(ctx, process.PublicID)
	require.NoError(t, err)
	assert.Equal(t, transitions[1].NewState, found.State)
}

func TestPersistence_SetRequestDataReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	process := newProcess(models.ProcessTypeAvatarGeneration, "")
	require.NoError(t, store.CreateProcess(ctx, process))

	requestID := process.Requests[0].ID

	require.NoError(t, store.SetRequestData(ctx, process.PublicID, requestID, models.DataAvatarPrompt, "v1"))
	require.NoError(t, store.SetRequestData(ctx, process.PublicID, requestID, models.DataAvatarPrompt, "v2"))

	found, err := store.ProcessByPublicID(ctx, process.PublicID)
	require.NoError(t, err)

	value, ok := found.Value(models.DataAvatarPrompt)
	assert.True(t, ok)
	assert.Equal(t, "v2", value)

	err = store.SetRequestData(ctx, process.PublicID, 12345, models.DataAvatarPrompt, "v3")
	assert.True(t, persistence.IsRequestNotFound(err))
}

func TestPersistence_FindProcesses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	older := newProcess(models.ProcessTypeEmailVerification, "a")
	older.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	older.Expiry = older.CreatedAt.Add(time.Hour)
	require.NoError(t, store.CreateProcess(ctx, older))

	newer := newProcess(models.ProcessTypeEmailVerification, "b")
	require.NoError(t, store.CreateProcess(ctx, newer))

	other := newProcess(models.ProcessTypeUserRegistration, "c")
	require.NoError(t, store.CreateProcess(ctx, other))

	now := time.Now().UTC()

	tests := []struct {
		name  string
		query persistence.ProcessQuery
		want  []uuid.UUID
	}{
		{
			name:  "by type newest first",
			query: persistence.ProcessQuery{Types: []models.ProcessType{models.ProcessTypeEmailVerification}},
			want:  []uuid.UUID{newer.PublicID, older.PublicID},
		},
		{
			name:  "expired before now",
			query: persistence.ProcessQuery{State: models.ProcessStatePending, ExpiredBefore: now},
			want:  []uuid.UUID{older.PublicID},
		},
		{
			name:  "expires after now",
			query: persistence.ProcessQuery{Types: []models.ProcessType{models.ProcessTypeEmailVerification}, ExpiresAfter: now},
			want:  []uuid.UUID{newer.PublicID},
		},
		{
			name:  "created since",
			query: persistence.ProcessQuery{CreatedSince: now.Add(-time.Hour), Types: []models.ProcessType{models.ProcessTypeUserRegistration}},
			want:  []uuid.UUID{other.PublicID},
		},
		{
			name:  "by reference",
			query: persistence.ProcessQuery{ExternalReference: "b"},
			want:  []uuid.UUID{newer.PublicID},
		},
		{
			name: "by stakeholder",
			query: persistence.ProcessQuery{Stakeholder: &models.Stakeholder{
				StakeholderID: other.Requests[0].UserID.String(),
				Type:          models.StakeholderForUser,
			}},
			want: []uuid.UUID{other.PublicID},
		},
		{
			name:  "oldest expiry first",
			query: persistence.ProcessQuery{Types: []models.ProcessType{models.ProcessTypeEmailVerification}, OldestExpiryFirst: true},
			want:  []uuid.UUID{older.PublicID, newer.PublicID},
		},
		{
			name:  "paged",
			query: persistence.ProcessQuery{Types: []models.ProcessType{models.ProcessTypeEmailVerification}, Limit: 1, Offset: 1},
			want:  []uuid.UUID{older.PublicID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processes, err := store.FindProcesses(ctx, tt.query)
			require.NoError(t, err)

			got := make([]uuid.UUID, 0, len(processes))
			for _, process := range processes {
				got = append(got, process.PublicID)
			}

			assert.Equal(t, tt.want, got)

			exists, err := store.ProcessExists(ctx, tt.query)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}
