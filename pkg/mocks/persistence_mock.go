package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) CreateProcess(ctx context.Context, process *models.Process) error {
	args := m.Called(ctx, process)

	return args.Error(0)
}

func (m *MockPersistence) ProcessByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error) {
	args := m.Called(ctx, publicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Process), args.Error(1)
}

func (m *MockPersistence) ProcessByPublicIDAndState(
	ctx context.Context,
	publicID uuid.UUID,
	state models.ProcessState,
) (*models.Process, error) {
	args := m.Called(ctx, publicID, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Process), args.Error(1)
}

func (m *MockPersistence) ProcessByExternalReference(ctx context.Context, reference string) (*models.Process, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Process), args.Error(1)
}

func (m *MockPersistence) ProcessByExternalReferenceAndState(
	ctx context.Context,
	reference string,
	state models.ProcessState,
) (*models.Process, error) {
	args := m.Called(ctx, reference, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Process), args.Error(1)
}

func (m *MockPersistence) FindProcesses(ctx context.Context, query persistence.ProcessQuery) ([]*models.Process, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Process), args.Error(1)
}

func (m *MockPersistence) ProcessExists(ctx context.Context, query persistence.ProcessQuery) (bool, error) {
	args := m.Called(ctx, query)

	return args.Bool(0), args.Error(1)
}

func (m *MockPersistence) Transitions(ctx context.Context, publicID uuid.UUID) ([]*models.Transition, error) {
	args := m.Called(ctx, publicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Transition), args.Error(1)
}

func (m *MockPersistence) AppendRequest(ctx context.Context, publicID uuid.UUID, request *models.ProcessRequest) error {
	args := m.Called(ctx, publicID, request)

	return args.Error(0)
}

func (m *MockPersistence) SetRequestData(
	ctx context.Context,
	publicID uuid.UUID,
	requestID int64,
	name models.DataName,
	value string,
) error {
	args := m.Called(ctx, publicID, requestID, name, value)

	return args.Error(0)
}

func (m *MockPersistence) ApplyTransition(ctx context.Context, command persistence.TransitionCommand) (bool, error) {
	args := m.Called(ctx, command)

	return args.Bool(0), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
