package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

// Lookups below treat a process as pending only while its expiry lies in the
// future, so a process whose expiry has not been processed yet is never
// offered as open.

func (s *Process) FindByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error) {
	return s.persistence.ProcessByPublicID(ctx, publicID)
}

// FindByExternalReference returns the newest process carrying the reference.
func (s *Process) FindByExternalReference(ctx context.Context, reference string) (*models.Process, error) {
	return s.persistence.ProcessByExternalReference(ctx, reference)
}

func (s *Process) FindPendingByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error) {
	process, err := s.persistence.ProcessByPublicIDAndState(ctx, publicID, models.ProcessStatePending)
	if err != nil {
		return nil, err
	}

	if process.Expired(s.now()) {
		return nil, persistence.NewProcessError("FindPendingByPublicID", publicID, persistence.ErrProcessNotFound)
	}

	return process, nil
}

func (s *Process) FindPendingByExternalReference(ctx context.Context, reference string) (*models.Process, error) {
	process, err := s.persistence.ProcessByExternalReferenceAndState(ctx, reference, models.ProcessStatePending)
	if err != nil {
		return nil, err
	}

	if process.Expired(s.now()) {
		return nil, persistence.NewProcessReferenceError("FindPendingByExternalReference", reference, persistence.ErrProcessNotFound)
	}

	return process, nil
}

func (s *Process) FindPendingByType(ctx context.Context, processType models.ProcessType) ([]*models.Process, error) {
	return s.persistence.FindProcesses(ctx, s.pending(processType))
}

func (s *Process) FindPendingProcessesByType(
	ctx context.Context,
	processType models.ProcessType,
	limit int,
) ([]*models.Process, error) {
	if limit <= 0 {
		return nil, NewValidationError("FindPendingProcessesByType", "INVALID_LIMIT", "", ErrMissingLimit)
	}

	query := s.pending(processType)
	query.Limit = limit

	return s.persistence.FindProcesses(ctx, query)
}

func (s *Process) FindPendingByTypeAndExternalReference(
	ctx context.Context,
	processType models.ProcessType,
	reference string,
) (*models.Process, error) {
	return s.FindPendingByTypesAndExternalReference(ctx, []models.ProcessType{processType}, reference)
}

// FindPendingByTypesAndExternalReference returns the newest pending process of
// any of the types that carries the reference.
func (s *Process) FindPendingByTypesAndExternalReference(
	ctx context.Context,
	processTypes []models.ProcessType,
	reference string,
) (*models.Process, error) {
	if reference == "" || len(processTypes) == 0 {
		return nil, persistence.NewProcessReferenceError("FindPendingByTypesAndExternalReference", reference, persistence.ErrProcessNotFound)
	}

	query := s.pending(processTypes...)
	query.ExternalReference = reference

	return s.first(ctx, "FindPendingByTypesAndExternalReference", reference, query)
}

func (s *Process) HasPendingOfType(ctx context.Context, processType models.ProcessType) (bool, error) {
	return s.persistence.ProcessExists(ctx, s.pending(processType))
}

// FindActivePendingForTypeAndUser returns the newest pending process of the
// type for the user that saw a request within the inactivity threshold.
func (s *Process) FindActivePendingForTypeAndUser(
	ctx context.Context,
	processType models.ProcessType,
	userID uuid.UUID,
	inactivityThreshold time.Duration,
) (*models.Process, error) {
	query := s.forUser(processType, userID)
	query.ActiveSince = s.now().UTC().Add(-inactivityThreshold)

	return s.first(ctx, "FindActivePendingForTypeAndUser", userID.String(), query)
}

// FindRecentPendingByTypeAndForUser lists pending processes of the type for
// the user created at or after since, newest first.
func (s *Process) FindRecentPendingByTypeAndForUser(
	ctx context.Context,
	processType models.ProcessType,
	userID uuid.UUID,
	since time.Time,
) ([]*models.Process, error) {
	query := s.forUser(processType, userID)
	query.CreatedSince = since

	return s.persistence.FindProcesses(ctx, query)
}

func (s *Process) FindLatestPendingByTypeAndForUser(
	ctx context.Context,
	processType models.ProcessType,
	userID uuid.UUID,
) (*models.Process, error) {
	return s.first(ctx, "FindLatestPendingByTypeAndForUser", userID.String(), s.forUser(processType, userID))
}

// FindProcessesByType pages through processes of the type in any state.
func (s *Process) FindProcessesByType(
	ctx context.Context,
	processType models.ProcessType,
	limit int,
	offset int,
) ([]*models.Process, error) {
	if limit <= 0 {
		return nil, NewValidationError("FindProcessesByType", "INVALID_LIMIT", "", ErrMissingLimit)
	}

	return s.persistence.FindProcesses(ctx, persistence.ProcessQuery{
		Types:  []models.ProcessType{processType},
		Limit:  limit,
		Offset: max(offset, 0),
	})
}

func (s *Process) pending(processTypes ...models.ProcessType) persistence.ProcessQuery {
	return persistence.ProcessQuery{
		Types:        processTypes,
		State:        models.ProcessStatePending,
		ExpiresAfter: s.now().UTC(),
	}
}

func (s *Process) forUser(processType models.ProcessType, userID uuid.UUID) persistence.ProcessQuery {
	query := s.pending(processType)
	query.Stakeholder = &models.Stakeholder{
		StakeholderID: userID.String(),
		Type:          models.StakeholderForUser,
	}

	return query
}

func (s *Process) first(ctx context.Context, op, reference string, query persistence.ProcessQuery) (*models.Process, error) {
	query.Limit = 1

	processes, err := s.persistence.FindProcesses(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, persistence.NewProcessReferenceError(op, reference, persistence.ErrProcessNotFound)
	}

	return processes[0], nil
}
