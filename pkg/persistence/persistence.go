// Package persistence provides the storage abstraction for processes, their requests and transition history.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
)

type Persistence interface {
	// CreateProcess stores the process with its requests and transitions atomically.
	// IDs are assigned on the passed value.
	CreateProcess(ctx context.Context, process *models.Process) error

	ProcessByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error)
	ProcessByPublicIDAndState(ctx context.Context, publicID uuid.UUID, state models.ProcessState) (*models.Process, error)
	// ProcessByExternalReference returns the newest process holding the reference.
	ProcessByExternalReference(ctx context.Context, reference string) (*models.Process, error)
	ProcessByExternalReferenceAndState(ctx context.Context, reference string, state models.ProcessState) (*models.Process, error)
	FindProcesses(ctx context.Context, query ProcessQuery) ([]*models.Process, error)
	ProcessExists(ctx context.Context, query ProcessQuery) (bool, error)

	// Transitions returns the history of a process, oldest first.
	Transitions(ctx context.Context, publicID uuid.UUID) ([]*models.Transition, error)

	// AppendRequest stores a new request on the process and assigns its ID.
	AppendRequest(ctx context.Context, publicID uuid.UUID, request *models.ProcessRequest) error
	// SetRequestData replaces the value stored under name on the request.
	SetRequestData(ctx context.Context, publicID uuid.UUID, requestID int64, name models.DataName, value string) error

	// ApplyTransition moves the process from Expected to Next only if it is
	// still in Expected, recording the transition in the same unit of work.
	// It reports false when the process was not in Expected.
	ApplyTransition(ctx context.Context, command TransitionCommand) (bool, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TransitionCommand is a conditional state change.
type TransitionCommand struct {
	PublicID uuid.UUID
	// RequestID, when set, has its state moved to Next together with the process.
	RequestID int64
	Expected  models.ProcessState
	Next      models.ProcessState
	Event     models.ProcessEvent
	UserID    uuid.UUID
	At        time.Time
}

// ProcessQuery filters processes. Zero fields do not filter.
type ProcessQuery struct {
	Types             []models.ProcessType
	State             models.ProcessState
	ExternalReference string
	Stakeholder       *models.Stakeholder
	// CreatedSince keeps processes created at or after the instant.
	CreatedSince time.Time
	// ActiveSince keeps processes with a request created at or after the instant.
	ActiveSince time.Time
	// ExpiresAfter keeps processes whose expiry is strictly after the instant.
	ExpiresAfter time.Time
	// ExpiredBefore keeps processes whose expiry is at or before the instant.
	ExpiredBefore time.Time
	// OldestExpiryFirst orders by expiry ascending instead of newest first.
	OldestExpiryFirst bool
	Limit             int
	Offset            int
}

// Matches evaluates the query against a process in memory.
func (q ProcessQuery) Matches(process *models.Process) bool {
	if len(q.Types) > 0 && !containsType(q.Types, process.Type) {
		return false
	}

	if q.State != "" && process.State != q.State {
		return false
	}

	if q.ExternalReference != "" && process.ExternalReference != q.ExternalReference {
		return false
	}

	if q.Stakeholder != nil && !hasStakeholder(process, *q.Stakeholder) {
		return false
	}

	if !q.CreatedSince.IsZero() && process.CreatedAt.Before(q.CreatedSince) {
		return false
	}

	if !q.ActiveSince.IsZero() && !activeSince(process, q.ActiveSince) {
		return false
	}

	if !q.ExpiresAfter.IsZero() && !process.Expiry.After(q.ExpiresAfter) {
		return false
	}

	if !q.ExpiredBefore.IsZero() && process.Expiry.After(q.ExpiredBefore) {
		return false
	}

	return true
}

func containsType(types []models.ProcessType, processType models.ProcessType) bool {
	for _, t := range types {
		if t == processType {
			return true
		}
	}

	return false
}

func hasStakeholder(process *models.Process, stakeholder models.Stakeholder) bool {
	for _, request := range process.Requests {
		for _, s := range request.Stakeholders {
			if s == stakeholder {
				return true
			}
		}
	}

	return false
}

func activeSince(process *models.Process, since time.Time) bool {
	for _, request := range process.Requests {
		if !request.CreatedAt.Before(since) {
			return true
		}
	}

	return false
}
