// Package memory provides an in-memory persistence implementation for tests and single-node runs.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

// Persistence keeps processes in maps guarded by a single mutex, so every
// conditional write is serialized the same way a row lock would serialize it.
type Persistence struct {
	mu               sync.RWMutex
	processes        map[uuid.UUID]*models.Process
	nextProcessID    int64
	nextRequestID    int64
	nextTransitionID int64
}

func NewPersistence() *Persistence {
	return &Persistence{
		processes: make(map[uuid.UUID]*models.Process),
	}
}

func (p *Persistence) CreateProcess(_ context.Context, process *models.Process) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.processes[process.PublicID]; exists {
		return persistence.NewProcessError("CreateProcess", process.PublicID, persistence.ErrProcessAlreadyExists)
	}

	if process.State == models.ProcessStatePending && process.ExternalReference != "" {
		for _, existing := range p.processes {
			if existing.State == models.ProcessStatePending &&
				existing.Type == process.Type &&
				existing.ExternalReference == process.ExternalReference {
				return persistence.NewProcessReferenceError("CreateProcess", process.ExternalReference, persistence.ErrDuplicatePendingProcess)
			}
		}
	}

	now := time.Now().UTC()
	if process.CreatedAt.IsZero() {
		process.CreatedAt = now
	}

	process.UpdatedAt = process.CreatedAt

	p.nextProcessID++
	process.ID = p.nextProcessID

	for _, request := range process.Requests {
		p.nextRequestID++
		request.ID = p.nextRequestID

		if request.CreatedAt.IsZero() {
			request.CreatedAt = process.CreatedAt
		}

		request.UpdatedAt = request.CreatedAt
	}

	for _, transition := range process.Transitions {
		p.nextTransitionID++
		transition.ID = p.nextTransitionID

		if transition.CreatedAt.IsZero() {
			transition.CreatedAt = process.CreatedAt
		}
	}

	p.processes[process.PublicID] = process.Clone()

	return nil
}

func (p *Persistence) ProcessByPublicID(_ context.Context, publicID uuid.UUID) (*models.Process, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	process, exists := p.processes[publicID]
	if !exists {
		return nil, persistence.NewProcessError("ProcessByPublicID", publicID, persistence.ErrProcessNotFound)
	}

	return process.Clone(), nil
}

func (p *Persistence) ProcessByPublicIDAndState(
	_ context.Context,
	publicID uuid.UUID,
	state models.ProcessState,
) (*models.Process, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	process, exists := p.processes[publicID]
	if !exists || process.State != state {
		return nil, persistence.NewProcessError("ProcessByPublicIDAndState", publicID, persistence.ErrProcessNotFound)
	}

	return process.Clone(), nil
}

func (p *Persistence) ProcessByExternalReference(ctx context.Context, reference string) (*models.Process, error) {
	if reference == "" {
		return nil, persistence.NewProcessReferenceError("ProcessByExternalReference", reference, persistence.ErrProcessNotFound)
	}

	processes, err := p.FindProcesses(ctx, persistence.ProcessQuery{ExternalReference: reference, Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, persistence.NewProcessReferenceError("ProcessByExternalReference", reference, persistence.ErrProcessNotFound)
	}

	return processes[0], nil
}

func (p *Persistence) ProcessByExternalReferenceAndState(
	ctx context.Context,
	reference string,
	state models.ProcessState,
) (*models.Process, error) {
	if reference == "" {
		return nil, persistence.NewProcessReferenceError("ProcessByExternalReferenceAndState", reference, persistence.ErrProcessNotFound)
	}

	processes, err := p.FindProcesses(ctx, persistence.ProcessQuery{ExternalReference: reference, State: state, Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, persistence.NewProcessReferenceError("ProcessByExternalReferenceAndState", reference, persistence.ErrProcessNotFound)
	}

	return processes[0], nil
}

// FindProcesses returns matching processes, newest first unless the query
// asks for the oldest expiry first.
func (p *Persistence) FindProcesses(_ context.Context, query persistence.ProcessQuery) ([]*models.Process, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	matches := make([]*models.Process, 0)

	for _, process := range p.processes {
		if query.Matches(process) {
			matches = append(matches, process)
		}
	}

	slices.SortFunc(matches, func(a, b *models.Process) int {
		if query.OldestExpiryFirst {
			if c := a.Expiry.Compare(b.Expiry); c != 0 {
				return c
			}

			return cmp.Compare(a.ID, b.ID)
		}

		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	if query.Offset > 0 {
		if query.Offset >= len(matches) {
			matches = matches[:0]
		} else {
			matches = matches[query.Offset:]
		}
	}

	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}

	result := make([]*models.Process, 0, len(matches))
	for _, process := range matches {
		result = append(result, process.Clone())
	}

	return result, nil
}

func (p *Persistence) ProcessExists(_ context.Context, query persistence.ProcessQuery) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, process := range p.processes {
		if query.Matches(process) {
			return true, nil
		}
	}

	return false, nil
}

func (p *Persistence) Transitions(_ context.Context, publicID uuid.UUID) ([]*models.Transition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	process, exists := p.processes[publicID]
	if !exists {
		return nil, persistence.NewProcessError("Transitions", publicID, persistence.ErrProcessNotFound)
	}

	transitions := process.Clone().Transitions
	slices.SortStableFunc(transitions, func(a, b *models.Transition) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return transitions, nil
}

func (p *Persistence) AppendRequest(_ context.Context, publicID uuid.UUID, request *models.ProcessRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	process, exists := p.processes[publicID]
	if !exists {
		return persistence.NewProcessError("AppendRequest", publicID, persistence.ErrProcessNotFound)
	}

	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}

	request.UpdatedAt = request.CreatedAt

	p.nextRequestID++
	request.ID = p.nextRequestID

	process.Requests = append(process.Requests, request.Clone())

	return nil
}

func (p *Persistence) SetRequestData(
	_ context.Context,
	publicID uuid.UUID,
	requestID int64,
	name models.DataName,
	value string,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	process, exists := p.processes[publicID]
	if !exists {
		return persistence.NewProcessError("SetRequestData", publicID, persistence.ErrProcessNotFound)
	}

	request := process.Request(requestID)
	if request == nil {
		return persistence.NewProcessError("SetRequestData", publicID, persistence.ErrRequestNotFound)
	}

	if request.Data == nil {
		request.Data = make(map[models.DataName]string)
	}

	request.Data[name] = value
	request.UpdatedAt = time.Now().UTC()

	return nil
}

func (p *Persistence) ApplyTransition(_ context.Context, command persistence.TransitionCommand) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	process, exists := p.processes[command.PublicID]
	if !exists || process.State != command.Expected {
		return false, nil
	}

	var request *models.ProcessRequest
	if command.RequestID != 0 {
		request = process.Request(command.RequestID)
		if request == nil {
			return false, persistence.NewProcessError("ApplyTransition", command.PublicID, persistence.ErrRequestNotFound)
		}
	}

	at := command.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if request != nil {
		request.State = command.Next
		request.UpdatedAt = at
	}

	process.State = command.Next
	process.UpdatedAt = at

	p.nextTransitionID++
	process.Transitions = append(process.Transitions, &models.Transition{
		ID:        p.nextTransitionID,
		Event:     command.Event,
		UserID:    command.UserID,
		OldState:  command.Expected,
		NewState:  command.Next,
		CreatedAt: at,
	})

	return true, nil
}

func (p *Persistence) HealthCheck(context.Context) error {
	return nil
}

func (p *Persistence) Close(context.Context) error {
	return nil
}
