// Package models defines the process data model shared by the store, the engine and its callers.
package models

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Process is one long-lived workflow instance.
type Process struct {
	ID                  int64             `json:"id"`
	PublicID            uuid.UUID         `json:"public_id"`
	Type                ProcessType       `json:"type"`
	Description         string            `json:"description"`
	State               ProcessState      `json:"state"`
	Channel             Channel           `json:"channel"`
	Expiry              time.Time         `json:"expiry"`
	ExternalReference   string            `json:"external_reference,omitempty"`
	IntegratorReference string            `json:"integrator_reference,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Requests            []*ProcessRequest `json:"requests"`
	Transitions         []*Transition     `json:"transitions"`
}

// ProcessRequest is one caller interaction with a process.
type ProcessRequest struct {
	ID           int64               `json:"id"`
	UserID       uuid.UUID           `json:"user_id"`
	Type         RequestType         `json:"type"`
	State        ProcessState        `json:"state"`
	Channel      Channel             `json:"channel"`
	Data         map[DataName]string `json:"data,omitempty"`
	Stakeholders []Stakeholder       `json:"stakeholders,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type Stakeholder struct {
	StakeholderID string          `json:"stakeholder_id" validate:"required"`
	Type          StakeholderType `json:"type"           validate:"required,stakeholder_type"`
}

// Transition is an immutable record of one applied state change.
type Transition struct {
	ID        int64        `json:"id"`
	Event     ProcessEvent `json:"event"`
	UserID    uuid.UUID    `json:"user_id"`
	OldState  ProcessState `json:"old_state"`
	NewState  ProcessState `json:"new_state"`
	CreatedAt time.Time    `json:"created_at"`
}

// Terminal reports whether the process can no longer change state.
func (p *Process) Terminal() bool {
	return p.State.Terminal()
}

// Expired reports whether the process expiry is at or before now.
func (p *Process) Expired(now time.Time) bool {
	return !p.Expiry.After(now)
}

// InitialRequest returns the request the process was created with.
func (p *Process) InitialRequest() *ProcessRequest {
	for _, request := range p.Requests {
		if request.Type == RequestTypeCreateNewProcess {
			return request
		}
	}

	if len(p.Requests) > 0 {
		return p.Requests[0]
	}

	return nil
}

func (p *Process) Request(id int64) *ProcessRequest {
	for _, request := range p.Requests {
		if request.ID == id {
			return request
		}
	}

	return nil
}

// LatestRequest returns the most recently appended request.
func (p *Process) LatestRequest() *ProcessRequest {
	if len(p.Requests) == 0 {
		return nil
	}

	return p.Requests[len(p.Requests)-1]
}

// Value looks a data tag up on the initial request.
func (p *Process) Value(name DataName) (string, bool) {
	request := p.InitialRequest()
	if request == nil {
		return "", false
	}

	value, ok := request.Data[name]

	return value, ok
}

// Stakeholder returns the first stakeholder of the given type across all requests.
func (p *Process) Stakeholder(stakeholderType StakeholderType) (Stakeholder, bool) {
	for _, request := range p.Requests {
		for _, stakeholder := range request.Stakeholders {
			if stakeholder.Type == stakeholderType {
				return stakeholder, true
			}
		}
	}

	return Stakeholder{}, false
}

// Clone returns a deep copy of the process.
func (p *Process) Clone() *Process {
	if p == nil {
		return nil
	}

	clone := *p

	clone.Requests = make([]*ProcessRequest, 0, len(p.Requests))
	for _, request := range p.Requests {
		clone.Requests = append(clone.Requests, request.Clone())
	}

	clone.Transitions = make([]*Transition, 0, len(p.Transitions))
	for _, transition := range p.Transitions {
		t := *transition
		clone.Transitions = append(clone.Transitions, &t)
	}

	return &clone
}

func (r *ProcessRequest) Clone() *ProcessRequest {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Data = maps.Clone(r.Data)
	clone.Stakeholders = slices.Clone(r.Stakeholders)

	return &clone
}
