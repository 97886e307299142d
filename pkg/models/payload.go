package models

import (
	"time"

	"github.com/google/uuid"
)

// CreateProcessPayload describes a new process and its creation request.
type CreateProcessPayload struct {
	// PublicID is allocated when left zero.
	PublicID            uuid.UUID           `json:"public_id"`
	UserID              uuid.UUID           `json:"user_id"                        validate:"required"`
	Type                ProcessType         `json:"type"                           validate:"required,process_type"`
	Description         string              `json:"description"                    validate:"max=255"`
	InitialState        ProcessState        `json:"initial_state,omitempty"        validate:"omitempty,eq=PENDING"`
	Channel             Channel             `json:"channel"                        validate:"required,channel"`
	ExternalReference   string              `json:"external_reference,omitempty"   validate:"max=255"`
	IntegratorReference string              `json:"integrator_reference,omitempty" validate:"max=255"`
	// ExpiresIn overrides the type's default duration when positive.
	ExpiresIn    time.Duration       `json:"expires_in,omitempty"   validate:"gte=0"`
	Data         map[DataName]string `json:"data,omitempty"         validate:"dive,keys,data_name,endkeys"`
	Stakeholders []Stakeholder       `json:"stakeholders,omitempty" validate:"dive"`
}

// MakeRequestPayload records a caller interaction and the event it raises.
type MakeRequestPayload struct {
	PublicID     uuid.UUID           `json:"public_id"              validate:"required"`
	UserID       uuid.UUID           `json:"user_id"                validate:"required"`
	Type         RequestType         `json:"type"                   validate:"required,request_type"`
	Event        ProcessEvent        `json:"event"                  validate:"required,process_event"`
	State        ProcessState        `json:"state,omitempty"        validate:"omitempty,process_state"`
	Channel      Channel             `json:"channel"                validate:"required,channel"`
	Data         map[DataName]string `json:"data,omitempty"         validate:"dive,keys,data_name,endkeys"`
	Stakeholders []Stakeholder       `json:"stakeholders,omitempty" validate:"dive"`
}
