// Package events defines the notifications emitted over a process lifecycle.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
)

type EventType string

const Topic = "process.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ProcessCreatedEvent      EventType = "process.created"
	ProcessTransitionedEvent EventType = "process.transitioned"
)

type BaseEvent struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"type"`
	Timestamp   time.Time          `json:"timestamp"`
	PublicID    uuid.UUID          `json:"public_id"`
	ProcessType models.ProcessType `json:"process_type"`
}

// ProcessCreated is emitted once a process and its creation request are stored.
type ProcessCreated struct {
	BaseEvent

	State             models.ProcessState `json:"state"`
	Expiry            time.Time           `json:"expiry"`
	ExternalReference string              `json:"external_reference,omitempty"`
	UserID            uuid.UUID           `json:"user_id"`
}

func (e ProcessCreated) GetType() EventType {
	return ProcessCreatedEvent
}

// ProcessTransitioned is emitted after a conditional state change took effect.
type ProcessTransitioned struct {
	BaseEvent

	Event     models.ProcessEvent `json:"event"`
	OldState  models.ProcessState `json:"old_state"`
	NewState  models.ProcessState `json:"new_state"`
	UserID    uuid.UUID           `json:"user_id"`
	RequestID int64               `json:"request_id,omitempty"`
}

func (e ProcessTransitioned) GetType() EventType {
	return ProcessTransitionedEvent
}

// Terminal reports whether the transition ended the process.
func (e ProcessTransitioned) Terminal() bool {
	return e.NewState.Terminal()
}

func NewProcessCreated(process *models.Process, userID uuid.UUID) ProcessCreated {
	return ProcessCreated{
		BaseEvent: BaseEvent{
			ID:          uuid.NewString(),
			Type:        ProcessCreatedEvent,
			Timestamp:   time.Now().UTC(),
			PublicID:    process.PublicID,
			ProcessType: process.Type,
		},
		State:             process.State,
		Expiry:            process.Expiry,
		ExternalReference: process.ExternalReference,
		UserID:            userID,
	}
}

func NewProcessTransitioned(
	process *models.Process,
	event models.ProcessEvent,
	newState models.ProcessState,
	userID uuid.UUID,
	requestID int64,
) ProcessTransitioned {
	return ProcessTransitioned{
		BaseEvent: BaseEvent{
			ID:          uuid.NewString(),
			Type:        ProcessTransitionedEvent,
			Timestamp:   time.Now().UTC(),
			PublicID:    process.PublicID,
			ProcessType: process.Type,
		},
		Event:     event,
		OldState:  process.State,
		NewState:  newState,
		UserID:    userID,
		RequestID: requestID,
	}
}

// Decode unmarshals payload into the event type named by eventType.
func Decode(eventType EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case ProcessCreatedEvent:
		event = &ProcessCreated{}
	case ProcessTransitionedEvent:
		event = &ProcessTransitioned{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
