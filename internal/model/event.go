package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EntityType names one of the replicated entity collections. The values
// match the store's table names.
type EntityType string

const (
	EntityPatient     EntityType = "patients"
	EntityDoctor      EntityType = "doctors"
	EntityQueue       EntityType = "patient_queue"
	EntityAppointment EntityType = "appointments"
	EntityEmergency   EntityType = "emergency_cases"
)

// EntityTypes lists every replicated collection, in no particular order.
var EntityTypes = []EntityType{
	EntityPatient,
	EntityDoctor,
	EntityQueue,
	EntityAppointment,
	EntityEmergency,
}

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent is a versioned delta describing one entity mutation. Sequence
// is the entity's version after the mutation; receivers apply events
// last-write-wins by Sequence, never by wall clock.
type ChangeEvent struct {
	EntityType EntityType      `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	Sequence   int64           `json:"sequence"`
}

// NewChangeEvent marshals entity into an event payload. entity must be
// JSON-marshalable; a marshal failure is a programming error, not a domain
// condition, so it is returned rather than swallowed.
func NewChangeEvent(entityType EntityType, entityID uuid.UUID, op Operation, sequence int64, entity any) (ChangeEvent, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		Sequence:   sequence,
	}, nil
}
