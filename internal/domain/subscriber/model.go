// Package subscriber manages the downstream systems that receive generated
// messages, and the process-wide registry cache the emission engine reads.
package subscriber

import (
	"time"

	"github.com/google/uuid"
)

// Transport kinds.
const (
	KindMLLP = "MLLP"
	KindFile = "FILE"
	KindFHIR = "FHIR"
)

// Entity kinds a subscriber can subscribe to.
const (
	EntityPatient   = "patient"
	EntityAdminFile = "admin_file"
	EntityVisit     = "visit"
	EntityMovement  = "movement"
)

// Operations observed on entities.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// Subscriber is one downstream system. Endpoint is a host:port for MLLP, a
// directory for FILE, a base URL for FHIR. Empty Entities or Operations
// subscribe to everything.
type Subscriber struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Endpoint   string    `json:"endpoint"`
	App        string    `json:"app"`      // receiving application for generated MSH-5
	Facility   string    `json:"facility"` // receiving facility for generated MSH-6
	StrictMode bool      `json:"strict_mode"`
	Enabled    bool      `json:"enabled"`
	Entities   []string  `json:"entities,omitempty"`
	Operations []string  `json:"operations,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Wants reports whether the subscriber receives messages for the given
// entity kind and operation.
func (s *Subscriber) Wants(entity, op string) bool {
	if !s.Enabled {
		return false
	}
	if len(s.Entities) > 0 && !containsStr(s.Entities, entity) {
		return false
	}
	if len(s.Operations) > 0 && !containsStr(s.Operations, op) {
		return false
	}
	return true
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
