// Package fhir holds the outbound FHIR R4 representation: just enough of the
// resource model to publish admission events as message Bundles.
package fhir

import (
	"encoding/json"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// MessageHeader identifies the event a message Bundle carries.
type MessageHeader struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	EventCoding  Coding       `json:"eventCoding"`
	Source       SourceHeader `json:"source"`
	Focus        []Reference  `json:"focus,omitempty"`
}

type SourceHeader struct {
	Name     string `json:"name,omitempty"`
	Software string `json:"software,omitempty"`
	Endpoint string `json:"endpoint"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Patient is the demographic resource published for PID content.
type Patient struct {
	ResourceType  string       `json:"resourceType"`
	ID            string       `json:"id,omitempty"`
	Identifier    []Identifier `json:"identifier,omitempty"`
	Name          []HumanName  `json:"name,omitempty"`
	Telecom       []ContactPoint `json:"telecom,omitempty"`
	Gender        string       `json:"gender,omitempty"`
	BirthDate     string       `json:"birthDate,omitempty"`
	Address       []Address    `json:"address,omitempty"`
	MaritalStatus *CodeableConcept `json:"maritalStatus,omitempty"`
}

// Encounter is the visit resource published for PV1/ZBE content.
type Encounter struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id,omitempty"`
	Identifier   []Identifier        `json:"identifier,omitempty"`
	Status       string              `json:"status"`
	Class        Coding              `json:"class"`
	Subject      *Reference          `json:"subject,omitempty"`
	Period       *Period             `json:"period,omitempty"`
	Location     []EncounterLocation `json:"location,omitempty"`
}

type EncounterLocation struct {
	Location Reference `json:"location"`
	Status   string    `json:"status,omitempty"`
}

// NewMessageBundle wraps a MessageHeader and its focus resources in a
// Bundle of type message. The header must come first.
func NewMessageBundle(header *MessageHeader, resources []interface{}, now time.Time) (*Bundle, error) {
	entries := make([]BundleEntry, 0, len(resources)+1)

	raw, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	entries = append(entries, BundleEntry{
		FullURL:  "urn:uuid:" + header.ID,
		Resource: raw,
	})

	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, BundleEntry{Resource: raw})
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "message",
		Timestamp:    &now,
		Entry:        entries,
	}, nil
}
