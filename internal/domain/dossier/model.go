// Package dossier holds the administrative file, its visits and its
// movements, together with the PAM transition rules that govern them.
package dossier

import (
	"time"

	"github.com/google/uuid"
)

// Admission types derived from PV1-2 patient class.
const (
	AdmissionHospitalized = "HOSPITALIZED"
	AdmissionOutpatient   = "OUTPATIENT"
	AdmissionEmergency    = "EMERGENCY"
)

// Visit operational statuses.
const (
	VisitPlanned   = "planned"
	VisitActive    = "active"
	VisitSuspended = "suspended"
	VisitCancelled = "cancelled"
	VisitFinished  = "finished"
)

// AdminFile is one administrative episode of a patient. CurrentState is the
// trigger event of the latest movement, cancellations included, or empty for
// a file with no movements yet.
type AdminFile struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	Seq           int64
	AdmissionType string
	UFMedical     string
	UFHousing     string
	UFCare        string
	AdmitTime     time.Time
	DischargeTime *time.Time
	CurrentState  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Visit is one contiguous presence at a physical location.
type Visit struct {
	ID        uuid.UUID
	FileID    uuid.UUID
	Seq       int64
	StartTime time.Time
	EndTime   *time.Time
	Location  string
	UFMedical string
	UFHousing string
	UFCare    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Movement is a state-changing event within a visit. A cancellation movement
// keeps a back-reference to the movement it voids; the voided movement is
// flagged, never deleted.
type Movement struct {
	ID         uuid.UUID
	VisitID    uuid.UUID
	Seq        int64
	OccurredAt time.Time
	Trigger    string
	Nature     string
	Action     string
	Location   string
	Cancelled  bool
	CancelsID  *uuid.UUID
	CreatedAt  time.Time
}

// AdmissionTypeForClass maps a PV1-2 patient class onto the file's admission
// type. Class R (recurring) is handled as hospitalization.
func AdmissionTypeForClass(class string) string {
	switch class {
	case "O":
		return AdmissionOutpatient
	case "E":
		return AdmissionEmergency
	default:
		return AdmissionHospitalized
	}
}

// ClassForAdmissionType is the inverse mapping used when generating PV1-2.
func ClassForAdmissionType(t string) string {
	switch t {
	case AdmissionOutpatient:
		return "O"
	case AdmissionEmergency:
		return "E"
	default:
		return "I"
	}
}
