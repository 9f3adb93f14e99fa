// Package location models the hospital's structural topology as a single
// tagged entity discriminated by physical type, from the legal entity down
// to the bed.
package location

import (
	"time"

	"github.com/google/uuid"
)

// Physical types, ordered from root to leaf.
const (
	TypeLegalEntity      = "legal_entity"
	TypeGeographicEntity = "geographic_entity"
	TypePole             = "pole"
	TypeService          = "service"
	TypeFunctionalUnit   = "functional_unit"
	TypeHousingUnit      = "housing_unit"
	TypeRoom             = "room"
	TypeBed              = "bed"
)

// Statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// parentOf maps each physical type onto the only type allowed to contain it.
var parentOf = map[string]string{
	TypeGeographicEntity: TypeLegalEntity,
	TypePole:             TypeGeographicEntity,
	TypeService:          TypePole,
	TypeFunctionalUnit:   TypeService,
	TypeHousingUnit:      TypeFunctionalUnit,
	TypeRoom:             TypeHousingUnit,
	TypeBed:              TypeRoom,
}

// Location is one node of the topology. Code is the business identifier used
// on the wire (UF code in ZBE-7, service code in PV1-3). FINESS is only set
// on legal and geographic entities. StrictPAM only has meaning on a legal
// entity; it switches every subscriber scoped under it to strict mode.
type Location struct {
	ID           uuid.UUID  `json:"id"`
	ParentID     *uuid.UUID `json:"parent_id,omitempty"`
	PhysicalType string     `json:"physical_type"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	ShortName    string     `json:"short_name,omitempty"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	Mode         string     `json:"mode,omitempty"` // HOSPITALIZATION, AMBULATORY, MIXED
	Address      string     `json:"address,omitempty"`
	FINESS       string     `json:"finess,omitempty"`
	StrictPAM    bool       `json:"strict_pam"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ValidParent reports whether child may be attached under parentType. A
// legal entity is the only root.
func ValidParent(childType, parentType string) bool {
	want, ok := parentOf[childType]
	if !ok {
		return childType == TypeLegalEntity && parentType == ""
	}
	return parentType == want
}
