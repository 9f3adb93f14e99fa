package namespace

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the identifier families an authority can issue.
type Type string

const (
	TypeIPP    Type = "IPP" // permanent patient identifier
	TypeNDA    Type = "NDA" // administrative file number
	TypeVN     Type = "VN"  // visit number
	TypeMVT    Type = "MVT" // movement identifier
	TypeFINESS Type = "FINESS"
	TypePI     Type = "PI" // implicit/unqualified patient identifier
)

// Scope says whether the authority is territorial (GHT) or bound to one legal
// entity.
type Scope string

const (
	ScopeGHT         Scope = "GHT"
	ScopeLegalEntity Scope = "LEGAL_ENTITY"
)

// Namespace is an identifier-issuing authority.
type Namespace struct {
	ID        uuid.UUID
	Name      string
	OID       string
	Type      Type
	Scope     Scope
	CreatedAt time.Time
}

// OwnerKind names the entity kind an identifier is attached to.
type OwnerKind string

const (
	OwnerPatient   OwnerKind = "patient"
	OwnerAdminFile OwnerKind = "admin_file"
	OwnerVisit     OwnerKind = "visit"
	OwnerMovement  OwnerKind = "movement"
)

// IdentifierStatus is active or inactive. Inactive identifiers survive merges
// for audit but no longer resolve.
type IdentifierStatus string

const (
	StatusActive   IdentifierStatus = "active"
	StatusInactive IdentifierStatus = "inactive"
)

// Identifier binds an opaque value issued by a namespace to exactly one owner.
// Values are never parsed.
type Identifier struct {
	ID          uuid.UUID
	NamespaceID uuid.UUID
	Value       string
	Status      IdentifierStatus
	OwnerKind   OwnerKind
	OwnerID     uuid.UUID
	CreatedAt   time.Time
}

// Registry is the enumerated Type -> Namespace map held per scope; lookups in
// hot paths go through it rather than string-keyed dictionaries.
type Registry struct {
	byType map[Type]*Namespace
	byOID  map[string]*Namespace
}

// NewRegistry indexes a namespace snapshot.
func NewRegistry(namespaces []*Namespace) *Registry {
	r := &Registry{
		byType: make(map[Type]*Namespace, len(namespaces)),
		byOID:  make(map[string]*Namespace, len(namespaces)),
	}
	for _, ns := range namespaces {
		if _, ok := r.byType[ns.Type]; !ok {
			r.byType[ns.Type] = ns
		}
		r.byOID[ns.OID] = ns
	}
	return r
}

// ByType returns the namespace for an identifier type, or nil.
func (r *Registry) ByType(t Type) *Namespace { return r.byType[t] }

// ByOID returns the namespace whose OID matches, or nil.
func (r *Registry) ByOID(oid string) *Namespace { return r.byOID[oid] }
