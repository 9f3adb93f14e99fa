package patient

import (
	"time"

	"github.com/google/uuid"
)

// Name kinds (PID-5 type codes).
const (
	NameUsual = "D"
	NameBirth = "L"
)

// Address kinds (PID-11 type codes).
const (
	AddressHome  = "H"
	AddressBirth = "BDL"
)

// Phone kinds.
const (
	PhoneHome   = "home"
	PhoneMobile = "mobile"
	PhoneWork   = "work"
)

// Identity reliability codes (PID-32, French identitovigilance).
const (
	ReliabilityValidated   = "VALI"
	ReliabilityProvisional = "PROV"
	ReliabilityDoubtful    = "DOUB"
)

// Patient is the demographic record. Names, addresses and phones are
// multi-valued, one per kind.
type Patient struct {
	ID              uuid.UUID
	Seq             int64 // business sequence, allocated at creation
	BirthDate       string // YYYYMMDD, verbatim from the wire
	Gender          string
	ReliabilityCode string
	SSN             string
	MaritalStatus   string
	BirthPlace      string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Names     []Name
	Addresses []Address
	Phones    []Phone
}

// Name is one PID-5 value of a given kind.
type Name struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Kind      string // D or L
	Family    string
	Given     string
	Middle    string
	Suffix    string
	Prefix    string
}

// Address is one PID-11 value of a given kind.
type Address struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Kind      string // H or BDL
	Street    string
	Other     string
	City      string
	State     string
	Zip       string
	Country   string
}

// Phone is one PID-13 value of a given kind.
type Phone struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Kind      string // home, mobile, work
	Value     string
}

// NameOfKind returns the patient's name of the given kind, or nil.
func (p *Patient) NameOfKind(kind string) *Name {
	for i := range p.Names {
		if p.Names[i].Kind == kind {
			return &p.Names[i]
		}
	}
	return nil
}
