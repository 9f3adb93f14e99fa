package fhir

import (
	"time"

	"github.com/google/uuid"

	"github.com/interop/pamgw/internal/platform/hl7"
)

const triggerSystem = "http://terminology.hl7.org/CodeSystem/v2-0003"

// classCodings maps PV1-2 to the v3 ActCode encounter class.
var classCodings = map[string]Coding{
	"I": {System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: "IMP", Display: "inpatient encounter"},
	"O": {System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: "AMB", Display: "ambulatory"},
	"E": {System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: "EMER", Display: "emergency"},
	"R": {System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: "AMB", Display: "ambulatory"},
}

// encounterStatus derives the R4 Encounter.status from the ADT trigger.
var encounterStatus = map[string]string{
	"A03": "finished",
	"A05": "planned",
	"A11": "cancelled",
	"A21": "onleave",
	"A38": "cancelled",
}

// MapADT converts a parsed ADT message into a FHIR message Bundle: a
// MessageHeader, a Patient, and an Encounter when the message carries one.
func MapADT(adt *hl7.ADT, sourceEndpoint string, now time.Time) (*Bundle, error) {
	patientURN := "urn:uuid:" + uuid.NewString()

	header := &MessageHeader{
		ResourceType: "MessageHeader",
		ID:           uuid.NewString(),
		EventCoding: Coding{
			System: triggerSystem,
			Code:   adt.MSH.Trigger,
		},
		Source: SourceHeader{
			Name:     adt.MSH.SendingApp,
			Endpoint: sourceEndpoint,
		},
		Focus: []Reference{{Reference: patientURN, Type: "Patient"}},
	}

	resources := []interface{}{}
	if adt.PID != nil {
		resources = append(resources, mapPatient(adt.PID))
	}
	if adt.PV1 != nil {
		resources = append(resources, mapEncounter(adt, patientURN))
	}

	bundle, err := NewMessageBundle(header, resources, now)
	if err != nil {
		return nil, err
	}
	// The patient entry advertises the URN the header points at.
	if adt.PID != nil && len(bundle.Entry) > 1 {
		bundle.Entry[1].FullURL = patientURN
	}
	return bundle, nil
}

func mapPatient(pid *hl7.PIDRecord) *Patient {
	p := &Patient{ResourceType: "Patient"}

	for _, cx := range pid.Identifiers {
		ident := Identifier{Value: cx.Value, Use: "usual"}
		if cx.AuthorityOID != "" {
			ident.System = "urn:oid:" + cx.AuthorityOID
		}
		if cx.TypeCode != "" {
			ident.Type = &CodeableConcept{Coding: []Coding{{Code: cx.TypeCode}}}
		}
		p.Identifier = append(p.Identifier, ident)
	}

	for _, n := range pid.Names {
		use := "usual"
		if n.Type == "L" {
			use = "official"
		}
		name := HumanName{Use: use, Family: n.Family}
		if n.Given != "" {
			name.Given = append(name.Given, n.Given)
		}
		if n.Middle != "" {
			name.Given = append(name.Given, n.Middle)
		}
		if n.Prefix != "" {
			name.Prefix = []string{n.Prefix}
		}
		if n.Suffix != "" {
			name.Suffix = []string{n.Suffix}
		}
		p.Name = append(p.Name, name)
	}

	switch pid.Gender {
	case "M":
		p.Gender = "male"
	case "F":
		p.Gender = "female"
	case "":
	default:
		p.Gender = "unknown"
	}

	if len(pid.BirthDate) == 8 {
		p.BirthDate = pid.BirthDate[:4] + "-" + pid.BirthDate[4:6] + "-" + pid.BirthDate[6:]
	}

	for _, a := range pid.Addresses {
		use := "home"
		if a.Type == "BDL" {
			use = "old"
		}
		addr := Address{Use: use, City: a.City, State: a.State, PostalCode: a.Zip, Country: a.Country}
		if a.Street != "" {
			addr.Line = append(addr.Line, a.Street)
		}
		if a.Other != "" {
			addr.Line = append(addr.Line, a.Other)
		}
		p.Address = append(p.Address, addr)
	}

	for _, ph := range pid.Phones {
		if ph.Value == "" {
			continue
		}
		use := "home"
		switch {
		case ph.Use == "CP" || ph.Equipment == "CELL":
			use = "mobile"
		case ph.Use == "WP" || ph.Equipment == "WORK":
			use = "work"
		}
		p.Telecom = append(p.Telecom, ContactPoint{System: "phone", Value: ph.Value, Use: use})
	}

	if pid.MaritalStatus != "" {
		p.MaritalStatus = &CodeableConcept{Coding: []Coding{{Code: pid.MaritalStatus}}}
	}
	return p
}

func mapEncounter(adt *hl7.ADT, patientURN string) *Encounter {
	pv1 := adt.PV1

	status := encounterStatus[adt.MSH.Trigger]
	if status == "" {
		status = "in-progress"
	}

	class, ok := classCodings[pv1.Class]
	if !ok {
		class = classCodings["I"]
	}

	enc := &Encounter{
		ResourceType: "Encounter",
		Status:       status,
		Class:        class,
		Subject:      &Reference{Reference: patientURN, Type: "Patient"},
	}

	if pv1.VisitNumber.Value != "" {
		ident := Identifier{Value: pv1.VisitNumber.Value, Use: "usual"}
		if pv1.VisitNumber.AuthorityOID != "" {
			ident.System = "urn:oid:" + pv1.VisitNumber.AuthorityOID
		}
		enc.Identifier = append(enc.Identifier, ident)
	}

	if !pv1.AdmitTime.IsZero() || !pv1.DischargeTime.IsZero() {
		period := &Period{}
		if !pv1.AdmitTime.IsZero() {
			period.Start = pv1.AdmitTime.UTC().Format(time.RFC3339)
		}
		if !pv1.DischargeTime.IsZero() {
			period.End = pv1.DischargeTime.UTC().Format(time.RFC3339)
		}
		enc.Period = period
	}

	if pv1.Location != "" {
		enc.Location = append(enc.Location, EncounterLocation{
			Location: Reference{Display: pv1.Location},
			Status:   "active",
		})
	}
	return enc
}
