package fhir

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/interop/pamgw/internal/platform/hl7"
)

func sampleADT() *hl7.ADT {
	return &hl7.ADT{
		MSH: hl7.MSHRecord{
			SendingApp: "PAMGW",
			Family:     "ADT",
			Trigger:    "A01",
			ControlID:  "MSG0001",
		},
		PID: &hl7.PIDRecord{
			Identifiers: []hl7.CX{
				{Value: "8001234", AuthorityName: "CPAGE", AuthorityOID: "1.2.250.1.211.1", TypeCode: "PI"},
			},
			Names: []hl7.PersonName{
				{Family: "MARTIN", Given: "JEANNE", Type: "D"},
				{Family: "DURAND", Given: "JEANNE", Type: "L"},
			},
			BirthDate: "19561203",
			Gender:    "F",
			Addresses: []hl7.Address{{Street: "12 RUE DES LILAS", City: "DIJON", Zip: "21000", Country: "FRA", Type: "H"}},
			Phones:    []hl7.Phone{{Value: "0380123456"}, {Value: "0612345678", Use: "CP", Equipment: "CELL"}},
		},
		PV1: &hl7.PV1Record{
			Class:       "I",
			Location:    "CARDIO^201^A",
			Service:     "CARDIO",
			VisitNumber: hl7.CX{Value: "V100", AuthorityOID: "1.2.250.1.211.2", TypeCode: "VN"},
			AdmitTime:   time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC),
		},
	}
}

func TestMapADTBuildsMessageBundle(t *testing.T) {
	bundle, err := MapADT(sampleADT(), "urn:pamgw", time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if bundle.Type != "message" {
		t.Fatalf("bundle type = %s", bundle.Type)
	}
	if len(bundle.Entry) != 3 {
		t.Fatalf("entries = %d, want header + patient + encounter", len(bundle.Entry))
	}

	var header MessageHeader
	if err := json.Unmarshal(bundle.Entry[0].Resource, &header); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if header.EventCoding.Code != "A01" {
		t.Fatalf("event code = %s", header.EventCoding.Code)
	}
	if len(header.Focus) != 1 || header.Focus[0].Reference != bundle.Entry[1].FullURL {
		t.Fatalf("header focus %v does not match patient fullUrl %s", header.Focus, bundle.Entry[1].FullURL)
	}

	var p Patient
	if err := json.Unmarshal(bundle.Entry[1].Resource, &p); err != nil {
		t.Fatalf("decode patient: %v", err)
	}
	if p.Gender != "female" || p.BirthDate != "1956-12-03" {
		t.Fatalf("patient demographics = %s / %s", p.Gender, p.BirthDate)
	}
	if len(p.Identifier) != 1 || p.Identifier[0].System != "urn:oid:1.2.250.1.211.1" {
		t.Fatalf("identifiers = %+v", p.Identifier)
	}
	if len(p.Name) != 2 || p.Name[0].Use != "usual" || p.Name[1].Use != "official" {
		t.Fatalf("names = %+v", p.Name)
	}
	if len(p.Telecom) != 2 || p.Telecom[0].Use != "home" || p.Telecom[1].Use != "mobile" {
		t.Fatalf("telecom = %+v", p.Telecom)
	}

	var enc Encounter
	if err := json.Unmarshal(bundle.Entry[2].Resource, &enc); err != nil {
		t.Fatalf("decode encounter: %v", err)
	}
	if enc.Status != "in-progress" || enc.Class.Code != "IMP" {
		t.Fatalf("encounter = %s / %s", enc.Status, enc.Class.Code)
	}
	if enc.Subject == nil || !strings.HasPrefix(enc.Subject.Reference, "urn:uuid:") {
		t.Fatalf("encounter subject = %+v", enc.Subject)
	}
	if len(enc.Identifier) != 1 || enc.Identifier[0].Value != "V100" {
		t.Fatalf("encounter identifiers = %+v", enc.Identifier)
	}
	if enc.Period == nil || enc.Period.Start != "2024-01-05T09:30:00Z" {
		t.Fatalf("encounter period = %+v", enc.Period)
	}
}

func TestMapADTDischargeAndIdentityShapes(t *testing.T) {
	adt := sampleADT()
	adt.MSH.Trigger = "A03"
	adt.PV1.Class = "O"
	adt.PV1.DischargeTime = time.Date(2024, 1, 6, 18, 0, 0, 0, time.UTC)

	bundle, err := MapADT(adt, "urn:pamgw", time.Now().UTC())
	if err != nil {
		t.Fatalf("map discharge: %v", err)
	}
	var enc Encounter
	if err := json.Unmarshal(bundle.Entry[2].Resource, &enc); err != nil {
		t.Fatalf("decode encounter: %v", err)
	}
	if enc.Status != "finished" || enc.Class.Code != "AMB" {
		t.Fatalf("encounter = %s / %s", enc.Status, enc.Class.Code)
	}
	if enc.Period.End != "2024-01-06T18:00:00Z" {
		t.Fatalf("period end = %s", enc.Period.End)
	}

	// A31 carries no PV1: the bundle is header + patient only.
	adt.MSH.Trigger = "A31"
	adt.PV1 = nil
	bundle, err = MapADT(adt, "urn:pamgw", time.Now().UTC())
	if err != nil {
		t.Fatalf("map identity: %v", err)
	}
	if len(bundle.Entry) != 2 {
		t.Fatalf("identity bundle entries = %d, want 2", len(bundle.Entry))
	}
}
