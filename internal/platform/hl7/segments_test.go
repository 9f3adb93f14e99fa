package hl7

import (
	"testing"
	"time"
)

func mustADT(t *testing.T, raw string) *ADT {
	t.Helper()
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	adt, err := ExtractADT(msg)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return adt
}

func TestExtractADTAdmission(t *testing.T) {
	adt := mustADT(t, sampleA01)

	if adt.MSH.Family != "ADT" || adt.MSH.Trigger != "A01" {
		t.Errorf("MSH-9: got %s^%s", adt.MSH.Family, adt.MSH.Trigger)
	}
	if adt.MSH.ControlID != "C001" {
		t.Errorf("control id: got %q", adt.MSH.ControlID)
	}

	if adt.PID == nil {
		t.Fatal("PID record missing")
	}
	if len(adt.PID.Identifiers) != 1 {
		t.Fatalf("expected 1 identifier, got %d", len(adt.PID.Identifiers))
	}
	id := adt.PID.Identifiers[0]
	if id.Value != "0001" || id.AuthorityName != "CPAGE" || id.AuthorityOID != "1.2.250.1.211.10.200.2" || id.TypeCode != "PI" {
		t.Errorf("identifier: %+v", id)
	}
	if adt.PID.BirthDate != "19800101" || adt.PID.Gender != "M" {
		t.Errorf("demographics: %q %q", adt.PID.BirthDate, adt.PID.Gender)
	}

	if adt.PV1 == nil {
		t.Fatal("PV1 record missing")
	}
	if adt.PV1.Class != "I" {
		t.Errorf("class: got %q", adt.PV1.Class)
	}
	if adt.PV1.Service != "SERV" || adt.PV1.Room != "101" || adt.PV1.Bed != "01" {
		t.Errorf("location: %q/%q/%q", adt.PV1.Service, adt.PV1.Room, adt.PV1.Bed)
	}
	if adt.PV1.VisitNumber.Value != "V100" {
		t.Errorf("visit number: got %q", adt.PV1.VisitNumber.Value)
	}

	if !adt.ZBE.Present {
		t.Fatal("ZBE record missing")
	}
	if adt.ZBE.MovementID.Value != "1" || adt.ZBE.MovementID.AuthorityName != "MOVT" {
		t.Errorf("ZBE-1: %+v", adt.ZBE.MovementID)
	}
	if adt.ZBE.Action != ActionInsert {
		t.Errorf("ZBE-4: got %q", adt.ZBE.Action)
	}
	if adt.ZBE.OriginalTrigger != "A01" {
		t.Errorf("ZBE-6: got %q", adt.ZBE.OriginalTrigger)
	}
	if adt.ZBE.ResponsibleUF != "CARDIO" {
		t.Errorf("ZBE-7.10: got %q", adt.ZBE.ResponsibleUF)
	}
	if adt.ZBE.Nature != NatureMedical {
		t.Errorf("nature: got %q", adt.ZBE.Nature)
	}
	if adt.ZBE.When != time.Date(2025, 5, 13, 8, 16, 8, 0, time.UTC) {
		t.Errorf("ZBE-2: got %v", adt.ZBE.When)
	}
}

func TestExtractADTEmptyMSH9(t *testing.T) {
	raw := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608|||C001|P|2.5\rPID|||0001"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = ExtractADT(msg)
	if CodeOf(err) != CodeMissingMSH9 {
		t.Fatalf("expected MissingMSH9, got %v", err)
	}
}

func TestExtractADTInvalidMSH9(t *testing.T) {
	raw := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT|C001|P|2.5"
	msg, _ := Parse([]byte(raw))
	_, err := ExtractADT(msg)
	if CodeOf(err) != CodeInvalidMSH9 {
		t.Fatalf("expected InvalidMSH9, got %v", err)
	}
}

func TestExtractADTUnknownSegment(t *testing.T) {
	raw := sampleA01 + "\rQQQ|1|2"
	msg, _ := Parse([]byte(raw))
	_, err := ExtractADT(msg)
	e := AsError(err)
	if e.Code != CodeUnknownSegment || e.Context["segment"] != "QQQ" {
		t.Fatalf("expected UnknownSegment naming QQQ, got %v", err)
	}
}

func TestExtractMRG(t *testing.T) {
	raw := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A40|C009|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.3&ISO^PI||DOE^JOHN\r" +
		"MRG|0002^^^CPAGE&1.2.3&ISO^PI"
	adt := mustADT(t, raw)
	if !adt.MRG.Present {
		t.Fatal("MRG record missing")
	}
	if len(adt.MRG.PriorIdentifiers) != 1 || adt.MRG.PriorIdentifiers[0].Value != "0002" {
		t.Errorf("prior identifiers: %+v", adt.MRG.PriorIdentifiers)
	}
}

func TestExtractZ99(t *testing.T) {
	raw := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^Z99|C010|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.3&ISO^PI\r" +
		"Z99|Visit|3|location|SERV2^202^02"
	adt := mustADT(t, raw)
	if len(adt.Z99) != 1 {
		t.Fatalf("expected one Z99 record, got %d", len(adt.Z99))
	}
	z := adt.Z99[0]
	if z.Entity != "Visit" || z.Seq != 3 || z.Field != "location" || z.Value != "SERV2^202^02" {
		t.Errorf("Z99 record: %+v", z)
	}
}

func TestExtractZ99BadSequence(t *testing.T) {
	raw := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^Z99|C011|P|2.5\r" +
		"Z99|Visit|abc|location|X"
	msg, _ := Parse([]byte(raw))
	_, err := ExtractADT(msg)
	if CodeOf(err) != CodeFieldCount {
		t.Fatalf("expected FieldCountMismatch, got %v", err)
	}
}

func TestExtractPIDMultipleNames(t *testing.T) {
	raw := "MSH|^~\\&|SRC|FAC|DST|FAC|20250513081608||ADT^A31|C012|P|2.5\r" +
		"PID|||0001^^^CPAGE&1.2.3&ISO^PI||MARTIN^MARIE^^^MME^^D~DURAND^MARIE^^^^^L||19900202|F|||12 RUE DE LA PAIX^^PARIS^^75002^FRA^H~^^LYON^^69000^FRA^BDL||0102030405~0601020304^CP^CELL"
	adt := mustADT(t, raw)

	if len(adt.PID.Names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(adt.PID.Names))
	}
	if adt.PID.Names[0].Type != "D" || adt.PID.Names[1].Type != "L" {
		t.Errorf("name kinds: %q %q", adt.PID.Names[0].Type, adt.PID.Names[1].Type)
	}
	if adt.PID.Names[1].Family != "DURAND" {
		t.Errorf("birth name: %q", adt.PID.Names[1].Family)
	}

	if len(adt.PID.Addresses) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(adt.PID.Addresses))
	}
	if adt.PID.Addresses[1].Type != "BDL" || adt.PID.Addresses[1].City != "LYON" {
		t.Errorf("birth address: %+v", adt.PID.Addresses[1])
	}

	if len(adt.PID.Phones) != 2 {
		t.Fatalf("expected 2 phones, got %d", len(adt.PID.Phones))
	}
	if adt.PID.Phones[1].Use != "CP" || adt.PID.Phones[1].Equipment != "CELL" {
		t.Errorf("mobile phone: %+v", adt.PID.Phones[1])
	}
}

func TestCXString(t *testing.T) {
	cx := CX{Value: "0001", AuthorityName: "CPAGE", AuthorityOID: "1.2.250.1.211.10.200.2", TypeCode: "PI"}
	want := "0001^^^CPAGE&1.2.250.1.211.10.200.2&ISO^PI"
	if cx.String() != want {
		t.Errorf("got %q, want %q", cx.String(), want)
	}
}
