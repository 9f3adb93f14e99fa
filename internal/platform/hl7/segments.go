package hl7

import (
	"strconv"
	"strings"
	"time"
)

// Movement actions carried in ZBE-4.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionCancel = "CANCEL"
)

// Movement natures carried in ZBE-9 (French PAM profile).
const (
	NatureMedical      = "M"
	NatureHousing      = "H"
	NatureCare         = "S"
	NatureLocalization = "L"
	NatureDate         = "D"
	NatureCancellation = "C"
)

// CX is an HL7 composite identifier: value plus assigning authority.
type CX struct {
	Value         string
	AuthorityName string
	AuthorityOID  string
	TypeCode      string
}

// String renders the CX in PID-3 wire form.
func (c CX) String() string {
	return c.Value + "^^^" + c.AuthorityName + "&" + c.AuthorityOID + "&ISO^" + c.TypeCode
}

// MSHRecord is the neutral extraction of the message header.
type MSHRecord struct {
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
	Timestamp         time.Time
	Family            string // MSH-9.1, e.g. "ADT"
	Trigger           string // MSH-9.2, e.g. "A01"
	Structure         string // MSH-9.3
	ControlID         string
	ProcessingID      string
	Version           string
	Charset           string // MSH-18
}

// PersonName is one PID-5 repetition.
type PersonName struct {
	Family string
	Given  string
	Middle string
	Suffix string
	Prefix string
	Type   string // D = usual, L = birth
}

// Address is one PID-11 repetition.
type Address struct {
	Street  string
	Other   string
	City    string
	State   string
	Zip     string
	Country string
	Type    string // H = home, BDL = birth
}

// Phone is one PID-13 repetition.
type Phone struct {
	Value     string
	Use       string // CP, WP, ...
	Equipment string // CELL, WORK, ...
}

// PIDRecord is the neutral extraction of patient identification.
type PIDRecord struct {
	Identifiers      []CX
	Names            []PersonName
	BirthDate        string // 8-digit YYYYMMDD, verbatim
	Gender           string
	Addresses        []Address
	Phones           []Phone
	SSN              string
	MaritalStatus    string
	MotherMaidenName string
	BirthPlace       string
	ReliabilityCode  string // PID-32: VALI / PROV / DOUB
}

// PV1Record is the neutral extraction of the visit segment.
type PV1Record struct {
	Class         string // I, O, E, R, ...
	Location      string // raw PV1-3
	Service       string // PV1-3.1
	Room          string // PV1-3.2
	Bed           string // PV1-3.3
	Facility      string // PV1-3.4
	VisitNumber   CX     // PV1-19
	AdmitTime     time.Time
	DischargeTime time.Time
}

// ZBERecord is the neutral extraction of the French movement segment.
type ZBERecord struct {
	Present         bool
	MovementID      CX
	When            time.Time
	Action          string // ZBE-4
	CancelFlag      string // ZBE-5, Y/N
	OriginalTrigger string // ZBE-6
	ResponsibleUF   string // ZBE-7 component 10
	Nature          string // ZBE-9
}

// MRGRecord is the neutral extraction of the merge segment.
type MRGRecord struct {
	Present          bool
	PriorIdentifiers []CX
}

// EVNRecord is the neutral extraction of the event segment.
type EVNRecord struct {
	EventType  string
	RecordedAt time.Time
	ReasonCode string
}

// Z99Record is one field-level correction directive:
//
//	Z99|Entity|seq|field|value
type Z99Record struct {
	Entity string // AdminFile, Visit, Movement
	Seq    int64
	Field  string
	Value  string
}

// ADT bundles the typed records extracted from one inbound message.
type ADT struct {
	MSH MSHRecord
	EVN EVNRecord
	PID *PIDRecord
	PV1 *PV1Record
	ZBE ZBERecord
	MRG MRGRecord
	Z99 []Z99Record
	Raw []byte
}

// ExtractADT validates the header and extracts every recognized segment into
// neutral records. Unrecognized segment names are rejected so a malformed
// interface shows up at the gate instead of corrupting downstream state.
func ExtractADT(msg *Message) (*ADT, error) {
	adt := &ADT{Raw: msg.Serialize()}

	msh, err := extractMSH(msg)
	if err != nil {
		return nil, err
	}
	adt.MSH = *msh

	for i := range msg.Segments {
		seg := &msg.Segments[i]
		switch seg.Name {
		case "MSH", "PD1", "NK1", "ROL", "OBX", "AL1", "DG1", "GT1", "IN1", "IN2", "ZFP", "ZFV", "ZFM", "ZFD", "ZFS", "ZFA":
			// Header handled above; the rest are tolerated French-profile
			// segments carrying no state for this gateway.
		case "EVN":
			adt.EVN = extractEVN(seg)
		case "PID":
			rec, err := extractPID(seg)
			if err != nil {
				return nil, err
			}
			adt.PID = rec
		case "PV1":
			rec, err := extractPV1(seg)
			if err != nil {
				return nil, err
			}
			adt.PV1 = rec
		case "PV2":
			// Additional visit data, no state here.
		case "ZBE":
			rec, err := extractZBE(seg)
			if err != nil {
				return nil, err
			}
			adt.ZBE = *rec
		case "MRG":
			adt.MRG = extractMRG(seg)
		case "Z99":
			rec, err := extractZ99(seg)
			if err != nil {
				return nil, err
			}
			adt.Z99 = append(adt.Z99, *rec)
		default:
			return nil, parseErr(CodeUnknownSegment, "unrecognized segment", "segment", seg.Name)
		}
	}

	return adt, nil
}

func extractMSH(msg *Message) (*MSHRecord, error) {
	msh := msg.Segment("MSH")
	if msh == nil {
		return nil, parseErr(CodeMissingMSH, "MSH segment not found")
	}

	rec := &MSHRecord{
		SendingApp:        msh.Field(3),
		SendingFacility:   msh.Field(4),
		ReceivingApp:      msh.Field(5),
		ReceivingFacility: msh.Field(6),
		ControlID:         msh.Field(10),
		ProcessingID:      msh.Field(11),
		Version:           msh.Field(12),
		Charset:           msh.Field(18),
	}

	if ts := msh.Field(7); ts != "" {
		t, err := ParseTimestamp(ts, "MSH", "7")
		if err != nil {
			return nil, err
		}
		rec.Timestamp = t
	}

	msgType := msh.Field(9)
	if msgType == "" {
		return nil, parseErr(CodeMissingMSH9, "MSH-9 message type is empty")
	}
	parts := strings.Split(msgType, "^")
	rec.Family = parts[0]
	if len(parts) > 1 {
		rec.Trigger = parts[1]
	}
	if len(parts) > 2 {
		rec.Structure = parts[2]
	}
	if rec.Family == "" || rec.Trigger == "" {
		return nil, parseErr(CodeInvalidMSH9, "MSH-9 must carry family and trigger", "msh9", msgType)
	}

	return rec, nil
}

func extractEVN(seg *Segment) EVNRecord {
	rec := EVNRecord{
		EventType:  seg.Field(1),
		ReasonCode: seg.Field(4),
	}
	if ts := seg.Field(2); ts != "" {
		if t, err := ParseTimestamp(ts, "EVN", "2"); err == nil {
			rec.RecordedAt = t
		}
	}
	return rec
}

// parseCX reads a CX from its component slice: value^^^authority&oid&ISO^type.
func parseCX(comps []string) CX {
	cx := CX{}
	if len(comps) > 0 {
		cx.Value = Unescape(comps[0])
	}
	if len(comps) > 3 {
		cx.AuthorityName = Subcomponent(comps[3], 1)
		cx.AuthorityOID = Subcomponent(comps[3], 2)
	}
	if len(comps) > 4 {
		cx.TypeCode = comps[4]
	}
	return cx
}

func extractPID(seg *Segment) (*PIDRecord, error) {
	rec := &PIDRecord{}

	for _, comps := range seg.Repetitions(3) {
		cx := parseCX(comps)
		if cx.Value != "" {
			rec.Identifiers = append(rec.Identifiers, cx)
		}
	}

	for _, comps := range seg.Repetitions(5) {
		name := PersonName{}
		if len(comps) > 0 {
			name.Family = Unescape(comps[0])
		}
		if len(comps) > 1 {
			name.Given = Unescape(comps[1])
		}
		if len(comps) > 2 {
			name.Middle = Unescape(comps[2])
		}
		if len(comps) > 3 {
			name.Suffix = Unescape(comps[3])
		}
		if len(comps) > 4 {
			name.Prefix = Unescape(comps[4])
		}
		if len(comps) > 6 {
			name.Type = comps[6]
		}
		if name.Family != "" || name.Given != "" {
			rec.Names = append(rec.Names, name)
		}
	}

	if bd := seg.Field(7); bd != "" {
		if _, err := ParseTimestamp(bd, "PID", "7"); err != nil {
			return nil, err
		}
		rec.BirthDate = bd[:8]
	}
	rec.Gender = seg.Field(8)

	if mm := seg.Component(6, 1); mm != "" {
		rec.MotherMaidenName = Unescape(mm)
	}

	for _, comps := range seg.Repetitions(11) {
		addr := Address{}
		if len(comps) > 0 {
			addr.Street = Unescape(comps[0])
		}
		if len(comps) > 1 {
			addr.Other = Unescape(comps[1])
		}
		if len(comps) > 2 {
			addr.City = Unescape(comps[2])
		}
		if len(comps) > 3 {
			addr.State = Unescape(comps[3])
		}
		if len(comps) > 4 {
			addr.Zip = comps[4]
		}
		if len(comps) > 5 {
			addr.Country = comps[5]
		}
		if len(comps) > 6 {
			addr.Type = comps[6]
		}
		if addr.Street != "" || addr.City != "" {
			rec.Addresses = append(rec.Addresses, addr)
		}
	}

	for _, comps := range seg.Repetitions(13) {
		ph := Phone{}
		if len(comps) > 0 {
			ph.Value = comps[0]
		}
		if len(comps) > 1 {
			ph.Use = comps[1]
		}
		if len(comps) > 2 {
			ph.Equipment = comps[2]
		}
		if ph.Value != "" || ph.Use != "" {
			rec.Phones = append(rec.Phones, ph)
		}
	}

	rec.MaritalStatus = seg.Component(16, 1)
	rec.SSN = seg.Field(19)
	rec.BirthPlace = Unescape(seg.Component(23, 1))
	rec.ReliabilityCode = seg.Component(32, 1)

	return rec, nil
}

func extractPV1(seg *Segment) (*PV1Record, error) {
	rec := &PV1Record{
		Class:    seg.Field(2),
		Location: seg.Field(3),
		Service:  seg.Component(3, 1),
		Room:     seg.Component(3, 2),
		Bed:      seg.Component(3, 3),
		Facility: seg.Component(3, 4),
	}

	// Some senders drop a separator and land the visit number on PV1-18.
	if reps := seg.Repetitions(19); len(reps) > 0 {
		rec.VisitNumber = parseCX(reps[0])
	} else if reps := seg.Repetitions(18); len(reps) > 0 {
		rec.VisitNumber = parseCX(reps[0])
	}

	if ts := seg.Field(44); ts != "" {
		t, err := ParseTimestamp(ts, "PV1", "44")
		if err != nil {
			return nil, err
		}
		rec.AdmitTime = t
	}
	if ts := seg.Field(45); ts != "" {
		t, err := ParseTimestamp(ts, "PV1", "45")
		if err != nil {
			return nil, err
		}
		rec.DischargeTime = t
	}

	return rec, nil
}

func extractZBE(seg *Segment) (*ZBERecord, error) {
	rec := &ZBERecord{Present: true}

	if reps := seg.Repetitions(1); len(reps) > 0 {
		rec.MovementID = parseCX(reps[0])
	}
	if ts := seg.Field(2); ts != "" {
		t, err := ParseTimestamp(ts, "ZBE", "2")
		if err != nil {
			return nil, err
		}
		rec.When = t
	}
	rec.Action = strings.ToUpper(seg.Field(4))
	rec.CancelFlag = seg.Field(5)
	rec.OriginalTrigger = seg.Field(6)
	rec.ResponsibleUF = seg.Component(7, 10)

	// Partner systems shift the nature letter between ZBE-9 and ZBE-10
	// depending on whether they emit the care-UF field.
	rec.Nature = seg.Field(9)
	if rec.Nature == "" {
		rec.Nature = seg.Field(10)
	}
	rec.Nature = strings.ToUpper(rec.Nature)

	return rec, nil
}

func extractMRG(seg *Segment) MRGRecord {
	rec := MRGRecord{Present: true}
	for _, comps := range seg.Repetitions(1) {
		cx := parseCX(comps)
		if cx.Value != "" {
			rec.PriorIdentifiers = append(rec.PriorIdentifiers, cx)
		}
	}
	return rec
}

func extractZ99(seg *Segment) (*Z99Record, error) {
	if len(seg.Fields) < 4 {
		return nil, parseErr(CodeFieldCount, "Z99 requires entity, sequence, field and value",
			"segment", "Z99", "fields", strconv.Itoa(len(seg.Fields)))
	}
	seq, err := strconv.ParseInt(seg.Field(2), 10, 64)
	if err != nil {
		return nil, parseErr(CodeFieldCount, "Z99 sequence is not numeric", "value", seg.Field(2))
	}
	return &Z99Record{
		Entity: seg.Field(1),
		Seq:    seq,
		Field:  seg.Field(3),
		Value:  Unescape(seg.Field(4)),
	}, nil
}
