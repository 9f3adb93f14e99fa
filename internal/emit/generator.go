package emit

import (
	"strconv"
	"strings"
	"time"

	"github.com/interop/pamgw/internal/domain/dossier"
	"github.com/interop/pamgw/internal/domain/patient"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// Source bundles the loaded entities one generated message draws from.
// Identifiers are the patient's active identifiers with their namespaces
// already joined in. NDA is the file's administrative number for PV1-19.
type Source struct {
	Patient     *patient.Patient
	Identifiers []hl7.CX
	File        *dossier.AdminFile
	Visit       *dossier.Visit
	Movement    *dossier.Movement
	NDA         hl7.CX
	MergedFrom  []hl7.CX
}

// Generator builds outbound ADT messages. Strict mode, global or per
// subscriber, refuses A08 outright.
type Generator struct {
	SendingApp      string
	SendingFacility string
	StrictGlobal    bool

	// Assigning authority stamped on generated movement ids (ZBE-1).
	MovementAuthorityName string
	MovementAuthorityOID  string
}

// Build renders one unframed HL7 message for the subscriber. The transport
// applies MLLP framing.
func (g *Generator) Build(trigger string, src Source, sub *subscriber.Subscriber, now time.Time) (string, error) {
	if trigger == "A08" && (g.StrictGlobal || sub.StrictMode) {
		return "", hl7.SemanticErr(hl7.CodeStrictModeBlocked,
			"A08 désactivé en mode strict PAM FR", "subscriber", sub.Name)
	}
	if (trigger == "A40" || trigger == "A47") && len(src.MergedFrom) == 0 {
		return "", hl7.SemanticErr(hl7.CodeMissingMRG,
			"merge trigger without prior identifiers", "trigger", trigger)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	segments := []string{
		g.buildMSH(trigger, sub, now),
		buildEVN(trigger, src, now),
		buildPID(src),
	}
	if src.File != nil && !dossier.IdentityOnly(trigger) {
		segments = append(segments, buildPV1(src))
		if src.Movement != nil && dossier.RequiresZBE(trigger) {
			segments = append(segments, g.buildZBE(src))
		}
	}
	if len(src.MergedFrom) > 0 {
		segments = append(segments, buildMRG(src.MergedFrom))
	}

	return strings.Join(segments, "\r"), nil
}

func (g *Generator) buildMSH(trigger string, sub *subscriber.Subscriber, now time.Time) string {
	ts := hl7.FormatTimestamp(now)
	return strings.Join([]string{
		"MSH", `^~\&`,
		g.SendingApp, g.SendingFacility,
		sub.App, sub.Facility,
		ts, "",
		"ADT^" + trigger,
		"MSG" + ts, "P", "2.5",
		"", "", "", "", "", "8859/1",
	}, "|")
}

func buildEVN(trigger string, src Source, now time.Time) string {
	when := now
	if src.Movement != nil && !src.Movement.OccurredAt.IsZero() {
		when = src.Movement.OccurredAt
	}
	return "EVN|" + trigger + "|" + hl7.FormatTimestamp(when)
}

func buildPID(src Source) string {
	fields := make([]string, 32)

	ids := make([]string, 0, len(src.Identifiers))
	for _, cx := range src.Identifiers {
		ids = append(ids, cx.String())
	}
	fields[2] = strings.Join(ids, "~")

	fields[4] = renderNames(src.Patient)
	if src.Patient != nil {
		fields[6] = src.Patient.BirthDate
		fields[7] = src.Patient.Gender
		fields[10] = renderAddresses(src.Patient)
		fields[12] = renderPhones(src.Patient)
		fields[15] = src.Patient.MaritalStatus
		fields[18] = src.Patient.SSN
		fields[22] = hl7.Escape(src.Patient.BirthPlace)
		fields[31] = src.Patient.ReliabilityCode
	}

	return "PID|" + strings.Join(fields, "|")
}

// renderNames emits PID-5 repetitions, usual name first, then birth name.
func renderNames(p *patient.Patient) string {
	if p == nil {
		return ""
	}
	var reps []string
	for _, kind := range []string{patient.NameUsual, patient.NameBirth} {
		n := p.NameOfKind(kind)
		if n == nil {
			continue
		}
		reps = append(reps, strings.Join([]string{
			hl7.Escape(n.Family), hl7.Escape(n.Given), hl7.Escape(n.Middle),
			hl7.Escape(n.Suffix), hl7.Escape(n.Prefix), "", kind,
		}, "^"))
	}
	return strings.Join(reps, "~")
}

// renderAddresses emits PID-11 repetitions, home first, then birth.
func renderAddresses(p *patient.Patient) string {
	var reps []string
	for _, kind := range []string{patient.AddressHome, patient.AddressBirth} {
		for i := range p.Addresses {
			a := &p.Addresses[i]
			if a.Kind != kind {
				continue
			}
			reps = append(reps, strings.Join([]string{
				hl7.Escape(a.Street), hl7.Escape(a.Other), hl7.Escape(a.City),
				hl7.Escape(a.State), a.Zip, a.Country, kind,
			}, "^"))
		}
	}
	return strings.Join(reps, "~")
}

// renderPhones emits PID-13 repetitions. The home phone stays unkeyed for
// compatibility with legacy receivers.
func renderPhones(p *patient.Patient) string {
	var reps []string
	for _, kind := range []string{patient.PhoneHome, patient.PhoneMobile, patient.PhoneWork} {
		for i := range p.Phones {
			ph := &p.Phones[i]
			if ph.Kind != kind {
				continue
			}
			switch kind {
			case patient.PhoneMobile:
				reps = append(reps, ph.Value+"^CP^CELL")
			case patient.PhoneWork:
				reps = append(reps, ph.Value+"^WP^WORK")
			default:
				reps = append(reps, ph.Value)
			}
		}
	}
	return strings.Join(reps, "~")
}

func buildPV1(src Source) string {
	fields := make([]string, 45)
	fields[1] = dossier.ClassForAdmissionType(src.File.AdmissionType)
	if src.Visit != nil {
		fields[2] = src.Visit.Location
	}
	if src.NDA.Value != "" {
		fields[18] = src.NDA.String()
	}
	if !src.File.AdmitTime.IsZero() {
		fields[43] = hl7.FormatTimestamp(src.File.AdmitTime)
	}
	if src.File.DischargeTime != nil {
		fields[44] = hl7.FormatTimestamp(*src.File.DischargeTime)
	}
	return "PV1|" + strings.Join(fields, "|")
}

func (g *Generator) buildZBE(src Source) string {
	m := src.Movement
	fields := make([]string, 9)
	fields[0] = strconv.FormatInt(m.Seq, 10) + "^" +
		g.MovementAuthorityName + "^" + g.MovementAuthorityOID + "^ISO"
	fields[1] = hl7.FormatTimestamp(m.OccurredAt)
	fields[3] = m.Action
	if m.Action == hl7.ActionCancel {
		fields[4] = "Y"
		if target, ok := dossier.CancelTarget(m.Trigger); ok {
			fields[5] = target
		}
	} else {
		fields[4] = "N"
		fields[5] = m.Trigger
	}
	fields[6] = "^^^^^^UF^^^" + src.File.UFMedical
	if m.Nature != "" {
		fields[8] = m.Nature
	} else {
		fields[8] = "HMS"
	}
	return "ZBE|" + strings.Join(fields, "|")
}

func buildMRG(prior []hl7.CX) string {
	reps := make([]string, 0, len(prior))
	for _, cx := range prior {
		reps = append(reps, cx.String())
	}
	return "MRG|" + strings.Join(reps, "~")
}
