package dossier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// Service mutates files, visits and movements under the PAM FR rules. A
// movement's nature decides which UF responsibility (medical, housing, care)
// it updates, and that mapping is applied here, not left to callers.
type Service struct {
	repo Repository
	seq  sequence.Allocator
}

func NewService(repo Repository, seq sequence.Allocator) *Service {
	return &Service{repo: repo, seq: seq}
}

// Repo exposes the underlying repository for read paths.
func (s *Service) Repo() Repository { return s.repo }

// CreateFile opens a new administrative file for the patient. Admit time
// falls back to the message timestamp when PV1-44 is absent.
func (s *Service) CreateFile(ctx context.Context, patientID uuid.UUID, pv1 *hl7.PV1Record, fallback time.Time) (*AdminFile, error) {
	n, err := s.seq.Next(ctx, sequence.AdminFile)
	if err != nil {
		return nil, fmt.Errorf("allocate file sequence: %w", err)
	}
	admit := fallback
	class := ""
	if pv1 != nil {
		class = pv1.Class
		if !pv1.AdmitTime.IsZero() {
			admit = pv1.AdmitTime
		}
	}
	f := &AdminFile{
		PatientID:     patientID,
		Seq:           n,
		AdmissionType: AdmissionTypeForClass(class),
		AdmitTime:     admit,
	}
	if err := s.repo.CreateFile(ctx, f); err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

// OpenVisit starts a new visit on the file.
func (s *Service) OpenVisit(ctx context.Context, f *AdminFile, pv1 *hl7.PV1Record, start time.Time) (*Visit, error) {
	n, err := s.seq.Next(ctx, sequence.Visit)
	if err != nil {
		return nil, fmt.Errorf("allocate visit sequence: %w", err)
	}
	v := &Visit{
		FileID:    f.ID,
		Seq:       n,
		StartTime: start,
		Status:    VisitPlanned,
		UFMedical: f.UFMedical,
		UFHousing: f.UFHousing,
		UFCare:    f.UFCare,
	}
	if pv1 != nil {
		v.Location = pv1.Location
	}
	if err := s.repo.CreateVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	return v, nil
}

// ApplyMovement records the trigger as a new movement and applies its side
// effects: responsibility codes, visit status, current state. Callers must
// have validated the transition first.
func (s *Service) ApplyMovement(ctx context.Context, f *AdminFile, v *Visit, trigger string, zbe hl7.ZBERecord, pv1 *hl7.PV1Record, now time.Time) (*Movement, error) {
	occurred := now
	if !zbe.When.IsZero() {
		occurred = zbe.When
	}

	n, err := s.seq.Next(ctx, sequence.Movement)
	if err != nil {
		return nil, hl7.TransientErr(hl7.CodeSequenceConflict, "allocate movement sequence: "+err.Error())
	}

	action := zbe.Action
	if action == "" {
		action = hl7.ActionInsert
	}
	if trigger == "Z99" {
		action = hl7.ActionUpdate
	}

	m := &Movement{
		VisitID:    v.ID,
		Seq:        n,
		OccurredAt: occurred,
		Trigger:    trigger,
		Nature:     zbe.Nature,
		Action:     action,
	}
	if pv1 != nil && pv1.Location != "" {
		m.Location = pv1.Location
	}

	if target, ok := CancelTarget(trigger); ok {
		prior, err := s.repo.LatestActiveByTrigger(ctx, f.ID, target)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, hl7.SemanticErr(hl7.CodeInvalidTransition,
				"Transition IHE invalide: aucun mouvement "+target+" à annuler",
				"trigger", trigger)
		}
		prior.Cancelled = true
		if err := s.repo.UpdateMovement(ctx, prior); err != nil {
			return nil, err
		}
		m.Action = hl7.ActionCancel
		m.CancelsID = &prior.ID
	}

	if err := s.repo.CreateMovement(ctx, m); err != nil {
		return nil, err
	}

	applyResponsibility(f, v, trigger, zbe, pv1)
	applyVisitEffect(f, v, trigger, occurred)

	if trigger != "Z99" {
		f.CurrentState = trigger
	}

	if err := s.repo.UpdateFile(ctx, f); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateVisit(ctx, v); err != nil {
		return nil, err
	}
	return m, nil
}

// applyResponsibility routes the UF codes onto the file per the movement
// nature. Admissions set the initial codes regardless of nature.
func applyResponsibility(f *AdminFile, v *Visit, trigger string, zbe hl7.ZBERecord, pv1 *hl7.PV1Record) {
	service := ""
	if pv1 != nil {
		service = pv1.Service
	}

	switch trigger {
	case "A01":
		if zbe.ResponsibleUF != "" {
			f.UFMedical = zbe.ResponsibleUF
		}
		if service != "" {
			f.UFHousing = service
		}
	case "A04":
		if zbe.ResponsibleUF != "" {
			f.UFMedical = zbe.ResponsibleUF
		}
	default:
		switch zbe.Nature {
		case hl7.NatureMedical:
			if zbe.ResponsibleUF != "" {
				f.UFMedical = zbe.ResponsibleUF
			}
		case hl7.NatureHousing:
			if service != "" {
				f.UFHousing = service
			}
		case hl7.NatureCare:
			if zbe.ResponsibleUF != "" {
				f.UFCare = zbe.ResponsibleUF
			}
		}
	}

	v.UFMedical = f.UFMedical
	v.UFHousing = f.UFHousing
	v.UFCare = f.UFCare

	if pv1 != nil && pv1.Location != "" && movesPatient(trigger) {
		v.Location = pv1.Location
	}
}

func movesPatient(trigger string) bool {
	switch trigger {
	case "A01", "A02", "A04", "A05", "A06", "A07", "A21", "A22":
		return true
	}
	return false
}

func applyVisitEffect(f *AdminFile, v *Visit, trigger string, occurred time.Time) {
	switch trigger {
	case "A01", "A04", "A06", "A07", "A22":
		v.Status = VisitActive
	case "A05":
		v.Status = VisitPlanned
	case "A21":
		v.Status = VisitSuspended
	case "A03":
		v.Status = VisitFinished
		end := occurred
		v.EndTime = &end
		f.DischargeTime = &end
	case "A11":
		v.Status = VisitCancelled
	case "A13":
		// Cancelling the discharge reopens the visit.
		v.Status = VisitActive
		v.EndTime = nil
		f.DischargeTime = nil
	}
}

// Z99 mutable fields per entity. Anything else is refused.
var z99Fields = map[string]map[string]bool{
	"adminfile": {"uf_medical": true, "uf_housing": true, "uf_care": true, "discharge_time": true},
	"visit":     {"location": true, "status": true, "end_time": true},
	"movement":  {"occurred_at": true, "location": true},
}

// ApplyZ99 applies one field-level correction to the entity matched by
// sequence number.
func (s *Service) ApplyZ99(ctx context.Context, rec hl7.Z99Record) error {
	entity := strings.ToLower(strings.ReplaceAll(rec.Entity, "_", ""))
	field := strings.ToLower(rec.Field)

	allowed, ok := z99Fields[entity]
	if !ok || !allowed[field] {
		return hl7.SemanticErr(hl7.CodeInvalidZ99Target,
			"field is not correctable", "entity", rec.Entity, "field", rec.Field)
	}

	switch entity {
	case "adminfile":
		f, err := s.repo.GetFileBySeq(ctx, rec.Seq)
		if err != nil {
			return err
		}
		if f == nil {
			return hl7.SemanticErr(hl7.CodeInvalidZ99Target, "no such file",
				"seq", strconv.FormatInt(rec.Seq, 10))
		}
		switch field {
		case "uf_medical":
			f.UFMedical = rec.Value
		case "uf_housing":
			f.UFHousing = rec.Value
		case "uf_care":
			f.UFCare = rec.Value
		case "discharge_time":
			t, err := hl7.ParseTimestamp(rec.Value, "Z99", "4")
			if err != nil {
				return err
			}
			f.DischargeTime = &t
		}
		return s.repo.UpdateFile(ctx, f)

	case "visit":
		v, err := s.repo.GetVisitBySeq(ctx, rec.Seq)
		if err != nil {
			return err
		}
		if v == nil {
			return hl7.SemanticErr(hl7.CodeInvalidZ99Target, "no such visit",
				"seq", strconv.FormatInt(rec.Seq, 10))
		}
		switch field {
		case "location":
			v.Location = rec.Value
		case "status":
			v.Status = rec.Value
		case "end_time":
			t, err := hl7.ParseTimestamp(rec.Value, "Z99", "4")
			if err != nil {
				return err
			}
			v.EndTime = &t
		}
		return s.repo.UpdateVisit(ctx, v)

	case "movement":
		m, err := s.repo.GetMovementBySeq(ctx, rec.Seq)
		if err != nil {
			return err
		}
		if m == nil {
			return hl7.SemanticErr(hl7.CodeInvalidZ99Target, "no such movement",
				"seq", strconv.FormatInt(rec.Seq, 10))
		}
		switch field {
		case "occurred_at":
			t, err := hl7.ParseTimestamp(rec.Value, "Z99", "4")
			if err != nil {
				return err
			}
			m.OccurredAt = t
		case "location":
			m.Location = rec.Value
		}
		return s.repo.UpdateMovement(ctx, m)
	}
	return nil
}
