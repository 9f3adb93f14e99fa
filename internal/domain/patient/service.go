package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// Service applies demographic changes. The merge is additive: an incoming
// value replaces the stored value of the same kind, a missing value never
// erases one.
type Service struct {
	repo Repository
	seq  sequence.Allocator
}

func NewService(repo Repository, seq sequence.Allocator) *Service {
	return &Service{repo: repo, seq: seq}
}

// Get loads a patient aggregate by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.Get(ctx, id)
}

// CreateFromPID allocates a patient sequence and persists a new patient with
// the demographics carried in the PID record.
func (s *Service) CreateFromPID(ctx context.Context, rec *hl7.PIDRecord) (*Patient, error) {
	n, err := s.seq.Next(ctx, sequence.Patient)
	if err != nil {
		return nil, fmt.Errorf("allocate patient sequence: %w", err)
	}
	p := &Patient{Seq: n}
	applyScalar(p, rec)
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	if err := s.applyMultiValued(ctx, p, rec); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyDemographics merges the PID record into an existing patient.
func (s *Service) ApplyDemographics(ctx context.Context, p *Patient, rec *hl7.PIDRecord) error {
	applyScalar(p, rec)
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return s.applyMultiValued(ctx, p, rec)
}

func applyScalar(p *Patient, rec *hl7.PIDRecord) {
	if rec.BirthDate != "" {
		p.BirthDate = rec.BirthDate
	}
	if rec.Gender != "" {
		p.Gender = rec.Gender
	}
	if rec.ReliabilityCode != "" {
		p.ReliabilityCode = rec.ReliabilityCode
	}
	if rec.SSN != "" {
		p.SSN = rec.SSN
	}
	if rec.MaritalStatus != "" {
		p.MaritalStatus = rec.MaritalStatus
	}
	if rec.BirthPlace != "" {
		p.BirthPlace = rec.BirthPlace
	}
}

func (s *Service) applyMultiValued(ctx context.Context, p *Patient, rec *hl7.PIDRecord) error {
	for _, name := range rec.Names {
		kind := name.Type
		if kind == "" {
			kind = NameUsual
		}
		if err := s.repo.UpsertName(ctx, &Name{
			PatientID: p.ID,
			Kind:      kind,
			Family:    name.Family,
			Given:     name.Given,
			Middle:    name.Middle,
			Suffix:    name.Suffix,
			Prefix:    name.Prefix,
		}); err != nil {
			return fmt.Errorf("upsert name %s: %w", kind, err)
		}
	}

	for _, addr := range rec.Addresses {
		kind := addr.Type
		if kind == "" {
			kind = AddressHome
		}
		if err := s.repo.UpsertAddress(ctx, &Address{
			PatientID: p.ID,
			Kind:      kind,
			Street:    addr.Street,
			Other:     addr.Other,
			City:      addr.City,
			State:     addr.State,
			Zip:       addr.Zip,
			Country:   addr.Country,
		}); err != nil {
			return fmt.Errorf("upsert address %s: %w", kind, err)
		}
	}

	for _, ph := range rec.Phones {
		if ph.Value == "" {
			continue
		}
		if err := s.repo.UpsertPhone(ctx, &Phone{
			PatientID: p.ID,
			Kind:      PhoneKind(ph),
			Value:     ph.Value,
		}); err != nil {
			return fmt.Errorf("upsert phone: %w", err)
		}
	}

	fresh, err := s.repo.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if fresh != nil {
		p.Names = fresh.Names
		p.Addresses = fresh.Addresses
		p.Phones = fresh.Phones
	}
	return nil
}

// PhoneKind classifies a PID-13 repetition. Home phones arrive unkeyed for
// compatibility with legacy senders.
func PhoneKind(ph hl7.Phone) string {
	switch {
	case ph.Use == "CP" || ph.Equipment == "CELL":
		return PhoneMobile
	case ph.Use == "WP" || ph.Equipment == "WORK":
		return PhoneWork
	default:
		return PhoneHome
	}
}
