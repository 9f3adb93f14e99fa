package emit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/interop/pamgw/internal/domain/dossier"
	"github.com/interop/pamgw/internal/domain/namespace"
	"github.com/interop/pamgw/internal/domain/patient"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/platform/hl7"
)

// SourceLoader reloads the entity behind a pending emission. The loader runs
// in a fresh session: the transaction that produced the row is long gone.
type SourceLoader interface {
	// Load returns the message source and the trigger to generate. A nil
	// source with nil error means the entity has vanished.
	Load(ctx context.Context, p Pending) (*Source, string, error)
}

type storeLoader struct {
	patients patient.Repository
	files    dossier.Repository
	ids      namespace.Repository
}

func NewStoreLoader(patients patient.Repository, files dossier.Repository, ids namespace.Repository) SourceLoader {
	return &storeLoader{patients: patients, files: files, ids: ids}
}

func (l *storeLoader) Load(ctx context.Context, p Pending) (*Source, string, error) {
	switch p.EntityKind {
	case subscriber.EntityPatient:
		return l.loadPatient(ctx, p)
	case subscriber.EntityAdminFile, subscriber.EntityVisit:
		return l.loadFile(ctx, p)
	case subscriber.EntityMovement:
		return l.loadMovement(ctx, p)
	}
	return nil, "", fmt.Errorf("unknown entity kind %q", p.EntityKind)
}

func (l *storeLoader) loadPatient(ctx context.Context, p Pending) (*Source, string, error) {
	pat, err := l.patients.Get(ctx, p.EntityID)
	if err != nil || pat == nil {
		return nil, "", err
	}
	src := &Source{Patient: pat}
	if src.Identifiers, err = l.activeIdentifiers(ctx, namespace.OwnerPatient, pat.ID); err != nil {
		return nil, "", err
	}
	trigger := p.Trigger
	if trigger == "" {
		if p.Operation == subscriber.OpInsert {
			trigger = "A28"
		} else {
			trigger = "A31"
		}
	}
	return src, trigger, nil
}

func (l *storeLoader) loadFile(ctx context.Context, p Pending) (*Source, string, error) {
	fileID := p.EntityID
	if p.EntityKind == subscriber.EntityVisit {
		v, err := l.files.GetVisit(ctx, p.EntityID)
		if err != nil || v == nil {
			return nil, "", err
		}
		fileID = v.FileID
	}
	f, err := l.files.GetFile(ctx, fileID)
	if err != nil || f == nil {
		return nil, "", err
	}
	src, err := l.fillFile(ctx, f)
	if err != nil {
		return nil, "", err
	}
	trigger := p.Trigger
	if trigger == "" {
		trigger = f.CurrentState
	}
	return src, trigger, nil
}

func (l *storeLoader) loadMovement(ctx context.Context, p Pending) (*Source, string, error) {
	m, err := l.files.GetMovement(ctx, p.EntityID)
	if err != nil || m == nil {
		return nil, "", err
	}
	v, err := l.files.GetVisit(ctx, m.VisitID)
	if err != nil || v == nil {
		return nil, "", err
	}
	f, err := l.files.GetFile(ctx, v.FileID)
	if err != nil || f == nil {
		return nil, "", err
	}
	src, err := l.fillFile(ctx, f)
	if err != nil {
		return nil, "", err
	}
	src.Visit = v
	src.Movement = m
	trigger := p.Trigger
	if trigger == "" {
		trigger = m.Trigger
	}
	return src, trigger, nil
}

// fillFile loads the file's patient, identifiers, NDA and latest visit.
func (l *storeLoader) fillFile(ctx context.Context, f *dossier.AdminFile) (*Source, error) {
	pat, err := l.patients.Get(ctx, f.PatientID)
	if err != nil {
		return nil, err
	}
	src := &Source{File: f, Patient: pat}

	if src.Visit, err = l.files.LatestVisit(ctx, f.ID); err != nil {
		return nil, err
	}
	if pat != nil {
		if src.Identifiers, err = l.activeIdentifiers(ctx, namespace.OwnerPatient, pat.ID); err != nil {
			return nil, err
		}
	}
	ndas, err := l.activeIdentifiers(ctx, namespace.OwnerAdminFile, f.ID)
	if err != nil {
		return nil, err
	}
	if len(ndas) > 0 {
		src.NDA = ndas[0]
	}
	return src, nil
}

// activeIdentifiers renders an owner's active identifiers as wire CX values.
func (l *storeLoader) activeIdentifiers(ctx context.Context, kind namespace.OwnerKind, owner uuid.UUID) ([]hl7.CX, error) {
	ids, err := l.ids.ListByOwner(ctx, kind, owner)
	if err != nil {
		return nil, err
	}
	namespaces, err := l.ids.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*namespace.Namespace, len(namespaces))
	for _, ns := range namespaces {
		byID[ns.ID] = ns
	}

	var out []hl7.CX
	for _, id := range ids {
		if id.Status != namespace.StatusActive {
			continue
		}
		cx := hl7.CX{Value: id.Value}
		if ns := byID[id.NamespaceID]; ns != nil {
			cx.AuthorityName = ns.Name
			cx.AuthorityOID = ns.OID
			cx.TypeCode = string(ns.Type)
		}
		out = append(out, cx)
	}
	return out, nil
}
