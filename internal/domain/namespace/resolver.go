package namespace

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/platform/hl7"
)

// Resolver maps incoming identifiers to local owners through (namespace,
// value) lookups. Authorities are matched on their OID; an unknown authority
// gets an implicit namespace of type PI so the identifier is never dropped.
type Resolver struct {
	repo   Repository
	logger zerolog.Logger
}

func NewResolver(repo Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// EnsureNamespace returns the namespace whose OID matches the authority,
// creating an implicit PI namespace when none is registered.
func (r *Resolver) EnsureNamespace(ctx context.Context, cx hl7.CX) (*Namespace, error) {
	name := cx.AuthorityName
	if name == "" {
		name = "IMPLICIT"
	}

	if cx.AuthorityOID != "" {
		ns, err := r.repo.GetNamespaceByOID(ctx, cx.AuthorityOID)
		if err != nil {
			return nil, err
		}
		if ns != nil {
			return ns, nil
		}
	} else {
		// Authority-less identifiers all share one implicit namespace, so a
		// re-sent value resolves to the same owner.
		ns, err := r.repo.GetNamespaceByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if ns != nil {
			return ns, nil
		}
	}
	ns := &Namespace{
		Name:  name,
		OID:   cx.AuthorityOID,
		Type:  TypePI,
		Scope: ScopeLegalEntity,
	}
	if err := r.repo.CreateNamespace(ctx, ns); err != nil {
		return nil, err
	}
	r.logger.Warn().
		Str("authority", cx.AuthorityName).
		Str("oid", cx.AuthorityOID).
		Msg("unknown assigning authority, implicit PI namespace created")
	return ns, nil
}

// Resolve looks up the owner of the given identifiers. It returns uuid.Nil
// when none resolve, and AmbiguousIdentity when two identifiers point at
// different owners of the same kind.
func (r *Resolver) Resolve(ctx context.Context, ids []hl7.CX, kind OwnerKind) (uuid.UUID, error) {
	owner := uuid.Nil
	for _, cx := range ids {
		if cx.Value == "" {
			continue
		}
		ns, err := r.EnsureNamespace(ctx, cx)
		if err != nil {
			return uuid.Nil, err
		}
		found, err := r.repo.FindOwner(ctx, ns.ID, cx.Value, kind)
		if err != nil {
			return uuid.Nil, err
		}
		if found == uuid.Nil {
			continue
		}
		if owner != uuid.Nil && owner != found {
			return uuid.Nil, hl7.SemanticErr(hl7.CodeAmbiguousIdentity,
				"identifiers resolve to different "+string(kind)+" records",
				"value", cx.Value, "authority", cx.AuthorityName)
		}
		owner = found
	}
	return owner, nil
}

// Deactivate retires every active identifier of an owner, as a patient merge
// does to the non-surviving record.
func (r *Resolver) Deactivate(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) error {
	return r.repo.DeactivateByOwner(ctx, kind, ownerID)
}

// Attach records an identifier for an owner, skipping values that already
// resolve to it (idempotent re-sends must not duplicate rows).
func (r *Resolver) Attach(ctx context.Context, cx hl7.CX, kind OwnerKind, ownerID uuid.UUID) error {
	if cx.Value == "" {
		return nil
	}
	ns, err := r.EnsureNamespace(ctx, cx)
	if err != nil {
		return err
	}
	existing, err := r.repo.FindOwner(ctx, ns.ID, cx.Value, kind)
	if err != nil {
		return err
	}
	if existing == ownerID {
		return nil
	}
	return r.repo.CreateIdentifier(ctx, &Identifier{
		NamespaceID: ns.ID,
		Value:       cx.Value,
		Status:      StatusActive,
		OwnerKind:   kind,
		OwnerID:     ownerID,
	})
}
