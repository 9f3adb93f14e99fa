package namespace

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence surface for namespaces and identifiers.
type Repository interface {
	CreateNamespace(ctx context.Context, ns *Namespace) error
	GetNamespaceByOID(ctx context.Context, oid string) (*Namespace, error)
	GetNamespaceByName(ctx context.Context, name string) (*Namespace, error)
	ListNamespaces(ctx context.Context) ([]*Namespace, error)

	CreateIdentifier(ctx context.Context, id *Identifier) error
	// FindOwner resolves an active identifier by (namespace, value, owner kind)
	// and returns the owner id, or uuid.Nil when none matches.
	FindOwner(ctx context.Context, namespaceID uuid.UUID, value string, kind OwnerKind) (uuid.UUID, error)
	ListByOwner(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) ([]*Identifier, error)
	DeactivateByOwner(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) error
}
