package namespace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe Repository for tests and embedded use.
type InMemoryRepo struct {
	mu          sync.RWMutex
	namespaces  map[uuid.UUID]*Namespace
	identifiers map[uuid.UUID]*Identifier
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		namespaces:  make(map[uuid.UUID]*Namespace),
		identifiers: make(map[uuid.UUID]*Identifier),
	}
}

func (r *InMemoryRepo) CreateNamespace(_ context.Context, ns *Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns.ID == uuid.Nil {
		ns.ID = uuid.New()
	}
	ns.CreatedAt = time.Now().UTC()
	cp := *ns
	r.namespaces[ns.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetNamespaceByOID(_ context.Context, oid string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ns := range r.namespaces {
		if ns.OID == oid {
			cp := *ns
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) GetNamespaceByName(_ context.Context, name string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ns := range r.namespaces {
		if ns.Name == name {
			cp := *ns
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) ListNamespaces(_ context.Context) ([]*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Namespace, 0, len(r.namespaces))
	for _, ns := range r.namespaces {
		cp := *ns
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepo) CreateIdentifier(_ context.Context, id *Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	if id.Status == "" {
		id.Status = StatusActive
	}
	id.CreatedAt = time.Now().UTC()
	cp := *id
	r.identifiers[id.ID] = &cp
	return nil
}

func (r *InMemoryRepo) FindOwner(_ context.Context, namespaceID uuid.UUID, value string, kind OwnerKind) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.identifiers {
		if id.NamespaceID == namespaceID && id.Value == value && id.OwnerKind == kind && id.Status == StatusActive {
			return id.OwnerID, nil
		}
	}
	return uuid.Nil, nil
}

func (r *InMemoryRepo) ListByOwner(_ context.Context, kind OwnerKind, ownerID uuid.UUID) ([]*Identifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Identifier
	for _, id := range r.identifiers {
		if id.OwnerKind == kind && id.OwnerID == ownerID {
			cp := *id
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryRepo) DeactivateByOwner(_ context.Context, kind OwnerKind, ownerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.identifiers {
		if id.OwnerKind == kind && id.OwnerID == ownerID {
			id.Status = StatusInactive
		}
	}
	return nil
}
