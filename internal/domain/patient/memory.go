package patient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe Repository for tests and embedded use.
type InMemoryRepo struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{patients: make(map[uuid.UUID]*Patient)}
}

func clone(p *Patient) *Patient {
	cp := *p
	cp.Names = append([]Name(nil), p.Names...)
	cp.Addresses = append([]Address(nil), p.Addresses...)
	cp.Phones = append([]Phone(nil), p.Phones...)
	return &cp
}

func (r *InMemoryRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.patients[p.ID] = clone(p)
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

func (r *InMemoryRepo) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.patients[p.ID]
	if !ok {
		return nil
	}
	cp := clone(p)
	cp.Names = stored.Names
	cp.Addresses = stored.Addresses
	cp.Phones = stored.Phones
	cp.UpdatedAt = time.Now().UTC()
	r.patients[p.ID] = cp
	return nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.patients, id)
	return nil
}

func (r *InMemoryRepo) UpsertName(_ context.Context, n *Name) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[n.PatientID]
	if !ok {
		return nil
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	for i := range p.Names {
		if p.Names[i].Kind == n.Kind {
			p.Names[i] = *n
			return nil
		}
	}
	p.Names = append(p.Names, *n)
	return nil
}

func (r *InMemoryRepo) UpsertAddress(_ context.Context, a *Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[a.PatientID]
	if !ok {
		return nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	for i := range p.Addresses {
		if p.Addresses[i].Kind == a.Kind {
			p.Addresses[i] = *a
			return nil
		}
	}
	p.Addresses = append(p.Addresses, *a)
	return nil
}

func (r *InMemoryRepo) UpsertPhone(_ context.Context, ph *Phone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[ph.PatientID]
	if !ok {
		return nil
	}
	if ph.ID == uuid.Nil {
		ph.ID = uuid.New()
	}
	for i := range p.Phones {
		if p.Phones[i].Kind == ph.Kind {
			p.Phones[i] = *ph
			return nil
		}
	}
	p.Phones = append(p.Phones, *ph)
	return nil
}
