package location

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe Repository for tests and embedded use.
type InMemoryRepo struct {
	mu   sync.RWMutex
	locs map[uuid.UUID]*Location
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{locs: make(map[uuid.UUID]*Location)}
}

func (r *InMemoryRepo) Create(_ context.Context, l *Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	parentType := ""
	if l.ParentID != nil {
		parent, ok := r.locs[*l.ParentID]
		if !ok {
			return fmt.Errorf("location parent %s not found", l.ParentID)
		}
		parentType = parent.PhysicalType
	}
	if !ValidParent(l.PhysicalType, parentType) {
		return fmt.Errorf("a %s cannot be attached under a %s", l.PhysicalType, parentType)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = StatusActive
	}
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	cp := *l
	r.locs[l.ID] = &cp
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, id uuid.UUID) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.locs[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryRepo) GetByCode(_ context.Context, physicalType, code string) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.locs {
		if l.PhysicalType == physicalType && l.Code == code && l.Status == StatusActive {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) ListChildren(_ context.Context, parentID uuid.UUID) ([]Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Location
	for _, l := range r.locs {
		if l.ParentID != nil && *l.ParentID == parentID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *InMemoryRepo) ListByType(_ context.Context, physicalType string) ([]Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Location
	for _, l := range r.locs {
		if l.PhysicalType == physicalType {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *InMemoryRepo) Update(_ context.Context, l *Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locs[l.ID]; !ok {
		return nil
	}
	l.UpdatedAt = time.Now().UTC()
	cp := *l
	r.locs[l.ID] = &cp
	return nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locs, id)
	return nil
}
