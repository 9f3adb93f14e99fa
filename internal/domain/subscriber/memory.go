package subscriber

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe Repository for tests and embedded use.
type InMemoryRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{subs: make(map[uuid.UUID]*Subscriber)}
}

func cloneSub(s *Subscriber) *Subscriber {
	cp := *s
	cp.Entities = append([]string(nil), s.Entities...)
	cp.Operations = append([]string(nil), s.Operations...)
	return &cp
}

func (r *InMemoryRepo) Create(_ context.Context, s *Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	r.subs[s.ID] = cloneSub(s)
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, id uuid.UUID) (*Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.subs[id]; ok {
		return cloneSub(s), nil
	}
	return nil, nil
}

func (r *InMemoryRepo) GetByName(_ context.Context, name string) (*Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.Name == name {
			return cloneSub(s), nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) List(_ context.Context) ([]Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, *cloneSub(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *InMemoryRepo) Update(_ context.Context, s *Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.ID]; !ok {
		return nil
	}
	s.UpdatedAt = time.Now().UTC()
	r.subs[s.ID] = cloneSub(s)
	return nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}
