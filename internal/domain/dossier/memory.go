package dossier

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe Repository for tests and embedded use.
type InMemoryRepo struct {
	mu        sync.RWMutex
	files     map[uuid.UUID]*AdminFile
	visits    map[uuid.UUID]*Visit
	movements map[uuid.UUID]*Movement
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		files:     make(map[uuid.UUID]*AdminFile),
		visits:    make(map[uuid.UUID]*Visit),
		movements: make(map[uuid.UUID]*Movement),
	}
}

func (r *InMemoryRepo) CreateFile(_ context.Context, f *AdminFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now().UTC()
	f.UpdatedAt = f.CreatedAt
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetFile(_ context.Context, id uuid.UUID) (*AdminFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.files[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryRepo) GetFileBySeq(_ context.Context, seq int64) (*AdminFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.files {
		if f.Seq == seq {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) FindFileByAdmit(_ context.Context, patientID uuid.UUID, admit time.Time) (*AdminFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.files {
		if f.PatientID == patientID && f.AdmitTime.Equal(admit) {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) LockFile(ctx context.Context, id uuid.UUID) (*AdminFile, error) {
	return r.GetFile(ctx, id)
}

func (r *InMemoryRepo) UpdateFile(_ context.Context, f *AdminFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[f.ID]; !ok {
		return nil
	}
	f.UpdatedAt = time.Now().UTC()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *InMemoryRepo) ReassignFiles(_ context.Context, fromPatientID, toPatientID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.PatientID == fromPatientID {
			f.PatientID = toPatientID
			f.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (r *InMemoryRepo) CreateVisit(_ context.Context, v *Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	r.visits[v.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetVisit(_ context.Context, id uuid.UUID) (*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.visits[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryRepo) GetVisitBySeq(_ context.Context, seq int64) (*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.visits {
		if v.Seq == seq {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) LatestVisit(_ context.Context, fileID uuid.UUID) (*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Visit
	for _, v := range r.visits {
		if v.FileID != fileID {
			continue
		}
		if latest == nil || v.Seq > latest.Seq {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *InMemoryRepo) UpdateVisit(_ context.Context, v *Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visits[v.ID]; !ok {
		return nil
	}
	v.UpdatedAt = time.Now().UTC()
	cp := *v
	r.visits[v.ID] = &cp
	return nil
}

func (r *InMemoryRepo) CreateMovement(_ context.Context, m *Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now().UTC()
	cp := *m
	r.movements[m.ID] = &cp
	return nil
}

func (r *InMemoryRepo) GetMovement(_ context.Context, id uuid.UUID) (*Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.movements[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryRepo) GetMovementBySeq(_ context.Context, seq int64) (*Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.movements {
		if m.Seq == seq {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) ListMovements(_ context.Context, visitID uuid.UUID) ([]Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Movement
	for _, m := range r.movements {
		if m.VisitID == visitID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *InMemoryRepo) LatestActiveByTrigger(_ context.Context, fileID uuid.UUID, trigger string) (*Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Movement
	for _, m := range r.movements {
		v, ok := r.visits[m.VisitID]
		if !ok || v.FileID != fileID {
			continue
		}
		if m.Trigger != trigger || m.Cancelled {
			continue
		}
		if latest == nil || m.Seq > latest.Seq {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *InMemoryRepo) UpdateMovement(_ context.Context, m *Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.movements[m.ID]; !ok {
		return nil
	}
	cp := *m
	r.movements[m.ID] = &cp
	return nil
}
