// Package emit drains domain changes to subscribers. Changes are captured as
// outbox rows written inside the same transaction as the domain mutation, so
// an emission can never be observed for a rolled-back change.
package emit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interop/pamgw/internal/platform/db"
)

// Outbox row statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Pending is one (entity, kind, operation) tuple awaiting fan-out.
type Pending struct {
	ID         uuid.UUID
	EntityID   uuid.UUID
	EntityKind string
	Operation  string
	Trigger    string // trigger event that caused the change, for generation
	Status     string
	Attempts   int
	CreatedAt  time.Time
}

type Outbox interface {
	// Enqueue records a pending emission. Duplicate pending tuples collapse
	// into one row. A suppressed context (see Suppress) is a no-op.
	Enqueue(ctx context.Context, p *Pending) error
	// FetchBatch claims up to limit pending rows for this worker. A claimed
	// row moves to processing and is never handed out again until a Mark
	// call settles it.
	FetchBatch(ctx context.Context, limit int) ([]Pending, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

type suppressKey struct{}

// Suppress marks the context so outbox writes made under it are dropped.
// Emission tasks run under a suppressed context: their own writes (message
// log rows, delivery bookkeeping) must not schedule further emissions.
func Suppress(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// Suppressed reports whether emission scheduling is disabled on this context.
func Suppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

type outboxPG struct {
	pool *pgxpool.Pool
}

func NewOutbox(pool *pgxpool.Pool) Outbox {
	return &outboxPG{pool: pool}
}

func (o *outboxPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return o.pool
}

func (o *outboxPG) Enqueue(ctx context.Context, p *Pending) error {
	if Suppressed(ctx) {
		return nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := o.conn(ctx).Exec(ctx, `
		INSERT INTO emission_outbox (id, entity_id, entity_kind, operation, trigger_event, status)
		VALUES ($1,$2,$3,$4,$5,'pending')
		ON CONFLICT (entity_id, entity_kind, operation) WHERE status = 'pending' DO NOTHING`,
		p.ID, p.EntityID, p.EntityKind, p.Operation, p.Trigger,
	)
	return err
}

func (o *outboxPG) FetchBatch(ctx context.Context, limit int) ([]Pending, error) {
	rows, err := o.conn(ctx).Query(ctx, `
		UPDATE emission_outbox SET status = 'processing', attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM emission_outbox
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, entity_id, entity_kind, operation, trigger_event, status, attempts, created_at`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pending
	for rows.Next() {
		var p Pending
		if err := rows.Scan(&p.ID, &p.EntityID, &p.EntityKind, &p.Operation,
			&p.Trigger, &p.Status, &p.Attempts, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (o *outboxPG) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := o.conn(ctx).Exec(ctx,
		`UPDATE emission_outbox SET status = 'done' WHERE id = $1`, id)
	return err
}

func (o *outboxPG) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := o.conn(ctx).Exec(ctx,
		`UPDATE emission_outbox SET status = 'failed' WHERE id = $1`, id)
	return err
}

// InMemoryOutbox is a thread-safe Outbox for tests and embedded use.
type InMemoryOutbox struct {
	mu   sync.Mutex
	rows []Pending
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{}
}

func (o *InMemoryOutbox) Enqueue(ctx context.Context, p *Pending) error {
	if Suppressed(ctx) {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.rows {
		r := &o.rows[i]
		if r.Status == StatusPending && r.EntityID == p.EntityID &&
			r.EntityKind == p.EntityKind && r.Operation == p.Operation {
			return nil
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = StatusPending
	p.CreatedAt = time.Now().UTC()
	o.rows = append(o.rows, *p)
	return nil
}

func (o *InMemoryOutbox) FetchBatch(_ context.Context, limit int) ([]Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Pending
	for i := range o.rows {
		if len(out) >= limit {
			break
		}
		if o.rows[i].Status == StatusPending {
			o.rows[i].Status = StatusProcessing
			o.rows[i].Attempts++
			out = append(out, o.rows[i])
		}
	}
	return out, nil
}

func (o *InMemoryOutbox) MarkDone(_ context.Context, id uuid.UUID) error {
	return o.mark(id, StatusDone)
}

func (o *InMemoryOutbox) MarkFailed(_ context.Context, id uuid.UUID) error {
	return o.mark(id, StatusFailed)
}

func (o *InMemoryOutbox) mark(id uuid.UUID, status string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.rows {
		if o.rows[i].ID == id {
			o.rows[i].Status = status
		}
	}
	return nil
}
