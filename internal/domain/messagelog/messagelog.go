// Package messagelog keeps the append-only record of every payload crossing
// the gateway. Rows are never rewritten; corrections are additional rows.
package messagelog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interop/pamgw/internal/platform/db"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Statuses recorded per entry.
const (
	StatusReceived       = "received"
	StatusParseError     = "parse_error"
	StatusRejected       = "rejected"
	StatusApplied        = "applied"
	StatusSent           = "sent"
	StatusAckOK          = "ack_ok"
	StatusAckError       = "ack_error"
	StatusTimeout        = "timeout"
	StatusGeneratorError = "generator_error"
)

type Entry struct {
	ID            uuid.UUID `json:"id"`
	Direction     string    `json:"direction"`
	Kind          string    `json:"kind"` // MLLP, FILE, FHIR
	EndpointRef   string    `json:"endpoint_ref"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Status        string    `json:"status"`
	Payload       string    `json:"payload,omitempty"`
	AckPayload    string    `json:"ack_payload,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter narrows a listing; zero values match everything.
type Filter struct {
	Direction     string
	Status        string
	CorrelationID string
	Limit         int
	Offset        int
}

type Repository interface {
	Append(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, direction, kind, endpoint_ref, correlation_id, status, payload,
	ack_payload, error_code, created_at`

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO message_log (id, direction, kind, endpoint_ref, correlation_id,
			status, payload, ack_payload, error_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Direction, e.Kind, e.EndpointRef, e.CorrelationID,
		e.Status, e.Payload, e.AckPayload, e.ErrorCode,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	var e Entry
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM message_log WHERE id = $1`, id).Scan(
		&e.ID, &e.Direction, &e.Kind, &e.EndpointRef, &e.CorrelationID,
		&e.Status, &e.Payload, &e.AckPayload, &e.ErrorCode, &e.CreatedAt,
	)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+cols+` FROM message_log
		WHERE ($1 = '' OR direction = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR correlation_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		f.Direction, f.Status, f.CorrelationID, limit, f.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Direction, &e.Kind, &e.EndpointRef, &e.CorrelationID,
			&e.Status, &e.Payload, &e.AckPayload, &e.ErrorCode, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InMemoryRepo is a thread-safe Repository for tests and embedded use.
type InMemoryRepo struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) Append(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			e := r.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepo) List(_ context.Context, f Filter) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if f.Direction != "" && e.Direction != f.Direction {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
