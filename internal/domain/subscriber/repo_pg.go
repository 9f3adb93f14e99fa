package subscriber

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interop/pamgw/internal/platform/db"
)

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

const cols = `id, name, kind, endpoint, app, facility, strict_mode, enabled,
	entities, operations, created_at, updated_at`

func scan(row pgx.Row) (*Subscriber, error) {
	var s Subscriber
	err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.Endpoint, &s.App, &s.Facility,
		&s.StrictMode, &s.Enabled, &s.Entities, &s.Operations, &s.CreatedAt, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Subscriber) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subscriber (id, name, kind, endpoint, app, facility, strict_mode,
			enabled, entities, operations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.Name, s.Kind, s.Endpoint, s.App, s.Facility, s.StrictMode,
		s.Enabled, s.Entities, s.Operations,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM subscriber WHERE id = $1`, id))
}

func (r *repoPG) GetByName(ctx context.Context, name string) (*Subscriber, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM subscriber WHERE name = $1`, name))
}

func (r *repoPG) List(ctx context.Context) ([]Subscriber, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM subscriber ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.ID, &s.Name, &s.Kind, &s.Endpoint, &s.App, &s.Facility,
			&s.StrictMode, &s.Enabled, &s.Entities, &s.Operations, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, s *Subscriber) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE subscriber SET name=$2, kind=$3, endpoint=$4, app=$5, facility=$6,
			strict_mode=$7, enabled=$8, entities=$9, operations=$10, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.Kind, s.Endpoint, s.App, s.Facility,
		s.StrictMode, s.Enabled, s.Entities, s.Operations,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM subscriber WHERE id = $1`, id)
	return err
}
