package namespace

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

const nsCols = `id, name, oid, type, scope, created_at`

func (r *repoPG) CreateNamespace(ctx context.Context, ns *Namespace) error {
	if ns.ID == uuid.Nil {
		ns.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO namespace (id, name, oid, type, scope)
		VALUES ($1,$2,$3,$4,$5)`,
		ns.ID, ns.Name, ns.OID, ns.Type, ns.Scope,
	)
	return err
}

func (r *repoPG) GetNamespaceByOID(ctx context.Context, oid string) (*Namespace, error) {
	return scanNS(r.conn(ctx).QueryRow(ctx, `SELECT `+nsCols+` FROM namespace WHERE oid = $1`, oid))
}

func (r *repoPG) GetNamespaceByName(ctx context.Context, name string) (*Namespace, error) {
	return scanNS(r.conn(ctx).QueryRow(ctx, `SELECT `+nsCols+` FROM namespace WHERE name = $1`, name))
}

func (r *repoPG) ListNamespaces(ctx context.Context) ([]*Namespace, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+nsCols+` FROM namespace ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Namespace
	for rows.Next() {
		var ns Namespace
		if err := rows.Scan(&ns.ID, &ns.Name, &ns.OID, &ns.Type, &ns.Scope, &ns.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ns)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateIdentifier(ctx context.Context, id *Identifier) error {
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	if id.Status == "" {
		id.Status = StatusActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identifier (id, namespace_id, value, status, owner_kind, owner_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id.ID, id.NamespaceID, id.Value, id.Status, id.OwnerKind, id.OwnerID,
	)
	return err
}

func (r *repoPG) FindOwner(ctx context.Context, namespaceID uuid.UUID, value string, kind OwnerKind) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT owner_id FROM identifier
		WHERE namespace_id = $1 AND value = $2 AND owner_kind = $3 AND status = 'active'`,
		namespaceID, value, kind,
	).Scan(&owner)
	if err == pgx.ErrNoRows {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return owner, nil
}

func (r *repoPG) ListByOwner(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) ([]*Identifier, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, namespace_id, value, status, owner_kind, owner_id, created_at
		FROM identifier WHERE owner_kind = $1 AND owner_id = $2 ORDER BY created_at`,
		kind, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Identifier
	for rows.Next() {
		var id Identifier
		if err := rows.Scan(&id.ID, &id.NamespaceID, &id.Value, &id.Status, &id.OwnerKind, &id.OwnerID, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &id)
	}
	return out, rows.Err()
}

func (r *repoPG) DeactivateByOwner(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE identifier SET status = 'inactive' WHERE owner_kind = $1 AND owner_id = $2`,
		kind, ownerID)
	return err
}

func scanNS(row pgx.Row) (*Namespace, error) {
	var ns Namespace
	err := row.Scan(&ns.ID, &ns.Name, &ns.OID, &ns.Type, &ns.Scope, &ns.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ns, nil
}
