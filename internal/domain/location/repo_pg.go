package location

import (
	"context"
	"fmt"

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

const cols = `id, parent_id, physical_type, code, name, short_name, description,
	status, mode, address, finess, strict_pam, created_at, updated_at`

func scan(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.ParentID, &l.PhysicalType, &l.Code, &l.Name, &l.ShortName,
		&l.Description, &l.Status, &l.Mode, &l.Address, &l.FINESS, &l.StrictPAM,
		&l.CreatedAt, &l.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) Create(ctx context.Context, l *Location) error {
	parentType := ""
	if l.ParentID != nil {
		parent, err := r.Get(ctx, *l.ParentID)
		if err != nil {
			return err
		}
		if parent == nil {
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
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO location (id, parent_id, physical_type, code, name, short_name,
			description, status, mode, address, finess, strict_pam)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		l.ID, l.ParentID, l.PhysicalType, l.Code, l.Name, l.ShortName,
		l.Description, l.Status, l.Mode, l.Address, l.FINESS, l.StrictPAM,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Location, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM location WHERE id = $1`, id))
}

func (r *repoPG) GetByCode(ctx context.Context, physicalType, code string) (*Location, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM location WHERE physical_type = $1 AND code = $2 AND status = $3`,
		physicalType, code, StatusActive))
}

func (r *repoPG) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Location, error) {
	return r.list(ctx, `SELECT `+cols+` FROM location WHERE parent_id = $1 ORDER BY code`, parentID)
}

func (r *repoPG) ListByType(ctx context.Context, physicalType string) ([]Location, error) {
	return r.list(ctx, `SELECT `+cols+` FROM location WHERE physical_type = $1 ORDER BY code`, physicalType)
}

func (r *repoPG) list(ctx context.Context, sql string, arg any) ([]Location, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.ParentID, &l.PhysicalType, &l.Code, &l.Name, &l.ShortName,
			&l.Description, &l.Status, &l.Mode, &l.Address, &l.FINESS, &l.StrictPAM,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, l *Location) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE location SET code=$2, name=$3, short_name=$4, description=$5, status=$6,
			mode=$7, address=$8, finess=$9, strict_pam=$10, updated_at=NOW()
		WHERE id = $1`,
		l.ID, l.Code, l.Name, l.ShortName, l.Description, l.Status,
		l.Mode, l.Address, l.FINESS, l.StrictPAM,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM location WHERE id = $1`, id)
	return err
}
