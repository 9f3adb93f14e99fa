package patient

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

const patientCols = `id, seq, birth_date, gender, reliability_code, ssn,
	marital_status, birth_place, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, seq, birth_date, gender, reliability_code, ssn, marital_status, birth_place)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.Seq, p.BirthDate, p.Gender, p.ReliabilityCode, p.SSN, p.MaritalStatus, p.BirthPlace,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id).Scan(
		&p.ID, &p.Seq, &p.BirthDate, &p.Gender, &p.ReliabilityCode, &p.SSN,
		&p.MaritalStatus, &p.BirthPlace, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadNames(ctx, &p); err != nil {
		return nil, err
	}
	if err := r.loadAddresses(ctx, &p); err != nil {
		return nil, err
	}
	if err := r.loadPhones(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET birth_date=$2, gender=$3, reliability_code=$4, ssn=$5,
			marital_status=$6, birth_place=$7, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.BirthDate, p.Gender, p.ReliabilityCode, p.SSN, p.MaritalStatus, p.BirthPlace,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	// FK cascades remove names, addresses, phones, identifiers, files.
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	return err
}

func (r *repoPG) UpsertName(ctx context.Context, n *Name) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_name (id, patient_id, kind, family, given, middle, suffix, prefix)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (patient_id, kind) DO UPDATE SET
			family=EXCLUDED.family, given=EXCLUDED.given, middle=EXCLUDED.middle,
			suffix=EXCLUDED.suffix, prefix=EXCLUDED.prefix`,
		n.ID, n.PatientID, n.Kind, n.Family, n.Given, n.Middle, n.Suffix, n.Prefix,
	)
	return err
}

func (r *repoPG) UpsertAddress(ctx context.Context, a *Address) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_address (id, patient_id, kind, street, other, city, state, zip, country)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (patient_id, kind) DO UPDATE SET
			street=EXCLUDED.street, other=EXCLUDED.other, city=EXCLUDED.city,
			state=EXCLUDED.state, zip=EXCLUDED.zip, country=EXCLUDED.country`,
		a.ID, a.PatientID, a.Kind, a.Street, a.Other, a.City, a.State, a.Zip, a.Country,
	)
	return err
}

func (r *repoPG) UpsertPhone(ctx context.Context, ph *Phone) error {
	if ph.ID == uuid.Nil {
		ph.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_phone (id, patient_id, kind, value)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (patient_id, kind) DO UPDATE SET value=EXCLUDED.value`,
		ph.ID, ph.PatientID, ph.Kind, ph.Value,
	)
	return err
}

func (r *repoPG) loadNames(ctx context.Context, p *Patient) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, kind, family, given, middle, suffix, prefix
		FROM patient_name WHERE patient_id = $1 ORDER BY kind`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var n Name
		if err := rows.Scan(&n.ID, &n.PatientID, &n.Kind, &n.Family, &n.Given, &n.Middle, &n.Suffix, &n.Prefix); err != nil {
			return err
		}
		p.Names = append(p.Names, n)
	}
	return rows.Err()
}

func (r *repoPG) loadAddresses(ctx context.Context, p *Patient) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, kind, street, other, city, state, zip, country
		FROM patient_address WHERE patient_id = $1 ORDER BY kind`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Kind, &a.Street, &a.Other, &a.City, &a.State, &a.Zip, &a.Country); err != nil {
			return err
		}
		p.Addresses = append(p.Addresses, a)
	}
	return rows.Err()
}

func (r *repoPG) loadPhones(ctx context.Context, p *Patient) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, kind, value
		FROM patient_phone WHERE patient_id = $1 ORDER BY kind`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ph Phone
		if err := rows.Scan(&ph.ID, &ph.PatientID, &ph.Kind, &ph.Value); err != nil {
			return err
		}
		p.Phones = append(p.Phones, ph)
	}
	return rows.Err()
}
