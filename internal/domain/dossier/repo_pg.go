package dossier

import (
	"context"
	"time"

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

const fileCols = `id, patient_id, seq, admission_type, uf_medical, uf_housing, uf_care,
	admit_time, discharge_time, current_state, created_at, updated_at`

func scanFile(row pgx.Row) (*AdminFile, error) {
	var f AdminFile
	err := row.Scan(&f.ID, &f.PatientID, &f.Seq, &f.AdmissionType, &f.UFMedical,
		&f.UFHousing, &f.UFCare, &f.AdmitTime, &f.DischargeTime, &f.CurrentState,
		&f.CreatedAt, &f.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repoPG) CreateFile(ctx context.Context, f *AdminFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO admin_file (id, patient_id, seq, admission_type, uf_medical, uf_housing,
			uf_care, admit_time, discharge_time, current_state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		f.ID, f.PatientID, f.Seq, f.AdmissionType, f.UFMedical, f.UFHousing,
		f.UFCare, f.AdmitTime, f.DischargeTime, f.CurrentState,
	)
	return err
}

func (r *repoPG) GetFile(ctx context.Context, id uuid.UUID) (*AdminFile, error) {
	return scanFile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileCols+` FROM admin_file WHERE id = $1`, id))
}

func (r *repoPG) GetFileBySeq(ctx context.Context, seq int64) (*AdminFile, error) {
	return scanFile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileCols+` FROM admin_file WHERE seq = $1`, seq))
}

func (r *repoPG) FindFileByAdmit(ctx context.Context, patientID uuid.UUID, admit time.Time) (*AdminFile, error) {
	return scanFile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileCols+` FROM admin_file WHERE patient_id = $1 AND admit_time = $2`,
		patientID, admit))
}

func (r *repoPG) LockFile(ctx context.Context, id uuid.UUID) (*AdminFile, error) {
	return scanFile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileCols+` FROM admin_file WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) UpdateFile(ctx context.Context, f *AdminFile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE admin_file SET admission_type=$2, uf_medical=$3, uf_housing=$4, uf_care=$5,
			admit_time=$6, discharge_time=$7, current_state=$8, updated_at=NOW()
		WHERE id = $1`,
		f.ID, f.AdmissionType, f.UFMedical, f.UFHousing, f.UFCare,
		f.AdmitTime, f.DischargeTime, f.CurrentState,
	)
	return err
}

func (r *repoPG) ReassignFiles(ctx context.Context, fromPatientID, toPatientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE admin_file SET patient_id = $2, updated_at = NOW() WHERE patient_id = $1`,
		fromPatientID, toPatientID)
	return err
}

const visitCols = `id, file_id, seq, start_time, end_time, location, uf_medical,
	uf_housing, uf_care, status, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.FileID, &v.Seq, &v.StartTime, &v.EndTime, &v.Location,
		&v.UFMedical, &v.UFHousing, &v.UFCare, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) CreateVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit (id, file_id, seq, start_time, end_time, location, uf_medical,
			uf_housing, uf_care, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		v.ID, v.FileID, v.Seq, v.StartTime, v.EndTime, v.Location,
		v.UFMedical, v.UFHousing, v.UFCare, v.Status,
	)
	return err
}

func (r *repoPG) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
}

func (r *repoPG) GetVisitBySeq(ctx context.Context, seq int64) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE seq = $1`, seq))
}

func (r *repoPG) LatestVisit(ctx context.Context, fileID uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE file_id = $1 ORDER BY seq DESC LIMIT 1`, fileID))
}

func (r *repoPG) UpdateVisit(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET start_time=$2, end_time=$3, location=$4, uf_medical=$5,
			uf_housing=$6, uf_care=$7, status=$8, updated_at=NOW()
		WHERE id = $1`,
		v.ID, v.StartTime, v.EndTime, v.Location, v.UFMedical, v.UFHousing, v.UFCare, v.Status,
	)
	return err
}

const movementCols = `id, visit_id, seq, occurred_at, trigger_event, nature, action,
	location, cancelled, cancels_id, created_at`

func scanMovement(row pgx.Row) (*Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.VisitID, &m.Seq, &m.OccurredAt, &m.Trigger, &m.Nature,
		&m.Action, &m.Location, &m.Cancelled, &m.CancelsID, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) CreateMovement(ctx context.Context, m *Movement) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO movement (id, visit_id, seq, occurred_at, trigger_event, nature, action,
			location, cancelled, cancels_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.VisitID, m.Seq, m.OccurredAt, m.Trigger, m.Nature, m.Action,
		m.Location, m.Cancelled, m.CancelsID,
	)
	return err
}

func (r *repoPG) GetMovement(ctx context.Context, id uuid.UUID) (*Movement, error) {
	return scanMovement(r.conn(ctx).QueryRow(ctx,
		`SELECT `+movementCols+` FROM movement WHERE id = $1`, id))
}

func (r *repoPG) GetMovementBySeq(ctx context.Context, seq int64) (*Movement, error) {
	return scanMovement(r.conn(ctx).QueryRow(ctx,
		`SELECT `+movementCols+` FROM movement WHERE seq = $1`, seq))
}

func (r *repoPG) ListMovements(ctx context.Context, visitID uuid.UUID) ([]Movement, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+movementCols+` FROM movement WHERE visit_id = $1 ORDER BY seq`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.VisitID, &m.Seq, &m.OccurredAt, &m.Trigger, &m.Nature,
			&m.Action, &m.Location, &m.Cancelled, &m.CancelsID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repoPG) LatestActiveByTrigger(ctx context.Context, fileID uuid.UUID, trigger string) (*Movement, error) {
	return scanMovement(r.conn(ctx).QueryRow(ctx, `
		SELECT `+movementCols+` FROM movement m
		JOIN visit v ON v.id = m.visit_id
		WHERE v.file_id = $1 AND m.trigger_event = $2 AND NOT m.cancelled
		ORDER BY m.seq DESC LIMIT 1`,
		fileID, trigger))
}

func (r *repoPG) UpdateMovement(ctx context.Context, m *Movement) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE movement SET occurred_at=$2, nature=$3, action=$4, location=$5,
			cancelled=$6, cancels_id=$7
		WHERE id = $1`,
		m.ID, m.OccurredAt, m.Nature, m.Action, m.Location, m.Cancelled, m.CancelsID,
	)
	return err
}
