package dossier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists files, visits and movements. Implementations join the
// transaction carried in ctx when present.
type Repository interface {
	CreateFile(ctx context.Context, f *AdminFile) error
	GetFile(ctx context.Context, id uuid.UUID) (*AdminFile, error)
	GetFileBySeq(ctx context.Context, seq int64) (*AdminFile, error)
	// FindFileByAdmit returns the patient's file whose admit time matches,
	// or nil. Used when no NDA identifier resolves.
	FindFileByAdmit(ctx context.Context, patientID uuid.UUID, admit time.Time) (*AdminFile, error)
	// LockFile acquires the file's row lock so concurrent messages for the
	// same file serialize. Returns the current row.
	LockFile(ctx context.Context, id uuid.UUID) (*AdminFile, error)
	UpdateFile(ctx context.Context, f *AdminFile) error
	// ReassignFiles moves every file of one patient onto another, for merges.
	ReassignFiles(ctx context.Context, fromPatientID, toPatientID uuid.UUID) error

	CreateVisit(ctx context.Context, v *Visit) error
	GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetVisitBySeq(ctx context.Context, seq int64) (*Visit, error)
	// LatestVisit returns the file's most recently started visit, or nil.
	LatestVisit(ctx context.Context, fileID uuid.UUID) (*Visit, error)
	UpdateVisit(ctx context.Context, v *Visit) error

	CreateMovement(ctx context.Context, m *Movement) error
	GetMovement(ctx context.Context, id uuid.UUID) (*Movement, error)
	GetMovementBySeq(ctx context.Context, seq int64) (*Movement, error)
	ListMovements(ctx context.Context, visitID uuid.UUID) ([]Movement, error)
	// LatestActiveByTrigger finds the newest non-cancelled movement of the
	// file with the given trigger, the target of a cancellation.
	LatestActiveByTrigger(ctx context.Context, fileID uuid.UUID, trigger string) (*Movement, error)
	UpdateMovement(ctx context.Context, m *Movement) error
}
