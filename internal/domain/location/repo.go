package location

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, l *Location) error
	Get(ctx context.Context, id uuid.UUID) (*Location, error)
	// GetByCode finds the active location of the given physical type whose
	// business code matches.
	GetByCode(ctx context.Context, physicalType, code string) (*Location, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]Location, error)
	ListByType(ctx context.Context, physicalType string) ([]Location, error)
	Update(ctx context.Context, l *Location) error
	Delete(ctx context.Context, id uuid.UUID) error
}
