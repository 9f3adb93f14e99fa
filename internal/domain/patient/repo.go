package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence surface for patients and their multi-valued
// demographics. Get loads the full aggregate (names, addresses, phones).
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error

	UpsertName(ctx context.Context, n *Name) error
	UpsertAddress(ctx context.Context, a *Address) error
	UpsertPhone(ctx context.Context, ph *Phone) error
}
