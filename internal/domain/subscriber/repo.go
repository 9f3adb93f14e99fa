package subscriber

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Subscriber) error
	Get(ctx context.Context, id uuid.UUID) (*Subscriber, error)
	GetByName(ctx context.Context, name string) (*Subscriber, error)
	List(ctx context.Context) ([]Subscriber, error)
	Update(ctx context.Context, s *Subscriber) error
	Delete(ctx context.Context, id uuid.UUID) error
}
