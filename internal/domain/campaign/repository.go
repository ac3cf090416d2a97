package campaign

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows mirror queries. Nil fields match everything.
type Filter struct {
	State   *State
	Creator *string
	Flavor  *Flavor
}

// Repository defines campaign mirror persistence. Upsert applies
// last-writer-wins keyed by (canonical id, version): a write carrying an
// older version than the stored row is a no-op and returns false.
type Repository interface {
	Create(ctx context.Context, c *Campaign) error
	Upsert(ctx context.Context, c *Campaign) (bool, error)
	GetByLocalRef(ctx context.Context, localRef uuid.UUID) (*Campaign, error)
	GetByCanonicalID(ctx context.Context, canonicalID uint64) (*Campaign, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Campaign, error)
	UpdateState(ctx context.Context, localRef uuid.UUID, state State) error
	SetFailureNote(ctx context.Context, localRef uuid.UUID, note string) error
}
