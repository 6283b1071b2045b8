package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("patient not found")

	// ErrDuplicateMRN is returned when a write collides with the unique
	// MRN index.
	ErrDuplicateMRN = errors.New("patient with this MRN already exists")

	// ErrVersionConflict is returned when an update's expected version no
	// longer matches the stored row.
	ErrVersionConflict = errors.New("patient version conflict")
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	// Update overwrites every mapped column except id and created_at. When
	// expectedVersion > 0 the write only lands if the stored version still
	// matches; a mismatch yields ErrVersionConflict.
	Update(ctx context.Context, p *Patient, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}
