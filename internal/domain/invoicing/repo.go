package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List. Zero values mean "any"; Limit 0 returns every match.
type Filter struct {
	PatientID     *uuid.UUID
	DoctorID      *uuid.UUID
	Status        Status
	PaymentStatus PaymentStatus
	IssuedFrom    *time.Time
	IssuedTo      *time.Time
	DueBefore     *time.Time
	Limit         int
	Offset        int
}

type Repository interface {
	// Create inserts inv with version 1. A taken invoice number yields
	// ErrNumberTaken.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	// Update writes inv only if the stored version still equals inv.Version,
	// then bumps it. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, inv *Invoice) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter) ([]*Invoice, int, error)
	// NumbersInScope returns invoice numbers starting with scope, e.g.
	// "INV-202603".
	NumbersInScope(ctx context.Context, scope string) ([]string, error)
}
