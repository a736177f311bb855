package request

import (
	"context"

	"github.com/google/uuid"
)

// NumberKind selects which tracking number column an operation targets.
type NumberKind string

const (
	NumberTemporary NumberKind = "temporary"
	NumberFinal     NumberKind = "final"
)

type Repository interface {
	Create(ctx context.Context, r *Request) (*Request, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// GetByIDForUpdate locks the request row for the remainder of the
	// transaction so concurrent workflow operations on the same request
	// serialize before guard evaluation.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request) (*Request, error)
	// ListVisibleTo returns requests the given user may see: as initiator,
	// department head, QA, assigned evaluator, risk assessment assignee or
	// action plan responsible person.
	ListVisibleTo(ctx context.Context, userID uuid.UUID) ([]*Request, error)

	FinalNumberExists(ctx context.Context, number string, excludeID uuid.UUID) (bool, error)
	// LockNumberPrefix serializes tracking-number generation for one prefix
	// for the duration of the transaction.
	LockNumberPrefix(ctx context.Context, prefix string) error
	ListNumbersByPrefix(ctx context.Context, kind NumberKind, prefix string) ([]string, error)
}
