package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only audit record of a workflow step. Entries are
// never updated or deleted; they are the sole audit trail of a request.
type Entry struct {
	ID             uuid.UUID  `json:"id"`
	RequestID      uuid.UUID  `json:"request_id"`
	Step           int        `json:"step"`
	StepName       string     `json:"step_name"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty"`
	Action         string     `json:"action"`
	Comments       string     `json:"comments,omitempty"`
	PreviousStatus string     `json:"previous_status"`
	NewStatus      string     `json:"new_status"`
	Timestamp      time.Time  `json:"timestamp"`
}

type Repository interface {
	Append(ctx context.Context, e *Entry) (*Entry, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Entry, error)
}
