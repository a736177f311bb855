package actionplan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In_Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

// Open reports whether the item still blocks the implementation phase.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// Item is one action plan entry of the implementation phase, owned by a
// responsible person with an expected timeline.
type Item struct {
	ID                  uuid.UUID  `json:"id"`
	RequestID           uuid.UUID  `json:"request_id"`
	Description         string     `json:"description"`
	ResponsiblePersonID uuid.UUID  `json:"responsible_person_id"`
	ExpectedTimeline    time.Time  `json:"expected_timeline"`
	Status              Status     `json:"status"`
	CompletionDate      *time.Time `json:"completion_date,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Complete sets the terminal Completed status atomically with its completion
// fields.
func (i *Item) Complete(notes string, at time.Time) {
	i.Status = StatusCompleted
	i.Notes = notes
	i.CompletionDate = &at
}

type Repository interface {
	Create(ctx context.Context, i *Item) (*Item, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Item, error)
	Update(ctx context.Context, i *Item) (*Item, error)
	// CountOpen returns how many items of the request are still Pending or
	// In_Progress.
	CountOpen(ctx context.Context, requestID uuid.UUID) (int, error)
	// ResponsibleFor reports whether the user is responsible for any item of
	// the request.
	ResponsibleFor(ctx context.Context, requestID, userID uuid.UUID) (bool, error)
}
