package docrevision

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "Pending"
	StatusInProgress  Status = "In_Progress"
	StatusCompleted   Status = "Completed"
	StatusNotRequired Status = "Not_Required"
)

// Open reports whether the revision still blocks the document management
// phase.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// DocumentRevision is one controlled document needing revision as part of a
// change, assigned to a department.
type DocumentRevision struct {
	ID                   uuid.UUID  `json:"id"`
	RequestID            uuid.UUID  `json:"request_id"`
	DocumentName         string     `json:"document_name"`
	DocumentCode         string     `json:"document_code,omitempty"`
	AssignedDepartmentID uuid.UUID  `json:"assigned_department_id"`
	Status               Status     `json:"status"`
	RevisionNotes        string     `json:"revision_notes,omitempty"`
	RevisionDate         *time.Time `json:"revision_date,omitempty"`
	RevisedByID          *uuid.UUID `json:"revised_by,omitempty"`
}

// Complete sets the terminal Completed status atomically with the revision
// fields.
func (dr *DocumentRevision) Complete(notes string, actorID uuid.UUID, at time.Time) {
	dr.Status = StatusCompleted
	dr.RevisionNotes = notes
	dr.RevisedByID = &actorID
	dr.RevisionDate = &at
}

type Repository interface {
	// GetOrCreate is idempotent per (request, document name, department).
	GetOrCreate(ctx context.Context, dr *DocumentRevision) (*DocumentRevision, error)
	GetByID(ctx context.Context, id uuid.UUID) (*DocumentRevision, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*DocumentRevision, error)
	Update(ctx context.Context, dr *DocumentRevision) (*DocumentRevision, error)
	// CountOpen returns how many revisions of the request are still Pending
	// or In_Progress.
	CountOpen(ctx context.Context, requestID uuid.UUID) (int, error)
}
