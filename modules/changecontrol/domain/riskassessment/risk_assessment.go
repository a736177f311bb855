package riskassessment

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

// RiskAssessment is the single optional risk assessment task of a request,
// auto-created at QA registration for Major/Critical impact levels.
type RiskAssessment struct {
	ID              uuid.UUID  `json:"id"`
	RequestID       uuid.UUID  `json:"request_id"`
	AssignedToID    uuid.UUID  `json:"assigned_to"`
	Status          Status     `json:"status"`
	Findings        string     `json:"findings,omitempty"`
	Recommendations string     `json:"recommendations,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletionDate  *time.Time `json:"completion_date,omitempty"`
}

// Complete sets the terminal Completed status together with its completion
// fields so they can never be observed apart.
func (ra *RiskAssessment) Complete(findings, recommendations string, at time.Time) {
	ra.Findings = findings
	ra.Recommendations = recommendations
	ra.Status = StatusCompleted
	ra.CompletionDate = &at
}

type Repository interface {
	Create(ctx context.Context, ra *RiskAssessment) (*RiskAssessment, error)
	// GetByRequestID returns the request's assessment or a not-found error
	// when none was ever created.
	GetByRequestID(ctx context.Context, requestID uuid.UUID) (*RiskAssessment, error)
	Update(ctx context.Context, ra *RiskAssessment) (*RiskAssessment, error)
}
