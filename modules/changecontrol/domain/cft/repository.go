package cft

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// GetOrCreateEvaluator is idempotent per (request, department).
	GetOrCreateEvaluator(ctx context.Context, e *Evaluator) (*Evaluator, error)
	ListEvaluators(ctx context.Context, requestID uuid.UUID) ([]*Evaluator, error)
	// EvaluatorAssigned reports whether the user is the assigned evaluator
	// for the given request and department.
	EvaluatorAssigned(ctx context.Context, requestID, departmentID, userID uuid.UUID) (bool, error)
	// EvaluatorForRequest reports whether the user is assigned for any
	// department of the request.
	EvaluatorForRequest(ctx context.Context, requestID, userID uuid.UUID) (bool, error)

	// UpsertEvaluation creates or overwrites the evaluation keyed by
	// (request, department).
	UpsertEvaluation(ctx context.Context, e *Evaluation) (*Evaluation, error)
	ListEvaluations(ctx context.Context, requestID uuid.UUID) ([]*Evaluation, error)
}
