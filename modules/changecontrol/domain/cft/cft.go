package cft

import (
	"time"

	"github.com/google/uuid"
)

// Evaluator is a cross-functional team assignment: one evaluator per
// (request, department). Existence of the row is the "assigned" signal; an
// assignment has no lifecycle of its own.
type Evaluator struct {
	ID           uuid.UUID `json:"id"`
	RequestID    uuid.UUID `json:"request_id"`
	DepartmentID uuid.UUID `json:"department_id"`
	EvaluatorID  uuid.UUID `json:"evaluator_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

type ImpactType string

const (
	ImpactOperational ImpactType = "Operational"
	ImpactQuality     ImpactType = "Quality"
	ImpactRegulatory  ImpactType = "Regulatory"
	ImpactFinancial   ImpactType = "Financial"
	ImpactTechnical   ImpactType = "Technical"
	ImpactOther       ImpactType = "Other"
)

func (t ImpactType) Valid() bool {
	switch t {
	case ImpactOperational, ImpactQuality, ImpactRegulatory, ImpactFinancial, ImpactTechnical, ImpactOther:
		return true
	}
	return false
}

type Decision string

const (
	DecisionApproved               Decision = "Approved"
	DecisionApprovedWithConditions Decision = "Approved_with_Conditions"
	DecisionRejected               Decision = "Rejected"
	DecisionPending                Decision = "Pending"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionApprovedWithConditions, DecisionRejected, DecisionPending:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Evaluation is the evaluation form for one (request, department) pair,
// upserted by the assigned evaluator.
type Evaluation struct {
	ID             uuid.UUID  `json:"id"`
	RequestID      uuid.UUID  `json:"request_id"`
	DepartmentID   uuid.UUID  `json:"department_id"`
	EvaluatorID    uuid.UUID  `json:"evaluator_id"`
	ImpactType     ImpactType `json:"impact_type"`
	Decision       Decision   `json:"decision"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	Notes          string     `json:"evaluation_notes,omitempty"`
	EvaluationDate time.Time  `json:"evaluation_date"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
