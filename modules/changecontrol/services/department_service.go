package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/department"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/user"
	"github.com/qmsuite/change-control/pkg/composables"
)

// DepartmentService owns the department directory. Deleting a department
// that change control data still references fails with a referential
// conflict rather than cascading.
type DepartmentService struct {
	departments department.Repository
	users       user.Repository
}

func NewDepartmentService(departments department.Repository, users user.Repository) *DepartmentService {
	return &DepartmentService{departments: departments, users: users}
}

type DepartmentParams struct {
	Code   string
	Name   string
	HeadID *uuid.UUID
}

func (p DepartmentParams) validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return newValidationError("department code is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return newValidationError("department name is required")
	}
	return nil
}

func (s *DepartmentService) Create(ctx context.Context, p DepartmentParams) (*department.Department, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return composables.InTxResult(ctx, func(txCtx context.Context) (*department.Department, error) {
		if err := s.checkHead(txCtx, p.HeadID); err != nil {
			return nil, err
		}
		created, err := s.departments.Create(txCtx, &department.Department{
			Code:   strings.ToUpper(strings.TrimSpace(p.Code)),
			Name:   strings.TrimSpace(p.Name),
			HeadID: p.HeadID,
		})
		return created, mapPgError(err)
	})
}

func (s *DepartmentService) Update(ctx context.Context, id uuid.UUID, p DepartmentParams) (*department.Department, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return composables.InTxResult(ctx, func(txCtx context.Context) (*department.Department, error) {
		dept, err := s.departments.GetByID(txCtx, id)
		if err != nil {
			return nil, referential(err, "department not found")
		}
		if err := s.checkHead(txCtx, p.HeadID); err != nil {
			return nil, err
		}
		dept.Code = strings.ToUpper(strings.TrimSpace(p.Code))
		dept.Name = strings.TrimSpace(p.Name)
		dept.HeadID = p.HeadID
		updated, err := s.departments.Update(txCtx, dept)
		return updated, mapPgError(err)
	})
}

func (s *DepartmentService) checkHead(ctx context.Context, headID *uuid.UUID) error {
	if headID == nil || *headID == uuid.Nil {
		return nil
	}
	ok, err := s.users.Exists(ctx, *headID)
	if err != nil {
		return mapPgError(err)
	}
	if !ok {
		return newReferentialError("department head user not found")
	}
	return nil
}

func (s *DepartmentService) GetByID(ctx context.Context, id uuid.UUID) (*department.Department, error) {
	dept, err := s.departments.GetByID(ctx, id)
	if err != nil {
		return nil, referential(err, "department not found")
	}
	return dept, nil
}

func (s *DepartmentService) GetByCode(ctx context.Context, code string) (*department.Department, error) {
	dept, err := s.departments.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, referential(err, "department not found")
	}
	return dept, nil
}

func (s *DepartmentService) GetAll(ctx context.Context) ([]*department.Department, error) {
	out, err := s.departments.GetAll(ctx)
	return out, mapPgError(err)
}

// Delete removes a department. Foreign keys from requests, evaluators and
// document revisions are RESTRICT, so the delete surfaces as
// CC_REFERENCE_IN_USE when the department is in use.
func (s *DepartmentService) Delete(ctx context.Context, id uuid.UUID) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		if _, err := s.departments.GetByID(txCtx, id); err != nil {
			return referential(err, "department not found")
		}
		return mapPgError(s.departments.Delete(txCtx, id))
	})
}
