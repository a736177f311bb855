package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/services"
)

// DirectoryAPIController serves the supporting directory: departments, users
// and role grants. Mutations are QA-gated; reads are open to any
// authenticated user.
type DirectoryAPIController struct {
	departments *services.DepartmentService
	users       *services.UserService
	oracle      services.PermissionOracle
	apiPrefix   string
}

func NewDirectoryAPIController(
	departments *services.DepartmentService,
	users *services.UserService,
	oracle services.PermissionOracle,
) *DirectoryAPIController {
	return &DirectoryAPIController{
		departments: departments,
		users:       users,
		oracle:      oracle,
		apiPrefix:   "/api/change-control",
	}
}

func (c *DirectoryAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/departments", c.CreateDepartment).Methods(http.MethodPost)
	api.HandleFunc("/departments", c.ListDepartments).Methods(http.MethodGet)
	api.HandleFunc("/departments/{id}", c.GetDepartment).Methods(http.MethodGet)
	api.HandleFunc("/departments/{id}", c.UpdateDepartment).Methods(http.MethodPut)
	api.HandleFunc("/departments/{id}", c.DeleteDepartment).Methods(http.MethodDelete)

	api.HandleFunc("/users", c.CreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users", c.ListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/roles", c.GrantRole).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/roles", c.ListRoles).Methods(http.MethodGet)
}

func (c *DirectoryAPIController) requireQA(w http.ResponseWriter, r *http.Request, requestID string) (contextActor, bool) {
	ctx, actorID, ok := requireActor(w, r, requestID)
	if !ok {
		return contextActor{}, false
	}
	isQA, err := c.oracle.IsQAUser(ctx, actorID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return contextActor{}, false
	}
	if !isQA {
		writeAPIError(w, http.StatusForbidden, requestID, "CC_FORBIDDEN", "QA role required")
		return contextActor{}, false
	}
	return contextActor{ctx: ctx, actorID: actorID}, true
}

type departmentRequest struct {
	Code   string     `json:"code" validate:"required"`
	Name   string     `json:"name" validate:"required"`
	HeadID *uuid.UUID `json:"head_id"`
}

func (c *DirectoryAPIController) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	actor, ok := c.requireQA(w, r, requestID)
	if !ok {
		return
	}
	var dto departmentRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}
	created, err := c.departments.Create(actor.ctx, services.DepartmentParams{
		Code:   dto.Code,
		Name:   dto.Name,
		HeadID: dto.HeadID,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (c *DirectoryAPIController) ListDepartments(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.departments.GetAll(ctx)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *DirectoryAPIController) GetDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	dept, err := c.departments.GetByID(ctx, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dept)
}

func (c *DirectoryAPIController) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	actor, ok := c.requireQA(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto departmentRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}
	updated, err := c.departments.Update(actor.ctx, id, services.DepartmentParams{
		Code:   dto.Code,
		Name:   dto.Name,
		HeadID: dto.HeadID,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (c *DirectoryAPIController) DeleteDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	actor, ok := c.requireQA(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	if err := c.departments.Delete(actor.ctx, id); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createUserRequest struct {
	Email        string     `json:"email" validate:"required,email"`
	FullName     string     `json:"full_name" validate:"required"`
	DepartmentID *uuid.UUID `json:"department_id"`
}

func (c *DirectoryAPIController) CreateUser(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	actor, ok := c.requireQA(w, r, requestID)
	if !ok {
		return
	}
	var dto createUserRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}
	created, err := c.users.Create(actor.ctx, services.CreateUserParams{
		Email:        dto.Email,
		FullName:     dto.FullName,
		DepartmentID: dto.DepartmentID,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (c *DirectoryAPIController) ListUsers(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.users.GetAll(ctx)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type grantRoleRequest struct {
	Role         string     `json:"role" validate:"required,oneof=qa qa_head member"`
	DepartmentID *uuid.UUID `json:"department_id"`
}

func (c *DirectoryAPIController) GrantRole(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	actor, ok := c.requireQA(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto grantRoleRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}
	granted, err := c.users.Grant(actor.ctx, id, rbac.Role(dto.Role), dto.DepartmentID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, granted)
}

func (c *DirectoryAPIController) ListRoles(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	roles, err := c.users.Roles(ctx, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}
