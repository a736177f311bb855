package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ServiceError is the typed error surface of the workflow services. Status
// carries the HTTP status the boundary should answer with; Code is stable
// and machine readable.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// newInvalidStateError reports an operation attempted in the wrong workflow
// state. Never retried automatically.
func newInvalidStateError(message string) *ServiceError {
	return newServiceError(http.StatusConflict, "CC_INVALID_STATE", message, nil)
}

// newPermissionError reports an actor lacking the role or assignment the
// transition requires.
func newPermissionError(message string) *ServiceError {
	return newServiceError(http.StatusForbidden, "CC_FORBIDDEN", message, nil)
}

// newValidationError reports malformed or missing payload input.
func newValidationError(message string) *ServiceError {
	return newServiceError(http.StatusBadRequest, "CC_INVALID_BODY", message, nil)
}

// newReferentialError reports a referenced entity that does not exist.
func newReferentialError(message string) *ServiceError {
	return newServiceError(http.StatusNotFound, "CC_NOT_FOUND", message, nil)
}

func newNumberConflictError(number string) *ServiceError {
	return newServiceError(http.StatusConflict, "CC_NUMBER_CONFLICT",
		fmt.Sprintf("tracking number %s already exists", number), nil)
}

// IsInvalidState reports whether err is the invalid-state variant, letting
// callers distinguish it from permission and validation failures.
func IsInvalidState(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Code == "CC_INVALID_STATE"
}

// mapPgError translates storage-level failures into ServiceErrors. Errors
// that are already ServiceErrors pass through unchanged.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "CC_NOT_FOUND", "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		switch pgErr.ConstraintName {
		case "cc_requests_temporary_number_key", "cc_requests_final_number_key":
			return newServiceError(http.StatusConflict, "CC_NUMBER_CONFLICT", "tracking number already exists", err)
		case "departments_code_key":
			return newServiceError(http.StatusConflict, "CC_DEPARTMENT_CODE_CONFLICT", "department code already exists", err)
		default:
			return newServiceError(http.StatusConflict, "CC_CONFLICT", "unique constraint violated", err)
		}
	case "23503": // foreign_key_violation
		return newServiceError(http.StatusConflict, "CC_REFERENCE_IN_USE",
			"record is referenced by change control data", err)
	default:
		return err
	}
}
