// Package errors defines the reconciliation error taxonomy and its mapping
// onto HTTP errors.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

var (
	// ErrValidation marks malformed rows and values that failed coercion.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyProcessed marks work refused because a later stage already ran.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrNotFound marks a missing snapshot, canonical building, mapping or file.
	ErrNotFound = errors.New("not found")
	// ErrInvariantViolation marks corrupted graph or ledger state. Never recovered from.
	ErrInvariantViolation = errors.New("invariant violation")
)

type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("field", e.Field)
}

type AlreadyProcessedError struct {
	Resource string
	ID       string
	Stage    string
}

func NewAlreadyProcessedError(resource, id, stage string) *AlreadyProcessedError {
	return &AlreadyProcessedError{Resource: resource, ID: id, Stage: stage}
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("%s %s has already completed %s", e.Resource, e.ID, e.Stage)
}

func (e *AlreadyProcessedError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}

func (e *AlreadyProcessedError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("stage", e.Stage)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error()).AddMetaValue("resource", e.Resource)
}

type InvariantViolation struct {
	Invariant string
	Detail    string
	IDs       []string
}

func NewInvariantViolation(invariant, detail string, ids ...string) *InvariantViolation {
	return &InvariantViolation{Invariant: invariant, Detail: detail, IDs: ids}
}

func (e *InvariantViolation) Error() string {
	msg := fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
	if len(e.IDs) > 0 {
		msg += " [" + strings.Join(e.IDs, ", ") + "]"
	}
	return msg
}

func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariantViolation
}

func (e *InvariantViolation) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, e.Error()).AddMetaValue("invariant", e.Invariant)
}

type httpConvertible interface {
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError converts taxonomy errors to http errors; anything else is returned as is.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var convertible httpConvertible
	if errors.As(err, &convertible) {
		return convertible.ToHTTPError()
	}
	return err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
