package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrScoringUnavailable = errors.New("scoring unavailable")
	ErrConflict           = errors.New("concurrent modification")
	ErrNotFound           = errors.New("application not found")
)

// FieldError names one failing field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError reports bad input shape or a business-rule violation.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add records a failing field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Has reports whether field already failed.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// Details returns field → message, suitable for an API error body.
func (e *ValidationError) Details() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := out[f.Field]; !ok {
			out[f.Field] = f.Message
		}
	}
	return out
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PermissionDeniedError is returned when an actor lacks a capability.
type PermissionDeniedError struct {
	ActorID    string
	Role       string
	Capability Capability
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("actor %q with role %q lacks capability %q", e.ActorID, e.Role, e.Capability)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// ScoringUnavailableError is returned once the oracle failed every attempt.
type ScoringUnavailableError struct {
	Attempts int
	Err      error
}

func (e *ScoringUnavailableError) Error() string {
	return fmt.Sprintf("scoring unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ScoringUnavailableError) Unwrap() error { return e.Err }

func (e *ScoringUnavailableError) Is(target error) bool { return target == ErrScoringUnavailable }

// ConflictError is returned when a write was based on a stale version.
type ConflictError struct {
	ApplicationID   string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("application %s was modified concurrently (expected version %d, found %d)",
		e.ApplicationID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
