package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds, stable strings surfaced to API callers.
const (
	KindValidation        = "validation_error"
	KindNotFound          = "not_found"
	KindInvalidState      = "invalid_state"
	KindInvalidTransition = "invalid_transition"
	KindWorkerUnavailable = "worker_unavailable"
	KindUnsupportedReport = "unsupported_report_type"
	KindForbidden         = "forbidden"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every offending input field, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Kind() string { return KindValidation }

func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when no field was added.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) Kind() string  { return KindNotFound }

// InvalidStateError reports an operation that is legal in general but not in
// the entity's current state (assigning a non-Pending task, double feedback).
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Reason string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Kind() string { return KindInvalidState }

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Kind() string { return KindInvalidTransition }

type WorkerUnavailableError struct {
	WorkerID     string
	Availability Availability
	Reason       string
}

func (e *WorkerUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("worker %s unavailable: %s", e.WorkerID, e.Reason)
	}
	return fmt.Sprintf("worker %s unavailable: %s", e.WorkerID, e.Availability)
}

func (e *WorkerUnavailableError) Kind() string { return KindWorkerUnavailable }

type UnsupportedReportTypeError struct {
	Type string
}

func (e *UnsupportedReportTypeError) Error() string {
	return fmt.Sprintf("unsupported report type %q", e.Type)
}

func (e *UnsupportedReportTypeError) Kind() string { return KindUnsupportedReport }

type kinded interface {
	Kind() string
}

// KindOf returns the kind of the first typed error in err's chain, or "".
func KindOf(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
