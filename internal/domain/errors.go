package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrSessionNotFound    = fmt.Errorf("session %w", ErrNotFound)
	ErrAlreadyReverted    = errors.New("event already reverted")
	ErrBusy               = errors.New("session busy")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrPartialRestoration = errors.New("restoration failed")
	ErrSessionEnded       = errors.New("session ended")
	ErrSessionExists      = errors.New("session already exists")
)

// InvalidPayloadError reports a kind-specific validation failure.
type InvalidPayloadError struct {
	Kind    EventKind
	Field   string
	Message string
}

func (e *InvalidPayloadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("invalid %s payload: %s: %s", e.Kind, e.Field, e.Message)
}

func (e *InvalidPayloadError) Unwrap() error { return ErrInvalidPayload }

func NewInvalidPayload(kind EventKind, field, format string, args ...any) *InvalidPayloadError {
	return &InvalidPayloadError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// CascadeItem is a short description of an event that a cascading revert would undo.
type CascadeItem struct {
	EventID     int64     `json:"event_id"`
	Seq         int64     `json:"seq"`
	Kind        EventKind `json:"kind"`
	Description string    `json:"description"`
}

// CascadeRequiredError is returned when later active events exist and the
// caller did not acknowledge the cascade.
type CascadeRequiredError struct {
	TargetID int64
	Events   []CascadeItem
}

func (e *CascadeRequiredError) Error() string {
	return fmt.Sprintf("reverting event %d also reverts %d later event(s); confirm with cascade", e.TargetID, len(e.Events))
}

func (e *CascadeRequiredError) Count() int { return len(e.Events) }

func (e *CascadeRequiredError) Descriptions() []string {
	out := make([]string, 0, len(e.Events))
	for _, it := range e.Events {
		out = append(out, strings.TrimSpace(it.Description))
	}
	return out
}

// RestorationError wraps a failed inverse step. The whole revert is rolled back.
type RestorationError struct {
	EventID int64
	Kind    EventKind
	Err     error
}

func (e *RestorationError) Error() string {
	return fmt.Sprintf("restore event %d (%s): %v", e.EventID, e.Kind, e.Err)
}

func (e *RestorationError) Unwrap() []error { return []error{ErrPartialRestoration, e.Err} }
