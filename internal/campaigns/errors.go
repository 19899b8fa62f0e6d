package campaigns

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("campaigns: validation failed")
	ErrNotFound           = errors.New("campaigns: not found")
	ErrInvalidTransition  = errors.New("campaigns: campaign is not in draft")
	ErrDispatchInProgress = errors.New("campaigns: dispatch already in progress")
)

// ValidationError is raised before any job is submitted. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

func invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }
