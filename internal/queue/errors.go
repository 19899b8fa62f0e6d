package queue

import (
	"errors"
	"fmt"
)

// ValidationError is returned before any request is made.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return "queue: " + e.Msg }

var (
	ErrUnknownChannel = &ValidationError{Field: "channel", Msg: "unknown channel"}
	ErrNoPhoneNumber  = &ValidationError{Field: "phoneNumber", Msg: "recipient has no phone number"}
	ErrEmptyMessage   = &ValidationError{Field: "message", Msg: "message body is empty"}
	ErrNoEmail        = &ValidationError{Field: "to", Msg: "recipient has no email address"}
	ErrNoSubject      = &ValidationError{Field: "subject", Msg: "email subject is empty"}
	ErrEmptyHTML      = &ValidationError{Field: "html", Msg: "email body is empty"}
)

// SubmissionError is a failed submission of a single job. StatusCode is 0
// when no response was received.
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("queue: submit failed: %s", e.Message)
	}
	return fmt.Sprintf("queue: submit failed (%d): %s", e.StatusCode, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsValidation reports whether err was raised before any request.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
