package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeParse        = "PARSE_ERROR"
	ErrCodeEvaluation   = "EVALUATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeStore        = "STORE_ERROR"
	ErrCodeCollaborator = "COLLABORATOR_ERROR"
)

// HeraldError is the structured error type for all engine operations.
// Content problems found while validating a step are never reported through
// HeraldError; they are returned as StepIssues.
type HeraldError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *HeraldError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *HeraldError) Unwrap() error {
	return e.Cause
}

// NewError creates a new HeraldError.
func NewError(code, message string) *HeraldError {
	return &HeraldError{Code: code, Message: message}
}

// NewErrorf creates a new HeraldError with a formatted message.
func NewErrorf(code, format string, args ...any) *HeraldError {
	return &HeraldError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *HeraldError) WithCause(err error) *HeraldError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *HeraldError) WithDetails(details map[string]any) *HeraldError {
	e.Details = details
	return e
}

// IsCode reports whether err is a HeraldError with the given code.
func IsCode(err error, code string) bool {
	for err != nil {
		if he, ok := err.(*HeraldError); ok {
			return he.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
