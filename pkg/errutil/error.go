package errutil

import "fmt"

// Detail attaches a field-level message to a validation failure.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BaseError is the error value every service returns for expected failures.
// The Code drives the HTTP status at the transport edge; Err keeps the cause
// for logs without leaking it to clients.
type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus { return e.Code }

func (e BaseError) Unwrap() error { return e.Err }

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// JSON renders the response body shape the error middleware writes.
func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
			"details": e.Details,
		},
	}
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = details }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func newWithCause(code CoreStatus, msg string, err error, opts []Option) error {
	be := BaseError{Code: code, Message: msg, Err: err}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func BadRequest(msg string, err error, opts ...Option) error {
	return newWithCause(StatusBadRequest, msg, err, opts)
}

func ValidationFailed(msg string, err error, opts ...Option) error {
	return newWithCause(StatusValidationFailed, msg, err, opts)
}

func Unauthorized(msg string, err error, opts ...Option) error {
	return newWithCause(StatusUnauthorized, msg, err, opts)
}

func Forbidden(msg string, err error, opts ...Option) error {
	return newWithCause(StatusForbidden, msg, err, opts)
}

func NotFound(msg string, err error, opts ...Option) error {
	return newWithCause(StatusNotFound, msg, err, opts)
}

func Conflict(msg string, err error, opts ...Option) error {
	return newWithCause(StatusConflict, msg, err, opts)
}

func UnprocessableEntity(msg string, err error, opts ...Option) error {
	return newWithCause(StatusUnprocessableEntity, msg, err, opts)
}

func Internal(msg string, err error, opts ...Option) error {
	return newWithCause(StatusInternal, msg, err, opts)
}

func NotImplemented(msg string, err error, opts ...Option) error {
	return newWithCause(StatusNotImplemented, msg, err, opts)
}
