package apperror

import (
	"errors"
	"time"
)

// apiVersion is stamped into every error envelope.
const apiVersion = "1"

// Envelope is the uniform JSON shape every HTTP error response renders,
// including nested "caused by" suffixes pulled from the error chain.
type Envelope struct {
	Error     string `json:"error"`
	Context   string `json:"context,omitempty"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// NewEnvelope renders err into the uniform API error shape. Errors that are
// not an *Error are reported with their plain message and no context.
func NewEnvelope(err error) Envelope {
	msg := err.Error()
	var ctx, details string

	var appErr *Error
	if errors.As(err, &appErr) {
		msg = appErr.Message
		ctx = appErr.Context
		if appErr.Cause != nil {
			details = "caused by: " + appErr.Cause.Error()
		}
	}

	return Envelope{
		Error:     msg,
		Context:   ctx,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   apiVersion,
	}
}

// HTTPStatus maps an error to the status code the spec's classification
// assigns it, keyed on the error's context tag: "deprecated_field_validation"
// gives 400, "malformed_json" gives 422, and everything else (including
// errors that are not an *Error) gives 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return 500
	}
	switch appErr.Context {
	case "deprecated_field_validation":
		return 400
	case "malformed_json":
		return 422
	default:
		return 500
	}
}
