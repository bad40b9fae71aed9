package mcp

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/loopwork-ai/saasmcp/auth"
)

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	KindMissingCredential   ErrorKind = "MissingCredential"
	KindInvalidArgument     ErrorKind = "InvalidArgument"
	KindValidationError     ErrorKind = "ValidationError"
	KindAuthenticationError ErrorKind = "AuthenticationError"
	KindNotFound            ErrorKind = "NotFound"
	KindRateLimited         ErrorKind = "RateLimited"
	KindUpstreamError       ErrorKind = "UpstreamError"
	KindUnknownTool         ErrorKind = "UnknownTool"
)

// ToolError is the structured failure returned from a tool call.
type ToolError struct {
	Kind    ErrorKind
	Message string

	// Field names the offending argument for InvalidArgument and ValidationError.
	Field string

	// Vendor details, set when the failure came from the remote API.
	VendorCode string
	Status     int
	RetryAfter string
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Payload renders the error as the structured content of a failed result.
func (e *ToolError) Payload() map[string]any {
	p := map[string]any{
		"error_kind": string(e.Kind),
		"message":    e.Message,
	}
	if e.Field != "" {
		p["field"] = e.Field
	}
	if e.VendorCode != "" {
		p["vendor_code"] = e.VendorCode
	}
	if e.Status != 0 {
		p["status"] = e.Status
	}
	if e.RetryAfter != "" {
		p["retry_after"] = e.RetryAfter
	}
	return p
}

// NewError creates a ToolError of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a malformed or missing argument.
func InvalidArgument(field, format string, args ...any) *ToolError {
	return &ToolError{Kind: KindInvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports an argument that is well-typed but rejected by a
// local check before any request is sent.
func ValidationError(field, format string, args ...any) *ToolError {
	return &ToolError{Kind: KindValidationError, Field: field, Message: fmt.Sprintf(format, args...)}
}

// AsToolError converts any error into a ToolError.
// Errors that carry no classification become UpstreamError.
func AsToolError(err error) *ToolError {
	if err == nil {
		return nil
	}

	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return &ToolError{Kind: KindMissingCredential, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Kind: KindUpstreamError, Message: "request timed out: " + err.Error()}
	case errors.Is(err, context.Canceled):
		return &ToolError{Kind: KindUpstreamError, Message: "request canceled: " + err.Error()}
	}
	return &ToolError{Kind: KindUpstreamError, Message: err.Error()}
}
