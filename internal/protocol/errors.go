package protocol

import "fmt"

// Closed set of validation reason codes, per spec.md §4.1. These are the
// same strings surfaced to clients in `type=error` envelopes and referenced
// by spec.md §6's error-code table.
const (
	CodeDecodeError      = "DECODE_ERROR"
	CodeSchemaError      = "SCHEMA_ERROR"
	CodeIDFormatError    = "ID_FORMAT_ERROR"
	CodeTimestampError   = "TIMESTAMP_ERROR"
	CodeTargetError      = "TARGET_ERROR"
	CodeIdentityMismatch = "IDENTITY_MISMATCH"
	CodeTenantMismatch   = "TENANT_MISMATCH"
	CodeOversize         = "OVERSIZE"
)

// ValidationError is returned by Validate. It carries a machine-readable code
// from the closed set above, so callers can translate it into an error
// envelope without string matching.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
