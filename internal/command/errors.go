package command

import "errors"

// Closed set of command-executor errors, surfaced to clients via the error
// codes enumerated in spec.md §6.
var (
	ErrCommandNotFound       = errors.New("command: COMMAND_NOT_FOUND")
	ErrCommandValidation     = errors.New("command: COMMAND_VALIDATION_ERROR")
	ErrAuthorizationDenied   = errors.New("command: AUTHORIZATION_DENIED")
	ErrRateLimitExceeded     = errors.New("command: RATE_LIMIT_EXCEEDED")
	ErrTargetNotFound        = errors.New("command: TARGET_NOT_FOUND")
)
