package rooms

import "errors"

// Closed set of rooms/channels store errors, surfaced up through the
// command executor as COMMAND_VALIDATION_ERROR error envelopes.
var (
	ErrRoomNotFound          = errors.New("rooms: room not found")
	ErrChannelNotFound       = errors.New("rooms: channel not found")
	ErrChannelExists         = errors.New("rooms: channel already exists")
	ErrAdminRequired         = errors.New("rooms: admin role required")
	ErrAutoCreateDisabled    = errors.New("rooms: auto-create disabled for this tenant")
	ErrTenantIsolationBreach = errors.New("rooms: TENANT_ISOLATION_VIOLATION")
)
