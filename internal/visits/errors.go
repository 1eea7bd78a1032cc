package visits

import "errors"

// Error taxonomy for visit operations. Callers match with errors.Is; the
// HTTP facade maps these onto status codes, the hub onto error events.
var (
	ErrNotFound         = errors.New("visit not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrValidation       = errors.New("validation failed")
)
