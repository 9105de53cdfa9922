package common

import "errors"

// Error categories. Concrete errors wrap exactly one of these so callers can
// branch with errors.Is without knowing every specific failure.
var (
	ErrValidation         = errors.New("validation error")
	ErrAuthorization      = errors.New("authorization error")
	ErrState              = errors.New("state error")
	ErrExternal           = errors.New("external failure")
	ErrInconsistentResult = errors.New("inconsistent result")
)
