package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrDuplicateID    = errors.New("duplicate id")
	ErrJobFinalized   = errors.New("job already finalized")
	ErrBadTransition  = errors.New("job status cannot move backwards")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrOutlineEmpty   = errors.New("outline is empty")
)
