package shared

import "errors"

var (
	ErrDuplicate   = errors.New("duplicate entity")
	ErrNotFound    = errors.New("entity not found")
	ErrUnavailable = errors.New("storage unavailable")
)
