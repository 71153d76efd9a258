package core

import (
	"errors"
	"fmt"
)

// ErrSinkUnavailable is returned by sinks that have been closed or cannot
// reach their backend.
var ErrSinkUnavailable = errors.New("alert sink unavailable")

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
