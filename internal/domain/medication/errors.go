package medication

import (
	"errors"
	"fmt"
)

// ErrReminderNotFound is returned by mutating operations that require an
// existing reminder.
var ErrReminderNotFound = errors.New("reminder not found")

// ValidationError reports a missing or malformed request field. It is always
// raised before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
