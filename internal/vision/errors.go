package vision

import (
	"errors"
	"fmt"

	"github.com/your-org/enrollment/internal/models"
)

var ErrEngineClosed = errors.New("face engine closed")

// genericFailure is what callers see when validation breaks internally.
const genericFailure = "Image validation failed. Please try again."

// ValidationError is a user-facing rejection raised by a validation stage.
type ValidationError struct {
	Kind        models.RejectKind
	Message     string
	DuplicateOf string
	Err         error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func reject(kind models.RejectKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsValidationError classifies err. Anything that is not a *ValidationError
// becomes an internal rejection with a generic message.
func AsValidationError(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &ValidationError{Kind: models.RejectInternal, Message: genericFailure, Err: err}
}
