package domain

import "errors"

var (
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
	// ErrSwapNotFound ...
	ErrSwapNotFound = errors.New("swap not found")
	// ErrDisputeNotFound ...
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrKeyNotFound ...
	ErrKeyNotFound = errors.New("key not found")
	// ErrOfferTaken ...
	ErrOfferTaken = errors.New("offer has already been taken")
	// ErrOfferCanceled ...
	ErrOfferCanceled = errors.New("offer has been canceled")
)

// ValidationError reports that an action's preconditions do not hold. Its
// message is human-readable and safe to surface to the end user verbatim.
type ValidationError struct {
	Desc string
}

func (e *ValidationError) Error() string {
	return e.Desc
}

// NewValidationError returns a ValidationError with the given description.
func NewValidationError(desc string) *ValidationError {
	return &ValidationError{Desc: desc}
}
