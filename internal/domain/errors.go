package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrValidation          = errors.New("validation failed")
	ErrIneligibleSubmitter = errors.New("only connected Farcaster accounts can submit scores to the leaderboard")
	ErrPlayerNotFound      = errors.New("player not found in leaderboard")
	ErrStoreUnavailable    = errors.New("score was not saved, try again")
	ErrResetDisabled       = errors.New("leaderboard reset is disabled")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrMissingBody         = errors.New("request body is required")
	ErrInvalidPlayerID     = errors.New("invalid user fid")
	ErrInternalError       = errors.New("internal server error")
)

// ValidationError reports a required submission field that was missing or null.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Missing required field: %s", e.Field)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}

// IsClientError reports whether err was caused by the submitted data rather
// than by the server or its backing store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrIneligibleSubmitter) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrMissingBody) ||
		errors.Is(err, ErrInvalidPlayerID)
}
