package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is matched by every caller-input error.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrNotFound indicates the requested rating does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConflict is returned by Tx.Insert when another row already holds the identity slot.
	ErrConflict = errors.New("ledger: identity already rated target")
)

// InvalidActorError is returned when neither an actor nor a device fingerprint is available.
type InvalidActorError struct{}

func (InvalidActorError) Error() string {
	return "Unable to identify the rating actor. Either an actor reference or a device ID must be provided."
}

func (InvalidActorError) Is(target error) bool { return target == ErrInvalidInput }

// MinRatingError is returned when the rate is below the configured minimum.
type MinRatingError struct {
	Min   int
	Given int
}

func (e MinRatingError) Error() string {
	return fmt.Sprintf("Rate must be greater than or equal to %d, %d given", e.Min, e.Given)
}

func (MinRatingError) Is(target error) bool { return target == ErrInvalidInput }

// MaxRatingError is returned when the rate is above the configured maximum.
type MaxRatingError struct {
	Max   int
	Given int
}

func (e MaxRatingError) Error() string {
	return fmt.Sprintf("Rate must be less than or equal to %d, %d given", e.Max, e.Given)
}

func (MaxRatingError) Is(target error) bool { return target == ErrInvalidInput }

// IsInputError reports whether err was caused by caller input rather than storage.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
