package ledger

import "fmt"

const (
	DefaultMinRate = 1
	DefaultMaxRate = 5
	DefaultSource  = "web"
)

// Validator enforces inclusive rate bounds.
type Validator struct {
	Min int
	Max int
}

// NewValidator returns a validator for [min, max].
func NewValidator(min, max int) (Validator, error) {
	if min > max {
		return Validator{}, fmt.Errorf("min rate %d exceeds max rate %d", min, max)
	}
	return Validator{Min: min, Max: max}, nil
}

// Validate returns MinRatingError or MaxRatingError for out-of-range rates.
func (v Validator) Validate(rate int) error {
	if rate < v.Min {
		return MinRatingError{Min: v.Min, Given: rate}
	}
	if rate > v.Max {
		return MaxRatingError{Max: v.Max, Given: rate}
	}
	return nil
}
