package analysis

import (
	"errors"
	"fmt"
)

// ErrInvalidSeries reports a raw series whose dates are not strictly increasing
// or whose volumes are not finite.
var ErrInvalidSeries = errors.New("invalid raw series")

// InsufficientDataError reports a series too short or too sparse to fold into a
// meaningful seasonal curve. The fields let callers explain the rejection.
type InsufficientDataError struct {
	Points         int
	MinPoints      int
	CoveredPeriods int
	CycleLength    int
	Coverage       float64 // CoveredPeriods / CycleLength
	MinCoverage    float64
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d points (minimum %d), %d of %d periods covered (%.1f%%, minimum %.1f%%)",
		e.Points, e.MinPoints, e.CoveredPeriods, e.CycleLength, e.Coverage*100, e.MinCoverage*100)
}

// InvalidConfigError reports an analysis option outside its accepted range.
// It is returned before any computation starts.
type InvalidConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// DataUnavailableError reports that the raw series could not be fetched.
type DataUnavailableError struct {
	CompanyID string
	Err       error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for company %s: %v", e.CompanyID, e.Err)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}
