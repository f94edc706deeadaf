// Package models defines the core domain entities for the callseason application.
// These models represent companies, their raw call-volume series, the folded
// seasonal curve and the inflection points detected on it.
//
// Terminology:
//   - Observation: the call volume recorded for one calendar date.
//   - Cycle: the recurring calendar unit a multi-year series is folded onto.
//   - Period: one position within a cycle (a day, ISO week or month of the year).
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Observation is the call volume recorded for a company on one calendar date.
// Monthly warehouse rows are stored on the first day of their month.
type Observation struct {
	Date   time.Time `json:"date"`
	Volume float64   `json:"volume"`
}

// Validate checks that the observation can be ingested into the warehouse.
func (o *Observation) Validate() error {
	if o.Date.IsZero() {
		return errors.New("observation date must not be empty")
	}
	if math.IsNaN(o.Volume) || math.IsInf(o.Volume, 0) {
		return errors.New("observation volume must be a finite number")
	}
	if o.Volume < 0 {
		return errors.New("observation volume must not be negative")
	}
	return nil
}

// RawSeries is the ordered call-volume history of a single company.
type RawSeries struct {
	CompanyID    string        `json:"company_id"`
	Observations []Observation `json:"observations"`
}

// Len returns the number of observations in the series.
func (s RawSeries) Len() int {
	return len(s.Observations)
}

// CheckOrder verifies that dates are strictly increasing (which also rules out
// duplicates) and that every volume is finite.
func (s RawSeries) CheckOrder() error {
	for i, obs := range s.Observations {
		if math.IsNaN(obs.Volume) || math.IsInf(obs.Volume, 0) {
			return fmt.Errorf("observation %d (%s) has a non-finite volume", i, obs.Date.Format(DateLayout))
		}
		if i > 0 && !obs.Date.After(s.Observations[i-1].Date) {
			return fmt.Errorf("observation %d (%s) is not after %s",
				i, obs.Date.Format(DateLayout), s.Observations[i-1].Date.Format(DateLayout))
		}
	}
	return nil
}

// YearRange returns the first and last calendar year present in the series.
// Both values are zero for an empty series.
func (s RawSeries) YearRange() (int, int) {
	if len(s.Observations) == 0 {
		return 0, 0
	}
	return s.Observations[0].Date.Year(), s.Observations[len(s.Observations)-1].Date.Year()
}

// DateLayout is the calendar date format used by the warehouse and CSV imports.
const DateLayout = "2006-01-02"
