package models

import "fmt"

// Kind labels an inflection point as a peak or a valley.
type Kind string

const (
	Peak   Kind = "peak"
	Valley Kind = "valley"
)

// InflectionPoint is a significant local extremum of a seasonal curve.
type InflectionPoint struct {
	PeriodIndex int     `json:"period_index"`
	Kind        Kind    `json:"kind"`
	Value       float64 `json:"value"`
	Prominence  float64 `json:"prominence"` // smallest climb/descent to an adjacent opposite extremum
}

// String implements fmt.Stringer for log output.
func (p InflectionPoint) String() string {
	return fmt.Sprintf("%s@%d(%.2f, prominence %.2f)", p.Kind, p.PeriodIndex, p.Value, p.Prominence)
}
