package analysis

import (
	"fmt"

	"github.com/rewired-gh/callseason/internal/models"
)

// BuildCurve folds a raw series onto opts.Cycle and returns one value per period.
//
// Observations sharing a period are averaged across all years. Periods with no
// observation are flagged as gaps rather than zero-filled. When
// opts.SmoothingWindow > 1 a centered moving average is applied with circular
// wrap-around (period P-1 is adjacent to period 0); gaps are excluded from each
// window and a period stays a gap only if its entire window is empty.
//
// BuildCurve fails with *InsufficientDataError when the series has fewer than
// opts.MinPoints observations or covers less than opts.MinCoverage of the cycle.
func BuildCurve(raw models.RawSeries, opts Options) (models.SeasonalCurve, error) {
	cycle := opts.Cycle
	p := cycle.Length()
	if p == 0 {
		return models.SeasonalCurve{}, &InvalidConfigError{Field: "cycle", Value: cycle, Reason: "unknown cycle"}
	}
	if err := raw.CheckOrder(); err != nil {
		return models.SeasonalCurve{}, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
	}

	means := make([]float64, p)
	counts := make([]int, p)
	for _, obs := range raw.Observations {
		idx := cycle.PeriodOf(obs.Date)
		counts[idx]++
		// Running mean keeps a constant series exactly constant.
		means[idx] += (obs.Volume - means[idx]) / float64(counts[idx])
	}

	covered := 0
	present := make([]bool, p)
	for i, n := range counts {
		if n > 0 {
			covered++
			present[i] = true
		}
	}
	coverage := float64(covered) / float64(p)
	if raw.Len() < opts.MinPoints || coverage < opts.MinCoverage {
		return models.SeasonalCurve{}, &InsufficientDataError{
			Points:         raw.Len(),
			MinPoints:      opts.MinPoints,
			CoveredPeriods: covered,
			CycleLength:    p,
			Coverage:       coverage,
			MinCoverage:    opts.MinCoverage,
		}
	}

	values, present := smoothCircular(means, present, opts.SmoothingWindow)

	var total float64
	for i, v := range values {
		if present[i] {
			total += v
		}
	}

	points := make([]models.CurvePoint, p)
	for i := range points {
		points[i] = models.CurvePoint{
			PeriodIndex:  i,
			Gap:          !present[i],
			Observations: counts[i],
		}
		if !present[i] {
			continue
		}
		points[i].Value = values[i]
		if total != 0 {
			points[i].Share = values[i] / total * 100
		}
	}

	return models.SeasonalCurve{Cycle: cycle, Points: points}, nil
}

// smoothCircular applies a centered moving average of the given width, treating
// the slice as a ring. Even widths lean one period forward. A window wider than
// the ring is clamped so that each period is counted once.
func smoothCircular(values []float64, present []bool, window int) ([]float64, []bool) {
	n := len(values)
	out := make([]float64, n)
	outPresent := make([]bool, n)
	if window <= 1 {
		copy(out, values)
		copy(outPresent, present)
		return out, outPresent
	}
	if window > n {
		window = n
	}

	lo := -(window - 1) / 2
	hi := lo + window - 1
	for i := 0; i < n; i++ {
		var mean float64
		count := 0
		for k := lo; k <= hi; k++ {
			j := ((i+k)%n + n) % n
			if !present[j] {
				continue
			}
			count++
			mean += (values[j] - mean) / float64(count)
		}
		if count == 0 {
			continue
		}
		out[i] = mean
		outPresent[i] = true
	}
	return out, outPresent
}
