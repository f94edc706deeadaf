package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/callseason/internal/models"
)

func TestScenario_SineWaveHasOnePeakAndOneValley(t *testing.T) {
	opts := DefaultOptions().WithMinProminence(10)

	result, err := Analyze("acme", sineSeries(3), opts)
	require.NoError(t, err)

	require.Len(t, result.Curve, 366)
	require.Len(t, result.InflectionPoints, 2)

	peaks := result.Peaks()
	valleys := result.Valleys()
	require.Len(t, peaks, 1)
	require.Len(t, valleys, 1)
	assert.InDelta(t, 91, peaks[0].PeriodIndex, 3)
	assert.InDelta(t, 273, valleys[0].PeriodIndex, 3)
	assert.InDelta(t, 100, peaks[0].Value, 1.5)
	assert.InDelta(t, -100, valleys[0].Value, 1.5)

	require.Len(t, result.AnnualTable, 3)
	for _, row := range result.AnnualTable {
		assert.Len(t, row.ObservedInflectionPoints, 2)
	}
}

func TestScenario_TwoWeeksIsInsufficient(t *testing.T) {
	raw := dailySeries(date(2023, time.March, 1), 10, func(d int) float64 { return float64(d) })

	result, err := Analyze("acme", raw, DefaultOptions())

	assert.Nil(t, result)
	insufficient, ok := err.(*InsufficientDataError)
	require.True(t, ok, "expected *InsufficientDataError, got %T", err)
	assert.Equal(t, 10, insufficient.Points)
	assert.Equal(t, DefaultMinPoints, insufficient.MinPoints)
}

func TestScenario_FlatSeries(t *testing.T) {
	raw := dailySeries(date(2022, time.January, 1), 730, func(int) float64 { return 250 })

	result, err := Analyze("acme", raw, DefaultOptions())
	require.NoError(t, err)

	for _, p := range result.Curve {
		assert.False(t, p.Gap, "period %d", p.PeriodIndex)
		assert.Equal(t, 250.0, p.Value, "period %d", p.PeriodIndex)
	}
	assert.NotNil(t, result.InflectionPoints)
	assert.Empty(t, result.InflectionPoints)
}

func TestScenario_AnnualTotalsWithDetectedPeak(t *testing.T) {
	// One spike near period 100 each year: 1000 in 2022, 1500 in 2023.
	base := dailySeries(date(2022, time.January, 1), 730, func(int) float64 { return 0 })
	for i := range base.Observations {
		obs := &base.Observations[i]
		if models.DayOfYear.PeriodOf(obs.Date) != 100 {
			continue
		}
		if obs.Date.Year() == 2022 {
			obs.Volume = 1000
		} else {
			obs.Volume = 1500
		}
	}
	opts := DefaultOptions()
	opts.SmoothingWindow = 1

	result, err := Analyze("acme", base, opts)
	require.NoError(t, err)

	peaks := result.Peaks()
	require.Len(t, peaks, 1)
	assert.Equal(t, 100, peaks[0].PeriodIndex)
	assert.Equal(t, 1250.0, peaks[0].Value)

	require.Len(t, result.AnnualTable, 2)
	assert.Equal(t, 1000.0, result.AnnualTable[0].TotalVolume)
	assert.Equal(t, 1500.0, result.AnnualTable[1].TotalVolume)
	for _, row := range result.AnnualTable {
		assert.Contains(t, row.ObservedInflectionPoints, peaks[0])
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	raw := sineSeries(2)
	opts := DefaultOptions()

	first, err := Analyze("acme", raw, opts)
	require.NoError(t, err)
	second, err := Analyze("acme", raw, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyze_InvalidConfigBeforeCompute(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"negative window", Options{SmoothingWindow: -1}, "smoothing_window"},
		{"unknown cycle", Options{Cycle: "quarter_of_year"}, "cycle"},
		{"negative prominence", DefaultOptions().WithMinProminence(-1), "min_prominence"},
		{"fraction above one", Options{ProminenceFraction: 1.5}, "prominence_fraction"},
		{"coverage above one", Options{MinCoverage: 2}, "min_coverage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// An empty series would fail with insufficient data if validation ran late.
			_, err := Analyze("acme", models.RawSeries{}, tt.opts)

			var invalid *InvalidConfigError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

// rippleSeries is a large annual swing with a small daily ripple on top.
func rippleSeries(years int) models.RawSeries {
	return dailySeries(date(2021, time.January, 1), years*365, func(d int) float64 {
		ripple := 0.5
		if d%2 == 0 {
			ripple = -0.5
		}
		return 100*math.Sin(2*math.Pi*float64(d)/365) + ripple
	})
}

func TestAnalyze_DerivedProminenceFiltersNoise(t *testing.T) {
	raw := rippleSeries(3)
	opts := DefaultOptions()
	opts.SmoothingWindow = 1

	result, err := Analyze("acme", raw, opts)
	require.NoError(t, err)

	assert.Len(t, result.Peaks(), 1)
	assert.Len(t, result.Valleys(), 1)
}

func TestAnalyze_ZeroOptionsMatchDefaults(t *testing.T) {
	raw := rippleSeries(3)

	partial, err := Analyze("acme", raw, Options{SmoothingWindow: 1})
	require.NoError(t, err)
	defaults := DefaultOptions()
	defaults.SmoothingWindow = 1
	full, err := Analyze("acme", raw, defaults)
	require.NoError(t, err)

	assert.Equal(t, full, partial)
	assert.Len(t, partial.InflectionPoints, 2, "derived prominence applies when the fraction is unset")

	zero, err := Analyze("acme", sineSeries(2), Options{})
	require.NoError(t, err)
	def, err := Analyze("acme", sineSeries(2), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, def, zero)
}

func TestAnalyze_ZeroOptionsKeepCoverageGate(t *testing.T) {
	raw := dailySeries(date(2023, time.March, 1), 40, func(d int) float64 { return float64(d) })

	_, err := Analyze("acme", raw, Options{})

	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 40, insufficient.Points)
	assert.Equal(t, 40, insufficient.CoveredPeriods)
	assert.Equal(t, DefaultMinCoverage, insufficient.MinCoverage)
}
