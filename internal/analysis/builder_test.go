package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/callseason/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dailySeries generates one observation per day starting at start.
func dailySeries(start time.Time, days int, volume func(day int) float64) models.RawSeries {
	obs := make([]models.Observation, days)
	for d := 0; d < days; d++ {
		obs[d] = models.Observation{Date: start.AddDate(0, 0, d), Volume: volume(d)}
	}
	return models.RawSeries{CompanyID: "test-company", Observations: obs}
}

func sineSeries(years int) models.RawSeries {
	return dailySeries(date(2021, time.January, 1), 365*years, func(d int) float64 {
		return 100 * math.Sin(2*math.Pi*float64(d)/365)
	})
}

func TestBuildCurve_PeriodicityInvariant(t *testing.T) {
	raw := dailySeries(date(2020, time.January, 1), 3*366, func(d int) float64 { return float64(d % 17) })

	for _, cycle := range []models.Cycle{models.DayOfYear, models.WeekOfYear, models.MonthOfYear} {
		t.Run(string(cycle), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Cycle = cycle
			curve, err := BuildCurve(raw, opts)
			require.NoError(t, err)

			require.Len(t, curve.Points, cycle.Length())
			seen := make(map[int]bool)
			for i, p := range curve.Points {
				assert.Equal(t, i, p.PeriodIndex)
				assert.False(t, seen[p.PeriodIndex], "period %d repeated", p.PeriodIndex)
				seen[p.PeriodIndex] = true
			}
		})
	}
}

func TestBuildCurve_MeanPerPeriod(t *testing.T) {
	// Two years of monthly buckets: January is 10 then 30, so its mean is 20.
	var obs []models.Observation
	for year := 2022; year <= 2023; year++ {
		for m := time.January; m <= time.December; m++ {
			v := float64(m) * 10
			if year == 2023 {
				v += 20
			}
			obs = append(obs, models.Observation{Date: date(year, m, 1), Volume: v})
		}
	}
	opts := Options{Cycle: models.MonthOfYear, SmoothingWindow: 1, MinPoints: 12, MinCoverage: 0.5}

	curve, err := BuildCurve(models.RawSeries{Observations: obs}, opts)
	require.NoError(t, err)

	require.Len(t, curve.Points, 12)
	assert.Equal(t, 20.0, curve.Points[0].Value)
	assert.Equal(t, 2, curve.Points[0].Observations)
	assert.Equal(t, 130.0, curve.Points[11].Value)

	var shares float64
	for _, p := range curve.Points {
		shares += p.Share
	}
	assert.InDelta(t, 100.0, shares, 1e-9)
}

func TestBuildCurve_GapsAreFlaggedNotZeroFilled(t *testing.T) {
	// Eight months observed, four missing.
	var obs []models.Observation
	for m := time.January; m <= time.August; m++ {
		obs = append(obs, models.Observation{Date: date(2023, m, 1), Volume: 0})
	}
	opts := Options{Cycle: models.MonthOfYear, SmoothingWindow: 1, MinPoints: 8, MinCoverage: 0.5}

	curve, err := BuildCurve(models.RawSeries{Observations: obs}, opts)
	require.NoError(t, err)

	assert.False(t, curve.Points[0].Gap, "zero volume is data, not a gap")
	assert.Equal(t, 0.0, curve.Points[0].Value)
	for m := 8; m < 12; m++ {
		assert.True(t, curve.Points[m].Gap, "month %d should be a gap", m)
		assert.Zero(t, curve.Points[m].Observations)
	}
}

func TestBuildCurve_SmoothingWrapsAndSkipsGaps(t *testing.T) {
	// Months 0 and 11 are neighbours on the ring; month 5 is missing.
	var obs []models.Observation
	for m := time.January; m <= time.December; m++ {
		if m == time.June {
			continue
		}
		v := 0.0
		if m == time.January {
			v = 30
		}
		obs = append(obs, models.Observation{Date: date(2023, m, 1), Volume: v})
	}
	opts := Options{Cycle: models.MonthOfYear, SmoothingWindow: 3, MinPoints: 11, MinCoverage: 0.5}

	curve, err := BuildCurve(models.RawSeries{Observations: obs}, opts)
	require.NoError(t, err)

	assert.Equal(t, 10.0, curve.Points[11].Value, "December averages Nov, Dec and the wrapped January")
	assert.Equal(t, 10.0, curve.Points[1].Value)
	assert.False(t, curve.Points[5].Gap, "a gap with observed neighbours is filled by smoothing")
	assert.Equal(t, 0.0, curve.Points[5].Value)
	assert.Zero(t, curve.Points[5].Observations)
}

func TestBuildCurve_GapSurvivesWhenWindowEmpty(t *testing.T) {
	var obs []models.Observation
	for m := time.January; m <= time.July; m++ {
		obs = append(obs, models.Observation{Date: date(2023, m, 1), Volume: 5})
	}
	opts := Options{Cycle: models.MonthOfYear, SmoothingWindow: 3, MinPoints: 7, MinCoverage: 0.5}

	curve, err := BuildCurve(models.RawSeries{Observations: obs}, opts)
	require.NoError(t, err)

	assert.False(t, curve.Points[7].Gap, "August sees July")
	assert.True(t, curve.Points[9].Gap, "October's window (Sep-Nov) is empty")
	assert.False(t, curve.Points[11].Gap, "December sees the wrapped January")
}

func TestBuildCurve_WindowWiderThanCycle(t *testing.T) {
	var obs []models.Observation
	for m := time.January; m <= time.December; m++ {
		obs = append(obs, models.Observation{Date: date(2023, m, 1), Volume: float64(m)})
	}
	opts := Options{Cycle: models.MonthOfYear, SmoothingWindow: 50, MinPoints: 12, MinCoverage: 0.5}

	curve, err := BuildCurve(models.RawSeries{Observations: obs}, opts)
	require.NoError(t, err)

	for _, p := range curve.Points {
		assert.InDelta(t, 6.5, p.Value, 1e-9)
	}
}

func TestBuildCurve_InsufficientCoverage(t *testing.T) {
	// 60 daily points cover 60 of 366 periods.
	raw := dailySeries(date(2023, time.January, 1), 60, func(int) float64 { return 1 })

	_, err := BuildCurve(raw, DefaultOptions())

	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 60, insufficient.Points)
	assert.Equal(t, 60, insufficient.CoveredPeriods)
	assert.Equal(t, 366, insufficient.CycleLength)
	assert.InDelta(t, 60.0/366.0, insufficient.Coverage, 1e-12)
	assert.Contains(t, err.Error(), "60 points")
}

func TestBuildCurve_RejectsUnorderedSeries(t *testing.T) {
	raw := models.RawSeries{Observations: []models.Observation{
		{Date: date(2023, time.January, 2), Volume: 1},
		{Date: date(2023, time.January, 1), Volume: 1},
	}}

	_, err := BuildCurve(raw, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidSeries)
}

func TestBuildCurve_UnknownCycle(t *testing.T) {
	opts := DefaultOptions()
	opts.Cycle = "fortnight"

	_, err := BuildCurve(sineSeries(1), opts)

	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "cycle", invalid.Field)
}

func TestSmoothCircular_EvenWindowLeansForward(t *testing.T) {
	values := []float64{0, 0, 0, 8}
	present := []bool{true, true, true, true}

	out, ok := smoothCircular(values, present, 2)

	assert.Equal(t, []float64{0, 0, 4, 4}, out)
	assert.Equal(t, present, ok)
}
