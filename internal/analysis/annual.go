package analysis

import (
	"fmt"
	"sort"

	"github.com/rewired-gh/callseason/internal/models"
)

// AggregateAnnual buckets a raw series by calendar year, in chronological order.
//
// Inflection points live in period space and recur every year, so each row lists
// all of them. Years without observations are omitted. Alongside the year total,
// each row carries per-month totals and their share of the year.
func AggregateAnnual(raw models.RawSeries, points []models.InflectionPoint, cycle models.Cycle) ([]models.AnnualSummaryRow, error) {
	p := cycle.Length()
	if p == 0 {
		return nil, &InvalidConfigError{Field: "cycle", Value: cycle, Reason: "unknown cycle"}
	}
	for _, pt := range points {
		if pt.PeriodIndex < 0 || pt.PeriodIndex >= p {
			return nil, fmt.Errorf("inflection point at period %d is outside the %s cycle [0, %d)", pt.PeriodIndex, cycle, p)
		}
	}

	byYear := make(map[int]*models.AnnualSummaryRow)
	var years []int
	for _, obs := range raw.Observations {
		year := obs.Date.Year()
		row, ok := byYear[year]
		if !ok {
			row = &models.AnnualSummaryRow{
				Year:          year,
				MonthlyTotals: make([]float64, 12),
				MonthlyShares: make([]float64, 12),
			}
			byYear[year] = row
			years = append(years, year)
		}
		row.TotalVolume += obs.Volume
		row.MonthlyTotals[obs.Date.Month()-1] += obs.Volume
	}
	sort.Ints(years)

	rows := make([]models.AnnualSummaryRow, 0, len(years))
	for _, year := range years {
		row := byYear[year]
		if row.TotalVolume != 0 {
			for m, v := range row.MonthlyTotals {
				row.MonthlyShares[m] = v / row.TotalVolume * 100
			}
		}
		row.ObservedInflectionPoints = make([]models.InflectionPoint, len(points))
		copy(row.ObservedInflectionPoints, points)
		rows = append(rows, *row)
	}
	return rows, nil
}
