package models

// AnnualSummaryRow summarizes one calendar year of a raw series.
type AnnualSummaryRow struct {
	Year        int     `json:"year"`
	TotalVolume float64 `json:"total_volume"`
	// ObservedInflectionPoints lists every seasonal inflection point; the same
	// calendar position recurs each year, so each row carries all of them.
	ObservedInflectionPoints []InflectionPoint `json:"observed_inflection_points"`
	MonthlyTotals            []float64         `json:"monthly_totals"` // 12 entries, January first
	MonthlyShares            []float64         `json:"monthly_shares"` // percent of TotalVolume
}

// AnalysisResult is the complete outcome of one analysis request. It is
// immutable once produced and may be shared between concurrent callers.
type AnalysisResult struct {
	Curve            []CurvePoint       `json:"curve"`
	InflectionPoints []InflectionPoint  `json:"inflection_points"`
	AnnualTable      []AnnualSummaryRow `json:"annual_table"`
}

// Peaks returns the peak inflection points in period order.
func (r *AnalysisResult) Peaks() []InflectionPoint {
	return r.filter(Peak)
}

// Valleys returns the valley inflection points in period order.
func (r *AnalysisResult) Valleys() []InflectionPoint {
	return r.filter(Valley)
}

func (r *AnalysisResult) filter(kind Kind) []InflectionPoint {
	var out []InflectionPoint
	for _, p := range r.InflectionPoints {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// TotalVolume sums the annual totals.
func (r *AnalysisResult) TotalVolume() float64 {
	var total float64
	for _, row := range r.AnnualTable {
		total += row.TotalVolume
	}
	return total
}
