package models

import "time"

// CompanyDigest is the notification-sized summary of one company's analysis.
type CompanyDigest struct {
	CompanyID   string    `json:"company_id"`
	CompanyName string    `json:"company_name"`
	States      []string  `json:"states,omitempty"`
	Cycle       Cycle     `json:"cycle"`
	Peaks       []string  `json:"peaks"`   // calendar labels, period order
	Valleys     []string  `json:"valleys"` // calendar labels, period order
	TotalVolume float64   `json:"total_volume"`
	FirstYear   int       `json:"first_year"`
	LastYear    int       `json:"last_year"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewCompanyDigest condenses an analysis result into a digest entry.
func NewCompanyDigest(company Company, cycle Cycle, result *AnalysisResult, generatedAt time.Time) CompanyDigest {
	d := CompanyDigest{
		CompanyID:   company.ID,
		CompanyName: company.Name,
		States:      append([]string(nil), company.States...),
		Cycle:       cycle,
		Peaks:       []string{},
		Valleys:     []string{},
		TotalVolume: result.TotalVolume(),
		GeneratedAt: generatedAt,
	}
	for _, p := range result.Peaks() {
		d.Peaks = append(d.Peaks, cycle.Label(p.PeriodIndex))
	}
	for _, v := range result.Valleys() {
		d.Valleys = append(d.Valleys, cycle.Label(v.PeriodIndex))
	}
	if n := len(result.AnnualTable); n > 0 {
		d.FirstYear = result.AnnualTable[0].Year
		d.LastYear = result.AnnualTable[n-1].Year
	}
	return d
}
