// Package analysis turns a company's raw call-volume history into a seasonal
// curve, its significant inflection points and a year-by-year summary.
//
// The pipeline is:
//
//	raw series → BuildCurve → DetectInflections → AggregateAnnual → AnalysisResult
//
// Every step is a pure, synchronous computation over in-memory data. Caching and
// data fetching live outside this package so that Analyze stays a function of its
// inputs: identical inputs always produce an identical result.
package analysis

import (
	"fmt"

	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
)

// Analyze runs the full pipeline for one company. Options are validated before
// any computation; an *InsufficientDataError from the curve builder is returned
// unchanged and no partial result is produced.
func Analyze(companyID string, raw models.RawSeries, opts Options) (*models.AnalysisResult, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	curve, err := BuildCurve(raw, opts)
	if err != nil {
		return nil, err
	}

	minProminence := opts.effectiveMinProminence(curve)
	points := DetectInflections(curve, minProminence)

	table, err := AggregateAnnual(raw, points, opts.Cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate annual table: %w", err)
	}

	logger.Debug("Analyze: company=%s points=%d cycle=%s window=%d min_prominence=%.4f inflections=%d years=%d",
		companyID, raw.Len(), opts.Cycle, opts.SmoothingWindow, minProminence, len(points), len(table))

	return &models.AnalysisResult{
		Curve:            curve.Points,
		InflectionPoints: points,
		AnnualTable:      table,
	}, nil
}
