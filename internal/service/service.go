// Package service exposes analysis per company: it fetches a company's raw
// series, runs the analysis pipeline and memoizes the result in a ResultCache.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/callseason/internal/analysis"
	"github.com/rewired-gh/callseason/internal/cache"
	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
	"github.com/rewired-gh/callseason/internal/storage"
)

// SeriesFetcher supplies a company's raw call-volume history.
type SeriesFetcher interface {
	FetchRawSeries(ctx context.Context, companyID string) (models.RawSeries, error)
}

// CompanyDirectory lists the companies that can be analyzed.
type CompanyDirectory interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	GetCompany(ctx context.Context, companyID string) (*models.Company, error)
}

// AnalysisError represents a per-company failure during a digest run.
type AnalysisError struct {
	CompanyID string
	Err       error
}

func (e AnalysisError) Error() string {
	return fmt.Sprintf("analysis error for company %s: %v", e.CompanyID, e.Err)
}

func (e AnalysisError) Unwrap() error {
	return e.Err
}

// Service wires the data fetcher, the company directory and the result cache
// around the analysis pipeline.
type Service struct {
	fetcher   SeriesFetcher
	directory CompanyDirectory
	cache     *cache.ResultCache
	defaults  analysis.Options
	now       func() time.Time
}

// New creates a Service. defaults fills options a caller leaves unset.
func New(fetcher SeriesFetcher, directory CompanyDirectory, resultCache *cache.ResultCache, defaults analysis.Options) *Service {
	return &Service{
		fetcher:   fetcher,
		directory: directory,
		cache:     resultCache,
		defaults:  defaults.WithDefaults(),
		now:       time.Now,
	}
}

// Defaults returns the options used when a caller does not override them.
func (s *Service) Defaults() analysis.Options {
	return s.defaults
}

// AnalyzeForCompany returns the analysis of a company's history under opts.
//
// Fields left unset in opts take the service defaults, so a zero-value Options
// analyzes with the configured settings. Options are validated before the
// cache is consulted. Fetch failures are
// reported as *analysis.DataUnavailableError, except for an unknown company
// which surfaces as storage.ErrCompanyNotFound. Analysis errors pass through
// unchanged and are never cached.
func (s *Service) AnalyzeForCompany(ctx context.Context, companyID string, opts analysis.Options) (*models.AnalysisResult, error) {
	opts = opts.WithDefaultsFrom(s.defaults)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	key := cache.Key(companyID, opts.Fingerprint())
	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*models.AnalysisResult, error) {
		raw, err := s.fetcher.FetchRawSeries(ctx, companyID)
		if err != nil {
			if errors.Is(err, storage.ErrCompanyNotFound) {
				return nil, err
			}
			return nil, &analysis.DataUnavailableError{CompanyID: companyID, Err: err}
		}
		return analysis.Analyze(companyID, raw, opts)
	})
}

// Refresh drops every cached result for a company, e.g. after new data arrives.
func (s *Service) Refresh(companyID string) {
	n := s.cache.InvalidateCompany(companyID)
	logger.Debug("Refreshed company %s: %d cached results dropped", companyID, n)
}

// Digest analyzes several companies with at most concurrency analyses running
// at once. An empty companyIDs means every company in the directory.
//
// Per-company failures do not stop the run; they are returned as AnalysisErrors
// next to the digests that succeeded. The returned error is reserved for a
// directory failure or cancellation of ctx.
func (s *Service) Digest(ctx context.Context, companyIDs []string, opts analysis.Options, concurrency int) ([]models.CompanyDigest, []AnalysisError, error) {
	opts = opts.WithDefaultsFrom(s.defaults)
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	companies, analysisErrors, err := s.resolveCompanies(ctx, companyIDs)
	if err != nil {
		return nil, nil, err
	}

	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	slots := make([]*models.CompanyDigest, len(companies))
	generatedAt := s.now()

	for i := range companies {
		company := companies[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := s.AnalyzeForCompany(gctx, company.ID, opts)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				analysisErrors = append(analysisErrors, AnalysisError{CompanyID: company.ID, Err: err})
				mu.Unlock()
				return nil
			}
			d := models.NewCompanyDigest(company, opts.Cycle, result, generatedAt)
			slots[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("digest interrupted: %w", err)
	}

	digests := make([]models.CompanyDigest, 0, len(companies))
	for _, d := range slots {
		if d != nil {
			digests = append(digests, *d)
		}
	}
	sort.Slice(analysisErrors, func(i, j int) bool {
		return analysisErrors[i].CompanyID < analysisErrors[j].CompanyID
	})

	logger.Info("Digest complete: %d companies analyzed, %d failed", len(digests), len(analysisErrors))
	return digests, analysisErrors, nil
}

func (s *Service) resolveCompanies(ctx context.Context, companyIDs []string) ([]models.Company, []AnalysisError, error) {
	if len(companyIDs) == 0 {
		companies, err := s.directory.ListCompanies(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list companies: %w", err)
		}
		return companies, nil, nil
	}

	var companies []models.Company
	var analysisErrors []AnalysisError
	for _, id := range companyIDs {
		company, err := s.directory.GetCompany(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrCompanyNotFound) {
				analysisErrors = append(analysisErrors, AnalysisError{CompanyID: id, Err: err})
				continue
			}
			return nil, nil, fmt.Errorf("failed to look up company %s: %w", id, err)
		}
		companies = append(companies, *company)
	}
	return companies, analysisErrors, nil
}
