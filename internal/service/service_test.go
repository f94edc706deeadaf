package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/callseason/internal/analysis"
	"github.com/rewired-gh/callseason/internal/cache"
	"github.com/rewired-gh/callseason/internal/models"
	"github.com/rewired-gh/callseason/internal/storage"
)

// fakeWarehouse implements SeriesFetcher and CompanyDirectory in memory.
type fakeWarehouse struct {
	mu        sync.Mutex
	companies []models.Company
	series    map[string]models.RawSeries
	fetchErr  map[string]error
	fetches   int32
	delay     time.Duration
}

func (w *fakeWarehouse) FetchRawSeries(ctx context.Context, companyID string) (models.RawSeries, error) {
	atomic.AddInt32(&w.fetches, 1)
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return models.RawSeries{}, ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fetchErr[companyID]; err != nil {
		return models.RawSeries{}, err
	}
	raw, ok := w.series[companyID]
	if !ok {
		return models.RawSeries{}, fmt.Errorf("%w: %s", storage.ErrCompanyNotFound, companyID)
	}
	return raw, nil
}

func (w *fakeWarehouse) ListCompanies(ctx context.Context) ([]models.Company, error) {
	return w.companies, nil
}

func (w *fakeWarehouse) GetCompany(ctx context.Context, companyID string) (*models.Company, error) {
	for _, c := range w.companies {
		if c.ID == companyID {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrCompanyNotFound, companyID)
}

func seasonalSeries(companyID string, days int) models.RawSeries {
	start := time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]models.Observation, days)
	for d := range obs {
		obs[d] = models.Observation{
			Date:   start.AddDate(0, 0, d),
			Volume: 200 + 100*math.Sin(2*math.Pi*float64(d)/365),
		}
	}
	return models.RawSeries{CompanyID: companyID, Observations: obs}
}

func newWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		companies: []models.Company{
			{ID: "1", Name: "Acme Plumbing"},
			{ID: "2", Name: "Bolt Electric"},
			{ID: "3", Name: "Tiny Startup"},
		},
		series: map[string]models.RawSeries{
			"1": seasonalSeries("1", 3*365),
			"2": seasonalSeries("2", 2*365),
			"3": seasonalSeries("3", 10),
		},
		fetchErr: map[string]error{},
	}
}

func newService(w *fakeWarehouse) (*Service, *cache.ResultCache) {
	c := cache.New(time.Hour)
	return New(w, w, c, analysis.DefaultOptions()), c
}

func TestAnalyzeForCompany_CachesResult(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()
	ctx := context.Background()

	first, err := svc.AnalyzeForCompany(ctx, "1", svc.Defaults())
	require.NoError(t, err)
	second, err := svc.AnalyzeForCompany(ctx, "1", analysis.DefaultOptions())
	require.NoError(t, err)

	assert.Same(t, first, second, "equal options share the entry")
	assert.Equal(t, int32(1), atomic.LoadInt32(&w.fetches))
	assert.Len(t, first.Peaks(), 1)
	assert.Len(t, first.Valleys(), 1)
}

func TestAnalyzeForCompany_UnsetOptionsTakeServiceDefaults(t *testing.T) {
	w := newWarehouse()
	c := cache.New(time.Hour)
	defer c.Close()
	defaults := analysis.DefaultOptions()
	defaults.Cycle = models.MonthOfYear
	defaults.SmoothingWindow = 1
	svc := New(w, w, c, defaults)
	ctx := context.Background()

	zero, err := svc.AnalyzeForCompany(ctx, "1", analysis.Options{})
	require.NoError(t, err)
	configured, err := svc.AnalyzeForCompany(ctx, "1", svc.Defaults())
	require.NoError(t, err)

	assert.Len(t, zero.Curve, 12)
	assert.Same(t, zero, configured, "unset options resolve to the same cache entry")
	assert.Equal(t, int32(1), atomic.LoadInt32(&w.fetches))
	assert.Equal(t, analysis.DefaultMinCoverage, svc.Defaults().MinCoverage)
}

func TestAnalyzeForCompany_OptionsAreSeparateEntries(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()
	ctx := context.Background()

	daily, err := svc.AnalyzeForCompany(ctx, "1", svc.Defaults())
	require.NoError(t, err)
	weeklyOpts := svc.Defaults()
	weeklyOpts.Cycle = models.WeekOfYear
	weekly, err := svc.AnalyzeForCompany(ctx, "1", weeklyOpts)
	require.NoError(t, err)

	assert.Len(t, daily.Curve, 366)
	assert.Len(t, weekly.Curve, 53)
	assert.Equal(t, int32(2), atomic.LoadInt32(&w.fetches))
}

func TestAnalyzeForCompany_ConcurrentCallersFetchOnce(t *testing.T) {
	w := newWarehouse()
	w.delay = 50 * time.Millisecond
	svc, c := newService(w)
	defer c.Close()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*models.AnalysisResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.AnalyzeForCompany(context.Background(), "2", svc.Defaults())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&w.fetches))
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestAnalyzeForCompany_InvalidConfigSkipsFetch(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()

	_, err := svc.AnalyzeForCompany(context.Background(), "1", analysis.Options{SmoothingWindow: -3})

	var invalid *analysis.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "smoothing_window", invalid.Field)
	assert.Zero(t, atomic.LoadInt32(&w.fetches))
}

func TestAnalyzeForCompany_DataUnavailableIsNotCached(t *testing.T) {
	w := newWarehouse()
	cause := errors.New("warehouse unreachable")
	w.fetchErr["1"] = cause
	svc, c := newService(w)
	defer c.Close()
	ctx := context.Background()

	_, err := svc.AnalyzeForCompany(ctx, "1", svc.Defaults())

	var unavailable *analysis.DataUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "1", unavailable.CompanyID)
	assert.ErrorIs(t, err, cause)

	w.mu.Lock()
	delete(w.fetchErr, "1")
	w.mu.Unlock()

	_, err = svc.AnalyzeForCompany(ctx, "1", svc.Defaults())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&w.fetches))
}

func TestAnalyzeForCompany_UnknownCompany(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()

	_, err := svc.AnalyzeForCompany(context.Background(), "404", svc.Defaults())

	assert.ErrorIs(t, err, storage.ErrCompanyNotFound)
	var unavailable *analysis.DataUnavailableError
	assert.False(t, errors.As(err, &unavailable))
}

func TestAnalyzeForCompany_InsufficientDataPassesThrough(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()

	_, err := svc.AnalyzeForCompany(context.Background(), "3", svc.Defaults())

	insufficient, ok := err.(*analysis.InsufficientDataError)
	require.True(t, ok, "expected *analysis.InsufficientDataError, got %T", err)
	assert.Equal(t, 10, insufficient.Points)
}

func TestRefresh_RecomputesAfterNewData(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()
	ctx := context.Background()

	_, err := svc.AnalyzeForCompany(ctx, "1", svc.Defaults())
	require.NoError(t, err)

	svc.Refresh("1")
	_, err = svc.AnalyzeForCompany(ctx, "1", svc.Defaults())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&w.fetches))
}

func TestDigest_AllCompanies(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()
	fixed := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	monthly := svc.Defaults()
	monthly.Cycle = models.MonthOfYear

	digests, analysisErrors, err := svc.Digest(context.Background(), nil, monthly, 2)
	require.NoError(t, err)

	require.Len(t, digests, 2)
	assert.Equal(t, "Acme Plumbing", digests[0].CompanyName)
	assert.Equal(t, "Bolt Electric", digests[1].CompanyName)
	assert.Equal(t, models.MonthOfYear, digests[0].Cycle)
	assert.Equal(t, 2021, digests[0].FirstYear)
	assert.Equal(t, 2023, digests[0].LastYear)
	assert.Equal(t, fixed, digests[0].GeneratedAt)
	assert.NotEmpty(t, digests[0].Peaks)

	require.Len(t, analysisErrors, 1)
	assert.Equal(t, "3", analysisErrors[0].CompanyID)
	var insufficient *analysis.InsufficientDataError
	assert.ErrorAs(t, analysisErrors[0], &insufficient)
}

func TestDigest_SelectedCompanies(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()

	digests, analysisErrors, err := svc.Digest(context.Background(), []string{"2", "404"}, svc.Defaults(), 0)
	require.NoError(t, err)

	require.Len(t, digests, 1)
	assert.Equal(t, "2", digests[0].CompanyID)
	require.Len(t, analysisErrors, 1)
	assert.Equal(t, "404", analysisErrors[0].CompanyID)
	assert.ErrorIs(t, analysisErrors[0], storage.ErrCompanyNotFound)
	assert.Contains(t, analysisErrors[0].Error(), "analysis error for company 404")
}

func TestDigest_CancelledContext(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.Digest(ctx, nil, svc.Defaults(), 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDigest_InvalidOptions(t *testing.T) {
	w := newWarehouse()
	svc, c := newService(w)
	defer c.Close()

	_, _, err := svc.Digest(context.Background(), nil, analysis.Options{MinCoverage: 3}, 2)
	var invalid *analysis.InvalidConfigError
	assert.ErrorAs(t, err, &invalid)
}
