package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/callseason/internal/analysis"
	"github.com/rewired-gh/callseason/internal/cache"
	"github.com/rewired-gh/callseason/internal/config"
	"github.com/rewired-gh/callseason/internal/digest"
	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
	"github.com/rewired-gh/callseason/internal/service"
	"github.com/rewired-gh/callseason/internal/storage"
	"github.com/rewired-gh/callseason/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	importPath = flag.String("import", "", "Import call volumes from a CSV file and exit")
	companyID  = flag.String("company", "", "Analyze a single company and exit")
	cycleFlag  = flag.String("cycle", "", "Override the configured cycle (day_of_year, week_of_year, month_of_year)")
	formatFlag = flag.String("format", "text", "Output format for -company: text or json")
	runOnce    = flag.Bool("once", false, "Run a single digest and exit")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *cycleFlag != "" {
		cfg.Analysis.Cycle = *cycleFlag
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	store, err := storage.New(cfg.Warehouse.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if *importPath != "" {
		if err := importCSV(ctx, store, *importPath); err != nil {
			logger.Fatal("Import failed: %v", err)
		}
		return
	}

	resultCache := cache.New(cfg.Cache.TTL,
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
		cache.WithComputeTimeout(cfg.Cache.ComputeTimeout),
	)
	defer resultCache.Close()

	svc := service.New(store, store, resultCache, cfg.AnalysisOptions())

	if *companyID != "" {
		if err := analyzeCompany(ctx, svc, *companyID, *formatFlag, os.Stdout); err != nil {
			logger.Fatal("Analysis failed: %v", err)
		}
		return
	}

	// Initialize Telegram client
	var notifier digest.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	runner := digest.NewRunner(svc, notifier, digest.Config{
		Schedule:    cfg.Digest.Schedule,
		Companies:   cfg.Digest.Companies,
		Concurrency: cfg.Digest.Concurrency,
		Options:     svc.Defaults(),
		Timeout:     cfg.Digest.Timeout,
	})

	if *runOnce {
		report, err := runner.RunOnce(ctx)
		if err != nil {
			logger.Fatal("Digest run failed: %v", err)
		}
		logger.Info("Digest run %s: %d companies, %d failed", report.RunID, len(report.Digests), len(report.Failures))
		return
	}

	if !cfg.Digest.Enabled {
		logger.Fatal("Nothing to do: digest is disabled and neither -company nor -import was given")
	}

	if err := runner.Start(ctx); err != nil {
		logger.Fatal("Failed to start digest scheduler: %v", err)
	}

	<-ctx.Done()
	runner.Stop()

	stats := resultCache.Stats()
	logger.Info("Service stopped (cache hits: %d, misses: %d, computes: %d, failures: %d)",
		stats.Hits, stats.Misses, stats.Computes, stats.Failures)
}

func importCSV(ctx context.Context, store *storage.Storage, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stats, err := store.ImportCSV(ctx, f)
	if err != nil {
		return err
	}
	logger.Info("Imported %d rows from %s: %d companies, %d observations",
		stats.Rows, path, stats.Companies, stats.Observations)
	return nil
}

func analyzeCompany(ctx context.Context, svc *service.Service, id, format string, w io.Writer) error {
	opts := svc.Defaults()
	result, err := svc.AnalyzeForCompany(ctx, id, opts)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "text":
		return writeText(w, id, opts, result)
	default:
		return fmt.Errorf("unknown format %q: expected text or json", format)
	}
}

func writeText(w io.Writer, id string, opts analysis.Options, result *models.AnalysisResult) error {
	fmt.Fprintf(w, "Company %s, cycle %s, %s calls\n\n", id, opts.Cycle, humanize.Comma(int64(result.TotalVolume())))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPERIOD\tVALUE\tPROMINENCE")
	for _, p := range result.InflectionPoints {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\n", p.Kind, opts.Cycle.Label(p.PeriodIndex), p.Value, p.Prominence)
	}
	if len(result.InflectionPoints) == 0 {
		fmt.Fprintln(tw, "-\t-\t-\t-")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tCALLS\tPEAK MONTH")
	for _, row := range result.AnnualTable {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", row.Year, humanize.Comma(int64(row.TotalVolume)), busiestMonth(row))
	}
	return tw.Flush()
}

func busiestMonth(row models.AnnualSummaryRow) string {
	best := -1
	for i, v := range row.MonthlyTotals {
		if best < 0 || v > row.MonthlyTotals[best] {
			best = i
		}
	}
	if best < 0 {
		return "-"
	}
	return models.MonthOfYear.Label(best)
}
