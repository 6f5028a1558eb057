package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-kiscon-crawler/config"
	"github.com/aluiziolira/go-kiscon-crawler/crawl"
	"github.com/aluiziolira/go-kiscon-crawler/export"
	"github.com/aluiziolira/go-kiscon-crawler/models"
)

const dateLayout = "2006-01-02"

func main() {
	defaultCfg := config.DefaultConfig()

	workersDefault := defaultCfg.DetailWorkers
	if value, ok, err := config.EnvInt("KISCON_WORKERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid KISCON_WORKERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		workersDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("KISCON_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("KISCON_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	pageDelayDefault := defaultCfg.PageDelay
	if value, ok, err := config.EnvDuration("KISCON_PAGE_DELAY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid KISCON_PAGE_DELAY: %v\n", err)
		os.Exit(1)
	} else if ok {
		pageDelayDefault = value
	}

	fromStr := flag.String("from", defaultCfg.FromDate.Format(dateLayout), "Start of the notice date range (YYYY-MM-DD)")
	toStr := flag.String("to", defaultCfg.ToDate.Format(dateLayout), "End of the notice date range (YYYY-MM-DD)")
	failMode := flag.String("fail-mode", string(defaultCfg.FailMode), "On page failure: continue (skip page) or stop")
	pageDelay := flag.Duration("page-delay", pageDelayDefault, "Courtesy delay between listing page requests")
	workers := flag.Int("workers", workersDefault, "Concurrent detail fetch workers (1-12 practical)")
	details := flag.Bool("details", true, "Fetch per-record detail pages")
	timeout := flag.Duration("timeout", defaultCfg.ReadTimeout, "Per-request read timeout")
	maxAttempts := flag.Int("max-attempts", defaultCfg.MaxAttempts, "HTTP retry budget per fetch")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	filterDisposition := flag.String("filter-disposition", "", "Keep only records whose disposal content matches one of these comma-separated values")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, _ := newLogger(*verbose)
	slog.SetDefault(logger)

	cfg, err := buildConfigFromFlags(defaultCfg, *fromStr, *toStr, *failMode, *pageDelay, *workers, *details, *timeout, *maxAttempts, *outputFile, *outputFormat, *metricsAddr, *verbose)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting crawl",
		slog.String("from", cfg.FromDate.Format(dateLayout)),
		slog.String("to", cfg.ToDate.Format(dateLayout)),
		slog.String("fail_mode", string(cfg.FailMode)),
		slog.Int("workers", cfg.DetailWorkers),
		slog.Bool("details", cfg.FetchDetails),
	)

	session, err := crawl.NewSession(cfg)
	if err != nil {
		slog.Error("initialising session", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(session.Fetcher.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	progress := make(chan models.Progress, 64)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for event := range progress {
			logProgress(event)
		}
	}()

	result, err := session.Run(ctx, progress)
	close(progress)
	<-consumerDone

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}

	if result.RowCount() == 0 {
		// A zero-result range is a successful run, not a failure.
		slog.Info("no notices found for date range; nothing to write")
		printSummary(result, cfg.OutputFile, false)
		return
	}

	ds := result.Dataset
	if *filterDisposition != "" {
		if column, ok := export.DispositionColumn(ds); ok {
			ds = export.FilterByColumn(ds, column, strings.Split(*filterDisposition, ","))
			slog.Info("disposition filter applied",
				slog.String("column", column),
				slog.Int("rows", len(ds.Records)),
			)
		} else {
			slog.Warn("disposition column not found; filter skipped")
		}
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Write(ds); err != nil {
		slog.Error("writing output", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	printSummary(result, cfg.OutputFile, true)
}

func buildConfigFromFlags(cfg *config.Config, fromStr, toStr, failMode string, pageDelay time.Duration, workers int, details bool, timeout time.Duration, maxAttempts int, outputFile, outputFormat, metricsAddr string, verbose bool) (*config.Config, error) {
	from, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return nil, fmt.Errorf("parse -from: %w", err)
	}
	to, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return nil, fmt.Errorf("parse -to: %w", err)
	}

	cfg.FromDate = from
	cfg.ToDate = to
	cfg.FailMode = config.FailMode(strings.ToLower(failMode))
	cfg.PageDelay = pageDelay
	cfg.DetailWorkers = workers
	cfg.FetchDetails = details
	cfg.ReadTimeout = timeout
	cfg.MaxAttempts = maxAttempts
	cfg.OutputFile = outputFile
	cfg.OutputFormat = strings.ToLower(outputFormat)
	cfg.MetricsAddr = metricsAddr
	cfg.Verbose = verbose
	return cfg, nil
}

func createWriter(format, filename string) (export.OutputWriter, error) {
	switch format {
	case "json":
		return export.NewJSONWriter(filename)
	case "csv":
		return export.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return export.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func logProgress(event models.Progress) {
	switch event.Stage {
	case models.StageList:
		slog.Info(fmt.Sprintf("[LIST] page %d/%d", event.Page, event.TotalPages),
			slog.Int("rows_this_page", event.RowsThisPage),
			slog.Int("rows_total", event.RowsTotal),
			slog.String("status", string(event.Status)),
		)
		if event.Err != "" {
			slog.Warn("[LIST] page error", slog.Int("page", event.Page), slog.String("error", event.Err))
		}
	case models.StageDetail:
		slog.Info(fmt.Sprintf("[DETAIL] %d/%d", event.Done, event.Total),
			slog.Int("ok", event.OKSoFar),
		)
	}
}

func printSummary(result *models.CrawlResult, outputFile string, wrote bool) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")
	fmt.Printf("  Rows:          %d\n", result.RowCount())
	fmt.Printf("  Pages:         %d ok, %d failed (of %d)\n", result.PagesOK, result.PagesFailed, result.TotalPages)
	if len(result.FailedPages) > 0 {
		fmt.Printf("  Failed pages:  %v\n", result.FailedPages)
	}
	if result.Aborted {
		fmt.Println("  Aborted:       yes (pages collected so far preserved)")
	}
	fmt.Printf("  Details:       %d ok, %d failed\n", result.DetailOK, result.DetailFailed)
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	if wrote {
		fmt.Printf("  Output file:   %s\n", outputFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
