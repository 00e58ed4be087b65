package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/nao1215/harvest/internal/config"
	"github.com/nao1215/harvest/internal/crawler"
	"github.com/nao1215/harvest/internal/database"
	"github.com/nao1215/harvest/internal/download"
	"github.com/nao1215/harvest/internal/extract"
	"github.com/nao1215/harvest/internal/fetch"
	harvestlog "github.com/nao1215/harvest/internal/log"
	"github.com/nao1215/harvest/internal/metrics"
	"github.com/nao1215/harvest/internal/model"
	"github.com/nao1215/harvest/internal/pipeline"
	"github.com/nao1215/harvest/internal/report"
	"github.com/spf13/cobra"
)

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <seed-url>...",
		Short: "Crawl a site and download the documents it links to",
		Long: `Fetch crawls the site below each seed URL and downloads every linked
document that is missing locally or newer on the server.

Only pages below the seed (or below --root) are crawled. On every page the
links inside the --selector region whose path ends with one of the
--suffix values are collected. Each collected URL is then downloaded to
--dest, mirroring its URL path, unless the local copy is at least as new
as the server's Last-Modified date. Responses with an unexpected content
type are reported and not saved.

The run ends with a summary of saved, already present, wrong content type
and failed URLs. The exit code is 1 if any URL could not be fetched.

Examples:
  # Download every PDF below a documentation tree
  harvest fetch https://docs.example.com/papers/

  # Only look at links in the main content, two levels deep
  harvest fetch -s "div#content" -d 2 https://docs.example.com/papers/

  # Collect PostScript files too
  harvest fetch -x .pdf -x .ps --content-type application/pdf \
    --content-type application/postscript https://docs.example.com/

  # Replay a session cookie from a logged-in browser
  harvest fetch --cookie "sessionid=abc123" https://intranet.example.com/docs/

  # Only list what would be downloaded
  harvest fetch --dry-run https://docs.example.com/papers/

Configuration file (.harvest) example:
  sites:
    intranet.example.com:
      cookie: "sessionid=abc123"
      selector: "div#content"
      depth: 5

Settings of a site in the configuration file take precedence over the
command line flags for seeds on that site.`,
		Args: cobra.ArbitraryArgs,
		RunE: runFetchCmd,
	}

	// Crawl scope flags
	cmd.Flags().String("root", "",
		"Crawl below this URL instead of below each seed")
	cmd.Flags().StringP("selector", "s", config.DefaultScopeSelector,
		"CSS selector of the page region whose links are considered")
	cmd.Flags().StringSliceP("suffix", "x", config.DefaultSuffixes,
		"Path suffix of the documents to collect (repeatable)")
	cmd.Flags().IntP("depth", "d", config.DefaultCrawlDepth,
		"Maximum number of hops followed from the seed")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages crawled per seed (0 = unlimited)")

	// Download flags
	cmd.Flags().StringP("dest", "o", config.DefaultDestDir,
		"Directory the documents are saved below")
	cmd.Flags().StringSlice("content-type", config.DefaultContentTypes,
		"Media type accepted for download (repeatable)")
	cmd.Flags().Bool("dry-run", false,
		"Crawl and list the selected documents without downloading")

	// Network and politeness flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().Duration("crawl-timeout", 0,
		"Timeout for the whole run (0 = none); partial results are reported")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of pages fetched in parallel")
	cmd.Flags().Int("downloads", config.DefaultDownloads,
		"Number of documents downloaded in parallel")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of seeds harvested concurrently")
	cmd.Flags().Duration("delay", 0,
		"Minimum delay between two requests to one host")
	cmd.Flags().Float64("rps", 0,
		"Maximum requests per second to one host (0 = unlimited)")
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy address (e.g., 127.0.0.1:1080)")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")

	// Session flags
	cmd.Flags().String("cookie", "",
		"Cookie header of an authenticated session")
	cmd.Flags().StringArrayP("header", "H", nil,
		`Extra request header as "Key: Value" (repeatable)`)

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .harvest in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("report", "r", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("metrics-file", "",
		"Write Prometheus metrics to this textfile after the run")
	cmd.Flags().Bool("no-history", false,
		"Do not record the run in the history database")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose, getLogFormat(cmd))
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runHarvest(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getLogFormat retrieves the log format from the command or its parent.
func getLogFormat(cmd *cobra.Command) harvestlog.Format {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		format, err = cmd.Root().PersistentFlags().GetString("log-format")
		if err != nil {
			return harvestlog.FormatText
		}
	}
	return harvestlog.Format(format)
}

// setupLogger creates a structured logger based on verbosity setting.
// Session cookies and credentials in log attributes are masked.
func setupLogger(verbose bool, format harvestlog.Format) *slog.Logger {
	return harvestlog.NewLogger(os.Stderr, verbose, format)
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error

	if cfg.Root, err = flags.GetString("root"); err != nil {
		return nil, err
	}
	if cfg.ScopeSelector, err = flags.GetString("selector"); err != nil {
		return nil, err
	}
	if cfg.Suffixes, err = flags.GetStringSlice("suffix"); err != nil {
		return nil, err
	}
	if cfg.CrawlDepth, err = flags.GetInt("depth"); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
		return nil, err
	}

	if cfg.DestDir, err = flags.GetString("dest"); err != nil {
		return nil, err
	}
	if cfg.ContentTypes, err = flags.GetStringSlice("content-type"); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return nil, err
	}

	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.CrawlTimeout, err = flags.GetDuration("crawl-timeout"); err != nil {
		return nil, err
	}
	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return nil, err
	}
	if cfg.Downloads, err = flags.GetInt("downloads"); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return nil, err
	}
	if cfg.CrawlDelay, err = flags.GetDuration("delay"); err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond, err = flags.GetFloat64("rps"); err != nil {
		return nil, err
	}
	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}

	if cfg.Cookie, err = flags.GetString("cookie"); err != nil {
		return nil, err
	}
	headerLines, err := flags.GetStringArray("header")
	if err != nil {
		return nil, err
	}
	if len(headerLines) > 0 {
		cfg.Headers, err = fetch.ParseHeaders(headerLines)
		if err != nil {
			return nil, fmt.Errorf("invalid --header: %w", err)
		}
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("report"); err != nil {
		return nil, err
	}
	if cfg.MetricsFile, err = flags.GetString("metrics-file"); err != nil {
		return nil, err
	}
	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noHistory
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	cfg.SiteConfigs, err = loadSiteConfigs(cfg.ConfigFilePath)
	if err != nil {
		return nil, err
	}

	cfg.Seeds, err = normalizeSeeds(args)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSiteConfigs loads the configuration file.
// If the user explicitly specified a path, a missing file is an error.
// Otherwise an empty configuration is used when no file is found.
func loadSiteConfigs(explicitPath string) (*config.File, error) {
	configPath := config.FindConfigFile(explicitPath)

	switch {
	case configPath != "":
		siteConfigs, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		return siteConfigs, nil
	case explicitPath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicitPath)
	default:
		return &config.File{Sites: make(map[string]config.SiteConfig)}, nil
	}
}

// normalizeSeeds validates and normalizes the seed URLs, dropping
// duplicates while keeping the order they were given in.
func normalizeSeeds(args []string) ([]string, error) {
	seeds := make([]string, 0, len(args))
	for _, arg := range args {
		_, normalized, err := model.ParseURL(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid seed URL %q: %w", arg, err)
		}
		if !slices.Contains(seeds, normalized) {
			seeds = append(seeds, normalized)
		}
	}
	return seeds, nil
}

// siteConfigFor returns the file configuration of the seed's site.
func siteConfigFor(cfg *config.Config, seed string) config.SiteConfig {
	if cfg.SiteConfigs == nil {
		return config.SiteConfig{}
	}
	return cfg.SiteConfigs.ForURL(seed)
}

// runHarvest harvests every seed and writes the reports.
// Progress lines go to progress so that out only carries the reports.
func runHarvest(ctx context.Context, cfg *config.Config, out, progress io.Writer, logger *slog.Logger) error {
	if len(cfg.Seeds) == 0 {
		return config.ErrNoSeed
	}

	if cfg.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CrawlTimeout)
		defer cancel()
	}

	logger.Info("starting harvest",
		"seeds", cfg.Seeds,
		"dest", cfg.DestDir,
		"dryRun", cfg.DryRun,
		"batchSize", cfg.BatchSize,
		"saveToDB", cfg.SaveToDB,
	)

	var db *database.HistoryDB
	if cfg.SaveToDB {
		var err error
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "dir", cfg.DBDir)
	}

	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
	}

	client, err := fetch.NewClient(cfg.Timeout,
		fetch.WithProxy(cfg.ProxyAddress),
		fetch.WithMaxIdleConnsPerHost(max(cfg.Workers, cfg.Downloads)),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	// Seeds on one host must share the host's politeness budget, so every
	// pipeline with the same effective delay uses the same limiter. Only a
	// site entry overriding the delay gets a limiter of its own.
	limiters := map[time.Duration]*fetch.HostLimiter{
		cfg.CrawlDelay: fetch.NewHostLimiter(cfg.CrawlDelay, cfg.RequestsPerSecond),
	}

	// Pipelines are built up front so that a bad site setting fails the
	// command before anything is fetched.
	pipelines := make(map[string]*pipeline.Pipeline, len(cfg.Seeds))
	for _, seed := range cfg.Seeds {
		seedCfg := cfg.Apply(siteConfigFor(cfg, seed))
		limiter, ok := limiters[seedCfg.CrawlDelay]
		if !ok {
			limiter = fetch.NewHostLimiter(seedCfg.CrawlDelay, seedCfg.RequestsPerSecond)
			limiters[seedCfg.CrawlDelay] = limiter
		}
		p, err := newPipeline(client, limiter, db, m, logger, seedCfg, seed)
		if err != nil {
			return fmt.Errorf("%s: %w", seed, err)
		}
		pipelines[seed] = p
	}

	bp := pipeline.NewBatchProcessor(
		func(seed string) *pipeline.Pipeline { return pipelines[seed] },
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
		pipeline.WithDryRun(cfg.DryRun),
	)

	fmt.Fprintf(progress, "Harvesting %d seed(s) into %s...\n", len(cfg.Seeds), cfg.DestDir)
	startTime := time.Now()

	var mu sync.Mutex
	done := 0
	runs := make([]*model.Run, len(cfg.Seeds))
	batchErr := bp.ProcessBatchWithCallback(ctx, cfg.Seeds, func(run *model.Run, index int) {
		mu.Lock()
		defer mu.Unlock()

		runs[index] = run
		done++
		fmt.Fprintf(progress, "[%d/%d] %s: %s\n", done, len(cfg.Seeds), run.Seed, progressLine(run))
	})
	if batchErr != nil {
		logger.Warn("harvest interrupted before every seed started", "error", batchErr)
	}

	fmt.Fprintf(progress, "Harvest completed in %s\n\n", time.Since(startTime).Round(time.Millisecond))

	completed := slices.DeleteFunc(slices.Clone(runs), func(run *model.Run) bool { return run == nil })
	if err := outputReports(cfg, completed, out); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if m != nil {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	if batchErr != nil || len(completed) < len(cfg.Seeds) || hasProblems(completed) {
		return errHarvestProblems
	}
	return nil
}

// progressLine summarizes a finished run in one line.
func progressLine(run *model.Run) string {
	summary := run.Summary
	if summary == nil {
		summary = run.Summarize()
	}

	switch {
	case run.Error != "":
		return "failed: " + run.Error
	case run.DryRun:
		return fmt.Sprintf("%d document(s) selected", len(run.Selected()))
	}

	line := fmt.Sprintf("%d saved, %d already present, %d wrong type, %d errors",
		summary.Saved, summary.AlreadyPresent, summary.WrongContentType, summary.Errors)
	if run.TimedOut {
		line += " (timed out)"
	}
	return line
}

// hasProblems reports whether any run failed or could not fetch a URL.
func hasProblems(runs []*model.Run) bool {
	for _, run := range runs {
		summary := run.Summary
		if summary == nil {
			summary = run.Summarize()
		}
		if run.Error != "" || summary.HasErrors() {
			return true
		}
	}
	return false
}

// newPipeline creates the pipeline harvesting seed with cfg. limiter may be
// shared with the pipelines of other seeds.
func newPipeline(
	client *http.Client,
	limiter *fetch.HostLimiter,
	db *database.HistoryDB,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg *config.Config,
	seed string,
) (*pipeline.Pipeline, error) {
	if _, err := extract.Compile(cfg.ScopeSelector); err != nil {
		return nil, err
	}

	var root *url.URL
	if cfg.Root != "" {
		u, _, err := model.ParseURL(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("invalid root %q: %w", cfg.Root, err)
		}
		root = u
	}

	fetcherOpts := []fetch.Option{
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithLogger(logger),
		fetch.WithMetrics(m),
	}
	if session := (fetch.Session{Cookie: cfg.Cookie, Headers: cfg.Headers}); !session.IsZero() {
		fetcherOpts = append(fetcherOpts, fetch.WithSession(session))
	}
	if limiter != nil {
		fetcherOpts = append(fetcherOpts, fetch.WithLimiter(limiter))
	}
	fetcher := fetch.NewHTTPFetcher(client, fetcherOpts...)

	engineOpts := []crawler.Option{
		crawler.WithMaxDepth(cfg.CrawlDepth),
		crawler.WithMaxPages(cfg.MaxPages),
		crawler.WithConcurrency(cfg.Workers),
		crawler.WithMaxBodySize(cfg.MaxBodySize),
		crawler.WithScopeSelector(cfg.ScopeSelector),
		crawler.WithSelectPolicy(crawler.SuffixPolicy(cfg.Suffixes...)),
		crawler.WithLogger(logger),
		crawler.WithMetrics(m),
	}
	if root != nil {
		engineOpts = append(engineOpts, crawler.WithRoot(root))
	}
	if len(cfg.FollowPatterns) > 0 || len(cfg.IgnorePatterns) > 0 {
		boundary := root
		if boundary == nil {
			u, _, err := model.ParseURL(seed)
			if err != nil {
				return nil, err
			}
			boundary = u
		}
		engineOpts = append(engineOpts, crawler.WithRecursePolicy(crawler.AllOf(
			crawler.Subsite(boundary),
			crawler.PatternPolicy(cfg.FollowPatterns, cfg.IgnorePatterns),
		)))
	}
	engine := crawler.NewEngine(fetcher, engineOpts...)

	downloader := download.New(fetcher, cfg.DestDir,
		download.WithContentTypes(cfg.ContentTypes...),
		download.WithConcurrency(cfg.Downloads),
		download.WithLogger(logger),
		download.WithMetrics(m),
	)

	return pipeline.DefaultPipeline(engine, downloader, db, pipeline.WithLogger(logger)), nil
}

// outputReports writes the report of every run in the requested format.
func outputReports(cfg *config.Config, runs []*model.Run, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Reports list the crawled URLs, which may include session tokens
		// in query strings, so they are only readable by the owner.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	writer := newReportWriter(cfg, output)
	var errs []error
	for _, run := range runs {
		if _, err := writer.Write(run); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", run.Seed, err))
		}
	}

	// A JSON stream holds reports only.
	if totals := report.Totals(runs); totals != nil && !cfg.JSONReport {
		if _, err := writer.WriteSummary(totals); err != nil {
			errs = append(errs, fmt.Errorf("totals: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newReportWriter returns the report writer for the configured format.
func newReportWriter(cfg *config.Config, output io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(output)
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}
}
