package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/harvest/internal/crawler"
	"github.com/nao1215/harvest/internal/database"
	"github.com/nao1215/harvest/internal/download"
	"github.com/nao1215/harvest/internal/model"
)

// CrawlStep crawls the site below the run's seed and records the selected
// links of every page in the run.
//
// Design decision: Crawling is separate from downloading because:
// 1. It has different configuration (depth, scope, concurrency)
// 2. A dry run stops after it
// 3. Page failures are recorded as outcomes rather than stopping the run
type CrawlStep struct {
	// engine performs the crawl.
	engine *crawler.Engine

	// logger for structured logging.
	logger *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates a new crawling step around engine.
func NewCrawlStep(engine *crawler.Engine, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		engine: engine,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl step.
// Only a seed that cannot be fetched fails the step.
func (s *CrawlStep) Do(ctx context.Context, run *model.Run) error {
	result, err := s.engine.Crawl(ctx, run.Seed)
	if err != nil {
		return fmt.Errorf("crawl %s: %w", run.Seed, err)
	}

	for page, links := range result.Pages {
		run.Pages[page] = links
	}
	run.Visited = len(result.Visited)
	run.Outcomes = append(run.Outcomes, result.Failures...)

	if result.Cancelled {
		run.TimedOut = true
	}

	stats := result.Stats()
	s.logger.Info("crawl completed",
		"seed", run.Seed,
		"pages", stats.Pages,
		"visited", stats.Visited,
		"selected", stats.Selected,
		"failures", stats.Failures,
		"truncated", result.Truncated,
	)

	return nil
}

// DownloadStep downloads every URL the crawl selected.
// It does nothing for a dry run.
type DownloadStep struct {
	// downloader fetches and stores the documents.
	downloader *download.Downloader

	// logger for structured logging.
	logger *slog.Logger
}

// DownloadStepOption configures a DownloadStep.
type DownloadStepOption func(*DownloadStep)

// WithDownloadLogger sets a custom logger for the download step.
func WithDownloadLogger(logger *slog.Logger) DownloadStepOption {
	return func(s *DownloadStep) {
		s.logger = logger
	}
}

// NewDownloadStep creates a new download step around downloader.
func NewDownloadStep(downloader *download.Downloader, opts ...DownloadStepOption) *DownloadStep {
	s := &DownloadStep{
		downloader: downloader,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *DownloadStep) Name() string {
	return "download"
}

// Do executes the download step.
// Per-URL problems become outcomes; the step itself never fails.
func (s *DownloadStep) Do(ctx context.Context, run *model.Run) error {
	if run.DryRun {
		s.logger.Debug("skipping download, dry run")
		return nil
	}

	selected := run.Selected()
	if len(selected) == 0 {
		s.logger.Debug("skipping download, nothing selected")
		return nil
	}

	outcomes := s.downloader.DownloadAll(ctx, selected)
	run.Outcomes = append(run.Outcomes, outcomes...)

	s.logger.Info("download completed",
		"seed", run.Seed,
		"urls", len(selected),
		"root", s.downloader.Root(),
	)

	return nil
}

// HistoryStep summarizes the run and stores it in the history database.
// It is a Finalizer: a failed or cancelled run is still recorded.
type HistoryStep struct {
	// db is the run history database.
	db *database.HistoryDB

	// logger for structured logging.
	logger *slog.Logger
}

// HistoryStepOption configures a HistoryStep.
type HistoryStepOption func(*HistoryStep)

// WithHistoryLogger sets a custom logger for the history step.
func WithHistoryLogger(logger *slog.Logger) HistoryStepOption {
	return func(s *HistoryStep) {
		s.logger = logger
	}
}

// NewHistoryStep creates a new history step writing to db.
func NewHistoryStep(db *database.HistoryDB, opts ...HistoryStepOption) *HistoryStep {
	s := &HistoryStep{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *HistoryStep) Name() string {
	return "history"
}

// Finally reports that the step runs even after the pipeline stopped.
func (s *HistoryStep) Finally() bool {
	return true
}

// Do executes the history step.
func (s *HistoryStep) Do(ctx context.Context, run *model.Run) error {
	run.Summarize()

	id, err := s.db.SaveRun(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug("run recorded", "seed", run.Seed, "run_id", id)
	return nil
}

// DefaultPipeline creates the standard harvest pipeline: crawl, download
// and, when history is not nil, record the run.
//
// Design decision: We provide a default pipeline because:
// 1. Most callers want the same steps in the same order
// 2. Reduces boilerplate in CLI
// 3. The engine and downloader stay configurable by the caller
func DefaultPipeline(
	engine *crawler.Engine,
	downloader *download.Downloader,
	history *database.HistoryDB,
	opts ...Option,
) *Pipeline {
	p := New(opts...)

	p.AddSteps(
		NewCrawlStep(engine, WithCrawlLogger(p.logger)),
		NewDownloadStep(downloader, WithDownloadLogger(p.logger)),
	)
	if history != nil {
		p.AddStep(NewHistoryStep(history, WithHistoryLogger(p.logger)))
	}

	return p
}
