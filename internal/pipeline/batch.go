package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/harvest/internal/model"
	"golang.org/x/sync/errgroup"
)

// defaultBatchSize is the number of seeds harvested at once when no
// concurrency is configured.
const defaultBatchSize = 2

// BatchProcessor harvests several seeds concurrently, each through its own
// pipeline.
//
// Design decision: Pipelines come from a factory keyed by seed rather than
// being shared, because a seed may use the site settings of its own host.
// A failing seed never stops the others; its failure is recorded in its
// run.
type BatchProcessor struct {
	newPipeline func(seed string) *Pipeline
	concurrency int
	dryRun      bool
	logger      *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the logger for batch progress.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets how many seeds are harvested at once. Values below
// one are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithDryRun makes every run crawl without downloading.
func WithDryRun(dryRun bool) BatchOption {
	return func(b *BatchProcessor) {
		b.dryRun = dryRun
	}
}

// NewBatchProcessor creates a BatchProcessor that builds the pipeline of
// each seed with newPipeline.
func NewBatchProcessor(newPipeline func(seed string) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		newPipeline: newPipeline,
		concurrency: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch harvests seeds and returns one run per seed in input order.
// A seed that never started because ctx was cancelled has a nil run, and
// the returned error is then the context's error.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, seeds []string) ([]*model.Run, error) {
	runs := make([]*model.Run, len(seeds))
	err := bp.ProcessBatchWithCallback(ctx, seeds, func(run *model.Run, index int) {
		// Every index is written by exactly one goroutine.
		runs[index] = run
	})
	return runs, err
}

// ProcessBatchWithCallback harvests seeds and hands each finished run to
// callback together with the seed's index, as soon as the run ends. The
// callback is invoked from worker goroutines and must be safe for
// concurrent use.
//
// Seeds are started in input order, at most the configured number at a
// time. Once ctx is cancelled no further seed starts; seeds in flight end
// as timed-out runs and are still passed to callback.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	seeds []string,
	callback func(run *model.Run, index int),
) error {
	bp.logger.Info("batch started", "seeds", len(seeds), "concurrency", bp.concurrency)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, seed := range seeds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			callback(bp.harvest(ctx, seed, i, len(seeds)), i)
			// Seed failures live in the run; returning nil keeps the
			// group context alive for the other seeds.
			return nil
		})
	}

	err := g.Wait()
	bp.logger.Info("batch finished", "seeds", len(seeds), "elapsed", time.Since(start))
	return err
}

// harvest runs the pipeline of one seed.
func (bp *BatchProcessor) harvest(ctx context.Context, seed string, index, total int) *model.Run {
	bp.logger.Info("harvesting seed", "seed", seed, "index", index+1, "total", total)

	run := model.NewRun(seed)
	run.DryRun = bp.dryRun

	if err := bp.newPipeline(seed).Execute(ctx, run); err != nil {
		bp.logger.Warn("harvest failed", "seed", seed, "error", err)
		return run
	}

	bp.logger.Info("harvest completed", "seed", seed, "outcomes", len(run.Outcomes))
	return run
}
