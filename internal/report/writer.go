package report

import (
	"fmt"
	"io"
	"time"

	"github.com/nao1215/harvest/internal/model"
)

// Writer renders harvest results to an output stream.
//
// Design decision: Write renders one run including how it ended, while
// WriteSummary renders bare counts. The latter serves outcome sets that do
// not belong to a single run, such as the totals of a batch.
type Writer interface {
	// Write outputs the run, including its summary.
	// Returns the number of bytes written and any error encountered.
	Write(run *model.Run) (int, error)

	// WriteSummary outputs only the outcome summary.
	WriteSummary(summary *model.Summary) (int, error)
}

// baseWriter holds the destination shared by all writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// Totals merges the outcomes of several runs into one summary labelled
// with the number of seeds. It returns nil for fewer than two runs, where
// a total would repeat the single report.
func Totals(runs []*model.Run) *model.Summary {
	if len(runs) < 2 {
		return nil
	}

	var outcomes []model.Outcome
	for _, run := range runs {
		outcomes = append(outcomes, run.Outcomes...)
	}
	totals := model.NewSummary(fmt.Sprintf("all %d seeds", len(runs)), outcomes)
	totals.GeneratedAt = time.Now()
	return totals
}

// summaryOf returns the run's summary, building it when the run has none.
func summaryOf(run *model.Run) *model.Summary {
	if run.Summary != nil {
		return run.Summary
	}
	return run.Summarize()
}

// runStatus describes how a run ended.
func runStatus(run *model.Run) string {
	switch {
	case run.Error != "":
		return "ERROR - " + run.Error
	case run.TimedOut:
		return "TIMED OUT (partial results)"
	case run.DryRun:
		return "Dry run (nothing downloaded)"
	default:
		return "Complete"
	}
}
