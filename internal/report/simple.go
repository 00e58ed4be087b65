package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/harvest/internal/model"
)

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with no entries are shown.
	showEmpty bool

	// verbose enables additional detail in the output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output: saved documents are listed too.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		showEmpty:  false,
		verbose:    false,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the run in human-readable format.
func (w *SimpleWriter) Write(run *model.Run) (int, error) {
	summary := summaryOf(run)

	var sb strings.Builder

	w.writeHeader(&sb, summary)

	fmt.Fprintf(&sb, "Pages Crawled:  %d\n", len(run.Pages))
	fmt.Fprintf(&sb, "URLs Visited:   %d\n", run.Visited)
	fmt.Fprintf(&sb, "Status:         %s\n\n", runStatus(run))

	if run.DryRun {
		w.writeList(&sb, "SELECTED DOCUMENTS", run.Selected(), "No documents selected")
	}

	w.writeBody(&sb, summary)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// WriteSummary outputs the summary in human-readable format.
func (w *SimpleWriter) WriteSummary(summary *model.Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	sb.WriteString("\n")
	w.writeBody(&sb, summary)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with harvest information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *model.Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          HARVEST REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Seed:           %s\n", summary.Seed)
	fmt.Fprintf(sb, "Date:           %s\n", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
}

// writeBody writes the counts, the problems and, in verbose mode, the
// saved documents.
func (w *SimpleWriter) writeBody(sb *strings.Builder, summary *model.Summary) {
	w.writeCounts(sb, summary)
	w.writeProblems(sb, summary)
	if w.verbose {
		w.writeList(sb, "SAVED DOCUMENTS", summary.SavedURLs, "No documents saved")
	}
}

// writeSectionTitle writes a section title between rules.
func (w *SimpleWriter) writeSectionTitle(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeCounts writes the per-kind outcome counts.
func (w *SimpleWriter) writeCounts(sb *strings.Builder, summary *model.Summary) {
	w.writeSectionTitle(sb, "OUTCOME SUMMARY")

	fmt.Fprintf(sb, "  Saved:              %d\n", summary.Saved)
	fmt.Fprintf(sb, "  Already present:    %d\n", summary.AlreadyPresent)
	fmt.Fprintf(sb, "  Wrong content type: %d\n", summary.WrongContentType)
	fmt.Fprintf(sb, "  Errors:             %d\n", summary.Errors)
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  TOTAL:              %d\n", summary.Total())
	sb.WriteString("\n")
}

// writeProblems writes every non-saved outcome grouped by kind, errors
// first.
func (w *SimpleWriter) writeProblems(sb *strings.Builder, summary *model.Summary) {
	if len(summary.Problems) == 0 && !w.showEmpty {
		return
	}

	w.writeSectionTitle(sb, "PROBLEMS")

	if len(summary.Problems) == 0 {
		sb.WriteString("  No problems\n\n")
		return
	}

	kinds := []model.OutcomeKind{
		model.OutcomeTransportError,
		model.OutcomeWrongContentType,
		model.OutcomeAlreadyPresent,
	}

	for _, kind := range kinds {
		outcomes := summary.ProblemsOf(kind)
		if len(outcomes) == 0 {
			continue
		}

		fmt.Fprintf(sb, "[%s] %s (%d)\n", kindIndicator(kind), kind.String(), len(outcomes))
		for _, o := range outcomes {
			fmt.Fprintf(sb, "  * %s\n", o.URL)
			fmt.Fprintf(sb, "    %s\n", o.Detail())
			if w.verbose && o.Source != "" {
				fmt.Fprintf(sb, "    Source: %s\n", o.Source)
			}
		}
		sb.WriteString("\n")
	}
}

// writeList writes a titled list of URLs.
func (w *SimpleWriter) writeList(sb *strings.Builder, title string, urls []string, empty string) {
	if len(urls) == 0 && !w.showEmpty {
		return
	}

	w.writeSectionTitle(sb, title)

	if len(urls) == 0 {
		fmt.Fprintf(sb, "  %s\n\n", empty)
		return
	}
	for _, u := range urls {
		fmt.Fprintf(sb, "  [+] %s\n", u)
	}
	sb.WriteString("\n")
}

// kindIndicator returns a visual indicator for an outcome kind.
func kindIndicator(kind model.OutcomeKind) string {
	switch kind {
	case model.OutcomeTransportError:
		return "!!"
	case model.OutcomeWrongContentType:
		return "!"
	case model.OutcomeAlreadyPresent:
		return "="
	case model.OutcomeSaved:
		return "+"
	default:
		return "?"
	}
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by harvest\n")
	sb.WriteString("https://github.com/nao1215/harvest\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
