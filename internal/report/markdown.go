package report

import (
	"io"
	"strconv"

	"github.com/nao1215/harvest/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the run in Markdown format.
func (w *MarkdownWriter) Write(run *model.Run) (int, error) {
	summary := summaryOf(run)
	md := markdown.NewMarkdown(w.output)

	md.H1("Harvest Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + run.Seed + "`"},
			{"Date", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Pages Crawled", strconv.Itoa(len(run.Pages))},
			{"URLs Visited", strconv.Itoa(run.Visited)},
			{"Status", w.getStatusText(run)},
		},
	})
	md.PlainText("")

	if run.DryRun {
		w.writeSelected(md, run.Selected())
	}

	w.writeBody(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteSummary outputs the summary in Markdown format.
func (w *MarkdownWriter) WriteSummary(summary *model.Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Harvest Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + summary.Seed + "`"},
			{"Date", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")

	w.writeBody(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// getStatusText returns the status text based on run state.
func (w *MarkdownWriter) getStatusText(run *model.Run) string {
	switch {
	case run.Error != "":
		return "❌ Error - " + run.Error
	case run.TimedOut:
		return "⚠️ Timed Out (partial results)"
	case run.DryRun:
		return "🔍 Dry run"
	default:
		return "✅ Complete"
	}
}

func (w *MarkdownWriter) writeBody(md *markdown.Markdown, summary *model.Summary) {
	w.writeSummary(md, summary)
	w.writeProblems(md, summary)
}

// writeSummary writes the outcome summary section.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, summary *model.Summary) {
	md.H2("Outcome Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"🟢 Saved", strconv.Itoa(summary.Saved)},
			{"⚪ Already present", strconv.Itoa(summary.AlreadyPresent)},
			{"🟡 Wrong content type", strconv.Itoa(summary.WrongContentType)},
			{"🔴 Errors", strconv.Itoa(summary.Errors)},
			{"**Total**", "**" + strconv.Itoa(summary.Total()) + "**"},
		},
	})
	md.PlainText("")

	if summary.Total() > 0 {
		w.writePieChart(md, summary)
	}

	w.writeAlert(md, summary)
}

// chartLabels names the pie chart slices.
var chartLabels = map[model.OutcomeKind]string{
	model.OutcomeSaved:            "Saved",
	model.OutcomeAlreadyPresent:   "Already present",
	model.OutcomeWrongContentType: "Wrong content type",
	model.OutcomeTransportError:   "Errors",
}

// writePieChart writes a mermaid pie chart of the outcome distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary *model.Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Outcome Distribution"),
		piechart.WithShowData(true),
	)

	counts := summary.Counts()
	for _, kind := range model.CountedKinds {
		if n := counts[kind.String()]; n > 0 {
			chart.LabelAndIntValue(chartLabels[kind], uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an appropriate alert based on the counts.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.Summary) {
	switch {
	case summary.Errors > 0:
		md.Warningf(
			"%d URL(s) could not be fetched. See the problems below.",
			summary.Errors,
		)
	case summary.WrongContentType > 0:
		md.Importantf(
			"%d URL(s) did not serve the expected content type.",
			summary.WrongContentType,
		)
	case summary.Saved > 0:
		md.Note(strconv.Itoa(summary.Saved) + " document(s) saved.")
	default:
		md.Tip("Nothing new to download.")
	}
	md.PlainText("")
}

// writeProblems writes every non-saved outcome grouped by kind.
func (w *MarkdownWriter) writeProblems(md *markdown.Markdown, summary *model.Summary) {
	md.H2("Problems")
	md.PlainText("")

	if len(summary.Problems) == 0 {
		md.PlainText("No problems.")
		md.PlainText("")
		return
	}

	kinds := []struct {
		kind   model.OutcomeKind
		header string
	}{
		{model.OutcomeTransportError, "### 🔴 Transport errors"},
		{model.OutcomeWrongContentType, "### 🟡 Wrong content type"},
		{model.OutcomeAlreadyPresent, "### ⚪ Already present"},
	}

	for _, k := range kinds {
		outcomes := summary.ProblemsOf(k.kind)
		if len(outcomes) == 0 {
			continue
		}

		md.PlainText(k.header)
		md.PlainText("")
		w.writeProblemsTable(md, outcomes)
	}
}

// writeProblemsTable writes a table of outcomes with details.
func (w *MarkdownWriter) writeProblemsTable(md *markdown.Markdown, outcomes []model.Outcome) {
	rows := make([][]string, len(outcomes))
	for i, o := range outcomes {
		source := o.Source
		if source == "" {
			source = "-"
		}
		rows[i] = []string{
			truncateString(o.URL, 80),
			source,
			truncateString(o.Detail(), 80),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"URL", "Source", "Detail"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeSelected writes the URLs a dry run would download.
func (w *MarkdownWriter) writeSelected(md *markdown.Markdown, urls []string) {
	md.H2("Selected Documents")
	md.PlainText("")

	if len(urls) == 0 {
		md.PlainText("No documents selected.")
		md.PlainText("")
		return
	}

	md.BulletList(urls...)
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [harvest](https://github.com/nao1215/harvest)*")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
