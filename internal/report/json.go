package report

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/nao1215/harvest/internal/model"
)

// JSONWriter outputs one JSON document per call, terminated by a newline,
// so that the reports of a batch form a stream readable with
// json.Decoder.
//
// HTML escaping is disabled: document URLs keep their '&' query separators
// instead of turning into \u0026.
type JSONWriter struct {
	baseWriter

	// indent is the per-level indentation; empty means compact output.
	indent string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint indents nested values by two spaces.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = "  "
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the bare run, with its summary filled in.
func (w *JSONWriter) Write(run *model.Run) (int, error) {
	summaryOf(run)
	return w.encode(run)
}

// WriteSummary outputs only the summary.
func (w *JSONWriter) WriteSummary(summary *model.Summary) (int, error) {
	return w.encode(summary)
}

// encode renders v into a buffer first so that a failed encoding leaves
// the output untouched.
func (w *JSONWriter) encode(v any) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if w.indent != "" {
		enc.SetIndent("", w.indent)
	}
	if err := enc.Encode(v); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}

// JSONReport is the document written by FullJSONWriter: the run plus the
// fields scripts usually want without walking it.
type JSONReport struct {
	// Version is the harvest version that generated this report.
	Version string `json:"version"`

	// Run is the full harvest run.
	Run *model.Run `json:"run"`

	// Selected lists every selected URL, for dry runs and scripting.
	Selected []string `json:"selected"`

	// Summary is the outcome summary for quick access.
	Summary *model.Summary `json:"summary,omitempty"`
}

// NewJSONReport builds the report document for run.
func NewJSONReport(run *model.Run, version string) *JSONReport {
	return &JSONReport{
		Version:  version,
		Run:      run,
		Selected: run.Selected(),
		Summary:  summaryOf(run),
	}
}

// FullJSONWriter writes runs as JSONReport documents.
type FullJSONWriter struct {
	*JSONWriter
	version string
}

// NewFullJSONWriter creates a FullJSONWriter stamping reports with version.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the run wrapped in a JSONReport.
func (w *FullJSONWriter) Write(run *model.Run) (int, error) {
	return w.encode(NewJSONReport(run, w.version))
}
