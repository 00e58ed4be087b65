package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/harvest/internal/config"
	"github.com/nao1215/harvest/internal/database"
	"github.com/nao1215/harvest/internal/model"
	"github.com/nao1215/harvest/internal/report"
	"github.com/spf13/cobra"
)

// Trend values of a comparison.
const (
	trendWorsened  = "worsened"
	trendImproved  = "improved"
	trendUnchanged = "unchanged"
)

// NewHistoryCmd creates the history command.
// This command reads the runs recorded by fetch from the database.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [seed-url]",
		Short: "Show recorded harvest runs",
		Long: `History shows the runs recorded by 'harvest fetch'.

Without arguments it lists every seed that has been harvested. With a seed
URL it lists the runs of that seed, newest first, with their outcome
counts.

Examples:
  # List harvested seeds
  harvest history

  # List the runs of a seed
  harvest history https://docs.example.com/papers/

  # Show what changed between the latest two runs of a seed
  harvest history --compare https://docs.example.com/papers/

  # Show a recorded run as a report
  harvest history --run 5

  # Show every recorded outcome of one document
  harvest history --url https://docs.example.com/papers/a.pdf

  # Output in JSON format
  harvest history --json https://docs.example.com/papers/`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list-seeds", "L", false,
		"List all harvested seeds in the database")
	cmd.Flags().StringP("url", "u", "",
		"Show the recorded outcomes of one URL")
	cmd.Flags().Int64P("run", "i", 0,
		"Show a recorded run by ID (use the run list to see available IDs)")
	cmd.Flags().Bool("compare", false,
		"Compare the latest two runs of the seed")

	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output --run and --compare in Markdown format")

	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// historyOptions holds the parsed flags of the history command.
type historyOptions struct {
	seed      string
	listSeeds bool
	url       string
	runID     int64
	compare   bool
	json      bool
	markdown  bool
	dbDir     string
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	opts, err := parseHistoryOptions(cmd, args)
	if err != nil {
		return err
	}

	// Validation happens before the database is opened so that a usage
	// error never creates an empty database.
	db, err := database.Open(opts.dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return showHistory(context.Background(), db, cmd.OutOrStdout(), opts)
}

// parseHistoryOptions reads and validates the flags and arguments.
func parseHistoryOptions(cmd *cobra.Command, args []string) (historyOptions, error) {
	var opts historyOptions
	var err error

	flags := cmd.Flags()
	if opts.listSeeds, err = flags.GetBool("list-seeds"); err != nil {
		return opts, err
	}
	if opts.url, err = flags.GetString("url"); err != nil {
		return opts, err
	}
	if opts.runID, err = flags.GetInt64("run"); err != nil {
		return opts, err
	}
	if opts.compare, err = flags.GetBool("compare"); err != nil {
		return opts, err
	}
	if opts.json, err = flags.GetBool("json"); err != nil {
		return opts, err
	}
	if opts.markdown, err = flags.GetBool("markdown"); err != nil {
		return opts, err
	}
	if opts.dbDir, err = flags.GetString("db-dir"); err != nil {
		return opts, err
	}

	if opts.json && opts.markdown {
		return opts, config.ErrConflictingReportFormats
	}

	if len(args) > 0 {
		_, opts.seed, err = model.ParseURL(args[0])
		if err != nil {
			return opts, fmt.Errorf("invalid seed URL: %w", err)
		}
	}

	if opts.url != "" {
		_, opts.url, err = model.ParseURL(opts.url)
		if err != nil {
			return opts, fmt.Errorf("invalid --url: %w", err)
		}
	}

	if opts.compare && opts.seed == "" {
		return opts, errors.New("seed URL is required for --compare")
	}

	if opts.seed == "" && opts.url == "" && opts.runID == 0 {
		opts.listSeeds = true
	}

	return opts, nil
}

// showHistory dispatches to the requested view.
func showHistory(ctx context.Context, db *database.HistoryDB, out io.Writer, opts historyOptions) error {
	switch {
	case opts.listSeeds:
		return listHarvestedSeeds(ctx, db, out, opts.json)
	case opts.url != "":
		return showURLHistory(ctx, db, out, opts.url, opts.json)
	case opts.runID > 0:
		return showRun(ctx, db, out, opts)
	case opts.compare:
		return runComparison(ctx, db, out, opts)
	default:
		return listRunHistory(ctx, db, out, opts.seed, opts.json)
	}
}

// listHarvestedSeeds lists all seeds that have runs in the database.
func listHarvestedSeeds(ctx context.Context, db *database.HistoryDB, out io.Writer, jsonOutput bool) error {
	seeds, err := db.ListSeeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list seeds: %w", err)
	}

	if jsonOutput {
		if seeds == nil {
			seeds = []string{}
		}
		return writeJSON(out, seeds)
	}

	if len(seeds) == 0 {
		fmt.Fprintln(out, "No harvested seeds found in the database.")
		fmt.Fprintln(out, "\nUse 'harvest fetch <seed-url>' to harvest a site.")
		return nil
	}

	fmt.Fprintf(out, "Harvested seeds (%d):\n\n", len(seeds))
	for _, seed := range seeds {
		fmt.Fprintf(out, "  • %s\n", seed)
	}
	fmt.Fprintln(out, "\nUse 'harvest history <seed-url>' to see the runs of a seed.")

	return nil
}

// listRunHistory lists all runs of a seed, newest first.
func listRunHistory(ctx context.Context, db *database.HistoryDB, out io.Writer, seed string, jsonOutput bool) error {
	runs, err := db.GetRunHistory(ctx, seed)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	if jsonOutput {
		if runs == nil {
			runs = []database.RunMetadata{}
		}
		return writeJSON(out, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs found for %s\n", seed)
		fmt.Fprintln(out, "\nUse 'harvest fetch' to harvest this seed.")
		return nil
	}

	fmt.Fprintf(out, "Runs of %s (%d):\n\n", seed, len(runs))
	fmt.Fprintf(out, "  %-6s  %-20s  %-6s  %s\n", "ID", "Date", "Pages", "Outcomes")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 70))

	for _, meta := range runs {
		fmt.Fprintf(out, "  %-6d  %-20s  %-6d  %s\n",
			meta.ID,
			meta.StartedAt.Local().Format("2006-01-02 15:04:05"),
			meta.Pages,
			formatRunStatus(meta),
		)
	}

	fmt.Fprintln(out, "\nUse 'harvest history --run <id>' to see the report of a run.")
	fmt.Fprintln(out, "Use 'harvest history --compare <seed-url>' to compare the latest two runs.")

	return nil
}

// formatRunStatus formats the outcome counts of a run into a short string.
func formatRunStatus(meta database.RunMetadata) string {
	if meta.Error != "" {
		return "FAILED: " + meta.Error
	}

	var parts []string
	counts := []struct {
		kind  model.OutcomeKind
		label string
	}{
		{model.OutcomeSaved, "saved"},
		{model.OutcomeAlreadyPresent, "present"},
		{model.OutcomeWrongContentType, "wrong type"},
		{model.OutcomeTransportError, "errors"},
	}
	for _, c := range counts {
		if v := meta.Counts[c.kind.String()]; v > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", c.label, v))
		}
	}

	status := "no documents"
	if len(parts) > 0 {
		status = strings.Join(parts, " ")
	}
	if meta.DryRun {
		status = "dry run"
	}
	if meta.TimedOut {
		status += " (timed out)"
	}
	return status
}

// showURLHistory shows every recorded outcome of one URL.
func showURLHistory(ctx context.Context, db *database.HistoryDB, out io.Writer, rawURL string, jsonOutput bool) error {
	records, err := db.GetURLHistory(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to get URL history: %w", err)
	}

	if jsonOutput {
		if records == nil {
			records = []database.OutcomeRecord{}
		}
		return writeJSON(out, records)
	}

	if len(records) == 0 {
		fmt.Fprintf(out, "No outcomes recorded for %s\n", rawURL)
		return nil
	}

	fmt.Fprintf(out, "History of %s (%d):\n\n", rawURL, len(records))
	for _, rec := range records {
		fmt.Fprintf(out, "  run %-6d  %s  %-18s  %s\n",
			rec.RunID,
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Outcome.Kind,
			rec.Outcome.Detail(),
		)
	}

	return nil
}

// showRun renders a recorded run with the report writers.
func showRun(ctx context.Context, db *database.HistoryDB, out io.Writer, opts historyOptions) error {
	run, err := db.GetRunByID(ctx, opts.runID)
	if err != nil {
		return fmt.Errorf("failed to get run %d: %w", opts.runID, err)
	}
	if run == nil {
		return fmt.Errorf("run with ID %d not found", opts.runID)
	}

	var writer report.Writer
	switch {
	case opts.json:
		writer = report.NewFullJSONWriter(out, getVersion(), report.WithPrettyPrint())
	case opts.markdown:
		writer = report.NewMarkdownWriter(out)
	default:
		writer = report.NewSimpleWriter(out, report.WithVerbose(true))
	}

	_, err = writer.Write(run)
	return err
}

// runComparison compares the latest two runs of a seed.
func runComparison(ctx context.Context, db *database.HistoryDB, out io.Writer, opts historyOptions) error {
	history, err := db.GetRunHistory(ctx, opts.seed)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	if len(history) == 0 {
		return fmt.Errorf("no runs found for %s", opts.seed)
	}
	if len(history) < 2 {
		return fmt.Errorf("at least 2 runs are required for comparison (found %d)", len(history))
	}

	current, err := db.GetRunByID(ctx, history[0].ID)
	if err != nil {
		return fmt.Errorf("failed to get run %d: %w", history[0].ID, err)
	}
	previous, err := db.GetRunByID(ctx, history[1].ID)
	if err != nil {
		return fmt.Errorf("failed to get run %d: %w", history[1].ID, err)
	}
	if current == nil || previous == nil {
		return errors.New("run disappeared while comparing")
	}

	comparison := compareRuns(history[1].ID, previous, history[0].ID, current)

	switch {
	case opts.json:
		return writeJSON(out, comparison)
	case opts.markdown:
		return outputComparisonMarkdown(out, comparison)
	default:
		return outputComparisonText(out, comparison)
	}
}

// ComparisonResult holds the result of comparing two runs of a seed.
type ComparisonResult struct {
	// Seed is the harvested seed URL.
	Seed string `json:"seed"`

	// PreviousRun contains metadata about the older run.
	PreviousRun RunSnapshot `json:"previous_run"`

	// CurrentRun contains metadata about the newer run.
	CurrentRun RunSnapshot `json:"current_run"`

	// NewProblems are failures of the current run that the previous run
	// did not have.
	NewProblems []model.Outcome `json:"new_problems,omitempty"`

	// ResolvedProblems are failures of the previous run that are gone.
	ResolvedProblems []model.Outcome `json:"resolved_problems,omitempty"`

	// Saved lists the URLs the current run downloaded.
	Saved []string `json:"saved,omitempty"`

	// UnchangedCount is the number of failures present in both runs.
	UnchangedCount int `json:"unchanged_count"`

	// Trend is "improved", "worsened", or "unchanged".
	Trend string `json:"trend"`
}

// RunSnapshot contains the counts of one run for comparison display.
type RunSnapshot struct {
	// ID is the database ID of the run.
	ID int64 `json:"id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Saved is the number of documents written.
	Saved int `json:"saved"`

	// AlreadyPresent is the number of documents that were current.
	AlreadyPresent int `json:"already_present"`

	// WrongContentType is the number of unexpected media types.
	WrongContentType int `json:"wrong_content_type"`

	// Errors is the number of transport errors.
	Errors int `json:"errors"`
}

// snapshotOf builds the snapshot of a stored run.
func snapshotOf(id int64, run *model.Run) RunSnapshot {
	summary := run.Summary
	if summary == nil {
		summary = run.Summarize()
	}
	return RunSnapshot{
		ID:               id,
		StartedAt:        run.StartedAt,
		Saved:            summary.Saved,
		AlreadyPresent:   summary.AlreadyPresent,
		WrongContentType: summary.WrongContentType,
		Errors:           summary.Errors,
	}
}

// failures returns the outcomes of a run that need attention, keyed by
// problemKey.
func failures(run *model.Run) map[string]model.Outcome {
	result := make(map[string]model.Outcome)
	for _, o := range run.Outcomes {
		if o.Kind == model.OutcomeTransportError || o.Kind == model.OutcomeWrongContentType {
			result[problemKey(o)] = o
		}
	}
	return result
}

// problemKey identifies a failure across runs.
func problemKey(o model.Outcome) string {
	return o.Kind.String() + "|" + o.URL
}

// compareRuns compares two runs of the same seed.
func compareRuns(previousID int64, previous *model.Run, currentID int64, current *model.Run) *ComparisonResult {
	result := &ComparisonResult{
		Seed:        current.Seed,
		PreviousRun: snapshotOf(previousID, previous),
		CurrentRun:  snapshotOf(currentID, current),
	}

	previousFailures := failures(previous)
	currentFailures := failures(current)

	for key, o := range currentFailures {
		if _, exists := previousFailures[key]; !exists {
			result.NewProblems = append(result.NewProblems, o)
		}
	}
	for key, o := range previousFailures {
		if _, exists := currentFailures[key]; exists {
			result.UnchangedCount++
		} else {
			result.ResolvedProblems = append(result.ResolvedProblems, o)
		}
	}

	// Map iteration order is random; sort for stable output.
	sortOutcomes(result.NewProblems)
	sortOutcomes(result.ResolvedProblems)

	for _, o := range current.Outcomes {
		if o.Kind == model.OutcomeSaved {
			result.Saved = append(result.Saved, o.URL)
		}
	}
	sort.Strings(result.Saved)

	result.Trend = calculateTrend(result.PreviousRun, result.CurrentRun)

	return result
}

// sortOutcomes sorts outcomes by URL, then kind.
func sortOutcomes(outcomes []model.Outcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].URL != outcomes[j].URL {
			return outcomes[i].URL < outcomes[j].URL
		}
		return outcomes[i].Kind < outcomes[j].Kind
	})
}

// calculateTrend compares the failure counts of two runs.
// Transport errors weigh more than wrong content types because they may
// hide documents entirely.
func calculateTrend(previous, current RunSnapshot) string {
	previousScore := previous.Errors*10 + previous.WrongContentType
	currentScore := current.Errors*10 + current.WrongContentType

	switch {
	case currentScore < previousScore:
		return trendImproved
	case currentScore > previousScore:
		return trendWorsened
	default:
		return trendUnchanged
	}
}

// outputComparisonText outputs the comparison in human-readable text format.
func outputComparisonText(out io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(out, "Run Comparison: %s\n", result.Seed)
	fmt.Fprintln(out, strings.Repeat("=", 60))

	fmt.Fprintf(out, "\nTrend: %s\n", formatTrend(result.Trend))

	fmt.Fprintf(out, "\nPrevious run: #%d %s\n", result.PreviousRun.ID,
		result.PreviousRun.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Current run:  #%d %s\n", result.CurrentRun.ID,
		result.CurrentRun.StartedAt.Local().Format("2006-01-02 15:04:05"))

	fmt.Fprintln(out, "\nOutcome Summary:")
	fmt.Fprintf(out, "  %-20s  %-10s  %-10s  %-10s\n", "Outcome", "Previous", "Current", "Change")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 55))
	for _, row := range comparisonRows(result) {
		fmt.Fprintf(out, "  %-20s  %-10d  %-10d  %-10s\n", row.label, row.previous, row.current,
			formatDelta(row.current-row.previous))
	}

	if len(result.NewProblems) > 0 {
		fmt.Fprintf(out, "\nNew Problems (%d):\n", len(result.NewProblems))
		for _, o := range result.NewProblems {
			fmt.Fprintf(out, "  [+] %s\n      %s\n", o.URL, o.Detail())
		}
	}

	if len(result.ResolvedProblems) > 0 {
		fmt.Fprintf(out, "\nResolved Problems (%d):\n", len(result.ResolvedProblems))
		for _, o := range result.ResolvedProblems {
			fmt.Fprintf(out, "  [-] %s\n", o.URL)
		}
	}

	if len(result.Saved) > 0 {
		fmt.Fprintf(out, "\nSaved in the current run (%d):\n", len(result.Saved))
		for _, u := range result.Saved {
			fmt.Fprintf(out, "  [*] %s\n", u)
		}
	}

	if result.UnchangedCount > 0 {
		fmt.Fprintf(out, "\nUnchanged: %d problems\n", result.UnchangedCount)
	}

	return nil
}

// outputComparisonMarkdown outputs the comparison in Markdown format.
func outputComparisonMarkdown(out io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(out, "# Run Comparison: %s\n\n", result.Seed)

	fmt.Fprintln(out, "## Summary")
	fmt.Fprintf(out, "\n**Trend:** %s\n\n", formatTrend(result.Trend))

	fmt.Fprintln(out, "| Outcome | Previous | Current | Change |")
	fmt.Fprintln(out, "|---------|----------|---------|--------|")
	fmt.Fprintf(out, "| Date | %s | %s | - |\n",
		result.PreviousRun.StartedAt.Format("2006-01-02 15:04"),
		result.CurrentRun.StartedAt.Format("2006-01-02 15:04"))
	for _, row := range comparisonRows(result) {
		fmt.Fprintf(out, "| %s | %d | %d | %s |\n", row.label, row.previous, row.current,
			formatDelta(row.current-row.previous))
	}

	if len(result.NewProblems) > 0 {
		fmt.Fprintf(out, "\n## New Problems (%d)\n\n", len(result.NewProblems))
		for _, o := range result.NewProblems {
			fmt.Fprintf(out, "- **[%s]** `%s`: %s\n", o.Kind, o.URL, o.Detail())
		}
	}

	if len(result.ResolvedProblems) > 0 {
		fmt.Fprintf(out, "\n## Resolved Problems (%d)\n\n", len(result.ResolvedProblems))
		for _, o := range result.ResolvedProblems {
			fmt.Fprintf(out, "- ~~**[%s]** `%s`~~\n", o.Kind, o.URL)
		}
	}

	if result.UnchangedCount > 0 {
		fmt.Fprintf(out, "\n---\n\n*%d problems unchanged*\n", result.UnchangedCount)
	}

	return nil
}

// comparisonRow is one line of the outcome comparison table.
type comparisonRow struct {
	label             string
	previous, current int
}

// comparisonRows returns the outcome counts of both runs side by side.
func comparisonRows(result *ComparisonResult) []comparisonRow {
	p, c := result.PreviousRun, result.CurrentRun
	return []comparisonRow{
		{"Saved", p.Saved, c.Saved},
		{"Already present", p.AlreadyPresent, c.AlreadyPresent},
		{"Wrong content type", p.WrongContentType, c.WrongContentType},
		{"Errors", p.Errors, c.Errors},
	}
}

// formatTrend formats the trend for display.
func formatTrend(trend string) string {
	switch trend {
	case trendImproved:
		return "IMPROVED (fewer problems)"
	case trendWorsened:
		return "WORSENED (more problems)"
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}

// writeJSON writes v as indented JSON.
func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
