package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/harvest/internal/database"
	"github.com/nao1215/harvest/internal/model"
)

const historySeed = "https://docs.example.com/papers/"

// newHistoryRun builds a run of historySeed started at the given time.
func newHistoryRun(startedAt time.Time, outcomes ...model.Outcome) *model.Run {
	run := model.NewRun(historySeed)
	run.StartedAt = startedAt
	run.Pages[historySeed] = model.NewURLSet()
	run.Outcomes = append(run.Outcomes, outcomes...)
	run.Summarize()
	return run
}

// newHistoryDB opens a database in a temporary directory holding two runs of
// historySeed. The second run fixed b.pdf and broke c.pdf.
func newHistoryDB(t *testing.T) (*database.HistoryDB, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := []*model.Run{
		newHistoryRun(base,
			model.Saved(historySeed+"a.pdf", "/tmp/a.pdf", base, 100, ""),
			model.TransportError(historySeed+"b.pdf", model.SourceDownload, 500, "Internal Server Error"),
			model.WrongContentType(historySeed+"fake.pdf", "text/html"),
		),
		newHistoryRun(base.Add(24*time.Hour),
			model.AlreadyPresent(historySeed+"a.pdf", "/tmp/a.pdf", base, base),
			model.Saved(historySeed+"b.pdf", "/tmp/b.pdf", base, 200, ""),
			model.TransportError(historySeed+"c.pdf", model.SourceDownload, 404, "Not Found"),
			model.TransportError(historySeed+"d.pdf", model.SourceDownload, 404, "Not Found"),
			model.WrongContentType(historySeed+"fake.pdf", "text/html"),
		),
	}
	for _, run := range runs {
		if _, err := db.SaveRun(context.Background(), run); err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}

	return db, dir
}

// TestNewHistoryCmd tests the history command creation.
func TestNewHistoryCmd(t *testing.T) {
	t.Parallel()

	cmd := NewHistoryCmd()
	if cmd.Use != "history [seed-url]" {
		t.Errorf("expected use 'history [seed-url]', got %q", cmd.Use)
	}
	for _, name := range []string{"list-seeds", "url", "run", "compare", "json", "markdown", "db-dir"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag %q", name)
		}
	}
}

// TestParseHistoryOptions tests flag validation of the history command.
func TestParseHistoryOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   []string
		args    []string
		wantErr bool
		check   func(t *testing.T, opts historyOptions)
	}{
		{
			name: "no arguments lists seeds",
			check: func(t *testing.T, opts historyOptions) {
				t.Helper()
				if !opts.listSeeds {
					t.Error("expected listSeeds")
				}
			},
		},
		{
			name: "seed is normalized",
			args: []string{"HTTPS://Docs.Example.com/papers/#latest"},
			check: func(t *testing.T, opts historyOptions) {
				t.Helper()
				if opts.seed != historySeed || opts.listSeeds {
					t.Errorf("unexpected options: %+v", opts)
				}
			},
		},
		{
			name:  "run id",
			flags: []string{"--run", "7"},
			check: func(t *testing.T, opts historyOptions) {
				t.Helper()
				if opts.runID != 7 || opts.listSeeds {
					t.Errorf("unexpected options: %+v", opts)
				}
			},
		},
		{
			name:    "compare needs a seed",
			flags:   []string{"--compare"},
			wantErr: true,
		},
		{
			name:    "conflicting formats",
			flags:   []string{"--json", "--markdown"},
			args:    []string{historySeed},
			wantErr: true,
		},
		{
			name:    "invalid seed",
			args:    []string{"not a url"},
			wantErr: true,
		},
		{
			name:    "invalid url",
			flags:   []string{"--url", "ftp://example.com/a.pdf"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := NewHistoryCmd()
			if err := cmd.ParseFlags(tt.flags); err != nil {
				t.Fatalf("failed to parse flags: %v", err)
			}

			opts, err := parseHistoryOptions(cmd, tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, opts)
		})
	}
}

// TestShowHistory tests every view of the history command.
func TestShowHistory(t *testing.T) {
	t.Parallel()

	db, _ := newHistoryDB(t)
	ctx := context.Background()

	t.Run("lists seeds", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{listSeeds: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "Harvested seeds (1)") || !strings.Contains(buf.String(), historySeed) {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	t.Run("lists seeds as JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{listSeeds: true, json: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var seeds []string
		if err := json.Unmarshal(buf.Bytes(), &seeds); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(seeds) != 1 || seeds[0] != historySeed {
			t.Errorf("unexpected seeds: %v", seeds)
		}
	})

	t.Run("lists runs newest first", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{seed: historySeed}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := buf.String()
		if !strings.Contains(out, "(2)") {
			t.Errorf("expected two runs, got %q", out)
		}
		newest := strings.Index(out, "present:1")
		oldest := strings.Index(out, "saved:1 wrong type:1 errors:1")
		if newest < 0 || oldest < 0 || newest > oldest {
			t.Errorf("expected newest run first, got %q", out)
		}
	})

	t.Run("lists runs as JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{seed: historySeed, json: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var runs []database.RunMetadata
		if err := json.Unmarshal(buf.Bytes(), &runs); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(runs) != 2 || runs[0].Counts["transport_error"] != 2 {
			t.Errorf("unexpected runs: %+v", runs)
		}
	})

	t.Run("unknown seed", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{seed: "https://other.example/"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No runs found") {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	t.Run("shows URL history", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{url: historySeed + "b.pdf"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		saved := strings.Index(out, "saved 200 bytes")
		failed := strings.Index(out, "HTTP 500")
		if saved < 0 || failed < 0 || saved > failed {
			t.Errorf("expected newest outcome first, got %q", out)
		}
	})

	t.Run("shows a run", func(t *testing.T) {
		t.Parallel()

		history, err := db.GetRunHistory(ctx, historySeed)
		if err != nil {
			t.Fatalf("failed to get history: %v", err)
		}

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{runID: history[0].ID, markdown: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "Harvest Report") || !strings.Contains(buf.String(), "c.pdf") {
			t.Errorf("unexpected report: %q", buf.String())
		}
	})

	t.Run("missing run", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		err := showHistory(ctx, db, &buf, historyOptions{runID: 9999})
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("compares the latest two runs", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{seed: historySeed, compare: true, json: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var result ComparisonResult
		if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if result.Trend != trendWorsened {
			t.Errorf("expected trend %q, got %q", trendWorsened, result.Trend)
		}
		if len(result.NewProblems) != 2 || result.NewProblems[0].URL != historySeed+"c.pdf" {
			t.Errorf("unexpected new problems: %+v", result.NewProblems)
		}
		if len(result.ResolvedProblems) != 1 || result.ResolvedProblems[0].URL != historySeed+"b.pdf" {
			t.Errorf("unexpected resolved problems: %+v", result.ResolvedProblems)
		}
		if result.UnchangedCount != 1 {
			t.Errorf("expected 1 unchanged problem, got %d", result.UnchangedCount)
		}
		if result.PreviousRun.ID >= result.CurrentRun.ID {
			t.Errorf("expected previous run before current run, got %d and %d",
				result.PreviousRun.ID, result.CurrentRun.ID)
		}
	})

	t.Run("comparison as text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{seed: historySeed, compare: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{"WORSENED", "New Problems (2)", "Resolved Problems (1)", "Unchanged: 1"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output, got %q", want, out)
			}
		}
	})

	t.Run("comparison as markdown", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := showHistory(ctx, db, &buf, historyOptions{seed: historySeed, compare: true, markdown: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "# Run Comparison") || !strings.Contains(buf.String(), "| Errors | 1 | 2 | +1 |") {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	t.Run("comparison needs two runs", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		err := showHistory(ctx, db, &buf, historyOptions{seed: "https://other.example/", compare: true})
		if err == nil {
			t.Error("expected error without runs")
		}
	})
}

// TestRunHistoryCmd tests the history command end to end.
func TestRunHistoryCmd(t *testing.T) {
	t.Parallel()

	_, dir := newHistoryDB(t)

	var buf bytes.Buffer
	cmd := NewHistoryCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--db-dir", dir, historySeed})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Runs of "+historySeed) {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

// TestCalculateTrend tests the trend decision.
func TestCalculateTrend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		previous RunSnapshot
		current  RunSnapshot
		want     string
	}{
		{"unchanged", RunSnapshot{Errors: 1}, RunSnapshot{Errors: 1}, trendUnchanged},
		{"fewer errors", RunSnapshot{Errors: 2}, RunSnapshot{Errors: 1}, trendImproved},
		{"more wrong types", RunSnapshot{}, RunSnapshot{WrongContentType: 1}, trendWorsened},
		{"errors outweigh wrong types", RunSnapshot{Errors: 1}, RunSnapshot{WrongContentType: 5}, trendImproved},
		{"saved documents do not count", RunSnapshot{Saved: 10}, RunSnapshot{Saved: 0}, trendUnchanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := calculateTrend(tt.previous, tt.current); got != tt.want {
				t.Errorf("calculateTrend() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestFormatRunStatus tests the status column of the run list.
func TestFormatRunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta database.RunMetadata
		want string
	}{
		{
			name: "counts",
			meta: database.RunMetadata{Counts: map[string]int{"saved": 2, "transport_error": 1}},
			want: "saved:2 errors:1",
		},
		{
			name: "empty",
			meta: database.RunMetadata{Counts: map[string]int{}},
			want: "no documents",
		},
		{
			name: "failed",
			meta: database.RunMetadata{Error: "seed unreachable"},
			want: "FAILED: seed unreachable",
		},
		{
			name: "timed out dry run",
			meta: database.RunMetadata{DryRun: true, TimedOut: true},
			want: "dry run (timed out)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatRunStatus(tt.meta); got != tt.want {
				t.Errorf("formatRunStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestFormatDelta tests signed delta formatting.
func TestFormatDelta(t *testing.T) {
	t.Parallel()

	for delta, want := range map[int]string{3: "+3", 0: "0", -2: "-2"} {
		if got := formatDelta(delta); got != want {
			t.Errorf("formatDelta(%d) = %q, want %q", delta, got, want)
		}
	}
}
