package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// skipIfShort skips the test if -short flag is set.
func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// executeRoot runs the root command with args and returns stdout and stderr.
func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// TestIntegration_FetchAndHistory harvests the test site twice through the
// command line and inspects the recorded history.
func TestIntegration_FetchAndHistory(t *testing.T) {
	skipIfShort(t)
	t.Parallel()

	site := newDocSite(t)
	seed := site.URL + "/docs/"
	dest := t.TempDir()
	dbDir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), ".harvest")
	configContent := "sites:\n  " + site.host() + ":\n    selector: \"div#content\"\n"
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	fetchArgs := []string{
		"fetch",
		"-c", configPath,
		"-o", dest,
		"--db-dir", dbDir,
		"-t", "5s",
		seed,
	}

	t.Run("first fetch saves documents", func(t *testing.T) {
		stdout, stderr, err := executeRoot(t, fetchArgs...)
		if err != nil {
			t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr)
		}

		for _, name := range []string{"a.pdf", "b.pdf"} {
			if _, err := os.Stat(filepath.Join(dest, site.host(), "docs", name)); err != nil {
				t.Errorf("expected %s to be saved: %v", name, err)
			}
		}
		// The site configuration narrows the scope to div#content.
		if _, err := os.Stat(filepath.Join(dest, site.host(), "docs", "nav.pdf")); !os.IsNotExist(err) {
			t.Error("nav.pdf is outside the configured selector")
		}

		if !strings.Contains(stderr, "2 saved") {
			t.Errorf("expected progress on stderr, got %q", stderr)
		}
		if !strings.Contains(stdout, "fake.pdf") {
			t.Errorf("expected report on stdout, got %q", stdout)
		}
	})

	t.Run("second fetch keeps current documents", func(t *testing.T) {
		_, stderr, err := executeRoot(t, append(fetchArgs, "--json")...)
		if err != nil {
			t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr)
		}
		if !strings.Contains(stderr, "0 saved, 2 already present") {
			t.Errorf("expected documents to be already present, got %q", stderr)
		}
	})

	t.Run("history lists both runs", func(t *testing.T) {
		stdout, _, err := executeRoot(t, "history", "--db-dir", dbDir, "--json", seed)
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}

		var runs []struct {
			ID     int64          `json:"id"`
			Counts map[string]int `json:"counts"`
		}
		if err := json.Unmarshal([]byte(stdout), &runs); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, stdout)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].Counts["already_present"] != 2 || runs[1].Counts["saved"] != 2 {
			t.Errorf("unexpected counts: %+v", runs)
		}
	})

	t.Run("history compares the runs", func(t *testing.T) {
		stdout, _, err := executeRoot(t, "history", "--db-dir", dbDir, "--compare", seed)
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(stdout, "UNCHANGED") {
			t.Errorf("expected unchanged trend, got %q", stdout)
		}
	})

	t.Run("history lists the seed", func(t *testing.T) {
		stdout, _, err := executeRoot(t, "history", "--db-dir", dbDir)
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(stdout, seed) {
			t.Errorf("expected seed in %q", stdout)
		}
	})
}

// TestIntegration_FetchFailures tests the exit status of failed harvests.
func TestIntegration_FetchFailures(t *testing.T) {
	skipIfShort(t)
	t.Parallel()

	site := newDocSite(t)

	emptyConfig := filepath.Join(t.TempDir(), ".harvest")
	if err := os.WriteFile(emptyConfig, []byte("sites: {}\n"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Run("broken link", func(t *testing.T) {
		t.Parallel()

		_, _, err := executeRoot(t, "fetch", "-c", emptyConfig, "--no-history",
			"-o", t.TempDir(), site.URL+"/broken/")
		if !errors.Is(err, errHarvestProblems) {
			t.Errorf("expected errHarvestProblems, got %v", err)
		}
	})

	t.Run("no seed", func(t *testing.T) {
		t.Parallel()

		_, _, err := executeRoot(t, "fetch", "-c", emptyConfig, "--no-history")
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("conflicting report formats", func(t *testing.T) {
		t.Parallel()

		_, _, err := executeRoot(t, "fetch", "-c", emptyConfig, "--no-history",
			"-j", "-m", site.URL+"/docs/")
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}
