package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nao1215/harvest/internal/config"
)

// TestNewInitCmd tests the init command flags.
func TestNewInitCmd(t *testing.T) {
	t.Parallel()

	cmd := NewInitCmd()
	if cmd.Use != "init" {
		t.Errorf("Use = %q, want init", cmd.Use)
	}

	flags := map[string][2]string{
		"output": {"o", config.DefaultConfigFile},
		"force":  {"f", "false"},
	}
	for name, want := range flags {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Errorf("missing --%s", name)
			continue
		}
		if got := [2]string{flag.Shorthand, flag.DefValue}; got != want {
			t.Errorf("--%s: shorthand and default %v, want %v", name, got, want)
		}
	}
}

// TestRunInitCmd tests the init command execution.
func TestRunInitCmd(t *testing.T) {
	t.Parallel()

	t.Run("creates config file", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), ".harvest")

		var out bytes.Buffer
		cmd := NewInitCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"-o", outputPath})

		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		content, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		for _, key := range []string{"defaults:", "sites:"} {
			if !strings.Contains(string(content), key) {
				t.Errorf("expected config to contain %q", key)
			}
		}
		if !strings.Contains(out.String(), outputPath) {
			t.Errorf("expected output to mention %s, got %q", outputPath, out.String())
		}
	})

	t.Run("template loads as a config file", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), ".harvest")

		if err := writeConfigTemplate(outputPath, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := config.LoadConfigFile(outputPath); err != nil {
			t.Errorf("template is not a valid config file: %v", err)
		}
	})

	t.Run("fails if file exists without force", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), ".harvest")
		if err := os.WriteFile(outputPath, []byte("existing"), 0600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		err := writeConfigTemplate(outputPath, false)
		if err == nil {
			t.Fatal("expected error when file exists")
		}
		if !strings.Contains(err.Error(), "already exists") {
			t.Errorf("expected 'already exists' error, got %v", err)
		}

		content, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if string(content) != "existing" {
			t.Error("existing file was modified")
		}
	})

	t.Run("overwrites file with force flag", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), ".harvest")
		if err := os.WriteFile(outputPath, []byte("existing"), 0600); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		var out bytes.Buffer
		cmd := NewInitCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"-o", outputPath, "-f"})

		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		content, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if string(content) == "existing" {
			t.Error("expected file to be overwritten")
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

		if err := writeConfigTemplate(outputPath, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(outputPath)
		if err != nil {
			t.Fatalf("expected config file: %v", err)
		}
		if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
			t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
		}
	})
}
