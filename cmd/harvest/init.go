package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/harvest/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/harvest.yaml
var configTemplate embed.FS

// templatePath is the path of the configuration template in configTemplate.
const templatePath = "templates/harvest.yaml"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a commented .harvest configuration file",
		Long: `Init writes a .harvest configuration file to the current directory.

The file documents every per-site setting with commented examples:
- Session cookies and headers for authenticated sites
- Scope selector, document suffixes and accepted content types
- Crawl depth, root and URL patterns

Examples:
  # Create .harvest in the current directory
  harvest init

  # Create the file at a specific path
  harvest init -o ~/.config/harvest/config.yaml

  # Overwrite an existing file
  harvest init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if err := writeConfigTemplate(outputPath, force); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to configure per-site settings such as:")
	fmt.Fprintln(out, "  - Session cookies and headers")
	fmt.Fprintln(out, "  - The page region and document types to collect")
	fmt.Fprintln(out, "  - Crawl depth and URL patterns to ignore or follow")

	return nil
}

// writeConfigTemplate writes the embedded template to path. An existing file
// is only replaced when force is set.
func writeConfigTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", path)
		}
	}

	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// The file may end up holding session cookies, so it is private.
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}
