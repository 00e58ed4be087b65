package main

import (
	"errors"
	"fmt"
	"os"

	harvestlog "github.com/nao1215/harvest/internal/log"
	"github.com/spf13/cobra"
)

// errHarvestProblems is returned when a run finished but some URLs could not
// be fetched. The report has already been written, so only the exit code
// carries it.
var errHarvestProblems = errors.New("harvest finished with errors")

// NewRootCmd creates the root command for harvest.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Crawl a website and download the documents it links to",
		Long: `harvest crawls a website below a seed URL, collects every link to a
document (PDF by default) and downloads the documents that are missing
locally or newer on the server. Files are saved below a destination
directory that mirrors the URL paths.

Authenticated sites are supported by replaying a session cookie or
headers obtained elsewhere; harvest never logs in itself.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-format", string(harvestlog.FormatText),
		"Log format on stderr: text or json")

	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errHarvestProblems) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
