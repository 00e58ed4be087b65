package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information set at build time via ldflags, e.g.
//
//	go build -ldflags "-X main.version=v1.2.0 -X main.commit=abc1234"
var (
	version = ""
	commit  = ""
	date    = ""
)

// buildSetting returns the value of a VCS setting embedded by the Go
// toolchain, or "" when the binary carries no build info.
func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// firstNonEmpty returns the first non-empty value, or fallback.
func firstNonEmpty(fallback string, values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return fallback
}

// getVersion returns the version string.
// Priority: ldflags > module version > "(devel)"
func getVersion() string {
	var moduleVersion string
	if info, ok := debug.ReadBuildInfo(); ok {
		moduleVersion = info.Main.Version
	}
	return firstNonEmpty("(devel)", version, moduleVersion)
}

// getCommit returns the short commit hash.
// Priority: ldflags > vcs.revision > "unknown"
func getCommit() string {
	rev := buildSetting("vcs.revision")
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return firstNonEmpty("unknown", commit, rev)
}

// getDate returns the build date.
// Priority: ldflags > vcs.time > "unknown"
func getDate() string {
	return firstNonEmpty("unknown", date, buildSetting("vcs.time"))
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of harvest.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "harvest version %s\n", getVersion())
			fmt.Fprintf(out, "  commit: %s\n", getCommit())
			fmt.Fprintf(out, "  built:  %s\n", getDate())
		},
	}
}
