// Package cli implements the slabquote command-line interface.
//
// Commands:
//   - optimise: pack a piece list from CSV or XLSX and write the layout
//   - compare: run what-if scenarios (thinner blade, no rotation) side by side
//   - serve: run the HTTP API, the re-optimisation scheduler and the AMQP bridge
//
// All commands accept --verbose (-v) for debug logging. The logger travels
// through the command context.
package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/piwi3910/SlabQuote/internal/logging"
)

var (
	version string // semantic version (e.g., "v1.2.3")
	commit  string // git commit SHA
	date    string // build timestamp
)

// SetVersion sets the version information displayed by --version. main
// calls it with values injected via ldflags.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "slabquote",
		Short:        "SlabQuote nests stone benchtops onto slabs for quoting",
		Long:         `SlabQuote packs ordered benchtops, splashbacks and their lamination strips onto stone slabs and keeps each quote's layout up to date as pieces change.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if verbose {
				level = log.DebugLevel
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), logging.New(cmd.ErrOrStderr(), level)))
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("slabquote %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newOptimiseCmd())
	root.AddCommand(newCompareCmd())
	root.AddCommand(newServeCmd())

	return root
}

// Execute runs the CLI with ctx as the root context.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
