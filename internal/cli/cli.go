// Package cli provides the fedra command-line interface: query execution
// against a configured federation, member validation, diagnostics.
package cli

import (
	"fmt"
	"os"

	"github.com/els0r/telemetry/logging"
	"github.com/spf13/cobra"

	"github.com/canonica-labs/fedra/internal/errors"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command

	// global flags
	membersPath string
	sparqlURLs  []string
	enginePath  string
	verbose     int
	logToFile   bool
}

// New creates a new CLI instance.
func New() *CLI {
	c := &CLI{}
	c.rootCmd = c.newRootCmd()
	return c
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	if err := c.rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fedra: %v\n", err)
		return errors.ExitCode(err)
	}
	return 0
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fedra",
		Short: "Federated SPARQL query engine",
		Long: `fedra answers SPARQL queries by distributing their evaluation across a
set of independent RDF endpoints and merging the partial results into
one result set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setupLogging()
		},
	}

	pflags := cmd.PersistentFlags()
	pflags.StringVarP(&c.membersPath, "members", "d", "", "federation members file (YAML)")
	pflags.StringArrayVarP(&c.sparqlURLs, "sparql", "s", nil, "ad hoc SPARQL endpoint URL (repeatable)")
	pflags.StringVarP(&c.enginePath, "config", "c", "", "engine properties file")
	pflags.IntVar(&c.verbose, "verbose", 0, "verbosity (0=warn, 1=info, 2=debug)")
	pflags.BoolVar(&c.logToFile, "logtofile", false, "write logs to fedra.log instead of stderr")

	cmd.AddCommand(
		c.newQueryCmd(),
		c.newMembersCmd(),
		c.newVersionCmd(),
	)
	return cmd
}

func (c *CLI) setupLogging() error {
	level := logging.LevelWarn
	switch {
	case c.verbose >= 2:
		level = logging.LevelDebug
	case c.verbose == 1:
		level = logging.LevelInfo
	}

	out := os.Stderr
	if c.logToFile {
		f, err := os.OpenFile("fedra.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.NewConfig("logtofile", err.Error())
		}
		out = f
	}

	_, err := logging.Init(level, logging.EncodingLogfmt,
		logging.WithVersion(Version),
		logging.WithOutput(out),
		logging.WithErrorOutput(out),
	)
	return err
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fedra %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
