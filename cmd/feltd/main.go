// Feltd is the felt-state convergence daemon.
//
// Usage:
//
//	# Start the HTTP API
//	feltd serve
//
//	# Run one turn in-process and print the response as JSON
//	echo "I can't sleep since the move" | feltd turn --user alice
//
//	# Same, against a running server
//	feltd turn --server http://localhost:8420 --user alice "I can't sleep"
//
//	# Summarise persisted state
//	feltd stats
//
// Configuration is read from ~/.config/feltd/config.yaml and FELT_*
// environment variables. See internal/config.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/feltd/internal/config"
	"github.com/fyrsmithlabs/feltd/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag; empty means config.DefaultPath.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "feltd",
		Short: "Felt-state convergence and learning engine",
		Long: `feltd converges a set of felt-state evaluators over each conversational
turn, learns signature families and evaluator coupling across turns, tracks
the people and places a user mentions, and emits a response.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/feltd/config.yaml)")
	root.AddCommand(newServeCmd(), newTurnCmd(), newStatsCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "feltd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// cliLogger writes warnings and above to stderr so one-shot commands keep
// stdout for their JSON output.
func cliLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stream = "stderr"
	if logCfg.Level < zapcore.WarnLevel {
		logCfg.Level = zapcore.WarnLevel
	}
	return logging.NewLogger(logCfg, nil)
}
