package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "mia-core"
	version = "v1.0.0"
)

func main() {
	setupLogging()

	rootCmd := &cobra.Command{
		Use:     "miacore",
		Short:   "Market microstructure decision pipeline",
		Version: version,
		Long: `mia-core turns market snapshots into audited trading decisions.

Each run passes one tick through staleness gating, order-flow signal
extraction, VIX regime tracking and composite scoring, then applies
the decision policy and records per-stage latency.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	// Plain JSON when output is piped, console format on a TTY.
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func applyLogLevel(cmd *cobra.Command) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		log.Warn().Str("level", levelStr).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(level)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}
}
