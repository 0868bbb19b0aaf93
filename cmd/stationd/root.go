package main

import (
	"fmt"
	"os"
	"time"

	"stationbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type globalFlags struct {
	configPath string
	debug      bool
	jsonLogs   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "stationd",
		Short:         "Station availability and session scheduling for gaming cafes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("STATIONBOOK_CONFIG"), "path to config.yaml")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "write logs as JSON instead of console output")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newReconcileCmd(flags))
	root.AddCommand(newFixCmd(flags))
	root.AddCommand(newExportCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stationd %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}

func newLogger(flags *globalFlags) zerolog.Logger {
	level := zerolog.InfoLevel
	if flags.debug {
		level = zerolog.DebugLevel
	}
	if flags.jsonLogs {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
