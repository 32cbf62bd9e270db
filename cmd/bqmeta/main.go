// Package main implements the bqmeta binary: the metadata sync job with
// one-shot, HTTP and maintenance entry points.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/config"
	"github.com/bqeco/bqmeta/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

// cli holds state shared by the subcommands.
type cli struct {
	configFile string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "bqmeta",
		Short:         "Sync warehouse table metadata into the web app bucket",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `bqmeta scans the configured warehouse projects and publishes the table
metadata, facet filters, version index and join examples consumed by the
search front end.

Configuration comes from an optional YAML or JSON file, then from the
environment (STATIC_BUCKET_NAME, METADATA_FILE_PATH, BQ_PROJECT_NAMES, ...).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		c.runCmd(),
		c.serveCmd(),
		c.convertJoinsCmd(),
		c.snapshotCmd(),
	)
	return root
}

// init loads configuration from file and environment, flags last.
func (c *cli) init() error {
	var err error
	if c.configFile != "" {
		c.cfg, err = config.LoadFromFile(c.configFile)
		if err != nil {
			return err
		}
	} else {
		c.cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(c.cfg)
	if c.logLevel != "" {
		c.cfg.Log.Level = c.logLevel
	}

	c.logger, err = observability.NewLogger(c.cfg.Log.Level)
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
