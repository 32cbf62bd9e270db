package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/app"
	"github.com/bqeco/bqmeta/internal/joins"
)

// errRunFailed makes the process exit non-zero after the result is printed.
var errRunFailed = errors.New("run failed")

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
}

// openApp builds the App and connects its backends.
func (c *cli) openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.RunOnce(ctx, "cli")
			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Code != 200 {
				return errRunFailed
			}
			return nil
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger (POST /run, GET /health, GET /metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.HTTP.Addr = addr
			}
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from BQMETA_HTTP_ADDR or :8080)")
	return cmd
}

func (c *cli) convertJoinsCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "convert-joins FILE",
		Short: "Convert a local join example sheet to JSON on stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			conv := joins.Converter{ProjectPrefix: c.cfg.Artifacts.JoinsProjectPrefix}
			if cmd.Flags().Changed("prefix") {
				conv.ProjectPrefix = prefix
			}
			entries, rows, err := conv.Convert(f)
			if err != nil {
				return err
			}
			c.logger.Info("join examples converted",
				zap.String("file", args[0]),
				zap.Int("rows", rows),
				zap.Int("tables", len(entries)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Project whose dotted table references become project:dataset")
	return cmd
}

func (c *cli) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot OUT.db",
		Short: "Copy the configured warehouse projects into a SQLite catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Snapshot(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d datasets, %d tables -> %s\n", stats.Datasets, stats.Tables, args[0])
			return nil
		},
	}
}
