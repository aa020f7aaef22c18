package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/newscluster/internal/config"
)

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster every configured category once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if date, _ := cmd.Flags().GetString("date"); date != "" {
				if _, err := time.Parse(config.DateFormat, date); err != nil {
					return fmt.Errorf("--date must look like %s", config.DateFormat)
				}
				a.cfg.Date = date
			}
			categories := a.cfg.Categories
			if only, _ := cmd.Flags().GetStringSlice("category"); len(only) > 0 {
				for _, c := range only {
					if err := config.ValidateCategory(c); err != nil {
						return err
					}
				}
				categories = only
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runCluster(ctx, cmd, a, categories)
		},
	}
	cmd.Flags().String("date", "", "Process the dated directory for this day (YYYY-MM-DD) instead of today")
	cmd.Flags().StringSlice("category", nil, "Limit the run to these categories")
	return cmd
}

func runCluster(ctx context.Context, cmd *cobra.Command, a *app, categories []string) error {
	base := a.cfg.BaseDir(time.Now())
	log.Info().Str("base", base).Strs("categories", categories).Msg("clustering started")

	result, err := a.pipeline.Run(ctx, base, categories)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range result.Categories {
		status := "ok"
		if c.Failed() {
			status = "FAILED"
		}
		persisted, leaves := 0, 0
		if c.Report != nil {
			persisted = c.Report.RecordsPersisted
			leaves = len(c.Report.Leaves)
		}
		fmt.Fprintf(out, "%-12s %-6s loaded=%d persisted=%d clusters=%d malformed=%d (%s)\n",
			c.Category, status, c.Loaded, persisted, leaves, c.Malformed, c.Duration.Round(time.Millisecond))
	}

	if n := result.Failed(); n > 0 {
		return fmt.Errorf("%d of %d categories had failures: %w", n, len(result.Categories), result.Err())
	}
	return nil
}
