package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/newscluster/internal/storage"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalogued runs and partition counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			if catalog == nil {
				return errors.New("catalog is disabled")
			}
			defer catalog.Close()

			category, _ := cmd.Flags().GetString("category")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			status, err := catalog.GetStatus(ctx, category)
			if err != nil {
				return err
			}
			runs, err := catalog.ListRuns(ctx, storage.RunFilter{Category: category, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "runs: %d  partitions: %d  records: %d\n", status.Runs, status.Partitions, status.RecordsPersisted)
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-12s %-9s persisted=%d clusters=%d failed_batches=%d  %s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Category, r.Status,
					r.RecordsPersisted, r.Leaves, r.FailedBatches, r.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("category", "", "Only show this category")
	cmd.Flags().Int("limit", storage.DefaultRunLimit, "Number of recent runs to show")
	return cmd
}
