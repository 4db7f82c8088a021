package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentScrapeRuns(cmd.Context(), limitFlag)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no ingestion runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				snapshotID := "-"
				if run.SnapshotID != nil {
					snapshotID = fmt.Sprintf("%d", *run.SnapshotID)
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", run.ID),
					run.ScrapeType,
					string(run.Status),
					formatTimestamp(run.StartedAt),
					formatOptionalTimestamp(run.FinishedAt),
					fmt.Sprintf("%d", run.ItemsProcessed),
					fmt.Sprintf("%d", run.ItemsFailed),
					snapshotID,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Status", "Started", "Finished", "Processed", "Failed", "Snapshot"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum runs to list")
	return cmd
}
