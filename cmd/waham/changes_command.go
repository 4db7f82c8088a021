package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
)

func newChangesCommand(ctx *commandContext) *cobra.Command {
	var snapshotFlag int64

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List the change records committed with a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			snapshotID := snapshotFlag
			if snapshotID == 0 {
				major, err := store.MajorVersionByNumber(cmd.Context(), cfg.Game.VersionNumber)
				if err != nil {
					return err
				}
				current, err := store.CurrentSnapshot(cmd.Context(), major.ID)
				if errors.Is(err, catalog.ErrNoCurrentSnapshot) {
					fmt.Fprintln(cmd.OutOrStdout(), "no current snapshot")
					return nil
				}
				if err != nil {
					return err
				}
				snapshotID = current.ID
			}

			changes, err := store.ChangesForSnapshot(cmd.Context(), snapshotID)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no change records for snapshot %d\n", snapshotID)
				return nil
			}

			rows := make([][]string, 0, len(changes))
			for _, change := range changes {
				rows = append(rows, []string{
					string(change.EntityType),
					fmt.Sprintf("%d", change.EntityID),
					change.FieldChanged,
					truncate(formatOptionalValue(change.OldValue), 40),
					truncate(formatOptionalValue(change.NewValue), 40),
					string(change.ChangeType),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Entity", "ID", "Field", "Old", "New", "Change"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().Int64Var(&snapshotFlag, "snapshot", 0, "Snapshot id (default: current)")
	return cmd
}
