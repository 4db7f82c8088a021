package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
)

func newVersionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the tracked game version and its current snapshot",
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

			major, err := store.MajorVersionByNumber(cmd.Context(), cfg.Game.VersionNumber)
			if errors.Is(err, catalog.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "version %s not ingested yet\n", cfg.Game.VersionNumber)
				return nil
			}
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Version", fmt.Sprintf("%s (%s)", major.VersionNumber, major.Name)},
				{"Promotions", fmt.Sprintf("%d", major.PromotionSeq)},
			}

			current, err := store.CurrentSnapshot(cmd.Context(), major.ID)
			switch {
			case errors.Is(err, catalog.ErrNoCurrentSnapshot):
				rows = append(rows, []string{"Current snapshot", "none"})
			case err != nil:
				return err
			default:
				rows = append(rows,
					[]string{"Current snapshot", fmt.Sprintf("%d", current.ID)},
					[]string{"Promoted at", formatOptionalTimestamp(current.PromotedAt)},
				)
				count, err := store.ChangeCount(cmd.Context(), current.ID)
				if err != nil {
					return err
				}
				rows = append(rows, []string{"Change records", fmt.Sprintf("%d", count)})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}
}
