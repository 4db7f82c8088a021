package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMappingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Review identity resolution decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newMappingsReviewCommand(ctx))
	cmd.AddCommand(newMappingsVerifyCommand(ctx))
	return cmd
}

func newMappingsReviewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "List unverified fuzzy-matched mappings, lowest confidence first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			mappings, err := store.UnverifiedMappings(cmd.Context())
			if err != nil {
				return err
			}
			if len(mappings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no mappings awaiting review")
				return nil
			}

			rows := make([][]string, 0, len(mappings))
			for _, mapping := range mappings {
				rows = append(rows, []string{
					fmt.Sprintf("%d", mapping.ID),
					mapping.SourceIdentifier,
					string(mapping.EntityType),
					fmt.Sprintf("%d", mapping.EntityID),
					fmt.Sprintf("%.2f", mapping.Confidence),
					formatTimestamp(mapping.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Source identifier", "Entity", "Entity ID", "Confidence", "Created"},
				rows,
			))
			return nil
		},
	}
}

func newMappingsVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Mark a fuzzy-matched mapping as manually verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.VerifyMapping(cmd.Context(), id); err != nil {
				return fmt.Errorf("verify mapping %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mapping %d verified\n", id)
			return nil
		},
	}
}
