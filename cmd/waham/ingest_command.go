package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/ingest"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/publish"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/snapshot"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		inputFlag   string
		factionFlag string
		noPublish   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass from an exported payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if inputFlag == "" {
				return errors.New("--input is required")
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := ctx.cliLogger()

			var bridge *publish.Bridge
			if !noPublish {
				transport, err := publish.NewRedisTransport(cmd.Context(), publish.RedisOptions{
					Addr:      cfg.Publisher.RedisAddr,
					Password:  cfg.Publisher.RedisPassword,
					DB:        cfg.Publisher.RedisDB,
					AckPrefix: cfg.Publisher.ChannelPrefix + ":ack",
					Timeout:   time.Duration(cfg.Publisher.RequestTimeout) * time.Second,
				})
				if err != nil {
					return fmt.Errorf("connect publisher transport (use --no-publish to skip): %w", err)
				}
				defer transport.Close()
				policy := publish.DefaultRetryPolicy(
					time.Duration(cfg.Publisher.InitialBackoff)*time.Second,
					time.Duration(cfg.Publisher.MaxBackoff)*time.Second,
				)
				bridge = publish.NewBridge(store, transport, policy, cfg.Publisher.MaxRetries, logger)
			}

			extractor := &extract.FileExtractor{Path: inputFlag}
			runner := ingest.NewRunner(cfg, store, extractor, bridge, logger)

			result, err := runner.Run(cmd.Context(), extract.Scope{FactionCode: factionFlag})
			if errors.Is(err, snapshot.ErrPromotionConflict) {
				return errors.New("another ingestion promoted concurrently; re-run to retry")
			}
			if err != nil {
				return err
			}

			marker := ""
			if isTerminal(os.Stdout) {
				marker = "✓ "
			}
			if result.Promoted {
				fmt.Fprintf(cmd.OutOrStdout(), "%ssnapshot %d promoted: %d records processed, %d change records, %d failures\n",
					marker, *result.SnapshotID, result.Processed, result.Changes, result.Failed)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%sno changes detected: %d records processed, %d failures\n",
					marker, result.Processed, result.Failed)
			}

			if bridge != nil {
				stats, err := bridge.ProcessDue(cmd.Context(), 500)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "publisher: %d published, %d acknowledged, %d retried, %d failed\n",
					stats.Published, stats.Acknowledged, stats.Retried, stats.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFlag, "input", "i", "", "Path to the exported JSON payload")
	cmd.Flags().StringVar(&factionFlag, "faction", "", "Restrict the pass to one faction code")
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "Skip message publishing")

	return cmd
}
