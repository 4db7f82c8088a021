package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/publish"
)

func newMessagesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect and manage the publisher outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newMessagesListCommand(ctx))
	cmd.AddCommand(newMessagesReplayCommand(ctx))
	cmd.AddCommand(newMessagesDrainCommand(ctx))
	return cmd
}

func newMessagesListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox messages by delivery status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			status := catalog.MessageStatus(statusFlag)
			switch status {
			case catalog.MessagePending, catalog.MessagePublished, catalog.MessageAcknowledged, catalog.MessageFailed:
			default:
				return fmt.Errorf("unknown status %q", statusFlag)
			}

			messages, err := store.MessagesByStatus(cmd.Context(), status)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s messages\n", status)
				return nil
			}

			rows := make([][]string, 0, len(messages))
			for _, msg := range messages {
				rows = append(rows, []string{
					fmt.Sprintf("%d", msg.ID),
					truncate(msg.MessageUUID, 12),
					msg.MessageType,
					msg.Channel,
					fmt.Sprintf("%d", msg.RetryCount),
					formatOptionalTimestamp(msg.NextAttemptAt),
					truncate(msg.LastError, 40),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "UUID", "Type", "Channel", "Retries", "Next attempt", "Last error"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "failed", "Delivery status to list (pending, published, acknowledged, failed)")
	return cmd
}

func newMessagesReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <id>",
		Short: "Reset a failed message to pending",
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

			if err := store.ReplayMessage(cmd.Context(), id); err != nil {
				return fmt.Errorf("replay message %d (only failed messages can be replayed): %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "message %d queued for redelivery\n", id)
			return nil
		},
	}
}

func newMessagesDrainCommand(ctx *commandContext) *cobra.Command {
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one delivery cycle against the configured transport",
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

			transport, err := publish.NewRedisTransport(cmd.Context(), publish.RedisOptions{
				Addr:      cfg.Publisher.RedisAddr,
				Password:  cfg.Publisher.RedisPassword,
				DB:        cfg.Publisher.RedisDB,
				AckPrefix: cfg.Publisher.ChannelPrefix + ":ack",
				Timeout:   time.Duration(cfg.Publisher.RequestTimeout) * time.Second,
			})
			if err != nil {
				return err
			}
			defer transport.Close()

			policy := publish.DefaultRetryPolicy(
				time.Duration(cfg.Publisher.InitialBackoff)*time.Second,
				time.Duration(cfg.Publisher.MaxBackoff)*time.Second,
			)
			bridge := publish.NewBridge(store, transport, policy, cfg.Publisher.MaxRetries, ctx.cliLogger())

			stats, err := bridge.ProcessDue(cmd.Context(), limitFlag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d published, %d acknowledged, %d retried, %d failed\n",
				stats.Published, stats.Acknowledged, stats.Retried, stats.Failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&limitFlag, "limit", 100, "Maximum messages per cycle")
	return cmd
}
