package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set publisher.redis_addr (or export WAHAM_REDIS_ADDR) before running wahamd.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, _, err := config.Load(path)
			if err != nil {
				return err
			}

			redisPassword := "-"
			if cfg.Publisher.RedisPassword != "" {
				redisPassword = "(set)"
			}
			rows := [][]string{
				{"config path", resolved},
				{"paths.data_dir", cfg.Paths.DataDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"game.version_number", cfg.Game.VersionNumber},
				{"game.version_name", cfg.Game.VersionName},
				{"source.name", cfg.Source.Name},
				{"source.base_url", cfg.Source.BaseURL},
				{"resolver.confidence_threshold", fmt.Sprintf("%.2f", cfg.Resolver.ConfidenceThreshold)},
				{"scraper.grace_threshold", fmt.Sprintf("%d", cfg.Scraper.GraceThreshold)},
				{"scraper.parallelism", fmt.Sprintf("%d", cfg.Scraper.Parallelism)},
				{"scraper.schedule", cfg.Scraper.Schedule},
				{"publisher.redis_addr", cfg.Publisher.RedisAddr},
				{"publisher.redis_password", redisPassword},
				{"publisher.channel_prefix", cfg.Publisher.ChannelPrefix},
				{"publisher.max_retries", fmt.Sprintf("%d", cfg.Publisher.MaxRetries)},
				{"logging.format", cfg.Logging.Format},
				{"logging.level", cfg.Logging.Level},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, rows))
			return nil
		},
	}
}
