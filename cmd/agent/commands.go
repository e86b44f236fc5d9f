package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hostmetrics-agent/internal/agent"
	"hostmetrics-agent/internal/agent/version"
	"hostmetrics-agent/internal/config"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "hostmetrics-agent",
		Short: "Collect host CPU and memory metrics, persist them and evaluate alert rules",
		Long: `hostmetrics-agent samples CPU and memory utilisation on a fixed interval,
appends every sample to a day-partitioned JSON lines journal, evaluates
threshold alert rules with duration debouncing and prints a console summary.

Examples:
  hostmetrics-agent -c config/config.yaml      # run the agent
  hostmetrics-agent validate -c config.yaml    # check a config file
  hostmetrics-agent snapshot                   # print one sample and exit`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), flags)
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "force debug logging")

	cmd.AddCommand(validateCmd(flags))
	cmd.AddCommand(snapshotCmd(flags))
	cmd.AddCommand(versionCmd())
	return cmd
}

func runAgent(ctx context.Context, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer := agent.BuildLogger(cfg.Logging, flags.verbose)
	defer closer.Close()

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("agent runtime failed", "error", err)
		return err
	}
	return nil
}

func validateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			enabled := 0
			for _, item := range cfg.Collectors.Items {
				if item.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: host=%s source=%s collectors=%d rules=%d interval=%gs storage=%s\n",
				cfg.Agent.Hostname, cfg.Collectors.Source, enabled, len(cfg.Alerts.Rules),
				cfg.Agent.CollectionInterval, cfg.Storage.Path)
			return nil
		},
	}
}

func snapshotCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Collect one sample, print it and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			// one-shot: no outputs, no status server
			cfg.Outputs = config.OutputsConfig{}
			cfg.Status.Enabled = false

			logger, closer := agent.BuildLogger(cfg.Logging, flags.verbose)
			defer closer.Close()

			a, err := agent.New(cfg, logger, agent.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			a.Snapshot(cmd.Context())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "hostmetrics-agent "+version.Get(config.ResolveHostname("auto")).String())
		},
	}
}
