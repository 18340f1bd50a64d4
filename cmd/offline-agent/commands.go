package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iTrooz/offline-cache-agent/internal/config"
	"github.com/iTrooz/offline-cache-agent/internal/proxy"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "offline-agent",
		Short: "Offline cache agent for the PDF splitter web app",
		Long: `offline-agent is a forward proxy that precaches the app shell of an
origin, answers its GET requests cache-first and serves the cached root page
to navigations while the origin is unreachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		level, _ := cfg.GetLogLevel()
		logrus.SetLevel(level)
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newInstallCmd(load),
		newCachesCmd(load),
		newValidateCmd(load),
	)
	return rootCmd
}

type configLoader func() (*config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			server, err := proxy.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create proxy server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Start(ctx)
		},
	}
}

func newInstallCmd(load configLoader) *cobra.Command {
	var generation string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Precache the app shell and activate it, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if generation != "" {
				cfg.Cache.Generation = generation
			}

			server, err := proxy.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create proxy server: %w", err)
			}
			defer func() { _ = server.Close() }()

			if err := server.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			status := server.Registration().Status()
			cmd.Printf("Active generation: %s\n", status.Active)
			return nil
		},
	}
	cmd.Flags().StringVar(&generation, "generation", "", "cache generation to install (default: built-in)")
	return cmd
}

func newCachesCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "caches",
		Short: "List cache stores and their entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			server, err := proxy.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create proxy server: %w", err)
			}
			defer func() { _ = server.Close() }()

			return printCaches(cmd, server)
		},
	}
}

func printCaches(cmd *cobra.Command, server *proxy.Server) error {
	ctx := cmd.Context()
	names, err := server.Storage().Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		store, err := server.Storage().Open(ctx, name)
		if err != nil {
			return err
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("%s (%d entries)\n", name, len(keys))
		for _, key := range keys {
			cmd.Printf("  %s\n", key)
		}
	}
	return nil
}

func newValidateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := load(); err != nil {
				return err
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	}
}
