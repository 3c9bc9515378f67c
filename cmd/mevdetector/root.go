package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/app"
	"github.com/rovshanmuradov/mev-detector/internal/config"
	"github.com/rovshanmuradov/mev-detector/internal/utils/logger"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mevdetector",
		Short:         "Detect sandwich attacks and arbitrage on Solana in real time",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON config file")

	root.AddCommand(newRunCmd(&configPath), newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		feed      string
		exportDir string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream transactions and report MEV until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if cmd.Flags().Changed("feed") {
				cfg.Feed = feed
			}
			if cmd.Flags().Changed("export-dir") {
				cfg.ExportDir = exportDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&feed, "feed", "", "feed to consume: bundle, logs, poll or all")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "directory for the detection export written at shutdown")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	log, err := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxAge:      cfg.Log.MaxAge,
		MaxBackups:  cfg.Log.MaxBackups,
		Compress:    cfg.Log.Compress,
		Development: cfg.Log.Development,
		Pretty:      cfg.Log.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	feeds, _ := cfg.Feeds()
	log.Info("Starting MEV detector",
		zap.String("version", version),
		zap.Any("feeds", feeds),
		zap.Int("rpc_nodes", len(cfg.RPCList)))

	detector, err := app.New(ctx, cfg, log.WithComponent("detector"))
	if err != nil {
		log.LogError("Failed to start detector", err)
		return err
	}

	if err := detector.Run(ctx); err != nil {
		log.LogError("Detector stopped with error", err)
		return err
	}

	stats := detector.Engine().Stats()
	log.Info("MEV detector stopped",
		zap.Int("sandwiches", stats.SandwichAttacks),
		zap.Int("arbitrages", stats.ArbitrageOps),
		zap.Int("analyzed", stats.TotalAnalyzed),
		zap.Int("bundles", stats.BundlesSeen))
	return nil
}
