// Package main provides the harvest binary: it runs ingestion and scoring
// passes over the configured catalogs and serves run status.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	// Adapters register themselves in init().
	_ "github.com/solaius/model-harvester/pkg/adapter/gitrepo"
	_ "github.com/solaius/model-harvester/pkg/adapter/httpjson"
	_ "github.com/solaius/model-harvester/pkg/adapter/yamlfile"
)

var (
	version = "dev"

	// Global flags
	configPath string
	outputFlag string
	verbose    bool
)

func main() {
	// glog writes fatal startup errors to stderr.
	_ = flag.Set("logtostderr", "true")

	rootCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest, reconcile and score catalog entities",
		Long: `harvest pulls entity records from the configured upstream catalogs,
reconciles them into a durable registry and computes FNI trust scores.

Sources, registry, state and output locations come from the ingestion
config (--config) and HARVEST_* environment variables.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOrDefault("HARVEST_CONFIG", "harvest.yaml"), "Path to the ingestion config")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAdaptersCmd())
	rootCmd.AddCommand(newHealthcheckCmd())

	ctx, cancel := signalContext()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// mustApp builds the app or exits; every command needs it.
func mustApp(ctx context.Context) *app {
	a, err := newApp(ctx, configPath, slog.Default())
	if err != nil {
		glog.Fatalf("Failed to initialize harvester: %v", err)
	}
	return a
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
