package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"saas-analytics/internal/config"
	"saas-analytics/internal/database"
	"saas-analytics/internal/generator"
	"saas-analytics/internal/logging"
	"saas-analytics/internal/model"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		exitCode = 1
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "saas-analytics",
		Short:         "Generate SaaS product data and derive business metrics from it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		a.generateCmd(),
		a.seedCmd(),
		a.reportCmd(),
		a.checkCmd(),
		a.benchCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// generate runs the generator with the configured parameters. A zero Now
// means the current instant.
func (a *app) generate() (*model.Dataset, error) {
	cfg := a.cfg.Generator
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	start := time.Now()
	ds, err := generator.FromSeed(cfg)
	if err != nil {
		return nil, err
	}
	a.logger.Info("dataset generated",
		"users", len(ds.Users),
		"subscriptions", len(ds.Subscriptions),
		"revenue_events", len(ds.RevenueEvents),
		"seed", cfg.Seed,
		"took", time.Since(start),
	)
	return ds, nil
}

func (a *app) connect(ctx context.Context, kind string) (database.Store, error) {
	store, err := database.NewStore(kind)
	if err != nil {
		return nil, err
	}
	if ms, ok := store.(*database.MongoStore); ok && a.cfg.Databases.MongoDatabase != "" {
		ms.Database = a.cfg.Databases.MongoDatabase
	}
	dsn, err := a.cfg.Databases.DSN(kind)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx, dsn); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", kind, err)
	}
	return store, nil
}

// dataset reads a snapshot from the store of the given kind, or generates
// one in memory when kind is empty.
func (a *app) dataset(ctx context.Context, kind string) (*model.Dataset, error) {
	if kind == "" {
		return a.generate()
	}
	store, err := a.connect(ctx, kind)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	start := time.Now()
	ds, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from %s: %w", kind, err)
	}
	a.logger.Info("snapshot loaded", "db", kind, "users", len(ds.Users), "took", time.Since(start))
	return ds, nil
}
