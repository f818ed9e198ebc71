package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"genepool/internal/config"
	"genepool/internal/metrics"
	"genepool/internal/storage"
	"genepool/pkg/genepool"
)

type app struct {
	v          *viper.Viper
	configPath string
	cfg        config.Config
	logger     *slog.Logger
	rng        *rand.Rand
	sleep      func(ctx context.Context, d time.Duration) error
}

func newRootCmd() *cobra.Command {
	a := &app{
		v:     viper.New(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepContext,
	}

	rootCmd := &cobra.Command{
		Use:           "genepoolctl",
		Short:         "Drive a queue-backed evolutionary pool of neural-network genomes",
		Long:          "genepoolctl seeds a population of networks onto a message queue, waits for external workers to score every genome, breeds the next generation from the best scorers and republishes it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a TOML config file (default ./genepool.toml when present)")
	flags.String("pool", config.DefaultPoolURL, "broker url: amqp://, amqps://, nats://, tls:// or memory://")
	flags.String("queue", config.DefaultQueue, "queue base name")
	flags.String("store", storage.DefaultStoreKind(), "dump store backend: memory|sqlite|postgres")
	flags.String("db-path", "genepool-dumps.db", "sqlite dump store path")
	flags.String("db-dsn", "", "postgres dump store connection string")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("log-format", "text", "log format: text|json")

	rootCmd.AddCommand(
		newResetCmd(a),
		newRunCmd(a),
		newStatusCmd(a),
		newDumpCmd(a),
		newRestoreCmd(a),
		newInspectCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

var flagKeys = map[string]string{
	"pool":         config.KeyPool,
	"queue":        config.KeyQueue,
	"store":        config.KeyStoreKind,
	"db-path":      config.KeyStorePath,
	"db-dsn":       config.KeyStoreDSN,
	"log-level":    config.KeyLogLevel,
	"log-format":   config.KeyLogFormat,
	"metrics-addr": config.KeyMetricsAddr,
}

func (a *app) load(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, err = newLogger(cmd.ErrOrStderr(), cfg)
	return err
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("component", "genepoolctl"), nil
}

// connect sleeps for a random startup jitter, then opens a client.
func (a *app) connect(ctx context.Context, collector *metrics.Collector) (*genepool.Client, error) {
	delay := a.cfg.StartupJitter(a.rng)
	if delay > 0 {
		a.logger.Debug("startup jitter", "delay", delay)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return genepool.New(ctx, genepool.Options{
		Config:  a.cfg,
		Logger:  a.logger,
		Metrics: collector,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
