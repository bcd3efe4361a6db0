package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/piwi3910/SlabQuote/internal/api"
	"github.com/piwi3910/SlabQuote/internal/config"
	"github.com/piwi3910/SlabQuote/internal/engine"
	"github.com/piwi3910/SlabQuote/internal/events"
	"github.com/piwi3910/SlabQuote/internal/logging"
	"github.com/piwi3910/SlabQuote/internal/scheduler"
	"github.com/piwi3910/SlabQuote/internal/store"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the layout service",
		Long:  `Serve runs the HTTP API and the re-optimisation scheduler. With AMQP enabled it also consumes piece change events and publishes committed layouts.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			level := logging.ParseLevel(cfg.Log.Level)
			if f := cmd.Flag("verbose"); f != nil && f.Changed {
				level = log.DebugLevel
			}
			logger := logging.New(cmd.ErrOrStderr(), level)
			ctx := logging.WithLogger(cmd.Context(), logger)
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "TOML config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store ready", "backend", cfg.StoreOptions().Backend)

	opts := scheduler.Options{
		Debounce: cfg.Scheduler.Debounce,
		Timeout:  cfg.Scheduler.Timeout,
		Logger:   logger,
	}
	if cfg.AMQP.Enabled {
		pub := events.NewPublisher(cfg.AMQP.URL, logger)
		pub.Queue = cfg.AMQP.LayoutQueue
		defer pub.Close()
		opts.OnCommit = pub.OnCommit
	}
	sched := scheduler.New(st, engine.New(cfg.EngineSettings()), opts)
	defer sched.Close()

	srv := api.NewServer(sched, cfg.Defaults(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(cfg.Server.Addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.AMQP.Enabled {
		consumer := events.NewConsumer(cfg.AMQP.URL, sched, cfg.Defaults(), logger)
		consumer.Queue = cfg.AMQP.ChangesQueue
		consumer.Prefetch = cfg.AMQP.Prefetch
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}
