package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenthands/tavern/internal/config"
	"github.com/agenthands/tavern/internal/logging"
	"github.com/agenthands/tavern/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tavern",
		Short:         "Turn-based tabletop adventures run by an AI dungeon master",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("CONFIG_PATH", "config/config.toml"), "path to the TOML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the turn timers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	// a bare "tavern" serves
	root.RunE = serveCmd.RunE
	root.AddCommand(serveCmd)
	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the config, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: storage=%s provider=%s model=%s\n",
				cfg.Storage.Backend, cfg.LLM.Provider, cfg.LLM.Model)
			return nil
		},
	})
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig reads .env, then the TOML file, then the environment. A missing
// file leaves the defaults in place.
func loadConfig(path string) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close(context.WithoutCancel(ctx))

	if err := eng.manager.LoadAll(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.NewServer(eng.manager, eng.store, logger).SetupRouter(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.manager.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
