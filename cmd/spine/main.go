// Command spine runs the Spine job queue server: a file-backed job
// store exposed over HTTP, coordinating one head and two claw worker
// roles through a lease-protected job lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"spine/api"
	"spine/config"
	"spine/engine"
	"spine/mutex"
	"spine/observability"
	"spine/reaper"
	"spine/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spine",
		Short: "Spine is a file-backed job queue coordinating a head and two claw workers",
		Long: `Spine coordinates a single controller ("head") with two worker classes
("left-claw", "right-claw") around a file-backed job queue. The head
submits jobs, workers pull them by role, and every job moves through a
lease-protected lifecycle with bounded retry.

Configuration comes from SPINE_-prefixed environment variables
(SPINE_PORT, SPINE_DATA_DIR, SPINE_HEAD_TOKEN, ...); flags on the
serve command override the environment.`,
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Spine HTTP server and lease reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	flags := cmd.Flags()
	def := config.DefaultConfig()
	flags.Int("port", def.Port, "port to listen on")
	flags.String("host", def.Host, "bind address")
	flags.String("data-dir", def.DataDir, "data directory for jobs, events, and blobs")
	flags.Int("lease-duration-seconds", int(def.LeaseDuration/time.Second), "claim lease duration in seconds")
	flags.Int("reaper-interval-ms", int(def.ReaperInterval/time.Millisecond), "reaper sweep interval in milliseconds")
	flags.Int("default-max-attempts", def.DefaultMaxAttempts, "default maxAttempts for new jobs")

	mustBind := func(key, flag string) {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	mustBind(config.KeyPort, "port")
	mustBind(config.KeyHost, "host")
	mustBind(config.KeyDataDir, "data-dir")
	mustBind(config.KeyLeaseSeconds, "lease-duration-seconds")
	mustBind(config.KeyReaperIntervalMS, "reaper-interval-ms")
	mustBind(config.KeyDefaultMaxAttempts, "default-max-attempts")

	return cmd
}

func serve(cfg config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	obs, err := observability.New()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return err
	}
	mu := mutex.New(st.JobsDir())

	eng := engine.New(st, mu, engine.Config{
		LeaseDuration:      cfg.LeaseDuration,
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
	}, logger, engine.WithRecorder(obs))

	rpr := reaper.New(eng, fmt.Sprintf("@every %s", cfg.ReaperInterval))
	if err := rpr.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), obs.Middleware())

	tokens := api.TokenMap(cfg.HeadTokens, cfg.LeftClawTokens, cfg.RightClawTokens)
	api.New(eng, tokens, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("spine listening",
			slog.String("addr", cfg.Addr()),
			slog.String("data_dir", cfg.DataDir),
			slog.Duration("lease_duration", cfg.LeaseDuration),
			slog.Duration("reaper_interval", cfg.ReaperInterval),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		rpr.Stop()
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}
	rpr.Stop()
	if err := obs.Shutdown(ctx); err != nil {
		logger.Error("observability shutdown", slog.String("error", err.Error()))
	}

	logger.Info("spine stopped")
	return nil
}
