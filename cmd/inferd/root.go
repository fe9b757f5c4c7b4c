package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/ledger"
	"inferd/internal/registry"
	"inferd/internal/router"
	"inferd/internal/scheduler"
	"inferd/internal/supervisor"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "inferd",
	Short:         "Local inference resource manager daemon",
	Long:          "inferd routes chat requests to remote APIs or locally launched model servers,\nsupervising local processes under a finite VRAM budget.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveFlags struct {
	configPath   string
	addr         string
	vramBudgetMB int64
	logLevel     string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("inferd", version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", "", "Config file (yaml, json or toml)")
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().Int64Var(&serveFlags.vramBudgetMB, "vram-budget-mb", 0, "VRAM budget in MB (overrides config)")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe() error {
	var cfg config.Config
	if serveFlags.configPath != "" {
		var err error
		if cfg, err = config.Load(serveFlags.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if serveFlags.addr != "" {
		cfg.Addr = serveFlags.addr
	}
	if serveFlags.vramBudgetMB > 0 {
		cfg.VRAMBudgetMB = serveFlags.vramBudgetMB
	}
	if serveFlags.logLevel != "" {
		cfg.LogLevel = serveFlags.logLevel
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	log := newLogger(cfg.LogLevel)

	reg := registry.New()
	descs, err := cfg.Descriptors()
	if err != nil {
		return err
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("register backend: %w", err)
		}
	}

	led := ledger.New(cfg.VRAMBudgetMB << 20)
	sup := supervisor.New(supervisor.Config{}, log)
	rtr := router.New(log)
	sched := scheduler.New(scheduler.Config{
		MaxQueueDepth:  cfg.MaxQueueDepth,
		DefaultTimeout: time.Duration(cfg.DefaultTimeoutMS) * time.Millisecond,
		SweepInterval:  time.Duration(cfg.SweepIntervalMS) * time.Millisecond,
		DrainTimeout:   time.Duration(cfg.DrainTimeoutMS) * time.Millisecond,
	}, reg, led, sup, rtr, log)

	mux := httpapi.NewMux(sched, httpapi.Options{
		Logger:         log,
		AllowedOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Int64("vram_budget_mb", cfg.VRAMBudgetMB).
			Int("backends", len(descs)).
			Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Drain and terminate every instance; no process outlives the daemon.
	if err := sched.Close(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
