package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Marksio90/narraforge/internal/config"
	"github.com/Marksio90/narraforge/internal/controlplane"
	"github.com/Marksio90/narraforge/internal/executor/stubexec"
	"github.com/Marksio90/narraforge/internal/pipeline"
	"github.com/Marksio90/narraforge/internal/scheduler"
	"github.com/Marksio90/narraforge/internal/store"
	"github.com/spf13/cobra"
)

var (
	configPath string
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the NarraForge daemon",
	Long:  `Starts the NarraForge daemon: the job scheduler, stage sequencer workers, and the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	seqOpts := pipeline.Options{
		Retry: pipeline.RetryPolicy{
			MaxAttempts:  cfg.Pipeline.MaxRetries,
			Base:         cfg.Pipeline.RetryBackoff,
			Exponential:  cfg.Pipeline.ExponentialBackoff,
			StageTimeout: cfg.Pipeline.StageTimeout,
		},
		MaxCostUSD:         cfg.Pipeline.MaxCostPerJobUSD,
		MaxTokens:          cfg.Pipeline.MaxTokensPerJob,
		StrictValidation:   cfg.Pipeline.StrictValidation,
		MinValidationScore: cfg.Pipeline.MinValidationScore,
	}

	// TODO: swap the stub for the generative-service executor once its
	// endpoint contract is settled.
	exec := stubexec.New(s)

	sch := scheduler.New(s, exec, seqOpts, scheduler.Config{
		GlobalMax:    cfg.Scheduler.GlobalMax,
		PollInterval: cfg.Scheduler.PollInterval,
		LeaseTTLSec:  cfg.Scheduler.LeaseTTLSec,
	})
	sch.Start()
	defer sch.Stop()

	service := controlplane.NewService(s)
	server := controlplane.NewServer(service, cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
