package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamashdown/walletsentinel/internal/alerts"
	"github.com/liamashdown/walletsentinel/internal/config"
	"github.com/liamashdown/walletsentinel/internal/processor"
	"github.com/liamashdown/walletsentinel/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	if err := newRootCmd(log).Execute(); err != nil {
		log.WithError(err).Fatal("Command failed")
	}
}

func newRootCmd(log *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "walletsentinel",
		Short:         "Suspicious wallet detection for prediction markets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run detection cycles on a schedule and serve health and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(log)
		},
	}

	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Run one detection cycle and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return runAnalyze(cmd, log, timeout)
		},
	}
	analyze.Flags().Duration("timeout", 5*time.Minute, "maximum duration of the cycle")

	root.AddCommand(serve, analyze)
	return root
}

// setup loads configuration and builds the processor and its database
func setup(log *logrus.Logger) (*config.Config, *storage.DB, *processor.Processor, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log.SetLevel(cfg.ParsedLogLevel())

	log.WithFields(logrus.Fields{
		"environment":           cfg.Environment,
		"database_driver":       cfg.DatabaseDriver,
		"poll_interval_sec":     cfg.PollIntervalSec,
		"cohort_lookback_hours": cfg.CohortLookbackHours,
		"alert_mode":            cfg.AlertMode,
	}).Info("Configuration loaded")

	db, err := storage.New(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		log.Info("Database migrations complete")
	}

	proc, err := processor.New(cfg, db, createAlertSender(cfg, log), log)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return cfg, db, proc, nil
}

func createAlertSender(cfg *config.Config, log *logrus.Logger) alerts.Sender {
	switch cfg.AlertMode {
	case "none":
		return alerts.NopSender{}
	default:
		return alerts.NewLogSender(log)
	}
}

func runServe(log *logrus.Logger) error {
	log.Info("Starting walletsentinel service...")

	cfg, db, proc, err := setup(log)
	if err != nil {
		return err
	}
	defer db.Close()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := newHTTPServer(cfg.HealthPort, db, log)
	go func() {
		log.WithField("port", cfg.HealthPort).Info("Starting HTTP server (health + metrics)")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	log.Info("Starting detection loop")

	// Run immediately on startup
	if _, err := proc.RunCycle(ctx); err != nil {
		log.WithError(err).Error("Error running detection cycle")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := proc.RunCycle(ctx); err != nil {
				log.WithError(err).Error("Error running detection cycle")
			}
		case <-ctx.Done():
			log.Info("Received shutdown signal")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("HTTP server shutdown failed")
			}
			log.Info("Graceful shutdown complete")
			return nil
		}
	}
}

func runAnalyze(cmd *cobra.Command, log *logrus.Logger, timeout time.Duration) error {
	// Keep stdout for the report
	log.SetOutput(os.Stderr)

	_, db, proc, err := setup(log)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	report, err := proc.RunCycle(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
