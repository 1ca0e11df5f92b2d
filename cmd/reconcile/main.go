// Command reconcile runs one reconciliation sweep over every non-draft allocation and
// exits with status 1 if any allocation drifted from its transaction log, 2 if the
// sweep itself could not complete.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/database"
	"budgetledger/internal/infrastructure/logging"
	"budgetledger/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	defaultPath := os.Getenv("LEDGER_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	allocation := flag.String("allocation", "", "reconcile only this allocation id")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.Log)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := service.NewReconcileService(db, cfg)
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	if *allocation != "" {
		id, err := uuid.Parse(*allocation)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid allocation id")
		}
		report, err := reconciler.Reconcile(ctx, id)
		if err != nil {
			log.Error().Err(err).Msg("reconcile failed")
			os.Exit(2)
		}
		_ = out.Encode(report)
		if !report.Healthy() {
			os.Exit(1)
		}
		return
	}

	result, err := reconciler.ReconcileAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep aborted")
		os.Exit(2)
	}

	_ = out.Encode(result)
	log.Info().
		Int("checked", result.Checked).
		Int("unhealthy", len(result.Unhealthy)).
		Int("failed", result.Failed).
		Msg("sweep finished")

	switch {
	case len(result.Unhealthy) > 0:
		os.Exit(1)
	case result.Failed > 0:
		os.Exit(2)
	}
}
