// dbhealth checks the database and external model services and prints a
// JSON report. Exit code 1 means something the pipeline needs is down.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/health"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := repository.Open(cfg.Database)
	if err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	dbOK := repository.HealthCheck(ctx, db, cfg.Database.HealthTimeout) == nil

	registry := settings.NewRegistry(repository.NewSettingRepository(db, log), log)
	report := health.Check(ctx, registry, log)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"database": dbOK,
		"services": report,
	})

	if !dbOK || !report.Healthy() {
		os.Exit(1)
	}
}
