package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/dispatcher/pkg/component"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/simulation"
	"github.com/raterudder/dispatcher/pkg/storage"
)

func main() {
	db := storage.Configured()
	path := lflag.RequiredString("config", "Path to the projection YAML config")
	store := lflag.Bool("store", false, "Store the projection in the configured storage")
	lflag.Configure()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, db, *path, *store)
	cancel()
	if cerr := db.Close(); cerr != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to close storage", slog.Any("error", cerr))
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "projection failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, db storage.Database, path string, store bool) error {
	cfg, err := component.Load(path)
	if err != nil {
		return err
	}

	p, err := simulation.Project(ctx, cfg, time.Now())
	if err != nil {
		return err
	}

	if store {
		if err := db.InsertProjection(ctx, p); err != nil {
			return fmt.Errorf("failed to store projection: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "stored projection", slog.String("id", p.ID))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p.Years)
}
