package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/dispatcher/pkg/device"
	"github.com/raterudder/dispatcher/pkg/forecast"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/scheduler"
	"github.com/raterudder/dispatcher/pkg/server"
	"github.com/raterudder/dispatcher/pkg/storage"
	"github.com/raterudder/dispatcher/pkg/tariff"
)

func main() {
	// init packages
	db := storage.Configured()
	ch := device.Configured()
	rates := tariff.Configured()
	fcfg := forecast.Configured()
	scfg := scheduler.Configured()

	// init server
	srv := server.Configured(db, ch, scfg)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	controller := device.NewController(device.NewCache(ch, db), scfg.Battery)
	fc := forecast.New(*fcfg, db, fcfg.Solar())
	sched, err := scheduler.New(*scfg, db, controller, fc, rates)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid schedule", "error", err)
		os.Exit(1)
	}

	// the server triggers cycles on demand, the cron loop on its schedule
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, sched)
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "dispatcher failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "dispatcher exited cleanly")
}
