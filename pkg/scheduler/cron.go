package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/raterudder/dispatcher/pkg/log"
)

// Run triggers a cycle on every tick of the configured cron schedule until
// ctx is done. With no schedule it only waits, leaving cycles to the API.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Cron == "" {
		log.Ctx(ctx).InfoContext(ctx, "no cycle schedule configured")
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.Cron, func() {
		if _, err := s.RunCycle(ctx); errors.Is(err, ErrCycleRunning) {
			log.Ctx(ctx).WarnContext(ctx, "skipping cycle, previous one still running")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cycle schedule %q: %w", s.cfg.Cron, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "starting cycle schedule", slog.String("cron", s.cfg.Cron))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
