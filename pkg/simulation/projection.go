package simulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/raterudder/dispatcher/pkg/component"
	"github.com/raterudder/dispatcher/pkg/types"
)

// Project runs cfg and wraps the summaries in a new Projection stamped at now.
func Project(ctx context.Context, cfg component.Config, now time.Time) (types.Projection, error) {
	e, err := New(cfg)
	if err != nil {
		return types.Projection{}, err
	}
	years, err := e.Run(ctx)
	if err != nil {
		return types.Projection{}, err
	}
	return types.Projection{
		ID:        uuid.NewString(),
		Name:      cfg.Name,
		CreatedAt: now.UTC(),
		Years:     years,
	}, nil
}
