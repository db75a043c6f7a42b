// Package tariff resolves the import and export prices that apply to a
// slot.
package tariff

import (
	"context"
	"errors"
	"time"

	"github.com/raterudder/dispatcher/pkg/types"
)

// ErrTariffUnavailable is returned when no rate is known for an instant.
var ErrTariffUnavailable = errors.New("tariff unavailable")

// Source provides the rates in force at an instant.
type Source interface {
	Rates(ctx context.Context, t time.Time) (types.TariffRates, error)
}
