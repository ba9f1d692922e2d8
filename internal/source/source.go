// Package source provides upstream price sources polled by the ingestion loop.
package source

import (
	"context"
	"errors"

	"github.com/atmx/price-tracker/internal/model"
)

// ErrNoPrice is returned when the upstream answered without a usable price.
var ErrNoPrice = errors.New("no price in upstream response")

// Source returns the current price or a transient failure. Callers retry on
// their next tick; sources do not retry internally.
type Source interface {
	Fetch(ctx context.Context) (model.Sample, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (model.Sample, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context) (model.Sample, error) {
	return f(ctx)
}
