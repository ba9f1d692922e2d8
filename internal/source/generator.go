package source

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/price-tracker/internal/model"
)

// Generator produces a synthetic random-walk price for running without
// network access.
type Generator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	price      float64
	volatility float64
	now        func() time.Time
}

// NewGenerator starts a walk at start. Each step moves the price by a
// normally distributed relative change with standard deviation volatility.
// A zero seed derives one from the clock.
func NewGenerator(start, volatility float64, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rng:        rand.New(rand.NewSource(seed)),
		price:      start,
		volatility: volatility,
		now:        time.Now,
	}
}

// Fetch advances the walk one step.
func (g *Generator) Fetch(ctx context.Context) (model.Sample, error) {
	if err := ctx.Err(); err != nil {
		return model.Sample{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.price * (1 + g.rng.NormFloat64()*g.volatility)
	if next > 0 {
		g.price = next
	}
	price := decimal.NewFromFloat(g.price).Round(2).InexactFloat64()
	return model.NewSample(price, g.now()), nil
}
