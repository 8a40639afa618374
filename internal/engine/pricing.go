package engine

import (
	"math"

	"orca/internal/domain"
)

// Pricing computes the delta and margin of a filled position. The engine
// only depends on this interface, so the placeholder model below can be
// swapped for a real options pricer without touching the lifecycle code.
type Pricing interface {
	Delta(t *domain.Trade) float64
	Margin(t *domain.Trade) float64
}

// SimplifiedPricing assigns a flat 0.20 delta magnitude per contract,
// directional by strike ordering: a credit spread with the short strike
// above the long strike carries negative delta.
type SimplifiedPricing struct{}

var _ Pricing = SimplifiedPricing{}

func (SimplifiedPricing) Delta(t *domain.Trade) float64 {
	perContract := 0.20
	if t.SellStrike > t.BuyStrike {
		perContract = -0.20
	}
	return perContract * float64(t.Quantity)
}

// Margin is the strike width times the contract multiplier.
func (SimplifiedPricing) Margin(t *domain.Trade) float64 {
	return math.Abs(t.SellStrike-t.BuyStrike) * 100 * float64(t.Quantity)
}
