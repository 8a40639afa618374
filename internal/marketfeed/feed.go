package marketfeed

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"orca/internal/domain"
	"orca/internal/store"
	"orca/internal/util"
)

// Feed generates synthetic underlying quotes on a ticker, marks open
// positions against them, and broadcasts price_update frames. It stands in
// for a market data subscription when running against the mock broker.
type Feed struct {
	positions store.PositionStore
	hub       *Hub
	interval  time.Duration
	prices    map[string]float64
	rng       *rand.Rand
	log       *slog.Logger
}

// NewFeed creates a Feed walking prices from the given per-symbol bases.
func NewFeed(positions store.PositionStore, hub *Hub, bases map[string]float64, interval time.Duration, log *slog.Logger) *Feed {
	prices := make(map[string]float64, len(bases))
	for sym, base := range bases {
		prices[sym] = base
	}
	return &Feed{
		positions: positions,
		hub:       hub,
		interval:  interval,
		prices:    prices,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log.With("component", "feed"),
	}
}

// Run ticks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Tick advances every tracked price one random-walk step, broadcasts the
// quotes, and re-marks open positions.
func (f *Feed) Tick(ctx context.Context) {
	now := time.Now().UTC()
	for sym := range f.prices {
		// Random walk within ±0.25% per step.
		f.prices[sym] *= 1 + (f.rng.Float64()-0.5)*0.005
		f.hub.Broadcast(Frame{Type: "price_update", Data: map[string]any{
			"symbol":    sym,
			"price":     round2(f.prices[sym]),
			"timestamp": now,
		}})
	}

	positions, err := f.positions.GetPositions(ctx)
	if err != nil {
		f.log.Warn("listing positions for mark", "error", err)
		return
	}
	for i := range positions {
		pos := &positions[i]
		if pos.Status != domain.PositionStatusOpen {
			continue
		}
		if util.IsExpired(pos.Expiration, now) {
			continue
		}
		price, ok := f.prices[pos.Symbol]
		if !ok {
			continue
		}
		value := markValue(pos, price)
		if err := f.positions.MarkPosition(ctx, pos.ID, value); err != nil {
			f.log.Warn("marking position", "position", pos.ID, "error", err)
		}
	}
}

// markValue is a coarse placeholder mark for a credit spread: worth the
// full open credit at the short strike, decaying to zero as the spread
// moves out of the money and approaching the credit as it moves in.
func markValue(pos *domain.Position, price float64) float64 {
	width := math.Abs(pos.SellStrike - pos.BuyStrike)
	if width == 0 {
		return pos.OpenCredit
	}

	// Distance out of the money in widths, signed so that in-the-money is
	// negative.
	var otm float64
	if pos.SellStrike > pos.BuyStrike {
		// Put credit spread: safe when price is above the short strike.
		otm = (price - pos.SellStrike) / width
	} else {
		otm = (pos.SellStrike - price) / width
	}

	frac := 0.5 - otm/4
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return round2(pos.OpenCredit * frac)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
