package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"orca/internal/domain"
	"orca/internal/util"
)

// demoUnderlyings are the symbols the mock environment quotes, with their
// reference spot prices.
var demoUnderlyings = map[string]float64{
	"SPY":  450.00,
	"TSLA": 242.00,
	"AAPL": 187.50,
}

// SeedDemo initializes a paper account, an initial active rule version, and
// a synthetic option chain when the database is empty. It is idempotent and
// only used in mock mode.
func (s *SQLiteStore) SeedDemo(ctx context.Context, rules domain.RiskRules) error {
	if _, err := s.GetAccountInfo(ctx); err != nil {
		acct := &domain.AccountSnapshot{
			AccountID:   "PAPER-000001",
			NetLiq:      100000,
			BuyingPower: 200000,
			MarginUsed:  0,
			DayPnL:      0,
		}
		if err := s.SaveAccountInfo(ctx, acct); err != nil {
			return fmt.Errorf("seeding account: %w", err)
		}
	}

	if _, err := s.ActiveRiskRules(ctx); err == domain.ErrNoActiveRules {
		rules.ID = uuid.NewString()
		if rules.Name == "" {
			rules.Name = "default"
		}
		if err := s.CreateRiskRules(ctx, &rules); err != nil {
			return fmt.Errorf("seeding rules: %w", err)
		}
	}

	for underlying, spot := range demoUnderlyings {
		existing, err := s.GetOptionChain(ctx, underlying, "")
		if err != nil {
			return err
		}
		if len(existing.Contracts) > 0 {
			continue
		}
		chain := syntheticChain(underlying, spot, util.NextMonthlyExpiration(time.Now().UTC()))
		if err := s.SaveOptionChain(ctx, chain); err != nil {
			return fmt.Errorf("seeding chain for %s: %w", underlying, err)
		}
	}
	return nil
}

// syntheticChain builds a deterministic chain of puts and calls around the
// spot price. Premiums decay with distance from the money; deltas follow a
// crude sigmoid. Good enough for paper trading, not for pricing.
func syntheticChain(underlying string, spot float64, expiration time.Time) *domain.OptionChain {
	chain := &domain.OptionChain{Underlying: underlying}
	step := strikeStep(spot)

	for i := -8; i <= 8; i++ {
		strike := math.Round(spot/step)*step + float64(i)*step
		if strike <= 0 {
			continue
		}
		for _, typ := range []domain.OptionType{domain.OptionTypePut, domain.OptionTypeCall} {
			moneyness := (spot - strike) / spot
			if typ == domain.OptionTypeCall {
				moneyness = -moneyness
			}
			// Premium shrinks as the contract moves out of the money.
			premium := math.Max(0.05, spot*0.02*math.Exp(-6*math.Abs(moneyness))+math.Max(0, moneyness)*spot)
			premium = math.Round(premium*100) / 100

			delta := 0.5 + 0.5*math.Tanh(moneyness*8)
			if typ == domain.OptionTypePut {
				delta = -(1 - delta)
			}
			delta = math.Round(delta*100) / 100

			oi := int64(8000 - 900*absInt(i))
			if oi < 200 {
				oi = 200
			}

			chain.Contracts = append(chain.Contracts, domain.OptionContract{
				Symbol:       occSymbol(underlying, expiration, typ, strike),
				Underlying:   underlying,
				Strike:       strike,
				Type:         typ,
				Expiration:   expiration,
				Bid:          math.Max(0.01, premium-0.05),
				Ask:          premium + 0.05,
				Last:         premium,
				Delta:        delta,
				OpenInterest: oi,
			})
		}
	}
	return chain
}

func strikeStep(spot float64) float64 {
	switch {
	case spot >= 200:
		return 5
	case spot >= 50:
		return 2.5
	default:
		return 1
	}
}

func absInt(n int) int64 {
	if n < 0 {
		return int64(-n)
	}
	return int64(n)
}

// occSymbol formats the 21-character OCC option symbol, e.g.
// SPY261016P00450000.
func occSymbol(underlying string, expiration time.Time, typ domain.OptionType, strike float64) string {
	cp := "C"
	if typ == domain.OptionTypePut {
		cp = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), cp, int64(math.Round(strike*1000)))
}
