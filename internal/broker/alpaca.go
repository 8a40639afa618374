package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"orca/internal/domain"
	"orca/internal/util"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

const (
	placeRetryAttempts = 3
	placeRetryDelay    = 500 * time.Millisecond
	apiRatePerMinute   = 200
)

// AlpacaProvider implements Provider against the Alpaca brokerage API.
// Transient API failures (throttling, 5xx, network) are retried here with
// backoff; permanent rejections propagate as *domain.ProviderError so the
// engine can reject the trade without retrying.
type AlpacaProvider struct {
	trading   *alpaca.Client
	md        *marketdata.Client
	env       domain.BrokerEnv
	limiter   *util.RateLimiter
	connected atomic.Bool
	log       *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider from the given credentials
// and endpoints.
func NewAlpacaProvider(opts Options, log *slog.Logger) *AlpacaProvider {
	mdOpts := marketdata.ClientOpts{APIKey: opts.APIKey, APISecret: opts.APISecret}
	if opts.DataURL != "" {
		mdOpts.BaseURL = opts.DataURL
	}
	return &AlpacaProvider{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		md:      marketdata.NewClient(mdOpts),
		env:     opts.Env,
		limiter: util.NewRateLimiter(apiRatePerMinute),
		log:     log.With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (p *AlpacaProvider) Name() string { return "alpaca" }

// Status reports the environment and whether any API call has succeeded.
func (p *AlpacaProvider) Status() domain.BrokerStatus {
	return domain.BrokerStatus{Provider: "alpaca", Env: p.env, Connected: p.connected.Load()}
}

// GetAccount returns the live account's financial metrics.
func (p *AlpacaProvider) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	acct, err := p.trading.GetAccount()
	if err != nil {
		return nil, p.wrap("GetAccount", err)
	}
	p.connected.Store(true)

	equity := acct.Equity.InexactFloat64()
	return &domain.AccountSnapshot{
		AccountID:   acct.AccountNumber,
		NetLiq:      equity,
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		MarginUsed:  acct.InitialMargin.InexactFloat64(),
		DayPnL:      equity - acct.LastEquity.InexactFloat64(),
	}, nil
}

// GetPositions returns the live positions. Alpaca reports per-contract
// holdings, not spreads, so each holding maps to a one-row position.
func (p *AlpacaProvider) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := p.trading.GetPositions()
	if err != nil {
		return nil, p.wrap("GetPositions", err)
	}
	p.connected.Store(true)

	positions := make([]domain.Position, 0, len(raw))
	for i := range raw {
		ap := &raw[i]
		pos := domain.Position{
			ID:         ap.Symbol,
			Symbol:     ap.Symbol,
			Quantity:   int(ap.Qty.IntPart()),
			OpenCredit: ap.AvgEntryPrice.InexactFloat64(),
			Status:     domain.PositionStatusOpen,
		}
		if ap.MarketValue != nil {
			pos.CurrentValue = ap.MarketValue.InexactFloat64()
		}
		if leg, err := parseOCCSymbol(ap.Symbol); err == nil {
			pos.Symbol = leg.Underlying
			pos.SellStrike = leg.Strike
			pos.Expiration = leg.Expiration
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetOptionChain fetches option snapshots for the underlying and decodes
// contract terms from the OCC symbols. The snapshot feed carries quotes
// and greeks but no open interest.
// TODO: source open interest from the /v2/options/contracts endpoint.
func (p *AlpacaProvider) GetOptionChain(ctx context.Context, symbol, expiration string) (*domain.OptionChain, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	snapshots, err := p.md.GetOptionChain(symbol, marketdata.GetOptionChainRequest{})
	if err != nil {
		return nil, p.wrap("GetOptionChain", err)
	}
	p.connected.Store(true)

	chain := &domain.OptionChain{Underlying: symbol, Expiration: expiration}
	for occ, snap := range snapshots {
		leg, err := parseOCCSymbol(occ)
		if err != nil {
			p.log.Warn("skipping unparseable option symbol", "symbol", occ, "error", err)
			continue
		}
		if expiration != "" && leg.Expiration.Format("2006-01-02") != expiration {
			continue
		}
		c := domain.OptionContract{
			Symbol:     occ,
			Underlying: leg.Underlying,
			Strike:     leg.Strike,
			Type:       leg.Type,
			Expiration: leg.Expiration,
		}
		if snap.LatestQuote != nil {
			c.Bid = snap.LatestQuote.BidPrice
			c.Ask = snap.LatestQuote.AskPrice
		}
		if snap.LatestTrade != nil {
			c.Last = snap.LatestTrade.Price
		}
		if snap.Greeks != nil {
			c.Delta = snap.Greeks.Delta
		}
		chain.Contracts = append(chain.Contracts, c)
	}
	return chain, nil
}

// GetTrades lists recent orders and maps their status into the trade
// lifecycle vocabulary.
func (p *AlpacaProvider) GetTrades(ctx context.Context) ([]domain.Trade, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	orders, err := p.trading.GetOrders(alpaca.GetOrdersRequest{Status: "all", Limit: 200})
	if err != nil {
		return nil, p.wrap("GetTrades", err)
	}
	p.connected.Store(true)

	trades := make([]domain.Trade, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		t := domain.Trade{
			ID:        o.ID,
			Symbol:    o.Symbol,
			Status:    mapOrderStatus(o.Status),
			CreatedAt: o.CreatedAt,
			FilledAt:  o.FilledAt,
		}
		if leg, err := parseOCCSymbol(o.Symbol); err == nil {
			t.Symbol = leg.Underlying
			t.SellStrike = leg.Strike
			t.Expiration = leg.Expiration
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// PlaceOrder submits the spread as one limit order per leg on the OCC
// contract symbols. Transient failures are retried; if the buy leg fails
// permanently after the sell leg was accepted, the sell leg is cancelled
// best-effort before the rejection propagates.
func (p *AlpacaProvider) PlaceOrder(ctx context.Context, trade *domain.Trade) (*PlacementAck, error) {
	sellSymbol := occFromTrade(trade, trade.SellStrike)
	buySymbol := occFromTrade(trade, trade.BuyStrike)
	qty := decimal.NewFromInt(int64(trade.Quantity))

	sellOrder, err := p.placeLeg(ctx, alpaca.PlaceOrderRequest{
		Symbol:      sellSymbol,
		Qty:         &qty,
		Side:        alpaca.Sell,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, err
	}

	if _, err := p.placeLeg(ctx, alpaca.PlaceOrderRequest{
		Symbol:      buySymbol,
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}); err != nil {
		if cerr := p.trading.CancelOrder(sellOrder.ID); cerr != nil {
			p.log.Warn("cancelling orphaned sell leg", "order", sellOrder.ID, "error", cerr)
		}
		return nil, err
	}

	return &PlacementAck{OrderID: sellOrder.ID, Status: "accepted"}, nil
}

// placeLeg submits one leg, retrying transient API failures.
func (p *AlpacaProvider) placeLeg(ctx context.Context, req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	var order *alpaca.Order
	var permErr error
	err := util.Retry(ctx, placeRetryAttempts, placeRetryDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		order, err = p.trading.PlaceOrder(req)
		if err != nil && !transient(err) {
			// Permanent rejection: stop retrying by reporting success to
			// Retry and carrying the error out of band.
			permErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, &domain.ProviderError{Provider: "alpaca", Op: "PlaceOrder", Transient: true, Err: err}
	}
	if permErr != nil {
		return nil, &domain.ProviderError{Provider: "alpaca", Op: "PlaceOrder", Transient: false, Err: permErr}
	}
	p.connected.Store(true)
	return order, nil
}

// CancelOrder requests cancellation of a working order.
func (p *AlpacaProvider) CancelOrder(ctx context.Context, orderID string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := p.trading.CancelOrder(orderID); err != nil {
		return p.wrap("CancelOrder", err)
	}
	return nil
}

// wrap classifies an API error into the provider error taxonomy.
func (p *AlpacaProvider) wrap(op string, err error) error {
	return &domain.ProviderError{Provider: "alpaca", Op: op, Transient: transient(err), Err: err}
}

// transient reports whether the error is worth retrying: throttling,
// server-side failures, and anything that is not a structured API error
// (network timeouts and the like).
func transient(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

func mapOrderStatus(status string) domain.TradeStatus {
	switch status {
	case "filled":
		return domain.TradeStatusFilled
	case "canceled", "expired":
		return domain.TradeStatusCancelled
	case "rejected", "stopped":
		return domain.TradeStatusRejected
	default:
		return domain.TradeStatusPending
	}
}

// occLeg is a decoded OCC option symbol.
type occLeg struct {
	Underlying string
	Expiration time.Time
	Type       domain.OptionType
	Strike     float64
}

// parseOCCSymbol decodes symbols like SPY261016P00450000: root, yymmdd
// expiration, C/P, and strike in thousandths.
func parseOCCSymbol(symbol string) (*occLeg, error) {
	if len(symbol) < 16 {
		return nil, fmt.Errorf("symbol %q too short for OCC format", symbol)
	}
	strikeRaw := symbol[len(symbol)-8:]
	cp := symbol[len(symbol)-9]
	dateRaw := symbol[len(symbol)-15 : len(symbol)-9]
	root := symbol[:len(symbol)-15]
	if root == "" {
		return nil, fmt.Errorf("symbol %q has no underlying root", symbol)
	}

	strikeMillis, err := strconv.ParseInt(strikeRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("symbol %q: bad strike: %w", symbol, err)
	}
	expiration, err := time.Parse("060102", dateRaw)
	if err != nil {
		return nil, fmt.Errorf("symbol %q: bad expiration: %w", symbol, err)
	}

	var typ domain.OptionType
	switch cp {
	case 'C':
		typ = domain.OptionTypeCall
	case 'P':
		typ = domain.OptionTypePut
	default:
		return nil, fmt.Errorf("symbol %q: bad call/put flag %q", symbol, string(cp))
	}

	return &occLeg{
		Underlying: root,
		Expiration: expiration,
		Type:       typ,
		Strike:     float64(strikeMillis) / 1000,
	}, nil
}

// occFromTrade formats the OCC symbol for one strike of a spread trade.
func occFromTrade(t *domain.Trade, strike float64) string {
	cp := "C"
	if t.Strategy == domain.StrategyPutCredit {
		cp = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", t.Symbol, t.Expiration.Format("060102"), cp, int64(math.Round(strike*1000)))
}
