// Package broker defines the Provider interface over brokerage backends
// and supplies two implementations: an in-process mock for paper trading
// and a live variant backed by the Alpaca API. The lifecycle engine
// depends only on the interface; the variant is selected once at startup.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"orca/internal/domain"
	"orca/internal/store"
)

// PlacementAck is the provider's acknowledgement of an order placement.
type PlacementAck struct {
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status"`
}

// Provider abstracts brokerage operations for the trade pipeline.
type Provider interface {
	// Name returns the provider identifier (e.g. "mock", "alpaca").
	Name() string

	// Status reports the variant, environment, and connectivity flag.
	// Informational only: it never gates whether calls are attempted.
	Status() domain.BrokerStatus

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountSnapshot, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetOptionChain returns the option chain for an underlying,
	// optionally scoped to one expiration date (2006-01-02).
	GetOptionChain(ctx context.Context, symbol, expiration string) (*domain.OptionChain, error)

	// GetTrades returns the trades known to the brokerage.
	GetTrades(ctx context.Context) ([]domain.Trade, error)

	// PlaceOrder sends the spread order for execution. Transient
	// failures are retried inside the provider; permanent rejections
	// surface as a *domain.ProviderError.
	PlaceOrder(ctx context.Context, trade *domain.Trade) (*PlacementAck, error)

	// CancelOrder requests cancellation of a working order.
	CancelOrder(ctx context.Context, orderID string) error
}

// Backend is the slice of the data store the mock provider reads.
type Backend interface {
	store.AccountStore
	store.PositionStore
	store.ChainStore
	store.TradeStore
}

// Options selects and configures the provider variant. It is resolved once
// from static configuration and passed in; providers never read the
// environment at call time.
type Options struct {
	Provider  string // "mock" or "alpaca"
	Env       domain.BrokerEnv
	APIKey    string
	APISecret string
	BaseURL   string // trading API endpoint
	DataURL   string // market data endpoint
}

// New constructs the configured provider variant.
func New(opts Options, backend Backend, log *slog.Logger) (Provider, error) {
	switch opts.Provider {
	case "", "mock":
		return NewMockProvider(backend, log), nil
	case "alpaca":
		return NewAlpacaProvider(opts, log), nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", opts.Provider)
	}
}
