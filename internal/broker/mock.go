package broker

import (
	"context"
	"log/slog"

	"orca/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*MockProvider)(nil)

// AckAcceptedMock is the placement status the mock provider returns. Fill
// confirmation is driven by the engine's scheduler, never by the provider.
const AckAcceptedMock = "accepted_mock"

// MockProvider implements Provider over the in-process data store for
// paper trading. Placement always acknowledges immediately.
type MockProvider struct {
	backend Backend
	log     *slog.Logger
}

// NewMockProvider creates a MockProvider reading from the given backend.
func NewMockProvider(backend Backend, log *slog.Logger) *MockProvider {
	return &MockProvider{
		backend: backend,
		log:     log.With("broker", "mock"),
	}
}

// Name returns "mock".
func (p *MockProvider) Name() string { return "mock" }

// Status reports the mock as a connected paper environment.
func (p *MockProvider) Status() domain.BrokerStatus {
	return domain.BrokerStatus{Provider: "mock", Env: domain.BrokerEnvPaper, Connected: true}
}

// GetAccount returns the stored account snapshot.
func (p *MockProvider) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	return p.backend.GetAccountInfo(ctx)
}

// GetPositions returns the stored positions.
func (p *MockProvider) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return p.backend.GetPositions(ctx)
}

// GetOptionChain returns the stored synthetic chain.
func (p *MockProvider) GetOptionChain(ctx context.Context, symbol, expiration string) (*domain.OptionChain, error) {
	return p.backend.GetOptionChain(ctx, symbol, expiration)
}

// GetTrades returns the stored trades.
func (p *MockProvider) GetTrades(ctx context.Context) ([]domain.Trade, error) {
	return p.backend.GetTrades(ctx)
}

// PlaceOrder acknowledges immediately with accepted_mock.
func (p *MockProvider) PlaceOrder(_ context.Context, trade *domain.Trade) (*PlacementAck, error) {
	p.log.Debug("order accepted", "trade", trade.ID, "symbol", trade.Symbol)
	return &PlacementAck{OrderID: "mock-" + trade.ID, Status: AckAcceptedMock}, nil
}

// CancelOrder always succeeds; the mock holds no working orders.
func (p *MockProvider) CancelOrder(_ context.Context, orderID string) error {
	p.log.Debug("order cancelled", "order", orderID)
	return nil
}
