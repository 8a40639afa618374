package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"orca/internal/audit"
	"orca/internal/broker"
	"orca/internal/domain"
	"orca/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProposal() domain.SpreadConfig {
	return domain.SpreadConfig{
		Symbol:   "SPY",
		Strategy: domain.StrategyPutCredit,
		SellLeg: domain.Leg{
			Strike:       450,
			Type:         domain.OptionTypePut,
			Action:       domain.LegActionSell,
			Premium:      2.00,
			Delta:        -0.20,
			OpenInterest: 5000,
		},
		BuyLeg: domain.Leg{
			Strike:       445,
			Type:         domain.OptionTypePut,
			Action:       domain.LegActionBuy,
			Premium:      1.00,
			Delta:        -0.10,
			OpenInterest: 3000,
		},
		Quantity:   2,
		Expiration: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore, *ManualScheduler) {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orca.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	acct := &domain.AccountSnapshot{AccountID: "PAPER-1", NetLiq: 100000, BuyingPower: 200000}
	if err := s.SaveAccountInfo(ctx, acct); err != nil {
		t.Fatalf("SaveAccountInfo: %v", err)
	}
	rules := &domain.RiskRules{
		ID:              uuid.NewString(),
		Name:            "default",
		MinCredit:       0.50,
		MaxLossPerTrade: 1000,
		MinOpenInterest: 100,
		DeltaCapAbs:     0.50,
		LeverageCap:     2.0,
	}
	if err := s.CreateRiskRules(ctx, rules); err != nil {
		t.Fatalf("CreateRiskRules: %v", err)
	}

	log := testLogger()
	sched := NewManualScheduler()
	eng := NewEngine(s, broker.NewMockProvider(s, log), audit.NewRecorder(s, log),
		SimplifiedPricing{}, sched, 0, log)
	return eng, s, sched
}

func auditEvents(t *testing.T, s *store.SQLiteStore) []string {
	t.Helper()
	entries, err := s.AuditLogs(context.Background())
	if err != nil {
		t.Fatalf("AuditLogs: %v", err)
	}
	events := make([]string, len(entries))
	for i, e := range entries {
		events[i] = e.EventType + "/" + e.Status
	}
	return events
}

func TestSubmitPassingProposal(t *testing.T) {
	eng, s, sched := newTestEngine(t)
	ctx := context.Background()

	trade, outcome, err := eng.Submit(ctx, testProposal())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !outcome.Passed {
		t.Fatalf("outcome failed: %+v", outcome.Results)
	}
	if trade.Status != domain.TradeStatusPending {
		t.Errorf("trade status = %s, want pending", trade.Status)
	}
	if trade.Credit != 1.00 {
		t.Errorf("trade credit = %g, want 1.00", trade.Credit)
	}
	if sched.Pending() != 1 {
		t.Errorf("scheduled fills = %d, want 1", sched.Pending())
	}

	got := auditEvents(t, s)
	want := []string{"TRADE_VALIDATE/PASSED", "TRADE_SUBMIT/PENDING"}
	if len(got) != len(want) {
		t.Fatalf("audit events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSubmitFailingProposalPersistsRejected(t *testing.T) {
	eng, s, sched := newTestEngine(t)
	ctx := context.Background()

	p := testProposal()
	p.SellLeg.OpenInterest = 50 // below the configured minimum

	trade, outcome, err := eng.Submit(ctx, p)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.Passed {
		t.Fatal("outcome passed with illiquid leg")
	}
	if trade.Status != domain.TradeStatusRejected {
		t.Errorf("trade status = %s, want rejected", trade.Status)
	}
	if sched.Pending() != 0 {
		t.Errorf("scheduled fills = %d, want 0", sched.Pending())
	}

	stored, err := s.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if stored.Status != domain.TradeStatusRejected {
		t.Errorf("stored status = %s, want rejected", stored.Status)
	}

	got := auditEvents(t, s)
	if len(got) != 1 || got[0] != "TRADE_VALIDATE/FAILED" {
		t.Errorf("audit events = %v, want [TRADE_VALIDATE/FAILED]", got)
	}
}

func TestSubmitMalformedProposalPersistsNothing(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	ctx := context.Background()

	p := testProposal()
	p.Quantity = 0

	_, _, err := eng.Submit(ctx, p)
	var malformed *domain.MalformedProposalError
	if !errors.As(err, &malformed) {
		t.Fatalf("Submit error = %v, want MalformedProposalError", err)
	}

	trades, err := s.GetTrades(ctx)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("persisted %d trades for malformed proposal", len(trades))
	}
	if got := auditEvents(t, s); len(got) != 0 {
		t.Errorf("audit events = %v, want none", got)
	}
}

// failingProvider rejects every placement with a permanent provider error.
type failingProvider struct {
	broker.Provider
}

func (failingProvider) PlaceOrder(context.Context, *domain.Trade) (*broker.PlacementAck, error) {
	return nil, &domain.ProviderError{Provider: "test", Op: "PlaceOrder", Transient: false,
		Err: errors.New("insufficient buying power")}
}

func TestSubmitPlacementFailureRejectsTrade(t *testing.T) {
	eng, s, sched := newTestEngine(t)
	eng.provider = failingProvider{}
	ctx := context.Background()

	trade, _, err := eng.Submit(ctx, testProposal())
	if err == nil {
		t.Fatal("Submit succeeded with failing provider")
	}
	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Submit error = %v, want ProviderError", err)
	}
	if trade.Status != domain.TradeStatusRejected {
		t.Errorf("trade status = %s, want rejected", trade.Status)
	}
	if sched.Pending() != 0 {
		t.Errorf("scheduled fills = %d, want 0", sched.Pending())
	}

	got := auditEvents(t, s)
	want := []string{"TRADE_VALIDATE/PASSED", "TRADE_SUBMIT/FAILED"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("audit events = %v, want %v", got, want)
	}
}

func TestFillCreatesExactlyOnePosition(t *testing.T) {
	eng, s, sched := newTestEngine(t)
	ctx := context.Background()

	trade, _, err := eng.Submit(ctx, testProposal())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.Fire()

	stored, err := s.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if stored.Status != domain.TradeStatusFilled {
		t.Fatalf("trade status = %s, want filled", stored.Status)
	}
	if stored.FilledAt == nil {
		t.Error("filled trade has no fill time")
	}

	positions, err := s.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	pos := positions[0]
	if pos.Delta != -0.40 {
		t.Errorf("position delta = %g, want -0.40", pos.Delta)
	}
	if pos.MarginRequired != 1000 {
		t.Errorf("position margin = %g, want 1000", pos.MarginRequired)
	}

	acct, err := s.GetAccountInfo(ctx)
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if acct.MarginUsed != 1000 {
		t.Errorf("account margin used = %g, want 1000", acct.MarginUsed)
	}

	// A repeated confirmation must not create a second position.
	if err := eng.ConfirmFill(ctx, trade.ID); !errors.Is(err, domain.ErrTerminalState) {
		t.Errorf("second ConfirmFill = %v, want ErrTerminalState", err)
	}
	positions, _ = s.GetPositions(ctx)
	if len(positions) != 1 {
		t.Errorf("positions after duplicate fill = %d, want 1", len(positions))
	}
}

func TestConcurrentFillConfirmations(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	ctx := context.Background()

	trade, _, err := eng.Submit(ctx, testProposal())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.ConfirmFill(ctx, trade.ID)
		}(i)
	}
	wg.Wait()

	var ok, terminal int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrTerminalState):
			terminal++
		default:
			t.Errorf("ConfirmFill: %v", err)
		}
	}
	if ok != 1 || terminal != n-1 {
		t.Errorf("fills = %d ok / %d terminal, want 1 / %d", ok, terminal, n-1)
	}

	positions, _ := s.GetPositions(ctx)
	if len(positions) != 1 {
		t.Errorf("positions = %d, want 1", len(positions))
	}
}

func TestCancelPendingTrade(t *testing.T) {
	eng, s, sched := newTestEngine(t)
	ctx := context.Background()

	trade, _, err := eng.Submit(ctx, testProposal())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancelled, err := eng.Cancel(ctx, trade.ID, "trader")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.TradeStatusCancelled {
		t.Errorf("trade status = %s, want cancelled", cancelled.Status)
	}
	if sched.Pending() != 0 {
		t.Errorf("scheduled fills = %d, want 0 after cancel", sched.Pending())
	}

	// The dropped fill must not resurrect the trade.
	sched.Fire()
	stored, _ := s.GetTrade(ctx, trade.ID)
	if stored.Status != domain.TradeStatusCancelled {
		t.Errorf("trade status after fire = %s, want cancelled", stored.Status)
	}
	positions, _ := s.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0", len(positions))
	}
}

func TestCancelFilledTradeRefused(t *testing.T) {
	eng, _, sched := newTestEngine(t)
	ctx := context.Background()

	trade, _, err := eng.Submit(ctx, testProposal())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.Fire()

	if _, err := eng.Cancel(ctx, trade.ID, "trader"); !errors.Is(err, domain.ErrTerminalState) {
		t.Errorf("Cancel after fill = %v, want ErrTerminalState", err)
	}
}

func TestCancelUnknownTrade(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if _, err := eng.Cancel(context.Background(), "no-such-trade", "trader"); !errors.Is(err, domain.ErrTradeNotFound) {
		t.Errorf("Cancel = %v, want ErrTradeNotFound", err)
	}
}

func TestValidateDoesNotPersistTrade(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	ctx := context.Background()

	outcome, err := eng.Validate(ctx, testProposal())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !outcome.Passed {
		t.Errorf("outcome failed: %+v", outcome.Results)
	}

	trades, _ := s.GetTrades(ctx)
	if len(trades) != 0 {
		t.Errorf("Validate persisted %d trades", len(trades))
	}
	got := auditEvents(t, s)
	if len(got) != 1 || got[0] != "TRADE_VALIDATE/PASSED" {
		t.Errorf("audit events = %v, want [TRADE_VALIDATE/PASSED]", got)
	}
}

func TestClosePositionReleasesMargin(t *testing.T) {
	eng, s, sched := newTestEngine(t)
	ctx := context.Background()

	_, _, err := eng.Submit(ctx, testProposal())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sched.Fire()

	positions, _ := s.GetPositions(ctx)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}

	closed, err := eng.ClosePosition(ctx, positions[0].ID, "trader")
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closed.Status != domain.PositionStatusClosed {
		t.Errorf("position status = %s, want CLOSED", closed.Status)
	}

	acct, _ := s.GetAccountInfo(ctx)
	if acct.MarginUsed != 0 {
		t.Errorf("margin used = %g, want 0 after close", acct.MarginUsed)
	}

	events := auditEvents(t, s)
	if events[len(events)-1] != "POSITION_CLOSED/SUCCESS" {
		t.Errorf("last audit event = %s, want POSITION_CLOSED/SUCCESS", events[len(events)-1])
	}
}

func TestUpdateRulesAppendsVersionAndAudits(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	ctx := context.Background()

	updated := &domain.RiskRules{ID: uuid.NewString(), Name: "tightened", MinCredit: 0.75, MaxLossPerTrade: 500}
	if _, err := eng.UpdateRules(ctx, updated, "risk-admin"); err != nil {
		t.Fatalf("UpdateRules: %v", err)
	}

	active, err := s.ActiveRiskRules(ctx)
	if err != nil {
		t.Fatalf("ActiveRiskRules: %v", err)
	}
	if active.Version != 2 || active.MinCredit != 0.75 {
		t.Errorf("active rules = v%d minCredit %g, want v2 / 0.75", active.Version, active.MinCredit)
	}

	events := auditEvents(t, s)
	if events[len(events)-1] != "RULES_UPDATE/APPLIED" {
		t.Errorf("last audit event = %s, want RULES_UPDATE/APPLIED", events[len(events)-1])
	}
}
