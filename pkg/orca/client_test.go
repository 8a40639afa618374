package orca

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"orca/internal/audit"
	"orca/internal/broker"
	"orca/internal/domain"
	"orca/internal/engine"
	"orca/internal/httpapi"
	"orca/internal/store"
)

// newTestClient stands up the full API stack and returns a client pointed
// at it, plus the scheduler driving simulated fills.
func newTestClient(t *testing.T) (*Client, *engine.ManualScheduler) {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orca.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.SaveAccountInfo(ctx, &domain.AccountSnapshot{AccountID: "PAPER-1", NetLiq: 100000, BuyingPower: 200000}); err != nil {
		t.Fatalf("SaveAccountInfo: %v", err)
	}
	if err := s.CreateRiskRules(ctx, &domain.RiskRules{
		ID: uuid.NewString(), Name: "default",
		MinCredit: 0.50, MaxLossPerTrade: 1000, MinOpenInterest: 100, DeltaCapAbs: 0.50, LeverageCap: 2.0,
	}); err != nil {
		t.Fatalf("CreateRiskRules: %v", err)
	}

	provider := broker.NewMockProvider(s, log)
	sched := engine.NewManualScheduler()
	eng := engine.NewEngine(s, provider, audit.NewRecorder(s, log), engine.SimplifiedPricing{}, sched, 0, log)

	srv := httptest.NewServer(httpapi.NewServer(eng, provider, s, nil, log).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL), sched
}

func testProposal() Proposal {
	return Proposal{
		Symbol:   "SPY",
		Strategy: "put_credit",
		SellLeg: Leg{
			Strike: 450, Type: "put", Action: "sell",
			Premium: 2.00, Delta: -0.20, OpenInterest: 5000,
		},
		BuyLeg: Leg{
			Strike: 445, Type: "put", Action: "buy",
			Premium: 1.00, Delta: -0.10, OpenInterest: 3000,
		},
		Quantity:   2,
		Expiration: "2026-10-16",
	}
}

func TestClientValidateTrade(t *testing.T) {
	client, _ := newTestClient(t)

	outcome, err := client.ValidateTrade(context.Background(), testProposal())
	if err != nil {
		t.Fatalf("ValidateTrade: %v", err)
	}
	if !outcome.Passed || outcome.Verdict != "PASSED" {
		t.Errorf("outcome = %+v, want PASSED", outcome)
	}
	if len(outcome.Results) != 5 {
		t.Errorf("results = %d, want 5", len(outcome.Results))
	}
}

func TestClientSubmitAndLifecycle(t *testing.T) {
	client, sched := newTestClient(t)
	ctx := context.Background()

	res, err := client.SubmitTrade(ctx, testProposal())
	if err != nil {
		t.Fatalf("SubmitTrade: %v", err)
	}
	if res.Trade.Status != "pending" {
		t.Errorf("trade status = %q, want pending", res.Trade.Status)
	}

	sched.Fire()

	trades, err := client.GetTrades(ctx)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Status != "filled" {
		t.Fatalf("trades = %+v, want one filled", trades)
	}

	positions, err := client.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}

	closed, err := client.ClosePosition(ctx, positions[0].ID)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closed.Status != "CLOSED" {
		t.Errorf("position status = %q, want CLOSED", closed.Status)
	}

	logs, err := client.GetLogs(ctx, res.Trade.ID)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) == 0 {
		t.Error("no audit entries for the trade")
	}
}

func TestClientSubmitRiskRejection(t *testing.T) {
	client, _ := newTestClient(t)

	p := testProposal()
	p.SellLeg.Premium = 1.25 // net credit below the minimum

	res, err := client.SubmitTrade(context.Background(), p)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("SubmitTrade error = %v, want APIError", err)
	}
	if apiErr.StatusCode != 422 {
		t.Errorf("status = %d, want 422", apiErr.StatusCode)
	}
	if res == nil || res.Trade == nil || res.Trade.Status != "rejected" {
		t.Errorf("result = %+v, want rejected trade alongside the error", res)
	}
}

func TestClientCancel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	res, err := client.SubmitTrade(ctx, testProposal())
	if err != nil {
		t.Fatalf("SubmitTrade: %v", err)
	}

	cancelled, err := client.CancelTrade(ctx, res.Trade.ID)
	if err != nil {
		t.Fatalf("CancelTrade: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}

	if _, err := client.CancelTrade(ctx, res.Trade.ID); err == nil {
		t.Error("cancelling a terminal trade succeeded")
	}
	if _, err := client.CancelTrade(ctx, "no-such-id"); err == nil {
		t.Error("cancelling an unknown trade succeeded")
	}
}

func TestClientRules(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	client.SetActor("risk-admin")

	created, err := client.UpdateRules(ctx, RulesUpdate{Name: "tightened", MinCredit: 0.75, MaxLossPerTrade: 500})
	if err != nil {
		t.Fatalf("UpdateRules: %v", err)
	}
	if created.Version != 2 {
		t.Errorf("created version = %d, want 2", created.Version)
	}

	view, err := client.GetRules(ctx)
	if err != nil {
		t.Fatalf("GetRules: %v", err)
	}
	if view.Active == nil || view.Active.MinCredit != 0.75 {
		t.Errorf("active = %+v, want minCredit 0.75", view.Active)
	}
	if len(view.History) != 2 {
		t.Errorf("history = %d, want 2", len(view.History))
	}
}

func TestClientAccountAndStatus(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	acct, err := client.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.NetLiq != 100000 {
		t.Errorf("netLiq = %g, want 100000", acct.NetLiq)
	}

	status, err := client.GetBrokerStatus(ctx)
	if err != nil {
		t.Fatalf("GetBrokerStatus: %v", err)
	}
	if status.Provider != "mock" {
		t.Errorf("provider = %q, want mock", status.Provider)
	}
}
