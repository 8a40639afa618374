package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"orca/internal/domain"
)

// failingStore always fails writes; reads are empty.
type failingStore struct{}

func (failingStore) CreateAuditLog(context.Context, *domain.AuditLogEntry) error {
	return errors.New("disk full")
}
func (failingStore) AuditLogs(context.Context) ([]domain.AuditLogEntry, error) { return nil, nil }
func (failingStore) AuditLogsForTrade(context.Context, string) ([]domain.AuditLogEntry, error) {
	return nil, nil
}

// memStore collects entries in order.
type memStore struct {
	entries []domain.AuditLogEntry
}

func (m *memStore) CreateAuditLog(_ context.Context, e *domain.AuditLogEntry) error {
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}
func (m *memStore) AuditLogs(context.Context) ([]domain.AuditLogEntry, error) {
	return m.entries, nil
}
func (m *memStore) AuditLogsForTrade(_ context.Context, tradeID string) ([]domain.AuditLogEntry, error) {
	var out []domain.AuditLogEntry
	for _, e := range m.entries {
		if e.TradeID == tradeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecordPropagatesWriteFailure(t *testing.T) {
	r := NewRecorder(failingStore{}, slog.Default())
	err := r.Record(context.Background(), &domain.AuditLogEntry{EventType: EventTradeValidate})
	if err == nil {
		t.Fatal("Record swallowed a persistence failure")
	}
}

func TestRecordAppendsInOrder(t *testing.T) {
	ms := &memStore{}
	r := NewRecorder(ms, slog.Default())
	ctx := context.Background()

	trade := &domain.Trade{ID: "t-1", Symbol: "SPY", Strategy: domain.StrategyPutCredit, SellStrike: 450, BuyStrike: 445, Quantity: 2}
	for _, e := range []*domain.AuditLogEntry{
		TradeValidate(trade, StatusPassed),
		TradeSubmit(trade, StatusPending, ""),
		TradeFilled(trade),
	} {
		if err := r.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := r.EntriesForTrade(ctx, "t-1")
	if err != nil {
		t.Fatalf("EntriesForTrade: %v", err)
	}
	want := []string{EventTradeValidate, EventTradeSubmit, EventTradeFilled}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, et := range want {
		if entries[i].EventType != et {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].EventType, et)
		}
	}
}

func TestEntryConstructors(t *testing.T) {
	trade := &domain.Trade{ID: "t-9", Symbol: "TSLA", Strategy: domain.StrategyCallCredit, SellStrike: 250, BuyStrike: 255, Quantity: 1}

	e := TradeValidate(trade, StatusFailed)
	if e.EventType != EventTradeValidate || e.Status != StatusFailed || e.TradeID != "t-9" {
		t.Errorf("TradeValidate = %+v", e)
	}

	e = TradeSubmit(trade, StatusFailed, "insufficient buying power")
	if e.Status != StatusFailed {
		t.Errorf("TradeSubmit status = %s", e.Status)
	}
	if e.Details == "" {
		t.Error("TradeSubmit has empty details")
	}

	rules := &domain.RiskRules{Name: "tight", Version: 3}
	e = RulesUpdate(rules, "admin")
	if e.EventType != EventRulesUpdate || e.Actor != "admin" || e.Status != StatusApplied {
		t.Errorf("RulesUpdate = %+v", e)
	}
}
