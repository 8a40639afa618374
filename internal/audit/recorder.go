// Package audit provides the append-only audit recorder and the entry
// constructors for the pipeline's canonical event types. The audit log is
// the system's compliance record: entries are never mutated, never
// deleted, and a failed write is a failed operation.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"orca/internal/domain"
	"orca/internal/store"
)

// Event types recorded by the pipeline.
const (
	EventTradeValidate  = "TRADE_VALIDATE"
	EventTradeSubmit    = "TRADE_SUBMIT"
	EventTradeFilled    = "TRADE_FILLED"
	EventTradeCancelled = "TRADE_CANCELLED"
	EventPositionOpened = "POSITION_OPENED"
	EventPositionClosed = "POSITION_CLOSED"
	EventRulesUpdate    = "RULES_UPDATE"
)

// Outcome statuses attached to entries.
const (
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusApplied = "APPLIED"
)

// Recorder appends entries to the audit store. It never swallows a write
// failure: the caller must treat a failed Record as a failed transition.
type Recorder struct {
	store store.AuditStore
	log   *slog.Logger
}

// NewRecorder creates a Recorder over the given audit store.
func NewRecorder(s store.AuditStore, log *slog.Logger) *Recorder {
	return &Recorder{store: s, log: log}
}

// Record appends an entry and propagates any persistence failure.
func (r *Recorder) Record(ctx context.Context, entry *domain.AuditLogEntry) error {
	if err := r.store.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("recording audit entry %s: %w", entry.EventType, err)
	}
	r.log.Debug("audit", "event", entry.EventType, "status", entry.Status, "trade", entry.TradeID)
	return nil
}

// Entries returns the full log in insertion order.
func (r *Recorder) Entries(ctx context.Context) ([]domain.AuditLogEntry, error) {
	return r.store.AuditLogs(ctx)
}

// EntriesForTrade returns one trade's entries in insertion order.
func (r *Recorder) EntriesForTrade(ctx context.Context, tradeID string) ([]domain.AuditLogEntry, error) {
	return r.store.AuditLogsForTrade(ctx, tradeID)
}

// TradeValidate describes a rule evaluation outcome.
func TradeValidate(trade *domain.Trade, verdict string) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		EventType: EventTradeValidate,
		Details:   fmt.Sprintf("%s validation: %s", trade.Symbol, verdict),
		Actor:     "system",
		Status:    verdict,
		TradeID:   trade.ID,
	}
}

// TradeSubmit describes an order placement attempt.
func TradeSubmit(trade *domain.Trade, status, detail string) *domain.AuditLogEntry {
	d := tradeLine(trade)
	if detail != "" {
		d += ": " + detail
	}
	return &domain.AuditLogEntry{
		EventType: EventTradeSubmit,
		Details:   d,
		Actor:     "system",
		Status:    status,
		TradeID:   trade.ID,
	}
}

// TradeFilled describes a confirmed fill.
func TradeFilled(trade *domain.Trade) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		EventType: EventTradeFilled,
		Details:   tradeLine(trade),
		Actor:     "system",
		Status:    StatusSuccess,
		TradeID:   trade.ID,
	}
}

// PositionOpened describes the position created by a fill.
func PositionOpened(pos *domain.Position, tradeID string) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		EventType: EventPositionOpened,
		Details:   fmt.Sprintf("%s %s %g/%g x%d opened", pos.Symbol, pos.Strategy, pos.SellStrike, pos.BuyStrike, pos.Quantity),
		Actor:     "system",
		Status:    StatusSuccess,
		TradeID:   tradeID,
	}
}

// TradeCancelled describes an administrative cancellation.
func TradeCancelled(trade *domain.Trade, actor string) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		EventType: EventTradeCancelled,
		Details:   tradeLine(trade),
		Actor:     actor,
		Status:    StatusSuccess,
		TradeID:   trade.ID,
	}
}

// PositionClosed describes an explicit position close.
func PositionClosed(pos *domain.Position, actor string) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		EventType: EventPositionClosed,
		Details:   fmt.Sprintf("%s %s closed", pos.Symbol, pos.Strategy),
		Actor:     actor,
		Status:    StatusSuccess,
	}
}

// RulesUpdate describes a new risk rule version taking effect.
func RulesUpdate(rules *domain.RiskRules, actor string) *domain.AuditLogEntry {
	return &domain.AuditLogEntry{
		EventType: EventRulesUpdate,
		Details:   fmt.Sprintf("risk rules updated: %s v%d", rules.Name, rules.Version),
		Actor:     actor,
		Status:    StatusApplied,
	}
}

func tradeLine(t *domain.Trade) string {
	return fmt.Sprintf("%s %s %g/%g x%d", t.Symbol, t.Strategy, t.SellStrike, t.BuyStrike, t.Quantity)
}
