// Package store defines storage interfaces for persisting and retrieving
// domain objects such as trades, positions, risk rule versions, audit
// entries, and option chains.
package store

import (
	"context"
	"time"

	"orca/internal/domain"
)

// TradeStore persists and retrieves trade records. Trades are append-only:
// they are never deleted, only status-updated.
type TradeStore interface {
	// CreateTrade inserts a new trade into storage.
	CreateTrade(ctx context.Context, trade *domain.Trade) error

	// GetTrade retrieves a single trade by its ID.
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)

	// GetTrades returns all trades, newest first.
	GetTrades(ctx context.Context) ([]domain.Trade, error)

	// UpdateTradeStatus sets the status of an existing trade.
	UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus) error
}

// PositionStore persists and retrieves position records. Closed positions
// are kept for history.
type PositionStore interface {
	// CreatePosition inserts a new position into storage.
	CreatePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves a single position by its ID.
	GetPosition(ctx context.Context, id string) (*domain.Position, error)

	// GetPositions returns all positions, open first.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// ClosePosition marks a position CLOSED and records the close time.
	ClosePosition(ctx context.Context, id string) error

	// MarkPosition updates the mark-to-market value of an open position.
	MarkPosition(ctx context.Context, id string, currentValue float64) error
}

// RuleStore manages versioned risk rule sets. Updates append a new version
// and deactivate the prior one; history is never mutated in place.
type RuleStore interface {
	// GetRiskRules returns all rule versions, newest first.
	GetRiskRules(ctx context.Context) ([]domain.RiskRules, error)

	// ActiveRiskRules returns the single active rule version, or
	// domain.ErrNoActiveRules.
	ActiveRiskRules(ctx context.Context) (*domain.RiskRules, error)

	// CreateRiskRules appends a new active rule version, assigning the
	// next version number and deactivating the previous version.
	CreateRiskRules(ctx context.Context, rules *domain.RiskRules) error
}

// AuditStore is the append-only compliance log. Reads return entries in
// insertion order; entries are never mutated or deleted.
type AuditStore interface {
	// CreateAuditLog appends an entry and fills in its assigned ID.
	CreateAuditLog(ctx context.Context, entry *domain.AuditLogEntry) error

	// AuditLogs returns all entries in insertion order.
	AuditLogs(ctx context.Context) ([]domain.AuditLogEntry, error)

	// AuditLogsForTrade returns the entries recorded for one trade, in
	// insertion order.
	AuditLogsForTrade(ctx context.Context, tradeID string) ([]domain.AuditLogEntry, error)
}

// AccountStore persists the account figures read by the rule evaluator.
type AccountStore interface {
	// GetAccountInfo returns the stored account snapshot.
	GetAccountInfo(ctx context.Context) (*domain.AccountSnapshot, error)

	// SaveAccountInfo inserts or replaces the account snapshot.
	SaveAccountInfo(ctx context.Context, acct *domain.AccountSnapshot) error
}

// ChainStore persists option chain data used by the mock provider.
type ChainStore interface {
	// GetOptionChain returns the chain for an underlying, optionally
	// filtered to one expiration date (formatted 2006-01-02).
	GetOptionChain(ctx context.Context, symbol, expiration string) (*domain.OptionChain, error)

	// SaveOptionChain inserts or replaces the contracts of a chain.
	SaveOptionChain(ctx context.Context, chain *domain.OptionChain) error
}

// LifecycleStore groups the transactional operations the order lifecycle
// controller needs: every state transition commits atomically with its
// audit entry, so an un-auditable transition never becomes visible.
type LifecycleStore interface {
	// Snapshot reads the account snapshot and the active rule version in
	// a single read transaction, so rule evaluation never observes a
	// partially-updated account or a torn rules write.
	Snapshot(ctx context.Context) (domain.AccountSnapshot, domain.RiskRules, error)

	// CreateTradeWithAudit inserts a trade and its audit entry atomically.
	CreateTradeWithAudit(ctx context.Context, trade *domain.Trade, entry *domain.AuditLogEntry) error

	// TransitionTrade moves a trade from one status to another and writes
	// the audit entry in the same transaction. It returns
	// domain.ErrTerminalState if the trade is not in the from status, and
	// domain.ErrTradeNotFound if it does not exist.
	TransitionTrade(ctx context.Context, id string, from, to domain.TradeStatus, entry *domain.AuditLogEntry) error

	// FillTrade atomically flips a pending trade to filled, creates its
	// position, reserves the position margin on the account, and writes
	// the audit entry. The status check runs inside the transaction, so
	// concurrent duplicate fills cannot both succeed.
	FillTrade(ctx context.Context, id string, filledAt time.Time, pos *domain.Position, entry *domain.AuditLogEntry) error
}
