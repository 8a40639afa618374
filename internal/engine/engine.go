// Package engine implements the order lifecycle controller. Proposals are
// evaluated against the active risk rules, accepted trades are placed with
// the broker provider, and confirmed fills create positions. Every state
// transition commits atomically with its audit entry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"orca/internal/audit"
	"orca/internal/broker"
	"orca/internal/domain"
	"orca/internal/risk"
	"orca/internal/store"
)

// Store is the persistence surface the engine needs.
type Store interface {
	store.LifecycleStore
	store.TradeStore
	store.PositionStore
	store.RuleStore
}

// Notifier receives fill events for broadcast. Implemented by the market
// feed hub; a nil notifier disables broadcasting.
type Notifier interface {
	TradeFilled(trade *domain.Trade, pos *domain.Position)
}

// Engine orchestrates the trade lifecycle by delegating to a broker
// provider for execution, the store for persistence, and the rule
// evaluator for pre-trade checks. Transitions on the same trade are
// serialized through a per-trade mutex; different trades proceed in
// parallel.
type Engine struct {
	store     Store
	provider  broker.Provider
	recorder  *audit.Recorder
	pricing   Pricing
	scheduler Scheduler
	fillDelay time.Duration
	notifier  Notifier
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	fills map[string]func()
}

// NewEngine creates an Engine wired with the given dependencies.
func NewEngine(
	s Store,
	provider broker.Provider,
	recorder *audit.Recorder,
	pricing Pricing,
	scheduler Scheduler,
	fillDelay time.Duration,
	log *slog.Logger,
) *Engine {
	return &Engine{
		store:     s,
		provider:  provider,
		recorder:  recorder,
		pricing:   pricing,
		scheduler: scheduler,
		fillDelay: fillDelay,
		log:       log.With("component", "engine"),
		locks:     make(map[string]*sync.Mutex),
		fills:     make(map[string]func()),
	}
}

// SetNotifier attaches a fill broadcast target. Call before serving.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Validate evaluates a proposal against the active rules without entering
// it into the order pipeline. The evaluation is still audited.
func (e *Engine) Validate(ctx context.Context, proposal domain.SpreadConfig) (*risk.Outcome, error) {
	account, rules, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	outcome, err := risk.Evaluate(proposal, rules, account)
	if err != nil {
		return nil, err
	}

	probe := tradeFromProposal(proposal)
	probe.ID = ""
	if err := e.recorder.Record(ctx, audit.TradeValidate(probe, outcome.Verdict())); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// Submit runs the full pipeline for a proposal: evaluate, persist the
// trade, place the order, and schedule the fill confirmation. A failing
// evaluation persists the trade as rejected and returns the outcome with a
// nil error; a malformed proposal returns an error and persists nothing.
func (e *Engine) Submit(ctx context.Context, proposal domain.SpreadConfig) (*domain.Trade, *risk.Outcome, error) {
	account, rules, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	outcome, err := risk.Evaluate(proposal, rules, account)
	if err != nil {
		return nil, nil, err
	}

	trade := tradeFromProposal(proposal)
	if !outcome.Passed {
		trade.Status = domain.TradeStatusRejected
		if err := e.store.CreateTradeWithAudit(ctx, trade, audit.TradeValidate(trade, audit.StatusFailed)); err != nil {
			return nil, nil, err
		}
		e.log.Info("trade rejected by risk rules", "trade", trade.ID, "symbol", trade.Symbol)
		return trade, &outcome, nil
	}

	if err := e.store.CreateTradeWithAudit(ctx, trade, audit.TradeValidate(trade, audit.StatusPassed)); err != nil {
		return nil, nil, err
	}

	ack, err := e.provider.PlaceOrder(ctx, trade)
	if err != nil {
		entry := audit.TradeSubmit(trade, audit.StatusFailed, err.Error())
		if terr := e.store.TransitionTrade(ctx, trade.ID, domain.TradeStatusPending, domain.TradeStatusRejected, entry); terr != nil {
			e.log.Error("recording placement failure", "trade", trade.ID, "error", terr)
		}
		trade.Status = domain.TradeStatusRejected
		return trade, &outcome, fmt.Errorf("placing order for trade %s: %w", trade.ID, err)
	}

	detail := fmt.Sprintf("order %s %s", ack.OrderID, ack.Status)
	if err := e.recorder.Record(ctx, audit.TradeSubmit(trade, audit.StatusPending, detail)); err != nil {
		return trade, &outcome, err
	}

	e.scheduleFill(trade.ID)
	e.log.Info("trade submitted", "trade", trade.ID, "symbol", trade.Symbol, "order", ack.OrderID)
	return trade, &outcome, nil
}

// ConfirmFill flips a pending trade to filled and opens its position. The
// flip, the position insert, the margin reserve, and the audit entry
// commit in one transaction; a second confirmation for the same trade gets
// domain.ErrTerminalState and creates nothing.
func (e *Engine) ConfirmFill(ctx context.Context, tradeID string) error {
	lock := e.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade.Status.Terminal() {
		return domain.ErrTerminalState
	}

	now := time.Now().UTC()
	pos := &domain.Position{
		ID:             uuid.NewString(),
		Symbol:         trade.Symbol,
		Strategy:       trade.Strategy,
		SellStrike:     trade.SellStrike,
		BuyStrike:      trade.BuyStrike,
		Expiration:     trade.Expiration,
		Quantity:       trade.Quantity,
		OpenCredit:     trade.Credit,
		CurrentValue:   trade.Credit,
		Delta:          e.pricing.Delta(trade),
		MarginRequired: e.pricing.Margin(trade),
		Status:         domain.PositionStatusOpen,
		OpenedAt:       now,
	}
	if err := e.store.FillTrade(ctx, tradeID, now, pos, audit.TradeFilled(trade)); err != nil {
		return err
	}
	trade.Status = domain.TradeStatusFilled
	trade.FilledAt = &now

	// The fill is committed; a failed follow-up record must not undo it.
	if err := e.recorder.Record(ctx, audit.PositionOpened(pos, trade.ID)); err != nil {
		e.log.Error("recording position open", "trade", trade.ID, "error", err)
	}
	if e.notifier != nil {
		e.notifier.TradeFilled(trade, pos)
	}
	e.log.Info("trade filled", "trade", trade.ID, "position", pos.ID)
	return nil
}

// Cancel moves a pending trade to cancelled and drops its scheduled fill.
// Terminal trades return domain.ErrTerminalState.
func (e *Engine) Cancel(ctx context.Context, tradeID, actor string) (*domain.Trade, error) {
	lock := e.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	entry := audit.TradeCancelled(trade, actor)
	if err := e.store.TransitionTrade(ctx, tradeID, domain.TradeStatusPending, domain.TradeStatusCancelled, entry); err != nil {
		return nil, err
	}
	if cancel := e.takeFill(tradeID); cancel != nil {
		cancel()
	}
	trade.Status = domain.TradeStatusCancelled
	e.log.Info("trade cancelled", "trade", tradeID, "actor", actor)
	return trade, nil
}

// ClosePosition closes an open position, releasing its margin, and audits
// the close.
func (e *Engine) ClosePosition(ctx context.Context, positionID, actor string) (*domain.Position, error) {
	if err := e.store.ClosePosition(ctx, positionID); err != nil {
		return nil, err
	}
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if err := e.recorder.Record(ctx, audit.PositionClosed(pos, actor)); err != nil {
		return nil, err
	}
	e.log.Info("position closed", "position", positionID, "actor", actor)
	return pos, nil
}

// UpdateRules appends a new active rule version and audits the change. The
// store assigns the version number.
func (e *Engine) UpdateRules(ctx context.Context, rules *domain.RiskRules, actor string) (*domain.RiskRules, error) {
	if err := e.store.CreateRiskRules(ctx, rules); err != nil {
		return nil, err
	}
	if err := e.recorder.Record(ctx, audit.RulesUpdate(rules, actor)); err != nil {
		return nil, err
	}
	e.log.Info("risk rules updated", "version", rules.Version, "actor", actor)
	return rules, nil
}

// scheduleFill defers a fill confirmation by the configured delay and
// keeps the cancel handle so Cancel can drop it.
func (e *Engine) scheduleFill(tradeID string) {
	cancel := e.scheduler.AfterFunc(e.fillDelay, func() {
		e.takeFill(tradeID)
		err := e.ConfirmFill(context.Background(), tradeID)
		if err != nil && !errors.Is(err, domain.ErrTerminalState) {
			e.log.Error("confirming fill", "trade", tradeID, "error", err)
		}
	})

	e.mu.Lock()
	e.fills[tradeID] = cancel
	e.mu.Unlock()
}

// takeFill removes and returns the pending fill cancel handle, if any.
func (e *Engine) takeFill(tradeID string) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel := e.fills[tradeID]
	delete(e.fills, tradeID)
	return cancel
}

// tradeLock returns the mutex serializing transitions of one trade.
func (e *Engine) tradeLock(tradeID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[tradeID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[tradeID] = lock
	}
	return lock
}

func tradeFromProposal(p domain.SpreadConfig) *domain.Trade {
	return &domain.Trade{
		ID:         uuid.NewString(),
		Symbol:     p.Symbol,
		Strategy:   p.Strategy,
		SellStrike: p.SellLeg.Strike,
		BuyStrike:  p.BuyLeg.Strike,
		Expiration: p.Expiration,
		Quantity:   p.Quantity,
		Credit:     p.NetCredit(),
		Status:     domain.TradeStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}
