// Package domain defines the core types shared across the orca platform:
// spread proposals, trades, positions, risk rules, audit entries, and the
// error taxonomy of the trade pipeline.
package domain

import (
	"math"
	"time"
)

// OptionType identifies the option contract kind.
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// LegAction identifies whether a leg opens a short or long contract.
type LegAction string

const (
	LegActionSell LegAction = "sell"
	LegActionBuy  LegAction = "buy"
)

// Strategy tags the spread type of a proposal.
type Strategy string

const (
	StrategyPutCredit  Strategy = "put_credit"
	StrategyCallCredit Strategy = "call_credit"
)

// TradeStatus is the lifecycle status of a trade record.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusFilled    TradeStatus = "filled"
	TradeStatusRejected  TradeStatus = "rejected"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusFilled || s == TradeStatusRejected || s == TradeStatusCancelled
}

// PositionStatus is the lifecycle status of a position.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusClosed  PositionStatus = "CLOSED"
	PositionStatusExpired PositionStatus = "EXPIRED"
)

// Leg is one side of a two-leg options spread.
type Leg struct {
	Strike       float64    `json:"strike" yaml:"strike"`
	Type         OptionType `json:"type" yaml:"type"`
	Action       LegAction  `json:"action" yaml:"action"`
	Premium      float64    `json:"premium" yaml:"premium"`
	Delta        float64    `json:"delta" yaml:"delta"`
	OpenInterest int64      `json:"openInterest" yaml:"open_interest"`
}

// SpreadConfig is a proposed two-leg options trade. The sell leg collects
// premium, the buy leg caps the loss.
type SpreadConfig struct {
	Symbol     string    `json:"symbol" yaml:"symbol"`
	Strategy   Strategy  `json:"strategy" yaml:"strategy"`
	SellLeg    Leg       `json:"sellLeg" yaml:"sell_leg"`
	BuyLeg     Leg       `json:"buyLeg" yaml:"buy_leg"`
	Quantity   int       `json:"quantity" yaml:"quantity"`
	Expiration time.Time `json:"expiration" yaml:"expiration"`
}

// Validate checks the structural invariants of the proposal: exactly one
// sell and one buy leg, positive quantity, positive strikes, a symbol, and
// an expiration date. It returns a *MalformedProposalError describing the
// first violation found.
func (c *SpreadConfig) Validate() error {
	switch {
	case c.Symbol == "":
		return &MalformedProposalError{Field: "symbol", Reason: "symbol is required"}
	case c.Strategy != StrategyPutCredit && c.Strategy != StrategyCallCredit:
		return &MalformedProposalError{Field: "strategy", Reason: "unknown strategy " + string(c.Strategy)}
	case c.SellLeg.Action != LegActionSell:
		return &MalformedProposalError{Field: "sellLeg.action", Reason: "sell leg must have action sell"}
	case c.BuyLeg.Action != LegActionBuy:
		return &MalformedProposalError{Field: "buyLeg.action", Reason: "buy leg must have action buy"}
	case c.SellLeg.Strike <= 0 || c.BuyLeg.Strike <= 0:
		return &MalformedProposalError{Field: "strike", Reason: "strikes must be positive"}
	case c.SellLeg.Type != c.BuyLeg.Type:
		return &MalformedProposalError{Field: "type", Reason: "both legs must share the option type"}
	case c.Quantity <= 0:
		return &MalformedProposalError{Field: "quantity", Reason: "quantity must be positive"}
	case c.Expiration.IsZero():
		return &MalformedProposalError{Field: "expiration", Reason: "expiration is required"}
	}
	return nil
}

// NetCredit is the per-contract credit collected: sell premium minus buy
// premium.
func (c *SpreadConfig) NetCredit() float64 {
	return c.SellLeg.Premium - c.BuyLeg.Premium
}

// MaxLoss is the worst-case dollar loss of the spread across all contracts:
// (strike width − net credit) × 100 × quantity.
func (c *SpreadConfig) MaxLoss() float64 {
	width := math.Abs(c.SellLeg.Strike - c.BuyLeg.Strike)
	return (width*100 - c.NetCredit()*100) * float64(c.Quantity)
}

// NetDelta is the per-spread delta exposure: sell-leg delta minus buy-leg
// delta.
func (c *SpreadConfig) NetDelta() float64 {
	return c.SellLeg.Delta - c.BuyLeg.Delta
}

// MarginRequired is the margin the spread ties up: strike width × 100 ×
// quantity.
func (c *SpreadConfig) MarginRequired() float64 {
	return math.Abs(c.SellLeg.Strike-c.BuyLeg.Strike) * 100 * float64(c.Quantity)
}

// Trade is a proposal that entered the order pipeline. Trades are never
// deleted; their status advances through the lifecycle and stops at a
// terminal state.
type Trade struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Strategy   Strategy    `json:"strategy"`
	SellStrike float64     `json:"sellStrike"`
	BuyStrike  float64     `json:"buyStrike"`
	Expiration time.Time   `json:"expiration"`
	Quantity   int         `json:"quantity"`
	Credit     float64     `json:"credit"`
	Status     TradeStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	FilledAt   *time.Time  `json:"filledAt,omitempty"`
}

// Position is the holding created when a trade fills. Closed positions are
// kept for history.
type Position struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	Strategy       Strategy       `json:"strategy"`
	SellStrike     float64        `json:"sellStrike"`
	BuyStrike      float64        `json:"buyStrike"`
	Expiration     time.Time      `json:"expiration"`
	Quantity       int            `json:"quantity"`
	OpenCredit     float64        `json:"openCredit"`
	CurrentValue   float64        `json:"currentValue"`
	Delta          float64        `json:"delta"`
	MarginRequired float64        `json:"marginRequired"`
	Status         PositionStatus `json:"status"`
	OpenedAt       time.Time      `json:"openedAt"`
	ClosedAt       *time.Time     `json:"closedAt,omitempty"`
}

// RiskRules is one version of the account-scope risk configuration. A new
// version is appended on every update; exactly one version is active at a
// time, and historical versions are never mutated. A zero threshold means
// the corresponding rule is not configured.
type RiskRules struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Version         int       `json:"version"`
	MinCredit       float64   `json:"minCredit" yaml:"min_credit"`
	MaxLossPerTrade float64   `json:"maxLossPerTrade" yaml:"max_loss_per_trade"`
	MinOpenInterest int64     `json:"minOpenInterest" yaml:"min_open_interest"`
	DeltaCapAbs     float64   `json:"deltaCapAbs" yaml:"delta_cap_abs"`
	LeverageCap     float64   `json:"leverageCap" yaml:"leverage_cap"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AuditLogEntry is a single record in the append-only compliance log.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	Details   string    `json:"details"`
	Actor     string    `json:"actor"`
	Status    string    `json:"status"`
	TradeID   string    `json:"tradeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountSnapshot is a consistent view of the account figures the rule
// evaluator reads.
type AccountSnapshot struct {
	AccountID   string  `json:"accountId"`
	NetLiq      float64 `json:"netLiq"`
	BuyingPower float64 `json:"buyingPower"`
	MarginUsed  float64 `json:"marginUsed"`
	DayPnL      float64 `json:"dayPnL"`
}

// OptionContract is one row of an option chain.
type OptionContract struct {
	Symbol       string     `json:"symbol"`
	Underlying   string     `json:"underlying"`
	Strike       float64    `json:"strike"`
	Type         OptionType `json:"type"`
	Expiration   time.Time  `json:"expiration"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Last         float64    `json:"last"`
	Delta        float64    `json:"delta"`
	OpenInterest int64      `json:"openInterest"`
}

// OptionChain is the set of contracts for an underlying, optionally scoped
// to a single expiration.
type OptionChain struct {
	Underlying string           `json:"underlying"`
	Expiration string           `json:"expiration,omitempty"`
	Contracts  []OptionContract `json:"contracts"`
}

// BrokerEnv selects the brokerage environment.
type BrokerEnv string

const (
	BrokerEnvPaper BrokerEnv = "paper"
	BrokerEnvLive  BrokerEnv = "live"
)

// BrokerStatus describes the provider selected at startup. It is
// informational only and never gates whether calls are attempted.
type BrokerStatus struct {
	Provider  string    `json:"provider"`
	Env       BrokerEnv `json:"env"`
	Connected bool      `json:"connected"`
}
