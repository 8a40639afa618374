// Package orca provides a Go SDK for the orca-server REST API.
package orca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client provides a Go SDK for interacting with the orca-server API.
type Client struct {
	baseURL    string
	actor      string
	httpClient *http.Client
}

// NewClient creates a new orca API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetActor sets the identity recorded in audit entries for write calls.
func (c *Client) SetActor(actor string) { c.actor = actor }

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orca API: %d: %s", e.StatusCode, e.Message)
}

// Leg is one side of a spread proposal.
type Leg struct {
	Strike       float64 `json:"strike"`
	Type         string  `json:"type"`
	Action       string  `json:"action"`
	Premium      float64 `json:"premium"`
	Delta        float64 `json:"delta"`
	OpenInterest int64   `json:"openInterest"`
}

// Proposal is a two-leg spread submitted for validation or execution.
// Expiration is a calendar date formatted 2006-01-02.
type Proposal struct {
	Symbol     string `json:"symbol"`
	Strategy   string `json:"strategy"`
	SellLeg    Leg    `json:"sellLeg"`
	BuyLeg     Leg    `json:"buyLeg"`
	Quantity   int    `json:"quantity"`
	Expiration string `json:"expiration"`
}

// RuleResult is one rule check from a validation.
type RuleResult struct {
	Rule      string  `json:"rule"`
	Passed    bool    `json:"passed"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// Outcome is the full diagnostic result of a validation.
type Outcome struct {
	Verdict string       `json:"verdict"`
	Passed  bool         `json:"passed"`
	Results []RuleResult `json:"results"`
}

// Trade is a proposal that entered the order pipeline.
type Trade struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Strategy   string     `json:"strategy"`
	SellStrike float64    `json:"sellStrike"`
	BuyStrike  float64    `json:"buyStrike"`
	Expiration time.Time  `json:"expiration"`
	Quantity   int        `json:"quantity"`
	Credit     float64    `json:"credit"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	FilledAt   *time.Time `json:"filledAt,omitempty"`
}

// SubmitResult pairs the persisted trade with its evaluation.
type SubmitResult struct {
	Trade   *Trade  `json:"trade"`
	Outcome Outcome `json:"outcome"`
}

// Position is a holding created by a fill.
type Position struct {
	ID             string     `json:"id"`
	Symbol         string     `json:"symbol"`
	Strategy       string     `json:"strategy"`
	SellStrike     float64    `json:"sellStrike"`
	BuyStrike      float64    `json:"buyStrike"`
	Expiration     time.Time  `json:"expiration"`
	Quantity       int        `json:"quantity"`
	OpenCredit     float64    `json:"openCredit"`
	CurrentValue   float64    `json:"currentValue"`
	Delta          float64    `json:"delta"`
	MarginRequired float64    `json:"marginRequired"`
	Status         string     `json:"status"`
	OpenedAt       time.Time  `json:"openedAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
}

// Account is the account snapshot served by the broker provider.
type Account struct {
	AccountID   string  `json:"accountId"`
	NetLiq      float64 `json:"netLiq"`
	BuyingPower float64 `json:"buyingPower"`
	MarginUsed  float64 `json:"marginUsed"`
	DayPnL      float64 `json:"dayPnL"`
}

// Rules is one risk rule version.
type Rules struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Version         int       `json:"version"`
	MinCredit       float64   `json:"minCredit"`
	MaxLossPerTrade float64   `json:"maxLossPerTrade"`
	MinOpenInterest int64     `json:"minOpenInterest"`
	DeltaCapAbs     float64   `json:"deltaCapAbs"`
	LeverageCap     float64   `json:"leverageCap"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RulesUpdate is the payload for appending a new rule version.
type RulesUpdate struct {
	Name            string  `json:"name"`
	MinCredit       float64 `json:"minCredit"`
	MaxLossPerTrade float64 `json:"maxLossPerTrade"`
	MinOpenInterest int64   `json:"minOpenInterest"`
	DeltaCapAbs     float64 `json:"deltaCapAbs"`
	LeverageCap     float64 `json:"leverageCap"`
}

// RulesView pairs the active version with the full history.
type RulesView struct {
	Active  *Rules  `json:"active"`
	History []Rules `json:"history"`
}

// AuditEntry is one record of the compliance log.
type AuditEntry struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	Details   string    `json:"details"`
	Actor     string    `json:"actor"`
	Status    string    `json:"status"`
	TradeID   string    `json:"tradeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BrokerStatus describes the provider the server was started with.
type BrokerStatus struct {
	Provider  string `json:"provider"`
	Env       string `json:"env"`
	Connected bool   `json:"connected"`
}

// OptionContract is one row of an option chain.
type OptionContract struct {
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying"`
	Strike       float64   `json:"strike"`
	Type         string    `json:"type"`
	Expiration   time.Time `json:"expiration"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Delta        float64   `json:"delta"`
	OpenInterest int64     `json:"openInterest"`
}

// OptionChain is the contract set for an underlying.
type OptionChain struct {
	Underlying string           `json:"underlying"`
	Expiration string           `json:"expiration,omitempty"`
	Contracts  []OptionContract `json:"contracts"`
}

// ValidateTrade evaluates a proposal against the active risk rules without
// submitting it.
func (c *Client) ValidateTrade(ctx context.Context, p Proposal) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/api/trades/validate", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTrade runs a proposal through the full pipeline. A risk rejection
// returns the rejected trade and outcome alongside the *APIError.
func (c *Client) SubmitTrade(ctx context.Context, p Proposal) (*SubmitResult, error) {
	var out SubmitResult
	err := c.do(ctx, http.MethodPost, "/api/trades/submit", p, &out)
	if err != nil {
		var apiErr *APIError
		if out.Trade != nil && errors.As(err, &apiErr) {
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// CancelTrade cancels a pending trade.
func (c *Client) CancelTrade(ctx context.Context, tradeID string) (*Trade, error) {
	var out Trade
	if err := c.do(ctx, http.MethodPost, "/api/trades/"+url.PathEscape(tradeID)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrades lists all trades, newest first.
func (c *Client) GetTrades(ctx context.Context) ([]Trade, error) {
	var out []Trade
	if err := c.do(ctx, http.MethodGet, "/api/trades", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPositions lists positions, open first.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.do(ctx, http.MethodGet, "/api/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClosePosition closes an open position.
func (c *Client) ClosePosition(ctx context.Context, positionID string) (*Position, error) {
	var out Position
	if err := c.do(ctx, http.MethodPost, "/api/positions/"+url.PathEscape(positionID)+"/close", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAccount retrieves the account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/api/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRules retrieves the active rule version and the history.
func (c *Client) GetRules(ctx context.Context) (*RulesView, error) {
	var out RulesView
	if err := c.do(ctx, http.MethodGet, "/api/rules", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRules appends a new active rule version.
func (c *Client) UpdateRules(ctx context.Context, update RulesUpdate) (*Rules, error) {
	var out Rules
	if err := c.do(ctx, http.MethodPost, "/api/rules", update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLogs retrieves audit entries, optionally scoped to one trade.
func (c *Client) GetLogs(ctx context.Context, tradeID string) ([]AuditEntry, error) {
	path := "/api/logs"
	if tradeID != "" {
		path += "?tradeId=" + url.QueryEscape(tradeID)
	}
	var out []AuditEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBrokerStatus reports the provider the server is running against.
func (c *Client) GetBrokerStatus(ctx context.Context) (*BrokerStatus, error) {
	var out BrokerStatus
	if err := c.do(ctx, http.MethodGet, "/api/broker/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOptionChain retrieves the chain for an underlying. expiration may be
// empty or a 2006-01-02 date.
func (c *Client) GetOptionChain(ctx context.Context, symbol, expiration string) (*OptionChain, error) {
	path := "/api/options/chain/" + url.PathEscape(symbol)
	if expiration != "" {
		path += "?expiration=" + url.QueryEscape(expiration)
	}
	var out OptionChain
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one request. A non-2xx status decodes the body into out when
// possible and returns an *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	// Error responses may still carry a decodable payload (e.g. a risk
	// rejection includes the trade and outcome).
	var probe struct {
		Error string `json:"error"`
	}
	raw := json.NewDecoder(resp.Body)
	if out != nil {
		var envelope json.RawMessage
		if err := raw.Decode(&envelope); err == nil {
			json.Unmarshal(envelope, out)
			json.Unmarshal(envelope, &probe)
		}
	} else {
		raw.Decode(&probe)
	}
	msg := probe.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
