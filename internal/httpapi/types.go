// Package httpapi serves the trade pipeline over a JSON REST API, plus the
// WebSocket market feed endpoint.
package httpapi

import (
	"time"

	"orca/internal/domain"
	"orca/internal/risk"
)

// LegJSON is the wire form of one spread leg.
type LegJSON struct {
	Strike       float64 `json:"strike"`
	Type         string  `json:"type"`
	Action       string  `json:"action"`
	Premium      float64 `json:"premium"`
	Delta        float64 `json:"delta"`
	OpenInterest int64   `json:"openInterest"`
}

// ProposalJSON is the wire form of a spread proposal. Expiration is a
// calendar date, 2006-01-02.
type ProposalJSON struct {
	Symbol     string  `json:"symbol"`
	Strategy   string  `json:"strategy"`
	SellLeg    LegJSON `json:"sellLeg"`
	BuyLeg     LegJSON `json:"buyLeg"`
	Quantity   int     `json:"quantity"`
	Expiration string  `json:"expiration"`
}

// ToDomain converts the wire proposal. A bad expiration date surfaces as a
// malformed proposal rather than a transport error so the caller sees the
// same error shape as for any other bad field.
func (p *ProposalJSON) ToDomain() (domain.SpreadConfig, error) {
	cfg := domain.SpreadConfig{
		Symbol:   p.Symbol,
		Strategy: domain.Strategy(p.Strategy),
		SellLeg:  p.SellLeg.toDomain(),
		BuyLeg:   p.BuyLeg.toDomain(),
		Quantity: p.Quantity,
	}
	if p.Expiration != "" {
		exp, err := time.Parse("2006-01-02", p.Expiration)
		if err != nil {
			return cfg, &domain.MalformedProposalError{Field: "expiration", Reason: "expiration must be formatted 2006-01-02"}
		}
		cfg.Expiration = exp
	}
	return cfg, nil
}

func (l *LegJSON) toDomain() domain.Leg {
	return domain.Leg{
		Strike:       l.Strike,
		Type:         domain.OptionType(l.Type),
		Action:       domain.LegAction(l.Action),
		Premium:      l.Premium,
		Delta:        l.Delta,
		OpenInterest: l.OpenInterest,
	}
}

// RulesRequest is the wire form of a rules update. The server assigns the
// version number and activation.
type RulesRequest struct {
	Name            string  `json:"name"`
	MinCredit       float64 `json:"minCredit"`
	MaxLossPerTrade float64 `json:"maxLossPerTrade"`
	MinOpenInterest int64   `json:"minOpenInterest"`
	DeltaCapAbs     float64 `json:"deltaCapAbs"`
	LeverageCap     float64 `json:"leverageCap"`
}

// ValidateResponse carries the full diagnostic rule set for a proposal.
type ValidateResponse struct {
	Verdict string            `json:"verdict"`
	Passed  bool              `json:"passed"`
	Results []risk.RuleResult `json:"results"`
}

// SubmitResponse pairs the persisted trade with its evaluation.
type SubmitResponse struct {
	Trade   *domain.Trade    `json:"trade"`
	Outcome ValidateResponse `json:"outcome"`
}

// RulesResponse pairs the active rule version with the full history.
type RulesResponse struct {
	Active  *domain.RiskRules  `json:"active"`
	History []domain.RiskRules `json:"history"`
}

func outcomeJSON(o *risk.Outcome) ValidateResponse {
	return ValidateResponse{Verdict: o.Verdict(), Passed: o.Passed, Results: o.Results}
}
