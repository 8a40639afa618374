// Package risk implements the pre-trade rule evaluator. Evaluation is a
// pure function of the proposal, the rule set version, and an account
// snapshot: no clock, no randomness, no mutation of its inputs.
package risk

import (
	"fmt"
	"math"

	"orca/internal/domain"
)

// Rule names, in canonical evaluation order.
const (
	RuleMinCredit    = "min_credit"
	RuleMaxLoss      = "max_loss"
	RuleOpenInterest = "open_interest"
	RuleDeltaCap     = "delta_cap"
	RuleLeverageCap  = "leverage_cap"
)

// RuleResult is the outcome of a single rule check. Immutable once produced.
type RuleResult struct {
	Rule      string  `json:"rule"`
	Passed    bool    `json:"passed"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// Outcome is the ordered result set of one evaluation. Passed is the AND
// of all results.
type Outcome struct {
	Results []RuleResult `json:"results"`
	Passed  bool         `json:"passed"`
}

// Verdict returns "PASSED" or "FAILED" for audit and API display.
func (o *Outcome) Verdict() string {
	if o.Passed {
		return "PASSED"
	}
	return "FAILED"
}

// Evaluate checks the proposal against every configured rule and returns
// the full diagnostic set; it never short-circuits on the first failure.
// Rules whose threshold is zero are unconfigured and contribute no result.
// A structurally invalid proposal fails fast with a *MalformedProposalError
// before any rule runs.
func Evaluate(p domain.SpreadConfig, rules domain.RiskRules, account domain.AccountSnapshot) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	out.Passed = true

	add := func(r RuleResult) {
		out.Results = append(out.Results, r)
		out.Passed = out.Passed && r.Passed
	}

	if rules.MinCredit > 0 {
		credit := p.NetCredit()
		add(RuleResult{
			Rule:      RuleMinCredit,
			Passed:    credit >= rules.MinCredit,
			Observed:  credit,
			Threshold: rules.MinCredit,
			Message:   fmt.Sprintf("net credit %.2f vs minimum %.2f", credit, rules.MinCredit),
		})
	}

	if rules.MaxLossPerTrade > 0 {
		loss := p.MaxLoss()
		add(RuleResult{
			Rule:      RuleMaxLoss,
			Passed:    loss <= rules.MaxLossPerTrade,
			Observed:  loss,
			Threshold: rules.MaxLossPerTrade,
			Message:   fmt.Sprintf("max loss %.2f vs cap %.2f", loss, rules.MaxLossPerTrade),
		})
	}

	if rules.MinOpenInterest > 0 {
		minOI := p.SellLeg.OpenInterest
		if p.BuyLeg.OpenInterest < minOI {
			minOI = p.BuyLeg.OpenInterest
		}
		add(RuleResult{
			Rule:      RuleOpenInterest,
			Passed:    minOI >= rules.MinOpenInterest,
			Observed:  float64(minOI),
			Threshold: float64(rules.MinOpenInterest),
			Message:   fmt.Sprintf("leg open interest %d vs minimum %d", minOI, rules.MinOpenInterest),
		})
	}

	if rules.DeltaCapAbs > 0 {
		delta := p.NetDelta()
		add(RuleResult{
			Rule:      RuleDeltaCap,
			Passed:    math.Abs(delta) <= rules.DeltaCapAbs,
			Observed:  delta,
			Threshold: rules.DeltaCapAbs,
			Message:   fmt.Sprintf("net delta %.2f vs cap ±%.2f", delta, rules.DeltaCapAbs),
		})
	}

	if rules.LeverageCap > 0 {
		leverage := projectedLeverage(p, account)
		add(RuleResult{
			Rule:      RuleLeverageCap,
			Passed:    leverage <= rules.LeverageCap,
			Observed:  leverage,
			Threshold: rules.LeverageCap,
			Message:   fmt.Sprintf("projected leverage %.2f vs cap %.2f", leverage, rules.LeverageCap),
		})
	}

	return out, nil
}

// projectedLeverage is the account leverage after adding the proposal's
// margin requirement. An account with no equity is treated as infinitely
// levered.
func projectedLeverage(p domain.SpreadConfig, account domain.AccountSnapshot) float64 {
	if account.NetLiq <= 0 {
		return math.Inf(1)
	}
	return (account.MarginUsed + p.MarginRequired()) / account.NetLiq
}
