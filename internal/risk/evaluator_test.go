package risk

import (
	"errors"
	"testing"
	"time"

	"orca/internal/domain"
)

func spyProposal() domain.SpreadConfig {
	return domain.SpreadConfig{
		Symbol:   "SPY",
		Strategy: domain.StrategyPutCredit,
		SellLeg: domain.Leg{
			Strike: 450, Type: domain.OptionTypePut, Action: domain.LegActionSell,
			Premium: 2.00, Delta: -0.20, OpenInterest: 5000,
		},
		BuyLeg: domain.Leg{
			Strike: 445, Type: domain.OptionTypePut, Action: domain.LegActionBuy,
			Premium: 1.00, Delta: -0.10, OpenInterest: 3000,
		},
		Quantity:   2,
		Expiration: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
	}
}

func fourRules() domain.RiskRules {
	return domain.RiskRules{
		Name:            "default",
		Version:         1,
		MinCredit:       0.50,
		MaxLossPerTrade: 2000,
		MinOpenInterest: 100,
		DeltaCapAbs:     1.0,
	}
}

func demoAccount() domain.AccountSnapshot {
	return domain.AccountSnapshot{AccountID: "demo", NetLiq: 100000, BuyingPower: 200000, MarginUsed: 5000}
}

func TestEvaluatePassingSpread(t *testing.T) {
	out, err := Evaluate(spyProposal(), fourRules(), demoAccount())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(out.Results) != 4 {
		t.Fatalf("got %d results, want 4 (leverage cap unconfigured)", len(out.Results))
	}
	if !out.Passed {
		t.Fatalf("verdict = FAILED, want PASSED: %+v", out.Results)
	}

	wantOrder := []string{RuleMinCredit, RuleMaxLoss, RuleOpenInterest, RuleDeltaCap}
	for i, r := range out.Results {
		if r.Rule != wantOrder[i] {
			t.Errorf("results[%d].Rule = %q, want %q", i, r.Rule, wantOrder[i])
		}
		if !r.Passed {
			t.Errorf("rule %s failed: %s", r.Rule, r.Message)
		}
	}

	// Observed values from the worked example.
	if out.Results[0].Observed != 1.00 {
		t.Errorf("net credit observed = %v, want 1.00", out.Results[0].Observed)
	}
	if out.Results[1].Observed != 800 {
		t.Errorf("max loss observed = %v, want 800", out.Results[1].Observed)
	}
	if out.Results[3].Observed != -0.10 {
		t.Errorf("net delta observed = %v, want -0.10", out.Results[3].Observed)
	}
}

func TestEvaluateNoShortCircuit(t *testing.T) {
	p := spyProposal()
	p.BuyLeg.OpenInterest = 50 // fails open_interest

	out, err := Evaluate(p, fourRules(), demoAccount())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if out.Passed {
		t.Fatal("verdict = PASSED, want FAILED")
	}
	if len(out.Results) != 4 {
		t.Fatalf("got %d results, want the full set of 4 despite the failure", len(out.Results))
	}

	passed := 0
	for _, r := range out.Results {
		if r.Passed {
			passed++
		} else if r.Rule != RuleOpenInterest {
			t.Errorf("unexpected failing rule %s", r.Rule)
		}
	}
	if passed != 3 {
		t.Errorf("%d rules passed, want 3", passed)
	}
}

func TestEvaluateLeverageCap(t *testing.T) {
	rules := fourRules()
	rules.LeverageCap = 0.02

	// Margin 1000 on top of 5000 used, net liq 100000 -> 0.06 leverage.
	out, err := Evaluate(spyProposal(), rules, demoAccount())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out.Results) != 5 {
		t.Fatalf("got %d results, want 5 with leverage cap configured", len(out.Results))
	}
	last := out.Results[4]
	if last.Rule != RuleLeverageCap || last.Passed {
		t.Errorf("leverage rule = %+v, want failing %s", last, RuleLeverageCap)
	}
	if out.Passed {
		t.Error("verdict = PASSED, want FAILED")
	}

	// A roomier cap passes.
	rules.LeverageCap = 2.0
	out, err = Evaluate(spyProposal(), rules, demoAccount())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.Passed {
		t.Errorf("verdict = FAILED with cap 2.0: %+v", out.Results)
	}
}

func TestEvaluateZeroEquityAccount(t *testing.T) {
	rules := fourRules()
	rules.LeverageCap = 10
	out, err := Evaluate(spyProposal(), rules, domain.AccountSnapshot{AccountID: "empty"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Results[4].Passed {
		t.Error("leverage rule should fail for a zero-equity account")
	}
}

func TestEvaluateMalformedProposal(t *testing.T) {
	p := spyProposal()
	p.Quantity = 0

	out, err := Evaluate(p, fourRules(), demoAccount())
	if err == nil {
		t.Fatal("Evaluate on malformed proposal returned nil error")
	}
	var mpe *domain.MalformedProposalError
	if !errors.As(err, &mpe) {
		t.Errorf("error type = %T, want *MalformedProposalError", err)
	}
	if len(out.Results) != 0 {
		t.Errorf("malformed proposal produced %d rule results, want none", len(out.Results))
	}
}

func TestOutcomeVerdict(t *testing.T) {
	o := Outcome{Passed: true}
	if o.Verdict() != "PASSED" {
		t.Errorf("Verdict() = %q, want PASSED", o.Verdict())
	}
	o.Passed = false
	if o.Verdict() != "FAILED" {
		t.Errorf("Verdict() = %q, want FAILED", o.Verdict())
	}
}
