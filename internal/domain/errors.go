package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrTradeNotFound is returned when a trade ID has no record.
	ErrTradeNotFound = errors.New("trade not found")

	// ErrPositionNotFound is returned when a position ID has no record.
	ErrPositionNotFound = errors.New("position not found")

	// ErrNoActiveRules is returned when no risk rule version is active.
	ErrNoActiveRules = errors.New("no active risk rules")

	// ErrTerminalState is returned when a lifecycle operation targets a
	// trade that already reached filled, rejected, or cancelled.
	ErrTerminalState = errors.New("trade is in a terminal state")
)

// MalformedProposalError reports a structural invariant violation in a
// SpreadConfig. It is raised before rule evaluation and carries no rule
// results.
type MalformedProposalError struct {
	Field  string
	Reason string
}

func (e *MalformedProposalError) Error() string {
	return fmt.Sprintf("malformed proposal: %s: %s", e.Field, e.Reason)
}

// ProviderError reports a broker provider failure. Transient failures are
// retryable at the provider boundary; permanent failures propagate to the
// lifecycle controller as a terminal rejection.
type ProviderError struct {
	Provider  string
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s: %s failure: %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
