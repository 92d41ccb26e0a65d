package types

import (
	"fmt"
	"time"
)

// SourceName identifies one of the two data providers being cross-checked.
type SourceName string

const (
	SourceBeaconchaIn SourceName = "beaconcha.in"
	SourceRpc         SourceName = "rpc"
)

// TestStatus is the three-way-plus-error outcome of a single comparison.
// Collapsing it into a bool would lose the distinction between "not
// applicable" and "disagreement".
type TestStatus string

const (
	StatusMatch    TestStatus = "match"
	StatusMismatch TestStatus = "mismatch"
	StatusSkipped  TestStatus = "skipped"
	StatusError    TestStatus = "error"
)

// StatusCategory is the coarse validator lifecycle category shared by both
// sources. Finer sub-labels (active_online vs active_ongoing etc.) differ
// between providers and are not compared.
type StatusCategory string

const (
	CategoryActive     StatusCategory = "active"
	CategoryPending    StatusCategory = "pending"
	CategoryExited     StatusCategory = "exited"
	CategoryWithdrawal StatusCategory = "withdrawal"
	CategoryUnknown    StatusCategory = "unknown"
)

// ValidatorBalanceRecord is a balance observation produced by an adapter.
// Never mutated after creation.
type ValidatorBalanceRecord struct {
	Source               SourceName `json:"source"`
	Epoch                uint64     `json:"epoch"`
	Slot                 *uint64    `json:"slot,omitempty"` // set for slot-level reads, nil for epoch-level
	BalanceGwei          uint64     `json:"balance_gwei"`
	EffectiveBalanceGwei uint64     `json:"effective_balance_gwei"`
}

// ValidatorStatus is the lifecycle status of a validator as reported by one
// source.
type ValidatorStatus struct {
	Category StatusCategory `json:"category"`
	RawLabel string         `json:"raw_label"`
}

// AttestationRewards is the per-epoch attestation reward breakdown in gwei.
// Components can be negative (penalties).
type AttestationRewards struct {
	HeadGwei   int64 `json:"head_gwei"`
	SourceGwei int64 `json:"source_gwei"`
	TargetGwei int64 `json:"target_gwei"`
}

// Total returns the summed attestation reward.
func (r *AttestationRewards) Total() int64 {
	return r.HeadGwei + r.SourceGwei + r.TargetGwei
}

// ProposerAssignment describes who proposed (or was assigned to propose) the
// block at a slot. Missed is set when the slot has no block; an assignment may
// still be known from duty data.
type ProposerAssignment struct {
	Slot           uint64 `json:"slot"`
	ValidatorIndex uint64 `json:"validator_index"`
	Missed         bool   `json:"missed"`
}

// WithdrawalEvent is a single withdrawal included in a block.
type WithdrawalEvent struct {
	ValidatorIndex uint64 `json:"validator_index"`
	AmountGwei     uint64 `json:"amount_gwei"`
	Slot           uint64 `json:"slot"`
}

// FinalityInfo reports finality as seen by one source for a given epoch.
type FinalityInfo struct {
	Finalized      bool   `json:"finalized"`
	FinalizedEpoch uint64 `json:"finalized_epoch"`
	JustifiedEpoch uint64 `json:"justified_epoch,omitempty"`
}

// ComparisonResult is the structured verdict for one test on one
// (validator, epoch) pair. Created by the engine after both adapter calls
// resolve (or fail) and immutable thereafter.
type ComparisonResult struct {
	TestID          string      `json:"test_id"`
	TestName        string      `json:"test_name"`
	Status          TestStatus  `json:"status"`
	Epoch           uint64      `json:"epoch"`
	ValidatorIndex  uint64      `json:"validator_index"`
	ForkPhase       string      `json:"fork_phase"`
	SourceAValue    interface{} `json:"source_a_value"`
	SourceBValue    interface{} `json:"source_b_value"`
	NormalizedDelta *int64      `json:"normalized_delta,omitempty"`
	Explanation     string      `json:"explanation"`
	Timestamp       time.Time   `json:"timestamp"`
}

// SampledEpoch is one epoch drawn by the historical sampler.
type SampledEpoch struct {
	ForkPhase string `json:"fork_phase"`
	Epoch     uint64 `json:"epoch"`
	Rationale string `json:"rationale"`
}

// UnsupportedError signals that a feature does not exist for the resolved
// fork phase (e.g. withdrawals before capella). The engine surfaces it as a
// skipped result, never as a failure.
type UnsupportedError struct {
	Feature string
	Phase   string
	Reason  string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%v not supported in fork phase %v (%v)", e.Feature, e.Phase, e.Reason)
}
