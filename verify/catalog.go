package verify

import (
	"context"
	"eth2-verifier/chain"
	"eth2-verifier/types"
)

// SourceAdapter is the uniform query interface both data providers are
// wrapped behind. Provider-specific parsing lives entirely behind this
// boundary.
type SourceAdapter interface {
	Name() types.SourceName
	GetBalance(ctx context.Context, validator, epoch uint64) (*types.ValidatorBalanceRecord, error)
	GetBalanceAtSlot(ctx context.Context, validator, slot uint64) (*types.ValidatorBalanceRecord, error)
	GetStatus(ctx context.Context, validator, epoch uint64) (*types.ValidatorStatus, error)
	GetAttestationRewards(ctx context.Context, validator, epoch uint64) (*types.AttestationRewards, error)
	GetProposer(ctx context.Context, slot uint64) (*types.ProposerAssignment, error)
	GetWithdrawals(ctx context.Context, epoch uint64) ([]types.WithdrawalEvent, error)
	GetFinality(ctx context.Context, epoch uint64) (*types.FinalityInfo, error)
	GetEffectiveBalance(ctx context.Context, validator, epoch uint64) (uint64, error)
}

// TestCase is one entry of the static verification catalog.
type TestCase struct {
	ID          string
	Name        string
	Description string
	// Requirement is the fork feature the test depends on; empty means the
	// test applies to every phase.
	Requirement chain.Feature
}

// Catalog is the static test catalog in execution order.
var Catalog = []TestCase{
	{
		ID:          "T1",
		Name:        "Validator Balance at Epoch",
		Description: "Compare the beaconcha.in balance history entry against the node balance at the first and last slot of the epoch.",
	},
	{
		ID:          "T2",
		Name:        "Validator Status",
		Description: "Compare the coarse validator lifecycle category between beaconcha.in v2 and the node.",
	},
	{
		ID:          "T3",
		Name:        "Attestation Rewards",
		Description: "Compare the head/source/target attestation reward components between beaconcha.in v2 (wei) and the node rewards api (gwei).",
		Requirement: chain.FeatureWithdrawals,
	},
	{
		ID:          "T4",
		Name:        "Block Proposer at Slot",
		Description: "Compare the proposer of the first slot of the epoch between beaconcha.in v1 and the node.",
		Requirement: chain.FeatureExecutionPayload,
	},
	{
		ID:          "T5",
		Name:        "Withdrawals in Epoch",
		Description: "Check that the withdrawal sum of the epoch matches the first-to-last slot balance delta within the attestation reward tolerance.",
		Requirement: chain.FeatureWithdrawals,
	},
	{
		ID:          "T6",
		Name:        "Epoch Summary & Finality",
		Description: "Compare the beaconcha.in epoch finality flag against the node finality checkpoint.",
	},
	{
		ID:          "T7",
		Name:        "Effective Balance",
		Description: "Compare effective balances after unit conversion and check both against the fork phase cap.",
	},
}

// skipReason names the fork boundary a missing feature points at, the way an
// investigator reads it.
func skipReason(f chain.Feature) string {
	switch f {
	case chain.FeatureWithdrawals:
		return "pre-Capella"
	case chain.FeatureExecutionPayload:
		return "pre-Bellatrix"
	case chain.FeatureSyncCommittee:
		return "pre-Altair"
	}
	return "feature not available"
}
