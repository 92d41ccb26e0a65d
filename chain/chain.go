// Package chain holds the consensus-layer fork schedule and the epoch/slot
// arithmetic used everywhere else. The registry is immutable after
// initialization.
//
// Fork activation epochs follow ethereum/consensus-specs configs/mainnet.yaml,
// cross-referenced with the EF blog announcements.
package chain

import (
	"fmt"
	"time"
)

const (
	SlotsPerEpoch  = 32
	SecondsPerSlot = 12
)

// Known genesis timestamps per network.
var genesisTimes = map[string]uint64{
	"mainnet": 1606824023,
	"hoodi":   1742212800,
	"holesky": 1695902400,
}

// Feature is a capability that appears at a fork boundary and changes which
// verification tests are applicable.
type Feature string

const (
	FeatureSyncCommittee    Feature = "sync_committee"
	FeatureWithdrawals      Feature = "withdrawals"
	FeatureExecutionPayload Feature = "execution_payload"
)

// Phase is a named consensus-layer upgrade.
type Phase string

const (
	Phase0    Phase = "phase0"
	Altair    Phase = "altair"
	Bellatrix Phase = "bellatrix"
	Capella   Phase = "capella"
	Deneb     Phase = "deneb"
	Electra   Phase = "electra"
	Fulu      Phase = "fulu"
)

// PhaseInfo describes one fork phase. EndEpoch is exclusive; 0 on the final
// phase means open-ended.
type PhaseInfo struct {
	Phase                   Phase
	Name                    string
	StartEpoch              uint64
	EndEpoch                uint64
	OpenEnded               bool
	MaxEffectiveBalanceGwei uint64
	SupportsSyncCommittee   bool
	SupportsWithdrawals     bool
	SupportsExecutionLayer  bool
}

// Lookup is the result of resolving an epoch to its phase. Capped is set when
// the epoch lies beyond the last known fork boundary: it still maps to the
// final phase, but callers should carry the caveat into their reports.
type Lookup struct {
	PhaseInfo
	Capped bool
}

// OutOfRangeError is returned for negative epoch inputs.
type OutOfRangeError struct {
	Epoch int64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("epoch %d is out of range", e.Epoch)
}

// mainnetPhases is ordered by StartEpoch; phases are contiguous and
// non-overlapping so every non-negative epoch maps to exactly one entry.
var mainnetPhases = []PhaseInfo{
	{Phase: Phase0, Name: "Phase 0 (Genesis)", StartEpoch: 0, EndEpoch: 74240, MaxEffectiveBalanceGwei: 32_000_000_000},
	{Phase: Altair, Name: "Altair", StartEpoch: 74240, EndEpoch: 144896, MaxEffectiveBalanceGwei: 32_000_000_000, SupportsSyncCommittee: true},
	{Phase: Bellatrix, Name: "Bellatrix (pre-Merge)", StartEpoch: 144896, EndEpoch: 194048, MaxEffectiveBalanceGwei: 32_000_000_000, SupportsSyncCommittee: true, SupportsExecutionLayer: true},
	{Phase: Capella, Name: "Capella (Shapella)", StartEpoch: 194048, EndEpoch: 269568, MaxEffectiveBalanceGwei: 32_000_000_000, SupportsSyncCommittee: true, SupportsExecutionLayer: true, SupportsWithdrawals: true},
	{Phase: Deneb, Name: "Deneb (Dencun)", StartEpoch: 269568, EndEpoch: 364032, MaxEffectiveBalanceGwei: 32_000_000_000, SupportsSyncCommittee: true, SupportsExecutionLayer: true, SupportsWithdrawals: true},
	{Phase: Electra, Name: "Electra (Pectra)", StartEpoch: 364032, EndEpoch: 411392, MaxEffectiveBalanceGwei: 2_048_000_000_000, SupportsSyncCommittee: true, SupportsExecutionLayer: true, SupportsWithdrawals: true},
	{Phase: Fulu, Name: "Fulu (Fusaka)", StartEpoch: 411392, OpenEnded: true, MaxEffectiveBalanceGwei: 2_048_000_000_000, SupportsSyncCommittee: true, SupportsExecutionLayer: true, SupportsWithdrawals: true},
}

// Registry maps epochs to fork phases for one network. Read-only after
// NewRegistry.
type Registry struct {
	network     string
	genesisTime uint64
	phases      []PhaseInfo
}

// NewRegistry returns the fork registry for the given network. The fork
// schedule is the mainnet one for all supported networks; only the genesis
// time differs for slot/time conversion.
func NewRegistry(network string) (*Registry, error) {
	genesis, ok := genesisTimes[network]
	if !ok {
		return nil, fmt.Errorf("unknown network: %v", network)
	}
	return &Registry{
		network:     network,
		genesisTime: genesis,
		phases:      mainnetPhases,
	}, nil
}

// Network returns the network name the registry was built for.
func (r *Registry) Network() string {
	return r.network
}

// Phases returns the ordered fork schedule.
func (r *Registry) Phases() []PhaseInfo {
	out := make([]PhaseInfo, len(r.phases))
	copy(out, r.phases)
	return out
}

// PhaseFor resolves the fork phase active at the given epoch. Epochs beyond
// the last known boundary resolve to the final phase with Capped set.
func (r *Registry) PhaseFor(epoch int64) (*Lookup, error) {
	if epoch < 0 {
		return nil, &OutOfRangeError{Epoch: epoch}
	}
	e := uint64(epoch)
	for i := len(r.phases) - 1; i >= 0; i-- {
		p := r.phases[i]
		if e >= p.StartEpoch {
			// The schedule cannot be exhaustive for future phases: epochs in
			// the open-ended final phase are flagged so callers carry the
			// caveat into their reports.
			return &Lookup{PhaseInfo: p, Capped: p.OpenEnded}, nil
		}
	}
	// unreachable: phase0 starts at epoch 0
	return &Lookup{PhaseInfo: r.phases[0]}, nil
}

// Requires reports whether the given phase carries the given feature.
func Requires(p *PhaseInfo, f Feature) bool {
	switch f {
	case FeatureSyncCommittee:
		return p.SupportsSyncCommittee
	case FeatureWithdrawals:
		return p.SupportsWithdrawals
	case FeatureExecutionPayload:
		return p.SupportsExecutionLayer
	}
	return false
}

// SlotRange returns the first and last slot of an epoch. Pure arithmetic,
// slot width is constant across all phases.
func SlotRange(epoch uint64) (first, last uint64) {
	first = epoch * SlotsPerEpoch
	last = first + SlotsPerEpoch - 1
	return first, last
}

// SlotToEpoch returns the epoch containing a slot.
func SlotToEpoch(slot uint64) uint64 {
	return slot / SlotsPerEpoch
}

// SlotToTime returns the wall-clock time of a slot on the registry's network.
func (r *Registry) SlotToTime(slot uint64) time.Time {
	return time.Unix(int64(r.genesisTime+slot*SecondsPerSlot), 0)
}

// TimeToSlot returns the slot in progress at the given unix timestamp.
func (r *Registry) TimeToSlot(timestamp uint64) uint64 {
	if timestamp < r.genesisTime {
		return 0
	}
	return (timestamp - r.genesisTime) / SecondsPerSlot
}

// CurrentEpoch estimates the epoch in progress at the given time.
func (r *Registry) CurrentEpoch(now time.Time) uint64 {
	return r.TimeToSlot(uint64(now.Unix())) / SlotsPerEpoch
}
