// Package verify implements the cross-verification engine. For each
// (validator, epoch) pair it resolves the fork phase, filters the test
// catalog, queries both adapters, normalizes units and applies the per-test
// validation rules.
package verify

import (
	"context"
	"eth2-verifier/chain"
	"eth2-verifier/metrics"
	"eth2-verifier/types"
	"eth2-verifier/units"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var logger = logrus.StandardLogger().WithField("module", "verify")

// Engine cross-checks the two sources. Source A is the third-party api,
// source B the canonical node. The engine owns the lifecycle of the
// ComparisonResult values it returns.
type Engine struct {
	registry *chain.Registry
	sourceA  SourceAdapter
	sourceB  SourceAdapter
	t5TolMin uint64
	t5TolMax uint64
}

// NewEngine wires the engine. cfg supplies the configurable T5 residual
// tolerance band; the band is an empirical reward-rate heuristic, not a
// protocol constant.
func NewEngine(registry *chain.Registry, sourceA, sourceB SourceAdapter, cfg *types.Config) *Engine {
	tolMin, tolMax := cfg.Verify.T5ToleranceMinGwei, cfg.Verify.T5ToleranceMaxGwei
	if tolMax == 0 {
		tolMin, tolMax = 2_000, 15_000
	}
	return &Engine{
		registry: registry,
		sourceA:  sourceA,
		sourceB:  sourceB,
		t5TolMin: tolMin,
		t5TolMax: tolMax,
	}
}

// VerifyEpoch runs all applicable catalog tests for one (validator, epoch)
// pair. A negative epoch fails before any network call; adapter failures are
// isolated per test and never abort sibling tests.
func (e *Engine) VerifyEpoch(ctx context.Context, validator uint64, epoch int64) ([]*types.ComparisonResult, error) {
	lookup, err := e.registry.PhaseFor(epoch)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.VerificationRunDuration.Observe(time.Since(start).Seconds())
	}()

	log := logger.WithField("validator", validator).WithField("epoch", epoch).WithField("phase", lookup.Phase)
	log.Info("verifying epoch")

	results := make([]*types.ComparisonResult, 0, len(Catalog))
	for _, tc := range Catalog {
		result := e.runTest(ctx, tc, lookup, validator, uint64(epoch))
		metrics.VerificationResultsTotal.WithLabelValues(tc.ID, string(result.Status)).Inc()
		log.WithField("test", tc.ID).WithField("status", result.Status).Info(result.Explanation)
		results = append(results, result)
	}
	return results, nil
}

func (e *Engine) runTest(ctx context.Context, tc TestCase, lookup *chain.Lookup, validator, epoch uint64) *types.ComparisonResult {
	result := e.newResult(tc, lookup, validator, epoch)

	if tc.Requirement != "" && !chain.Requires(&lookup.PhaseInfo, tc.Requirement) {
		result.Status = types.StatusSkipped
		result.Explanation = fmt.Sprintf("%v: fork phase %v has no %v", skipReason(tc.Requirement), lookup.Phase, tc.Requirement)
		return result
	}

	switch tc.ID {
	case "T1":
		e.runBalanceTest(ctx, result, validator, epoch)
	case "T2":
		e.runStatusTest(ctx, result, validator, epoch)
	case "T3":
		e.runRewardsTest(ctx, result, validator, epoch)
	case "T4":
		e.runProposerTest(ctx, result, epoch)
	case "T5":
		e.runWithdrawalTest(ctx, result, validator, epoch)
	case "T6":
		e.runFinalityTest(ctx, result, epoch)
	case "T7":
		e.runEffectiveBalanceTest(ctx, result, lookup, validator, epoch)
	default:
		result.Status = types.StatusError
		result.Explanation = fmt.Sprintf("no implementation for test %v", tc.ID)
	}
	return result
}

func (e *Engine) newResult(tc TestCase, lookup *chain.Lookup, validator, epoch uint64) *types.ComparisonResult {
	phase := string(lookup.Phase)
	if lookup.Capped {
		phase += " (beyond known fork schedule)"
	}
	return &types.ComparisonResult{
		TestID:         tc.ID,
		TestName:       tc.Name,
		Epoch:          epoch,
		ValidatorIndex: validator,
		ForkPhase:      phase,
		Timestamp:      time.Now().UTC(),
	}
}

// fail classifies an adapter error into the skipped/error outcome. Absence
// and unsupported features are informative, not failures.
func (e *Engine) fail(result *types.ComparisonResult, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		result.Status = types.StatusError
		result.Explanation = "timeout: adapter call aborted before completion"
	case errors.Is(err, types.ErrNotFound):
		result.Status = types.StatusSkipped
		result.Explanation = "resource absent (missed slot or pruned historical state)"
	default:
		var unsupported *types.UnsupportedError
		var conversion *units.UnitConversionError
		if errors.As(err, &unsupported) {
			result.Status = types.StatusSkipped
			result.Explanation = unsupported.Error()
			return
		}
		if errors.As(err, &conversion) {
			result.Status = types.StatusError
			result.Explanation = fmt.Sprintf("unit anomaly, likely source-side: %v", conversion)
			return
		}
		result.Status = types.StatusError
		result.Explanation = err.Error()
	}
}

// T1: the third-party epoch balance may legitimately equal either epoch
// boundary, since mid-epoch withdrawals make neither slot canonically "the"
// epoch balance.
func (e *Engine) runBalanceTest(ctx context.Context, result *types.ComparisonResult, validator, epoch uint64) {
	firstSlot, lastSlot := chain.SlotRange(epoch)

	var balanceA *types.ValidatorBalanceRecord
	var first, last *types.ValidatorBalanceRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balanceA, err = e.sourceA.GetBalance(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		if first, err = e.sourceB.GetBalanceAtSlot(gctx, validator, firstSlot); err != nil {
			return errors.Wrap(err, string(e.sourceB.Name()))
		}
		last, err = e.sourceB.GetBalanceAtSlot(gctx, validator, lastSlot)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	result.SourceAValue = balanceA.BalanceGwei
	result.SourceBValue = map[string]uint64{"first_slot": first.BalanceGwei, "last_slot": last.BalanceGwei}

	switch balanceA.BalanceGwei {
	case first.BalanceGwei:
		result.Status = types.StatusMatch
		result.NormalizedDelta = deltaPtr(0)
		result.Explanation = fmt.Sprintf("matches first-slot balance (%d gwei), epoch-start definition", first.BalanceGwei)
	case last.BalanceGwei:
		result.Status = types.StatusMatch
		result.NormalizedDelta = deltaPtr(0)
		result.Explanation = fmt.Sprintf("matches last-slot balance (%d gwei), epoch-end definition", last.BalanceGwei)
	default:
		result.Status = types.StatusMismatch
		result.NormalizedDelta = deltaPtr(absDelta(balanceA.BalanceGwei, first.BalanceGwei))
		result.Explanation = fmt.Sprintf("balance %d matches neither first-slot %d nor last-slot %d", balanceA.BalanceGwei, first.BalanceGwei, last.BalanceGwei)
	}
}

// T2: only the coarse lifecycle category is compared, finer sub-labels
// legitimately differ between providers.
func (e *Engine) runStatusTest(ctx context.Context, result *types.ComparisonResult, validator, epoch uint64) {
	var statusA, statusB *types.ValidatorStatus

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statusA, err = e.sourceA.GetStatus(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		statusB, err = e.sourceB.GetStatus(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	result.SourceAValue = statusA.RawLabel
	result.SourceBValue = statusB.RawLabel

	if statusA.Category == statusB.Category {
		result.Status = types.StatusMatch
		result.Explanation = fmt.Sprintf("status category %q agrees (%q vs %q)", statusA.Category, statusA.RawLabel, statusB.RawLabel)
	} else {
		result.Status = types.StatusMismatch
		result.Explanation = fmt.Sprintf("status category differs: %q vs %q", statusA.Category, statusB.Category)
	}
}

// T3: head, source and target components are compared independently after
// wei→gwei conversion.
func (e *Engine) runRewardsTest(ctx context.Context, result *types.ComparisonResult, validator, epoch uint64) {
	var rewardsA, rewardsB *types.AttestationRewards

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rewardsA, err = e.sourceA.GetAttestationRewards(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		rewardsB, err = e.sourceB.GetAttestationRewards(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	result.SourceAValue = rewardsA
	result.SourceBValue = rewardsB
	result.NormalizedDelta = deltaPtr(rewardsA.Total() - rewardsB.Total())

	mismatches := []string{}
	for _, c := range []struct {
		name string
		a, b int64
	}{
		{"head", rewardsA.HeadGwei, rewardsB.HeadGwei},
		{"source", rewardsA.SourceGwei, rewardsB.SourceGwei},
		{"target", rewardsA.TargetGwei, rewardsB.TargetGwei},
	} {
		if c.a != c.b {
			mismatches = append(mismatches, fmt.Sprintf("%v: %d vs %d gwei", c.name, c.a, c.b))
		}
	}

	if len(mismatches) == 0 {
		result.Status = types.StatusMatch
		result.Explanation = fmt.Sprintf("all reward components agree, total %d gwei", rewardsB.Total())
	} else {
		result.Status = types.StatusMismatch
		result.Explanation = fmt.Sprintf("reward components differ: %v", mismatches)
	}
}

// T4: exact proposer equality at the first slot of the epoch; a missed slot
// on either side is skipped, not a mismatch.
func (e *Engine) runProposerTest(ctx context.Context, result *types.ComparisonResult, epoch uint64) {
	firstSlot, _ := chain.SlotRange(epoch)

	var proposerA, proposerB *types.ProposerAssignment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		proposerA, err = e.sourceA.GetProposer(gctx, firstSlot)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		proposerB, err = e.sourceB.GetProposer(gctx, firstSlot)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	result.SourceAValue = proposerA
	result.SourceBValue = proposerB

	if proposerA.Missed || proposerB.Missed {
		result.Status = types.StatusSkipped
		result.Explanation = fmt.Sprintf("slot %d was missed, no proposer to compare", firstSlot)
		return
	}
	if proposerA.ValidatorIndex == proposerB.ValidatorIndex {
		result.Status = types.StatusMatch
		result.Explanation = fmt.Sprintf("proposer %d agrees for slot %d", proposerB.ValidatorIndex, firstSlot)
	} else {
		result.Status = types.StatusMismatch
		result.Explanation = fmt.Sprintf("proposer differs for slot %d: %d vs %d", firstSlot, proposerA.ValidatorIndex, proposerB.ValidatorIndex)
	}
}

// T5: the withdrawal sum must explain the first-to-last slot balance delta up
// to the attestation rewards earned in the same window.
func (e *Engine) runWithdrawalTest(ctx context.Context, result *types.ComparisonResult, validator, epoch uint64) {
	firstSlot, lastSlot := chain.SlotRange(epoch)

	var balanceA *types.ValidatorBalanceRecord
	var first, last *types.ValidatorBalanceRecord
	var withdrawals []types.WithdrawalEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balanceA, err = e.sourceA.GetBalance(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		if first, err = e.sourceB.GetBalanceAtSlot(gctx, validator, firstSlot); err != nil {
			return errors.Wrap(err, string(e.sourceB.Name()))
		}
		if last, err = e.sourceB.GetBalanceAtSlot(gctx, validator, lastSlot); err != nil {
			return errors.Wrap(err, string(e.sourceB.Name()))
		}
		withdrawals, err = e.sourceB.GetWithdrawals(gctx, epoch)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	var withdrawalSum uint64
	count := 0
	for _, w := range withdrawals {
		if w.ValidatorIndex == validator {
			withdrawalSum += w.AmountGwei
			count++
		}
	}

	// positive when the balance dropped over the epoch
	delta := int64(first.BalanceGwei) - int64(last.BalanceGwei)
	residual := delta - int64(withdrawalSum)
	if residual < 0 {
		residual = -residual
	}

	result.SourceAValue = balanceA.BalanceGwei
	result.SourceBValue = map[string]interface{}{
		"balance_first_slot":    first.BalanceGwei,
		"balance_last_slot":     last.BalanceGwei,
		"withdrawal_total_gwei": withdrawalSum,
		"withdrawal_count":      count,
	}
	result.NormalizedDelta = deltaPtr(residual)

	if uint64(residual) <= e.t5TolMax {
		result.Status = types.StatusMatch
		result.Explanation = fmt.Sprintf("%d withdrawal(s) totaling %d gwei explain the balance delta %d gwei, residual %d gwei within the %d-%d reward band",
			count, withdrawalSum, delta, residual, e.t5TolMin, e.t5TolMax)
	} else {
		result.Status = types.StatusMismatch
		result.Explanation = fmt.Sprintf("withdrawal sum %d gwei does not explain balance delta %d gwei, residual %d gwei exceeds the %d gwei reward ceiling",
			withdrawalSum, delta, residual, e.t5TolMax)
	}
}

// T6: finality is monotonic and may lag, so the third-party flag only has to
// be consistent with finalized_epoch >= epoch, not with strict equality.
func (e *Engine) runFinalityTest(ctx context.Context, result *types.ComparisonResult, epoch uint64) {
	var finalityA, finalityB *types.FinalityInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		finalityA, err = e.sourceA.GetFinality(gctx, epoch)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		finalityB, err = e.sourceB.GetFinality(gctx, epoch)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	result.SourceAValue = finalityA.Finalized
	result.SourceBValue = map[string]interface{}{
		"finalized_epoch": finalityB.FinalizedEpoch,
		"justified_epoch": finalityB.JustifiedEpoch,
	}

	nodeFinalized := finalityB.FinalizedEpoch >= epoch
	if finalityA.Finalized == nodeFinalized {
		result.Status = types.StatusMatch
		result.Explanation = fmt.Sprintf("finality agrees: finalized=%v, node finalized_epoch=%d", finalityA.Finalized, finalityB.FinalizedEpoch)
	} else {
		result.Status = types.StatusMismatch
		result.Explanation = fmt.Sprintf("finality differs: beaconcha.in finalized=%v but node finalized_epoch=%d for epoch %d", finalityA.Finalized, finalityB.FinalizedEpoch, epoch)
	}
}

// T7: effective balances must agree after unit conversion and neither side
// may exceed the phase cap. A cap breach is a normalization bug on our side
// or the source's, not a data disagreement, so it surfaces as an error.
func (e *Engine) runEffectiveBalanceTest(ctx context.Context, result *types.ComparisonResult, lookup *chain.Lookup, validator, epoch uint64) {
	var effectiveA, effectiveB uint64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		effectiveA, err = e.sourceA.GetEffectiveBalance(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceA.Name()))
	})
	g.Go(func() error {
		var err error
		effectiveB, err = e.sourceB.GetEffectiveBalance(gctx, validator, epoch)
		return errors.Wrap(err, string(e.sourceB.Name()))
	})
	if err := g.Wait(); err != nil {
		e.fail(result, err)
		return
	}

	result.SourceAValue = effectiveA
	result.SourceBValue = effectiveB
	result.NormalizedDelta = deltaPtr(absDelta(effectiveA, effectiveB))

	maxEffective := lookup.MaxEffectiveBalanceGwei
	if effectiveA > maxEffective || effectiveB > maxEffective {
		result.Status = types.StatusError
		result.Explanation = fmt.Sprintf("effective balance exceeds the %v cap of %d gwei (%d vs %d), likely a unit normalization bug", lookup.Phase, maxEffective, effectiveA, effectiveB)
		return
	}
	if effectiveA == effectiveB {
		result.Status = types.StatusMatch
		result.Explanation = fmt.Sprintf("effective balance %d gwei agrees, within the %d gwei cap", effectiveB, maxEffective)
	} else {
		result.Status = types.StatusMismatch
		result.Explanation = fmt.Sprintf("effective balance differs: %d vs %d gwei", effectiveA, effectiveB)
	}
}

func deltaPtr(v int64) *int64 {
	return &v
}

func absDelta(a, b uint64) int64 {
	if a > b {
		return int64(a - b)
	}
	return int64(b - a)
}
