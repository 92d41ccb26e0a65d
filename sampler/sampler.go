// Package sampler selects representative epochs across the fork history for
// historical verification runs. Sampling is seeded so that a run can be
// reproduced exactly from its reported seed.
package sampler

import (
	"eth2-verifier/chain"
	"eth2-verifier/types"
	"math/rand"

	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("module", "sampler")

// Sampler draws epochs from every fork phase the network has activated.
type Sampler struct {
	registry *chain.Registry
	rng      *rand.Rand
	seed     int64
}

func New(registry *chain.Registry, seed int64) *Sampler {
	return &Sampler{
		registry: registry,
		rng:      rand.New(rand.NewSource(seed)),
		seed:     seed,
	}
}

// Seed returns the seed this sampler was built with, for the report header.
func (s *Sampler) Seed() int64 {
	return s.seed
}

// SampleEpochs draws up to perFork epochs per phase. The first draw lies just
// past the activation boundary where fork-transition bugs cluster; the second
// comes from the middle of the phase when the phase is long enough to make
// the distinction meaningful. Open-ended phases are clipped to
// currentEpoch-2 so only finalized epochs are sampled, and phases that have
// not activated yet are skipped.
func (s *Sampler) SampleEpochs(perFork int, currentEpoch uint64) []types.SampledEpoch {
	if perFork < 1 {
		perFork = 1
	}

	if currentEpoch < 2 {
		return nil
	}
	finalized := currentEpoch - 2

	sampled := make([]types.SampledEpoch, 0, perFork*len(s.registry.Phases()))
	for _, p := range s.registry.Phases() {
		// EndEpoch is exclusive, sample up to the last epoch of the phase
		end := p.EndEpoch - 1
		if p.OpenEnded || end > finalized {
			end = finalized
		}
		if p.StartEpoch > end {
			logger.WithField("phase", p.Phase).Debug("phase not active yet, skipping")
			continue
		}
		span := end - p.StartEpoch

		// just past the activation boundary
		width := span
		if width > 10 {
			width = 10
		}
		boundary := p.StartEpoch
		if width > 0 {
			boundary = p.StartEpoch + 1 + uint64(s.rng.Int63n(int64(width)))
		}
		sampled = append(sampled, types.SampledEpoch{
			ForkPhase: string(p.Phase),
			Epoch:     boundary,
			Rationale: "near fork activation boundary",
		})

		if perFork >= 2 && span > 20 {
			lo := p.StartEpoch + span/4
			hi := p.StartEpoch + 3*span/4
			mid := lo + uint64(s.rng.Int63n(int64(hi-lo+1)))
			sampled = append(sampled, types.SampledEpoch{
				ForkPhase: string(p.Phase),
				Epoch:     mid,
				Rationale: "mid-phase steady state",
			})
		}
	}

	logger.WithField("seed", s.seed).WithField("epochs", len(sampled)).Info("sampled historical epochs")
	return sampled
}
