package scheduler

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/samber/lo"
)

// Plan is the shuffled order in which trials run.
type Plan struct {
	Seed   uint64
	Trials []trial.Trial
}

// BuildPlan creates repetitions trials per mode, indexed 1..repetitions,
// and shuffles them uniformly. The same seed always yields the same order.
func BuildPlan(repetitions int, modes []trial.Mode, seed uint64) (Plan, error) {
	if repetitions < 1 {
		return Plan{}, fmt.Errorf("repetitions must be >= 1, got %d", repetitions)
	}
	if len(lo.Uniq(modes)) != len(modes) || len(modes) < 2 {
		return Plan{}, errors.New("plan needs at least two distinct modes")
	}

	trials := lo.FlatMap(modes, func(m trial.Mode, _ int) []trial.Trial {
		return lo.Times(repetitions, func(i int) trial.Trial {
			return trial.Trial{Mode: m, Index: i + 1}
		})
	})

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(trials), func(i, j int) {
		trials[i], trials[j] = trials[j], trials[i]
	})

	return Plan{Seed: seed, Trials: trials}, nil
}

// NewSeed draws a fresh non-zero plan seed.
func NewSeed() uint64 {
	for {
		if s := rand.Uint64(); s != 0 {
			return s
		}
	}
}
