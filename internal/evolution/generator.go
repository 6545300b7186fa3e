// Package evolution produces mutated and crossed-over genome candidates.
// Generation is pure computation: no I/O, no blocking, and reproducible
// for a given seed.
package evolution

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/params"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// Intensity selects how hard the generator searches around the current genome
type Intensity string

const (
	IntensityAggressive Intensity = "aggressive"
	IntensityModerate   Intensity = "moderate"
	IntensityFineTune   Intensity = "fine_tune"
)

// Fitness bands selecting the intensity tier
const (
	aggressiveBelow = 0.3
	moderateBelow   = 0.6
)

// tierDef fixes the mutation rate, batch size, and how many of the
// highest-importance parameters get mutated per candidate
type tierDef struct {
	Rate       float64
	Candidates int
	ParamCount int
}

var tiers = map[Intensity]tierDef{
	IntensityAggressive: {Rate: 0.50, Candidates: 8, ParamCount: 6},
	IntensityModerate:   {Rate: 0.30, Candidates: 5, ParamCount: 4},
	IntensityFineTune:   {Rate: 0.15, Candidates: 3, ParamCount: 2},
}

// escalationStep widens the search per candidate index so later candidates
// in a batch explore further from the current genome
const escalationStep = 0.15

// IntensityFor maps current fitness to an intensity tier
func IntensityFor(fitness float64) Intensity {
	switch {
	case fitness < aggressiveBelow:
		return IntensityAggressive
	case fitness < moderateBelow:
		return IntensityModerate
	default:
		return IntensityFineTune
	}
}

// Generator produces candidate genomes using a seeded random source
type Generator struct {
	rng *rand.Rand
	log zerolog.Logger
}

// NewGenerator creates a generator. The seed makes candidate batches
// reproducible; use time.Now().UnixNano() for production behavior.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)), // #nosec G404 -- non-cryptographic: mutation search needs reproducible randomness
		log: config.NewLogger("evolution"),
	}
}

// Candidates generates a batch of mutated genomes for the given family and
// current fitness. Each candidate is a full genome copy with only the
// highest-importance parameters perturbed; every mutated value is clamped
// to its specification range and snapped to its step size.
func (g *Generator) Candidates(family strategy.Family, genome strategy.Genome, currentFitness float64) []strategy.Genome {
	intensity := IntensityFor(currentFitness)
	tier := tiers[intensity]

	specs := params.Map(family, genome)
	mutateCount := tier.ParamCount
	if mutateCount > len(specs) {
		mutateCount = len(specs)
	}
	targets := specs[:mutateCount]

	candidates := make([]strategy.Genome, 0, tier.Candidates)
	for i := 0; i < tier.Candidates; i++ {
		candidate := genome.Clone()
		escalation := 1 + float64(i)*escalationStep

		for _, spec := range targets {
			span := spec.Max - spec.Min
			// bounded perturbation scaled by rate, range, importance,
			// and the per-candidate escalation factor
			delta := (g.rng.Float64()*2 - 1) * tier.Rate * span * spec.Weight * escalation
			candidate[spec.Name] = spec.Snap(spec.Current + delta)
		}

		candidates = append(candidates, candidate)
	}

	g.log.Debug().
		Str("family", string(family)).
		Str("intensity", string(intensity)).
		Int("candidates", len(candidates)).
		Int("mutated_params", mutateCount).
		Msg("Generated candidate batch")

	return candidates
}

// Crossover produces a child genome from two elite parents by independently
// choosing, per parameter, one parent's value. Parameters present in only
// one parent are inherited as-is.
func (g *Generator) Crossover(a, b *strategy.Strategy) (strategy.Genome, error) {
	if a.Protection != strategy.ProtectionElite || b.Protection != strategy.ProtectionElite {
		return nil, fmt.Errorf("crossover requires two elite parents, got %s and %s",
			a.Protection, b.Protection)
	}

	child := make(strategy.Genome, len(a.Genome))
	for name, value := range a.Genome {
		if other, ok := b.Genome[name]; ok && g.rng.Float64() < 0.5 {
			child[name] = other
			continue
		}
		child[name] = value
	}
	for name, value := range b.Genome {
		if _, ok := child[name]; !ok {
			child[name] = value
		}
	}

	return child, nil
}
