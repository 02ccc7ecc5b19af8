package resolution

import (
	"fmt"

	"github.com/Benny93/axon-sql/internal/graph"
)

// Params holds the scoring constants of the engine. The defaults are
// empirical; they are kept configurable rather than derived.
type Params struct {
	// ResolvedBoost is added to the seed of a resolved hint.
	ResolvedBoost float64 `yaml:"resolved_boost"`

	// ResolvedCap caps the confidence of a resolved hint.
	ResolvedCap float64 `yaml:"resolved_cap"`

	// UnresolvedPenalty is subtracted from the seed of an unresolved hint.
	UnresolvedPenalty float64 `yaml:"unresolved_penalty"`

	// UnresolvedFloor is the minimum confidence of an unresolved edge.
	UnresolvedFloor float64 `yaml:"unresolved_floor"`

	// UnresolvedCeiling is the maximum confidence of an unresolved edge and
	// must stay below graph.UnresolvedConfidenceLimit.
	UnresolvedCeiling float64 `yaml:"unresolved_ceiling"`

	// Overload scores by |param count - arg count|: 0, 1, more.
	ScoreExact int `yaml:"score_exact"`
	ScoreNear  int `yaml:"score_near"`
	ScoreOther int `yaml:"score_other"`
}

// DefaultParams returns the default engine constants.
func DefaultParams() Params {
	return Params{
		ResolvedBoost:     0.2,
		ResolvedCap:       1.0,
		UnresolvedPenalty: 0.3,
		UnresolvedFloor:   0.1,
		UnresolvedCeiling: 0.49,
		ScoreExact:        10,
		ScoreNear:         5,
		ScoreOther:        1,
	}
}

// Validate checks that the constants keep the edge invariants.
func (p Params) Validate() error {
	if p.UnresolvedFloor < 0 || p.UnresolvedFloor > p.UnresolvedCeiling {
		return fmt.Errorf("unresolved floor %.2f must be in [0, ceiling %.2f]", p.UnresolvedFloor, p.UnresolvedCeiling)
	}
	if p.UnresolvedCeiling >= graph.UnresolvedConfidenceLimit {
		return fmt.Errorf("unresolved ceiling %.2f must be below %.2f", p.UnresolvedCeiling, graph.UnresolvedConfidenceLimit)
	}
	if p.ResolvedCap <= 0 || p.ResolvedCap > 1 {
		return fmt.Errorf("resolved cap %.2f must be in (0, 1]", p.ResolvedCap)
	}
	if p.ResolvedBoost < 0 || p.UnresolvedPenalty < 0 {
		return fmt.Errorf("boost and penalty must not be negative")
	}
	return nil
}

// ResolvedConfidence is min(cap, seed + boost).
func (p Params) ResolvedConfidence(seed float64) float64 {
	return min(p.ResolvedCap, clamp01(seed)+p.ResolvedBoost)
}

// UnresolvedConfidence is max(floor, seed - penalty), kept below the
// ceiling.
func (p Params) UnresolvedConfidence(seed float64) float64 {
	return min(p.UnresolvedCeiling, max(p.UnresolvedFloor, clamp01(seed)-p.UnresolvedPenalty))
}

// OverloadScore ranks a candidate by parameter-count proximity.
func (p Params) OverloadScore(paramCount, argCount int) int {
	d := paramCount - argCount
	if d < 0 {
		d = -d
	}
	switch d {
	case 0:
		return p.ScoreExact
	case 1:
		return p.ScoreNear
	default:
		return p.ScoreOther
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
