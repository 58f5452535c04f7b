// Package aggregate provides the closed catalogue of annotation/aggregation
// functions that compute a derived fact's confidence interval from its
// premise intervals.
//
// The catalogue is a compile-time enum with one pure function per variant -
// not a runtime registry - so an unknown aggregation id is a load-time
// ConfigError and the switch over kinds is exhaustiveness-checked.
//
// Built-in kinds:
//   - legal_burden_civil_051: preponderance of the evidence (floor 0.51)
//   - legal_burden_clear_075: clear and convincing (floor 0.75)
//   - legal_burden_criminal_090: beyond reasonable doubt (floor 0.90)
//   - legal_conservative_min: componentwise minimum across premises
//   - precedent_weighted: precedent-weight-normalized average of bounds
//
// Every function is total over well-formed inputs (no NaN, no negative
// bounds) and fails closed: missing or degenerate inputs mean "the rule does
// not fire", never a garbage interval.
//
// Example:
//
//	kind, err := aggregate.ParseKind("legal_burden_civil_051")
//	if err != nil {
//		return err // ConfigError at rule load time
//	}
//	out, fired := kind.Apply([]aggregate.Premise{
//		{Interval: graph.Interval{Lower: 0.62, Upper: 0.70}, Weight: 1},
//	})
//	// fired == true, out == [0.62, 0.70] (already above the 0.51 floor)
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"github.com/orneryd/forseti/pkg/graph"
)

// ErrUnknownKind is returned by ParseKind for an unrecognized aggregation id.
var ErrUnknownKind = errors.New("unknown aggregation kind")

// Kind identifies one aggregation function in the closed catalogue.
type Kind int

const (
	// KindUnknown is the zero value; rules must never carry it past Validate.
	KindUnknown Kind = iota
	// BurdenCivil floors the derived lower bound at 0.51.
	BurdenCivil
	// BurdenClear floors the derived lower bound at 0.75.
	BurdenClear
	// BurdenCriminal floors the derived lower bound at 0.90.
	BurdenCriminal
	// ConservativeMin takes the componentwise minimum across premises, so a
	// single weak premise caps the conclusion.
	ConservativeMin
	// PrecedentWeighted averages premise bounds using normalized precedent
	// weights supplied alongside the facts.
	PrecedentWeighted
)

// kindIDs maps wire/config identifiers to kinds. These identifiers are part
// of the golden-corpus contract and must not change.
var kindIDs = map[string]Kind{
	"legal_burden_civil_051":    BurdenCivil,
	"legal_burden_clear_075":    BurdenClear,
	"legal_burden_criminal_090": BurdenCriminal,
	"legal_conservative_min":    ConservativeMin,
	"precedent_weighted":        PrecedentWeighted,
}

// ParseKind resolves an aggregation identifier to its Kind.
func ParseKind(id string) (Kind, error) {
	if k, ok := kindIDs[id]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%q: %w", id, ErrUnknownKind)
}

// String returns the stable identifier for the kind.
func (k Kind) String() string {
	switch k {
	case BurdenCivil:
		return "legal_burden_civil_051"
	case BurdenClear:
		return "legal_burden_clear_075"
	case BurdenCriminal:
		return "legal_burden_criminal_090"
	case ConservativeMin:
		return "legal_conservative_min"
	case PrecedentWeighted:
		return "precedent_weighted"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a catalogue member.
func (k Kind) Valid() bool {
	return k > KindUnknown && k <= PrecedentWeighted
}

// Floor returns the burden-of-proof floor for the kind (0 for kinds without
// one). The floor is also the anchor the rule weight scales toward.
func (k Kind) Floor() float64 {
	switch k {
	case BurdenCivil:
		return 0.51
	case BurdenClear:
		return 0.75
	case BurdenCriminal:
		return 0.90
	default:
		return 0
	}
}

// Premise is one matched premise fact: its interval plus the precedent
// weight annotation from the entity that carried it.
type Premise struct {
	Interval graph.Interval
	Weight   float64
}

// Apply computes the derived interval from the premises.
//
// The second return value is false when the rule must not fire: no premises,
// a malformed premise, a non-positive weight total for PrecedentWeighted, or
// a burden floor above every premise's upper bound (empty result interval).
func (k Kind) Apply(premises []Premise) (graph.Interval, bool) {
	if len(premises) == 0 {
		return graph.Interval{}, false
	}
	for _, p := range premises {
		if !p.Interval.Valid() {
			return graph.Interval{}, false
		}
	}

	switch k {
	case BurdenCivil, BurdenClear, BurdenCriminal:
		return applyBurden(k.Floor(), premises)
	case ConservativeMin:
		return applyConservativeMin(premises)
	case PrecedentWeighted:
		return applyPrecedentWeighted(premises)
	default:
		return graph.Interval{}, false
	}
}

// applyBurden derives [max(floor, min lower), min(1, max upper)].
func applyBurden(floor float64, premises []Premise) (graph.Interval, bool) {
	minLower, maxUpper := 1.0, 0.0
	for _, p := range premises {
		minLower = math.Min(minLower, p.Interval.Lower)
		maxUpper = math.Max(maxUpper, p.Interval.Upper)
	}
	lower := math.Max(floor, minLower)
	upper := math.Min(1.0, maxUpper)
	if lower > upper {
		// Burden cannot be met even at the premises' most optimistic bound.
		return graph.Interval{}, false
	}
	return graph.Interval{Lower: lower, Upper: upper}, true
}

// applyConservativeMin derives the componentwise minimum.
func applyConservativeMin(premises []Premise) (graph.Interval, bool) {
	minLower, minUpper := 1.0, 1.0
	for _, p := range premises {
		minLower = math.Min(minLower, p.Interval.Lower)
		minUpper = math.Min(minUpper, p.Interval.Upper)
	}
	return graph.Interval{Lower: minLower, Upper: minUpper}, true
}

// applyPrecedentWeighted derives the weight-normalized average of the
// premise bounds, averaging lower and upper independently.
func applyPrecedentWeighted(premises []Premise) (graph.Interval, bool) {
	total := 0.0
	for _, p := range premises {
		if math.IsNaN(p.Weight) || p.Weight < 0 {
			return graph.Interval{}, false
		}
		total += p.Weight
	}
	if total <= 0 {
		// No usable weights - fail closed rather than divide by zero.
		return graph.Interval{}, false
	}
	var lower, upper float64
	for _, p := range premises {
		w := p.Weight / total
		lower += w * p.Interval.Lower
		upper += w * p.Interval.Upper
	}
	return graph.Interval{Lower: lower, Upper: upper}.Clamp(), true
}
