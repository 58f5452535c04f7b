package engine

import (
	"sort"

	"github.com/orneryd/forseti/pkg/graph"
)

// PremiseRef identifies one contributing premise fact inside a derivation
// record: which entity/label was read, and at which timestep.
type PremiseRef struct {
	Entity   graph.EntityRef `json:"entity"`
	Label    string          `json:"label"`
	Timestep int             `json:"timestep"`
	Interval graph.Interval  `json:"interval"`
}

// Derivation is one append-only provenance record: a rule firing that
// changed a fact. Records are never overwritten - when a later rule narrows
// the same fact, the narrower fact gets its own record layered on top and
// the prior one remains for audit.
//
// Records reference premises by (entity, label, timestep), never by pointer,
// so cyclic mutual-support patterns cannot create reference cycles.
type Derivation struct {
	RuleID   string          `json:"rule_id"`
	Entity   graph.EntityRef `json:"entity"`
	Label    string          `json:"label"`
	Timestep int             `json:"timestep"`
	Result   graph.Interval  `json:"result"`
	Premises []PremiseRef    `json:"premises"`
}

// Interpretation is the complete fact assignment at a timestep, plus the
// full derivation DAG accumulated while reaching it.
//
// An Interpretation returned by Run is finalized: treat it as immutable.
type Interpretation struct {
	Timestep    int
	Facts       map[graph.FactKey]graph.Interval
	Derivations []Derivation
}

// Fact returns the interval for (entity, label), if assigned.
func (in *Interpretation) Fact(entity graph.EntityRef, label string) (graph.Interval, bool) {
	iv, ok := in.Facts[graph.FactKey{Entity: entity, Label: label}]
	return iv, ok
}

// Equal reports whether two interpretations assign identical intervals to
// identical fact keys. Derivation history is not compared - convergence is
// about the assignment, not about how it was reached.
func (in *Interpretation) Equal(other *Interpretation) bool {
	if len(in.Facts) != len(other.Facts) {
		return false
	}
	for k, iv := range in.Facts {
		o, ok := other.Facts[k]
		if !ok || !iv.Equal(o) {
			return false
		}
	}
	return true
}

// SortedKeys returns the fact keys in stable lexicographic order.
func (in *Interpretation) SortedKeys() []graph.FactKey {
	return graph.SortedKeys(in.Facts)
}

// Explain answers the "why" query for a fact: every derivation record that
// produced or narrowed (entity, label), plus transitively every record
// behind its premises, back to timestep-0 facts.
//
// Records are returned ordered by (timestep, entity, label, rule id).
// Facts with no records are original timestep-0 inputs.
func (in *Interpretation) Explain(entity graph.EntityRef, label string) []Derivation {
	byKey := make(map[graph.FactKey][]int)
	for i, d := range in.Derivations {
		k := graph.FactKey{Entity: d.Entity, Label: d.Label}
		byKey[k] = append(byKey[k], i)
	}

	visited := make(map[graph.FactKey]bool)
	picked := make(map[int]bool)
	var visit func(k graph.FactKey)
	visit = func(k graph.FactKey) {
		if visited[k] {
			return
		}
		visited[k] = true
		for _, i := range byKey[k] {
			picked[i] = true
			for _, p := range in.Derivations[i].Premises {
				visit(graph.FactKey{Entity: p.Entity, Label: p.Label})
			}
		}
	}
	visit(graph.FactKey{Entity: entity, Label: label})

	out := make([]Derivation, 0, len(picked))
	for i := range in.Derivations {
		if picked[i] {
			out = append(out, in.Derivations[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Timestep != b.Timestep {
			return a.Timestep < b.Timestep
		}
		ak := graph.FactKey{Entity: a.Entity, Label: a.Label}.String()
		bk := graph.FactKey{Entity: b.Entity, Label: b.Label}.String()
		if ak != bk {
			return ak < bk
		}
		return a.RuleID < b.RuleID
	})
	return out
}
