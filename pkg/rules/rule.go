// Package rules provides the declarative inference rule model for Forseti.
//
// A rule derives one labeled fact (its head) for candidate target entities
// whenever every body clause matches at least one premise above that
// clause's confidence threshold. The matched premises feed the rule's
// aggregation function; the result, scaled by the rule's weight, is
// proposed as the head fact at the next timestep.
//
// Rules are created once, before a run - by external rule builders that
// translate a legal claim and jurisdiction into rule sets - and are
// immutable during the run. Validate rejects malformed rules before any
// evaluation happens (fail-fast, no partial runs).
//
// Example:
//
//	r := rules.Rule{
//		ID: "negligence-civil",
//		Head: rules.Head{
//			Label:    "liable_negligence",
//			Kind:     rules.TargetNode,
//			Selector: "Claim",
//		},
//		Body: []rules.Clause{
//			{Pattern: graph.ClausePattern{Scope: graph.ScopeSelf, Label: "duty_established"}, Threshold: 0.6},
//			{Pattern: graph.ClausePattern{Scope: graph.ScopeSelf, Label: "breach_shown"}, Threshold: 0.6},
//		},
//		Aggregation: aggregate.BurdenCivil,
//		Weight:      1.0,
//	}
//	if err := r.Validate(); err != nil {
//		log.Fatal(err)
//	}
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/orneryd/forseti/pkg/aggregate"
	"github.com/orneryd/forseti/pkg/graph"
)

// ErrConfig marks a malformed rule detected at load time. Always fatal,
// always surfaced before any evaluation proceeds.
var ErrConfig = errors.New("rule config error")

// TargetKind selects whether a rule head derives a node fact or an edge fact.
type TargetKind int

const (
	// TargetNode derives the head fact on nodes.
	TargetNode TargetKind = iota
	// TargetEdge derives the head fact on edges.
	TargetEdge
)

// String returns "node" or "edge".
func (k TargetKind) String() string {
	if k == TargetEdge {
		return "edge"
	}
	return "node"
}

// Head is the fact a rule derives: the label, the target kind, and an
// optional selector restricting candidates (a node label for TargetNode, an
// edge type for TargetEdge; empty matches all).
type Head struct {
	Label    string
	Kind     TargetKind
	Selector string
}

// Clause is one body premise pattern plus the minimum lower bound a premise
// must meet for the clause to be satisfied (its threshold).
type Clause struct {
	Pattern   graph.ClausePattern
	Threshold float64
}

// Rule is a declarative weighted inference rule.
//
// ValidFrom/ValidUntil bound the rule's time-validity window against the
// run's reference wall time (zero values mean unbounded on that side).
// Weight is typically the product of the rule author's base weight and the
// authority multiplier computed before the run.
type Rule struct {
	ID          string
	Head        Head
	Body        []Clause
	Aggregation aggregate.Kind
	Weight      float64
	ValidFrom   time.Time
	ValidUntil  time.Time
}

// Validate rejects malformed rules.
//
// All failures wrap ErrConfig: empty ID, empty body, unknown aggregation
// kind, thresholds outside [0,1], weight outside [0,1], neighbor/incident
// clauses without an edge type, or an inverted validity window.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty rule id", ErrConfig)
	}
	if r.Head.Label == "" {
		return fmt.Errorf("%w: rule %q: empty head label", ErrConfig, r.ID)
	}
	if len(r.Body) == 0 {
		return fmt.Errorf("%w: rule %q: empty body", ErrConfig, r.ID)
	}
	if !r.Aggregation.Valid() {
		return fmt.Errorf("%w: rule %q: %s", ErrConfig, r.ID, aggregate.ErrUnknownKind)
	}
	if r.Weight < 0 || r.Weight > 1 {
		return fmt.Errorf("%w: rule %q: weight %v outside [0,1]", ErrConfig, r.ID, r.Weight)
	}
	for i, c := range r.Body {
		if c.Threshold < 0 || c.Threshold > 1 {
			return fmt.Errorf("%w: rule %q clause %d: threshold %v outside [0,1]", ErrConfig, r.ID, i, c.Threshold)
		}
		if c.Pattern.Label == "" {
			return fmt.Errorf("%w: rule %q clause %d: empty premise label", ErrConfig, r.ID, i)
		}
		switch c.Pattern.Scope {
		case graph.ScopeSelf:
		case graph.ScopeNeighbor, graph.ScopeIncidentEdge:
			if c.Pattern.EdgeType == "" {
				return fmt.Errorf("%w: rule %q clause %d: %s scope requires an edge type", ErrConfig, r.ID, i, c.Pattern.Scope)
			}
		default:
			return fmt.Errorf("%w: rule %q clause %d: unknown scope", ErrConfig, r.ID, i)
		}
	}
	if !r.ValidFrom.IsZero() && !r.ValidUntil.IsZero() && r.ValidUntil.Before(r.ValidFrom) {
		return fmt.Errorf("%w: rule %q: validity window ends before it starts", ErrConfig, r.ID)
	}
	return nil
}

// ValidAt reports whether the rule's time-validity window contains now.
// A zero bound is unbounded on that side.
func (r *Rule) ValidAt(now time.Time) bool {
	if !r.ValidFrom.IsZero() && now.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidUntil.IsZero() && now.After(r.ValidUntil) {
		return false
	}
	return true
}

// ValidateAll validates a rule set and rejects duplicate rule IDs.
func ValidateAll(rs []Rule) error {
	seen := make(map[string]struct{}, len(rs))
	for i := range rs {
		if err := rs[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[rs[i].ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", ErrConfig, rs[i].ID)
		}
		seen[rs[i].ID] = struct{}{}
	}
	return nil
}

// Scale applies a rule weight to an aggregation output.
//
// The interpolation is linear toward the aggregation's floor and
// width-preserving:
//
//	lower' = floor + weight * (lower - floor)
//	upper' = min(1, lower' + (upper - lower))
//
// Weight 1 is the identity; weight 0 collapses the lower bound onto the
// floor. The result never leaves [0,1] and a burden floor is never crossed,
// which is the arithmetic the golden corpus encodes.
func Scale(iv graph.Interval, weight, floor float64) graph.Interval {
	if weight >= 1 {
		return iv
	}
	if weight < 0 {
		weight = 0
	}
	width := iv.Width()
	lower := floor + weight*(iv.Lower-floor)
	return graph.Interval{Lower: lower, Upper: lower + width}.Clamp()
}
