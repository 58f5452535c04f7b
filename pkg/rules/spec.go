package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/orneryd/forseti/pkg/aggregate"
	"github.com/orneryd/forseti/pkg/graph"
)

// Spec is the JSON wire form of a Rule, consumed by the CLI and the parity
// harness. Compile resolves the string enums and validates the result, so a
// bad spec fails at load time, never mid-run.
//
// Example document:
//
//	[{
//	  "id": "negligence-civil",
//	  "head": {"label": "liable_negligence", "kind": "node", "selector": "Claim"},
//	  "body": [
//	    {"scope": "self", "label": "duty_established", "threshold": 0.6},
//	    {"scope": "neighbor", "edge_type": "CITES", "dir": "out",
//	     "label": "breach_shown", "threshold": 0.6}
//	  ],
//	  "aggregation": "legal_burden_civil_051",
//	  "weight": 1.0,
//	  "valid_from": "2020-01-01T00:00:00Z"
//	}]
type Spec struct {
	ID          string       `json:"id"`
	Head        HeadSpec     `json:"head"`
	Body        []ClauseSpec `json:"body"`
	Aggregation string       `json:"aggregation"`
	Weight      float64      `json:"weight"`
	ValidFrom   string       `json:"valid_from,omitempty"`
	ValidUntil  string       `json:"valid_until,omitempty"`
}

// HeadSpec is the wire form of Head.
type HeadSpec struct {
	Label    string `json:"label"`
	Kind     string `json:"kind"` // "node" or "edge"
	Selector string `json:"selector,omitempty"`
}

// ClauseSpec is the wire form of Clause.
type ClauseSpec struct {
	Scope     string  `json:"scope"` // "self", "neighbor", "incident_edge"
	EdgeType  string  `json:"edge_type,omitempty"`
	Dir       string  `json:"dir,omitempty"` // "out", "in", "both"
	Label     string  `json:"label"`
	Threshold float64 `json:"threshold"`
}

// Compile resolves the spec into a validated Rule.
func (s Spec) Compile() (Rule, error) {
	r := Rule{ID: s.ID, Weight: s.Weight}

	kind, err := aggregate.ParseKind(s.Aggregation)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: rule %q: %v", ErrConfig, s.ID, err)
	}
	r.Aggregation = kind

	switch s.Head.Kind {
	case "node", "":
		r.Head = Head{Label: s.Head.Label, Kind: TargetNode, Selector: s.Head.Selector}
	case "edge":
		r.Head = Head{Label: s.Head.Label, Kind: TargetEdge, Selector: s.Head.Selector}
	default:
		return Rule{}, fmt.Errorf("%w: rule %q: unknown head kind %q", ErrConfig, s.ID, s.Head.Kind)
	}

	for i, c := range s.Body {
		clause := Clause{Threshold: c.Threshold}
		clause.Pattern.Label = c.Label
		clause.Pattern.EdgeType = c.EdgeType
		switch c.Scope {
		case "self", "":
			clause.Pattern.Scope = graph.ScopeSelf
		case "neighbor":
			clause.Pattern.Scope = graph.ScopeNeighbor
		case "incident_edge":
			clause.Pattern.Scope = graph.ScopeIncidentEdge
		default:
			return Rule{}, fmt.Errorf("%w: rule %q clause %d: unknown scope %q", ErrConfig, s.ID, i, c.Scope)
		}
		switch c.Dir {
		case "out", "":
			clause.Pattern.Dir = graph.DirOut
		case "in":
			clause.Pattern.Dir = graph.DirIn
		case "both":
			clause.Pattern.Dir = graph.DirBoth
		default:
			return Rule{}, fmt.Errorf("%w: rule %q clause %d: unknown direction %q", ErrConfig, s.ID, i, c.Dir)
		}
		r.Body = append(r.Body, clause)
	}

	if r.ValidFrom, err = parseSpecTime(s.ValidFrom); err != nil {
		return Rule{}, fmt.Errorf("%w: rule %q: valid_from: %v", ErrConfig, s.ID, err)
	}
	if r.ValidUntil, err = parseSpecTime(s.ValidUntil); err != nil {
		return Rule{}, fmt.Errorf("%w: rule %q: valid_until: %v", ErrConfig, s.ID, err)
	}

	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func parseSpecTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CompileAll compiles a list of specs and rejects duplicate IDs.
func CompileAll(specs []Spec) ([]Rule, error) {
	out := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := s.Compile()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := ValidateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadSpecs reads a JSON array of rule specs and compiles it.
func LoadSpecs(r io.Reader) ([]Rule, error) {
	var specs []Spec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("%w: parse rule specs: %v", ErrConfig, err)
	}
	return CompileAll(specs)
}
