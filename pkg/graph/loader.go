package graph

import (
	"encoding/json"
	"fmt"
	"io"
)

// ExchangeDoc is the typed-graph exchange format: plain node/edge lists with
// typed attributes. Attribute keys map to fact labels; attribute values map
// to initial confidence intervals, where a scalar value is treated as a
// point interval and a two-element array as [lower, upper].
//
// Example document:
//
//	{
//	  "nodes": [
//	    {"id": "case-a", "labels": ["Case"],
//	     "facts": {"duty_established": 0.9}},
//	    {"id": "case-b", "labels": ["Case"],
//	     "props": {"precedent_weight": 2.0},
//	     "facts": {"breach_shown": [0.6, 0.8]}}
//	  ],
//	  "edges": [
//	    {"id": "cite-1", "type": "CITES", "start": "case-a", "end": "case-b",
//	     "facts": {"treatment_positive": 0.75}}
//	  ]
//	}
type ExchangeDoc struct {
	Nodes []ExchangeNode `json:"nodes"`
	Edges []ExchangeEdge `json:"edges"`
}

// ExchangeNode is one node entry in the exchange format.
type ExchangeNode struct {
	ID     NodeID                     `json:"id"`
	Labels []string                   `json:"labels,omitempty"`
	Props  map[string]any             `json:"props,omitempty"`
	Facts  map[string]json.RawMessage `json:"facts,omitempty"`
}

// ExchangeEdge is one edge entry in the exchange format.
type ExchangeEdge struct {
	ID    EdgeID                     `json:"id"`
	Type  string                     `json:"type"`
	Start NodeID                     `json:"start"`
	End   NodeID                     `json:"end"`
	Props map[string]any             `json:"props,omitempty"`
	Facts map[string]json.RawMessage `json:"facts,omitempty"`
}

// LoadExchange parses an exchange document and builds a Store with the
// initial facts installed at timestep 0.
//
// Parsing from other textual graph formats is a collaborator's job; this is
// the one boundary format the core consumes.
func LoadExchange(r io.Reader) (*Store, error) {
	var doc ExchangeDoc
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse exchange document: %w", err)
	}
	return BuildStore(&doc)
}

// BuildStore builds a Store from an already-parsed exchange document.
func BuildStore(doc *ExchangeDoc) (*Store, error) {
	store := NewStore()

	for i := range doc.Nodes {
		n := doc.Nodes[i]
		if err := store.AddNode(&Node{ID: n.ID, Labels: n.Labels, Props: n.Props}); err != nil {
			return nil, err
		}
	}
	for i := range doc.Edges {
		e := doc.Edges[i]
		if err := store.AddEdge(&Edge{ID: e.ID, Type: e.Type, Start: e.Start, End: e.End, Props: e.Props}); err != nil {
			return nil, err
		}
	}

	// Facts go in after topology so edge facts can reference their edges.
	for _, n := range doc.Nodes {
		if err := setInitialFacts(store, NodeRef(n.ID), n.Facts); err != nil {
			return nil, err
		}
	}
	for _, e := range doc.Edges {
		if err := setInitialFacts(store, EdgeRef(e.ID), e.Facts); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func setInitialFacts(store *Store, ref EntityRef, facts map[string]json.RawMessage) error {
	for label, raw := range facts {
		iv, err := parseFactValue(raw)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", ref, label, err)
		}
		if err := store.SetFact(ref, label, 0, iv); err != nil {
			return err
		}
	}
	return nil
}

// parseFactValue accepts either a scalar (point interval) or a two-element
// [lower, upper] array.
func parseFactValue(raw json.RawMessage) (Interval, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		iv := Point(scalar)
		if scalar < 0 || scalar > 1 {
			return Interval{}, fmt.Errorf("%w: scalar %v", ErrInvalidInterval, scalar)
		}
		return iv, nil
	}
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err != nil {
		return Interval{}, fmt.Errorf("%w: %s", ErrInvalidInterval, string(raw))
	}
	if len(pair) != 2 {
		return Interval{}, fmt.Errorf("%w: want [lower, upper], got %d elements", ErrInvalidInterval, len(pair))
	}
	return NewInterval(pair[0], pair[1])
}
