// Package graph provides the fact/graph store for Forseti.
//
// The store holds a typed property graph (nodes, directed typed edges) where
// every node and edge carries zero or more labeled bounded-confidence facts,
// versioned per discrete timestep. It answers the pattern queries used by
// rule clauses ("all neighbors via edge-type X carrying label Y above a
// threshold") and enforces the monotonic-narrowing invariant on every fact
// update. It has no knowledge of rules or aggregation - pure data structure.
//
// Design Principles:
//   - Strongly-typed identifiers (NodeID, EdgeID, EntityRef)
//   - Append-only fact layers: timestep t reads fall through to the most
//     recent earlier layer, so unchanged facts are never copied
//   - Thread-safe for concurrent reads during a timestep
//   - JSON exchange format for loading initial facts (see LoadExchange)
//
// Example Usage:
//
//	store := graph.NewStore()
//	store.AddNode(&graph.Node{ID: "case-smith", Labels: []string{"Case"}})
//	store.AddNode(&graph.Node{ID: "case-jones", Labels: []string{"Case"}})
//	store.AddEdge(&graph.Edge{
//		ID: "cite-1", Type: "CITES",
//		Start: "case-smith", End: "case-jones",
//	})
//
//	// Initial facts live at timestep 0.
//	store.SetFact(graph.NodeRef("case-jones"), "duty_established", 0, graph.Point(0.9))
//
//	// Clause matching: neighbors of case-smith via CITES carrying the label.
//	matches := store.MatchClause(graph.NodeRef("case-smith"), graph.ClausePattern{
//		Scope:    graph.ScopeNeighbor,
//		EdgeType: "CITES",
//		Dir:      graph.DirOut,
//		Label:    "duty_established",
//	}, 0)
package graph

import (
	"fmt"
	"sort"
)

// NodeID is a strongly-typed unique identifier for graph nodes.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// EntityKind distinguishes node facts from edge facts.
//
// Facts on nodes and facts on edges are tagged variants rather than
// duck-typed attribute maps, so every accessor is explicit and exhaustive.
type EntityKind int

const (
	// KindNode marks an EntityRef that addresses a node.
	KindNode EntityKind = iota
	// KindEdge marks an EntityRef that addresses an edge.
	KindEdge
)

// String returns "node" or "edge".
func (k EntityKind) String() string {
	if k == KindEdge {
		return "edge"
	}
	return "node"
}

// EntityRef addresses a single fact-bearing entity: either a node or an edge.
//
// Refs are comparable and are used as map keys throughout the engine, and as
// the stable textual identifiers ("node:case-smith", "edge:cite-1") in
// derivation records and exports.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	Node NodeID     `json:"node,omitempty"`
	Edge EdgeID     `json:"edge,omitempty"`
}

// NodeRef returns an EntityRef addressing the given node.
func NodeRef(id NodeID) EntityRef {
	return EntityRef{Kind: KindNode, Node: id}
}

// EdgeRef returns an EntityRef addressing the given edge.
func EdgeRef(id EdgeID) EntityRef {
	return EntityRef{Kind: KindEdge, Edge: id}
}

// String returns the stable textual form "node:<id>" or "edge:<id>".
func (r EntityRef) String() string {
	if r.Kind == KindEdge {
		return "edge:" + string(r.Edge)
	}
	return "node:" + string(r.Node)
}

// FactKey identifies one labeled fact on one entity.
type FactKey struct {
	Entity EntityRef
	Label  string
}

// String returns "node:<id>/<label>" for deterministic ordering and display.
func (k FactKey) String() string {
	return k.Entity.String() + "/" + k.Label
}

// Node represents a graph node in the labeled property graph.
//
// Labels are type tags ("Case", "Claim", "Statute") used by rule head
// selectors. Props carry opaque annotations supplied at load time; the only
// prop the engine itself reads is "precedent_weight" (see PrecedentWeight).
//
// The node's confidence facts do NOT live here - they live in the store's
// timestep-versioned fact layers, so that a Node value never mutates during
// a run.
type Node struct {
	ID     NodeID         `json:"id"`
	Labels []string       `json:"labels,omitempty"`
	Props  map[string]any `json:"props,omitempty"`
}

// HasLabel reports whether the node carries the given label.
// An empty label matches every node.
func (n *Node) HasLabel(label string) bool {
	if label == "" {
		return true
	}
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// PrecedentWeight returns the node's precedent weight annotation, used by the
// precedent_weighted aggregation. Defaults to 1.0 when absent or malformed.
func (n *Node) PrecedentWeight() float64 {
	return propWeight(n.Props)
}

// Edge represents a directed, typed relationship between two nodes.
//
// Like nodes, edges carry their fact intervals in the store's timestep
// layers, not on the struct.
type Edge struct {
	ID    EdgeID         `json:"id"`
	Type  string         `json:"type"`
	Start NodeID         `json:"start"`
	End   NodeID         `json:"end"`
	Props map[string]any `json:"props,omitempty"`
}

// PrecedentWeight returns the edge's precedent weight annotation.
// Defaults to 1.0 when absent or malformed.
func (e *Edge) PrecedentWeight() float64 {
	return propWeight(e.Props)
}

func propWeight(props map[string]any) float64 {
	v, ok := props["precedent_weight"]
	if !ok {
		return 1.0
	}
	switch w := v.(type) {
	case float64:
		if w >= 0 {
			return w
		}
	case int:
		if w >= 0 {
			return float64(w)
		}
	}
	return 1.0
}

// Direction selects edge traversal direction for neighbor clauses.
type Direction int

const (
	// DirOut follows edges from the target outward (target is Start).
	DirOut Direction = iota
	// DirIn follows edges into the target (target is End).
	DirIn
	// DirBoth follows edges in either direction.
	DirBoth
)

// String returns "out", "in" or "both".
func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirBoth:
		return "both"
	default:
		return "out"
	}
}

// ClauseScope selects where a clause looks for its premise facts, relative
// to the candidate target entity.
type ClauseScope int

const (
	// ScopeSelf matches a fact on the candidate entity itself.
	ScopeSelf ClauseScope = iota
	// ScopeNeighbor matches facts on nodes reachable from the candidate via
	// one edge of the clause's EdgeType in the clause's Dir.
	ScopeNeighbor
	// ScopeIncidentEdge matches facts on the candidate node's incident edges
	// of the clause's EdgeType.
	ScopeIncidentEdge
)

// String returns "self", "neighbor" or "incident_edge".
func (s ClauseScope) String() string {
	switch s {
	case ScopeNeighbor:
		return "neighbor"
	case ScopeIncidentEdge:
		return "incident_edge"
	default:
		return "self"
	}
}

// ClausePattern is the graph-pattern part of a rule clause: which entities
// to inspect and which fact label they must carry. The confidence threshold
// lives on the rule side (rules.Clause), not here.
type ClausePattern struct {
	Scope    ClauseScope
	EdgeType string    // required for ScopeNeighbor / ScopeIncidentEdge
	Dir      Direction // traversal direction for ScopeNeighbor / ScopeIncidentEdge
	Label    string    // fact label the premise must carry
}

func (p ClausePattern) String() string {
	if p.Scope == ScopeSelf {
		return fmt.Sprintf("self/%s", p.Label)
	}
	return fmt.Sprintf("%s(%s,%s)/%s", p.Scope, p.EdgeType, p.Dir, p.Label)
}

// Match is one premise produced by MatchClause: the entity that carried the
// fact, its current interval, and its precedent weight annotation.
type Match struct {
	Entity   EntityRef
	Interval Interval
	Weight   float64
}

// SortMatches orders matches by entity ref for deterministic iteration.
func SortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Entity.String() < ms[j].Entity.String()
	})
}
