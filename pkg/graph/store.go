package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Store is the in-memory fact/graph store.
//
// Topology (nodes, edges, adjacency indexes) is created at load time and
// never changes during a run. Facts are layered per timestep: reading a fact
// at timestep t returns the most recent value set at any t' <= t, so a fact
// set once at timestep 0 remains visible at every later timestep until a
// rule narrows it.
//
// A Store is exclusively owned by one engine run at a time. Reads are safe
// from multiple goroutines (the engine fans rule evaluation out across
// workers inside a timestep); writes happen only from the engine's single
// apply step between timesteps.
//
// Example:
//
//	store := graph.NewStore()
//	store.AddNode(&graph.Node{ID: "claim-1", Labels: []string{"Claim"}})
//	store.SetFact(graph.NodeRef("claim-1"), "breach_shown", 0, graph.Point(0.8))
//
//	iv, ok := store.Fact(graph.NodeRef("claim-1"), "breach_shown", 3)
//	// ok == true, iv == [0.8, 0.8]  (layer 0 is still visible at t=3)
//
// ELI12:
//
// Think of the store as a stack of transparent sheets, one per timestep.
// Each sheet only has the facts that CHANGED that step. To read the graph
// at step 5, you look down through sheets 5, 4, 3... until you find the
// fact. Writing a vaguer value than what's already visible is rejected -
// sheets can only sharpen the picture, never blur it.
type Store struct {
	mu sync.RWMutex

	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	outgoing map[NodeID][]EdgeID
	incoming map[NodeID][]EdgeID

	// layers[t] holds only the facts written at timestep t.
	layers []map[FactKey]Interval
}

// NewStore creates an empty store with a single (timestep 0) fact layer.
func NewStore() *Store {
	return &Store{
		nodes:    make(map[NodeID]*Node),
		edges:    make(map[EdgeID]*Edge),
		outgoing: make(map[NodeID][]EdgeID),
		incoming: make(map[NodeID][]EdgeID),
		layers:   []map[FactKey]Interval{make(map[FactKey]Interval)},
	}
}

// AddNode registers a node. Nodes are never deleted during a run.
//
// Returns ErrInvalidID for an empty ID and ErrAlreadyExists for duplicates.
func (s *Store) AddNode(node *Node) error {
	if node == nil || node.ID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("node %q: %w", node.ID, ErrAlreadyExists)
	}
	s.nodes[node.ID] = node
	return nil
}

// AddEdge registers a directed typed edge between two existing nodes.
//
// Returns ErrInvalidEdge if either endpoint is unknown.
func (s *Store) AddEdge(edge *Edge) error {
	if edge == nil || edge.ID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.edges[edge.ID]; exists {
		return fmt.Errorf("edge %q: %w", edge.ID, ErrAlreadyExists)
	}
	if _, ok := s.nodes[edge.Start]; !ok {
		return fmt.Errorf("edge %q start %q: %w", edge.ID, edge.Start, ErrInvalidEdge)
	}
	if _, ok := s.nodes[edge.End]; !ok {
		return fmt.Errorf("edge %q end %q: %w", edge.ID, edge.End, ErrInvalidEdge)
	}
	s.edges[edge.ID] = edge
	s.outgoing[edge.Start] = append(s.outgoing[edge.Start], edge.ID)
	s.incoming[edge.End] = append(s.incoming[edge.End], edge.ID)
	return nil
}

// Node returns the node with the given ID, or ErrNotFound.
func (s *Store) Node(id NodeID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Edge returns the edge with the given ID, or ErrNotFound.
func (s *Store) Edge(id EdgeID) (*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %q: %w", id, ErrNotFound)
	}
	return e, nil
}

// NodeIDs returns all node IDs in lexicographic order.
//
// The engine enumerates rule candidates from this - stable ordering is part
// of the determinism guarantee.
func (s *Store) NodeIDs() []NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EdgeIDs returns all edge IDs in lexicographic order.
func (s *Store) EdgeIDs() []EdgeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]EdgeID, 0, len(s.edges))
	for id := range s.edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasEntity reports whether the referenced node or edge exists.
func (s *Store) HasEntity(ref EntityRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref.Kind == KindEdge {
		_, ok := s.edges[ref.Edge]
		return ok
	}
	_, ok := s.nodes[ref.Node]
	return ok
}

// MaxTimestep returns the highest timestep that has a fact layer.
func (s *Store) MaxTimestep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers) - 1
}

// Fact returns the interval for (entity, label) visible at timestep t.
//
// The lookup falls through layers from t down to 0; the boolean is false if
// no layer holds the fact.
func (s *Store) Fact(entity EntityRef, label string, t int) (Interval, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.factLocked(FactKey{Entity: entity, Label: label}, t)
}

func (s *Store) factLocked(key FactKey, t int) (Interval, bool) {
	if t >= len(s.layers) {
		t = len(s.layers) - 1
	}
	for i := t; i >= 0; i-- {
		if iv, ok := s.layers[i][key]; ok {
			return iv, true
		}
	}
	return Interval{}, false
}

// SetFact writes the interval for (entity, label) at timestep t.
//
// The write is rejected with:
//   - ErrInvalidInterval if iv is malformed
//   - ErrNotFound if the entity does not exist
//   - ErrInvalidTimestep if t is negative or skips a layer
//   - ErrInvariantViolation if a value visible at t exists and does not
//     contain iv (the monotonic-narrowing rule: narrow or identical only)
//
// Widening is a rule-authoring defect, not a runtime condition to recover
// from: the run fails deterministically so it can be reproduced and fixed.
func (s *Store) SetFact(entity EntityRef, label string, t int, iv Interval) error {
	if !iv.Valid() {
		return fmt.Errorf("%s/%s: %w: %s", entity, label, ErrInvalidInterval, iv)
	}
	if label == "" {
		return fmt.Errorf("%s: empty label: %w", entity, ErrInvalidID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasEntityLocked(entity) {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	if t < 0 || t > len(s.layers) {
		return fmt.Errorf("timestep %d (have %d layers): %w", t, len(s.layers), ErrInvalidTimestep)
	}
	if t == len(s.layers) {
		s.layers = append(s.layers, make(map[FactKey]Interval))
	}

	key := FactKey{Entity: entity, Label: label}
	if prev, ok := s.factLocked(key, t); ok {
		if !prev.Contains(iv) {
			return fmt.Errorf("%s at t=%d: %s -> %s: %w", key, t, prev, iv, ErrInvariantViolation)
		}
	}
	s.layers[t][key] = iv
	return nil
}

func (s *Store) hasEntityLocked(ref EntityRef) bool {
	if ref.Kind == KindEdge {
		_, ok := s.edges[ref.Edge]
		return ok
	}
	_, ok := s.nodes[ref.Node]
	return ok
}

// MatchClause returns every premise matching the pattern relative to the
// candidate target entity, reading facts as of timestep t.
//
// Matching is purely structural here - the per-clause confidence threshold
// is applied by the rule layer. Results are sorted by entity ref.
func (s *Store) MatchClause(target EntityRef, p ClausePattern, t int) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Match
	add := func(ref EntityRef, weight float64) {
		if iv, ok := s.factLocked(FactKey{Entity: ref, Label: p.Label}, t); ok {
			out = append(out, Match{Entity: ref, Interval: iv, Weight: weight})
		}
	}

	switch p.Scope {
	case ScopeSelf:
		add(target, s.weightLocked(target))

	case ScopeNeighbor:
		if target.Kind != KindNode {
			return nil
		}
		for _, eid := range s.adjacentLocked(target.Node, p.Dir) {
			e := s.edges[eid]
			if p.EdgeType != "" && e.Type != p.EdgeType {
				continue
			}
			other := e.End
			if other == target.Node {
				other = e.Start
			}
			if n, ok := s.nodes[other]; ok {
				add(NodeRef(other), n.PrecedentWeight())
			}
		}

	case ScopeIncidentEdge:
		if target.Kind != KindNode {
			return nil
		}
		for _, eid := range s.adjacentLocked(target.Node, p.Dir) {
			e := s.edges[eid]
			if p.EdgeType != "" && e.Type != p.EdgeType {
				continue
			}
			add(EdgeRef(eid), e.PrecedentWeight())
		}
	}

	SortMatches(out)
	return out
}

func (s *Store) weightLocked(ref EntityRef) float64 {
	if ref.Kind == KindEdge {
		if e, ok := s.edges[ref.Edge]; ok {
			return e.PrecedentWeight()
		}
		return 1.0
	}
	if n, ok := s.nodes[ref.Node]; ok {
		return n.PrecedentWeight()
	}
	return 1.0
}

func (s *Store) adjacentLocked(id NodeID, dir Direction) []EdgeID {
	switch dir {
	case DirOut:
		return s.outgoing[id]
	case DirIn:
		return s.incoming[id]
	default:
		ids := make([]EdgeID, 0, len(s.outgoing[id])+len(s.incoming[id]))
		ids = append(ids, s.outgoing[id]...)
		ids = append(ids, s.incoming[id]...)
		return ids
	}
}

// Snapshot materializes the complete fact assignment visible at timestep t.
//
// The engine snapshots timestep t once per step and evaluates every rule
// against it, so rules never observe partial updates from their own step.
func (s *Store) Snapshot(t int) map[FactKey]Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t >= len(s.layers) {
		t = len(s.layers) - 1
	}
	out := make(map[FactKey]Interval)
	for i := 0; i <= t; i++ {
		for k, iv := range s.layers[i] {
			out[k] = iv
		}
	}
	return out
}

// SortedKeys returns the keys of a fact assignment in stable order.
func SortedKeys(facts map[FactKey]Interval) []FactKey {
	keys := make([]FactKey, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
