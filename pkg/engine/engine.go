// Package engine implements the deterministic fixed-point evaluator for
// Forseti.
//
// Given a graph store with initial facts, an immutable rule set, and a step
// budget, the engine repeatedly applies every applicable rule until the fact
// assignment stabilizes (Converged) or the budget runs out (Exhausted).
// Within one timestep every rule reads a frozen prior-timestep snapshot and
// never observes partial updates from its own step; conflicting proposals
// for the same fact are reduced with a commutative, associative
// most-conservative merge, so evaluation order - and goroutine scheduling -
// cannot change the result. That order-independence is the property the
// golden corpus validates bit-exactly.
//
// States: Init -> Stepping(t) -> [Stepping(t+1) | Converged | Exhausted].
//
// Example Usage:
//
//	store, _ := graph.LoadExchange(graphFile)
//	ruleSet, _ := rules.LoadSpecs(rulesFile)
//
//	eng, err := engine.New(store, ruleSet, engine.DefaultOptions())
//	if err != nil {
//		log.Fatal(err) // ConfigError: bad rule, surfaced before any step
//	}
//	interp, status, err := eng.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(status) // converged or exhausted
//	iv, _ := interp.Fact(graph.NodeRef("claim-1"), "liable_negligence")
//
// ELI12:
//
// The engine plays rounds of a board game with itself. Each round it looks
// at the board as it was at the START of the round, writes down every move
// every rule wants to make, keeps only the most cautious legal move for
// each square, then updates the board. When a whole round passes with no moves,
// the game is over. If it hits the round limit first, it stops and tells
// you it ran out of turns - that's an answer too, not an error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/forseti/pkg/aggregate"
	"github.com/orneryd/forseti/pkg/graph"
	"github.com/orneryd/forseti/pkg/rules"
)

// ErrConfig marks an invalid engine configuration or rule set, detected
// before any evaluation proceeds.
var ErrConfig = errors.New("engine config error")

// Status is the terminal state of a run.
type Status int

const (
	// StatusConverged means no rule produced any further change.
	StatusConverged Status = iota
	// StatusExhausted means the step budget ran out before convergence.
	// Still a normal, reportable outcome - the last interpretation is valid.
	StatusExhausted
)

// String returns "converged" or "exhausted".
func (s Status) String() string {
	if s == StatusExhausted {
		return "exhausted"
	}
	return "converged"
}

// Options configure a run.
type Options struct {
	// MaxTimesteps is the step budget (tmax). The run performs at most this
	// many stepping iterations before reporting StatusExhausted.
	MaxTimesteps int

	// Now is the wall/legal time context checked against each rule's
	// validity window. Zero means time.Now() captured once at run start, so
	// repeated runs with an explicit Now are byte-identical.
	Now time.Time

	// Parallelism caps the worker goroutines evaluating rules within a
	// timestep. <= 0 means GOMAXPROCS. Results are scheduling-independent.
	Parallelism int
}

// DefaultOptions returns a balanced default configuration: a 100-step
// budget and one worker per CPU.
func DefaultOptions() Options {
	return Options{
		MaxTimesteps: 100,
		Parallelism:  runtime.GOMAXPROCS(0),
	}
}

// Stats are per-run evaluation counters.
//
// SkippedAggregations counts rule/candidate pairs whose clauses matched but
// whose aggregation failed closed (missing or out-of-range premises). That
// is the AggregationInputError case: local, non-fatal, surfaced here rather
// than as a run failure.
type Stats struct {
	Timesteps           int
	RulesEvaluated      int
	Proposals           int
	ChangesApplied      int
	SkippedAggregations int
}

// Engine evaluates one rule set against one store. A store is exclusively
// owned by the engine for the duration of Run; concurrent runs need their
// own independent stores.
type Engine struct {
	store *graph.Store
	rules []rules.Rule
	opts  Options
	stats Stats
}

// New validates the rule set and constructs an Engine.
//
// Validation failures (unknown aggregation id, malformed clause, bad
// weight) wrap ErrConfig and surface here - fail-fast, no partial runs.
func New(store *graph.Store, ruleSet []rules.Rule, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if opts.MaxTimesteps <= 0 {
		return nil, fmt.Errorf("%w: max timesteps must be positive, got %d", ErrConfig, opts.MaxTimesteps)
	}
	if err := rules.ValidateAll(ruleSet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	return &Engine{store: store, rules: ruleSet, opts: opts}, nil
}

// Stats returns the counters from the most recent Run.
func (e *Engine) Stats() Stats {
	return e.stats
}

// proposal is one rule firing awaiting conflict resolution.
type proposal struct {
	key      graph.FactKey
	interval graph.Interval
	ruleID   string
	premises []PremiseRef
}

// Run executes the fixed-point evaluation. It is the sole entry point.
//
// Returns the final Interpretation and its terminal Status. Exhaustion is
// not an error; the only error paths are invariant violations, which are
// rule-authoring defects that must fail deterministically.
func (e *Engine) Run(ctx context.Context) (*Interpretation, Status, error) {
	now := e.opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	e.stats = Stats{}
	derivations := make([]Derivation, 0)

	t := 0
	for ; t < e.opts.MaxTimesteps; t++ {
		props, err := e.evaluateStep(ctx, t, now)
		if err != nil {
			return nil, StatusExhausted, err
		}

		groups := reduce(props)

		changes, err := e.apply(t, groups, &derivations)
		if err != nil {
			return nil, StatusExhausted, err
		}
		e.stats.Timesteps++
		e.stats.ChangesApplied += changes

		if changes == 0 {
			return &Interpretation{
				Timestep:    t,
				Facts:       e.store.Snapshot(t),
				Derivations: derivations,
			}, StatusConverged, nil
		}
	}

	return &Interpretation{
		Timestep:    t,
		Facts:       e.store.Snapshot(t),
		Derivations: derivations,
	}, StatusExhausted, nil
}

// evaluateStep evaluates every rule against the frozen interpretation at
// timestep t, fanning out across workers. Per-rule results are collected
// into a fixed slot per rule, so collection order is scheduling-independent
// (and the reduction would make order irrelevant anyway).
func (e *Engine) evaluateStep(ctx context.Context, t int, now time.Time) ([]proposal, error) {
	results := make([][]proposal, len(e.rules))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)
	for i := range e.rules {
		i := i
		g.Go(func() error {
			results[i] = e.evaluateRule(&e.rules[i], t, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []proposal
	for i := range results {
		e.stats.RulesEvaluated++
		out = append(out, results[i]...)
	}
	e.stats.Proposals += len(out)
	return out, nil
}

// evaluateRule fires one rule against every candidate target at timestep t.
func (e *Engine) evaluateRule(r *rules.Rule, t int, now time.Time) []proposal {
	if !r.ValidAt(now) {
		return nil
	}

	var out []proposal
	for _, target := range e.candidates(r) {
		matched, ok := e.matchBody(r, target, t)
		if !ok {
			continue
		}
		raw, fired := r.Aggregation.Apply(aggregateInputs(matched))
		if !fired {
			e.stats.SkippedAggregations++
			continue
		}
		scaled := rules.Scale(raw, r.Weight, r.Aggregation.Floor())
		out = append(out, proposal{
			key:      graph.FactKey{Entity: target, Label: r.Head.Label},
			interval: scaled,
			ruleID:   r.ID,
			premises: premiseRefs(matched),
		})
	}
	return out
}

// candidates enumerates head targets for a rule in stable order.
func (e *Engine) candidates(r *rules.Rule) []graph.EntityRef {
	var out []graph.EntityRef
	if r.Head.Kind == rules.TargetEdge {
		for _, id := range e.store.EdgeIDs() {
			edge, err := e.store.Edge(id)
			if err != nil {
				continue
			}
			if r.Head.Selector == "" || edge.Type == r.Head.Selector {
				out = append(out, graph.EdgeRef(id))
			}
		}
		return out
	}
	for _, id := range e.store.NodeIDs() {
		node, err := e.store.Node(id)
		if err != nil {
			continue
		}
		if node.HasLabel(r.Head.Selector) {
			out = append(out, graph.NodeRef(id))
		}
	}
	return out
}

// matchedPremise pairs a provenance ref with the precedent weight the
// premise entity carries, for weight-aware aggregations.
type matchedPremise struct {
	ref    PremiseRef
	weight float64
}

// matchBody matches every clause of the rule body against the candidate.
// A rule fires only if every clause has at least one premise whose lower
// bound meets that clause's threshold; all satisfying premises contribute.
func (e *Engine) matchBody(r *rules.Rule, target graph.EntityRef, t int) ([]matchedPremise, bool) {
	var premises []matchedPremise
	for _, clause := range r.Body {
		matches := e.store.MatchClause(target, clause.Pattern, t)
		satisfied := false
		for _, m := range matches {
			if m.Interval.Lower >= clause.Threshold {
				satisfied = true
				premises = append(premises, matchedPremise{
					ref: PremiseRef{
						Entity:   m.Entity,
						Label:    clause.Pattern.Label,
						Timestep: t,
						Interval: m.Interval,
					},
					weight: m.Weight,
				})
			}
		}
		if !satisfied {
			return nil, false
		}
	}
	return premises, true
}

func aggregateInputs(matched []matchedPremise) []aggregate.Premise {
	out := make([]aggregate.Premise, len(matched))
	for i, m := range matched {
		out[i] = aggregate.Premise{Interval: m.ref.Interval, Weight: m.weight}
	}
	return out
}

func premiseRefs(matched []matchedPremise) []PremiseRef {
	out := make([]PremiseRef, len(matched))
	for i, m := range matched {
		out[i] = m.ref
	}
	return out
}

// reduce groups conflicting proposals per fact key, most conservative first
// (lowest upper bound, then highest lower bound), ties broken by smallest
// rule ID for byte-stable provenance. The ordering is total, so input order
// - and goroutine scheduling - cannot change the result.
func reduce(props []proposal) map[graph.FactKey][]proposal {
	groups := make(map[graph.FactKey][]proposal, len(props))
	for _, p := range props {
		groups[p.key] = append(groups[p.key], p)
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool {
			switch {
			case g[i].interval.MoreConservativeThan(g[j].interval):
				return true
			case g[j].interval.MoreConservativeThan(g[i].interval):
				return false
			}
			return g[i].ruleID < g[j].ruleID
		})
	}
	return groups
}

// apply writes, per fact key, the most conservative proposal that legally
// narrows the currently visible interval into the t+1 layer and appends its
// derivation record. A proposal that would widen the current fact carries
// no admissible information, so the next proposal in conservative order is
// tried instead; a proposal equal to the current value is the fixed-point
// signal, not a change.
func (e *Engine) apply(t int, groups map[graph.FactKey][]proposal, derivations *[]Derivation) (int, error) {
	keys := make([]graph.FactKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	changes := 0
	for _, k := range keys {
		cur, exists := e.store.Fact(k.Entity, k.Label, t)
		var chosen *proposal
		for i := range groups[k] {
			p := &groups[k][i]
			if exists && (cur.Equal(p.interval) || !cur.Contains(p.interval)) {
				continue
			}
			chosen = p
			break
		}
		if chosen == nil {
			continue
		}
		if err := e.store.SetFact(k.Entity, k.Label, t+1, chosen.interval); err != nil {
			return changes, err
		}
		*derivations = append(*derivations, Derivation{
			RuleID:   chosen.ruleID,
			Entity:   k.Entity,
			Label:    k.Label,
			Timestep: t + 1,
			Result:   chosen.interval,
			Premises: chosen.premises,
		})
		changes++
	}
	return changes, nil
}
