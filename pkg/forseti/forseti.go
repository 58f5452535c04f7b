// Package forseti provides the main API for embedded Forseti usage.
//
// This package wires the collaborators into one object: validated
// configuration in, finalized interpretations out. It owns the authority
// calculator, the export profile registry, and (optionally) a persistent
// run archive; the caller supplies a fact store and a rule set per run.
//
// Key Features:
//   - Deterministic fixed-point evaluation of annotated rules over a fact graph
//   - Authority-scaled rule weights from citation signals
//   - Privacy-by-default export under named redaction profiles
//   - Append-only provenance with "why" queries per derived fact
//   - Optional on-disk archive of finalized runs
//
// Example Usage:
//
//	cfg, err := config.LoadFromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	f, err := forseti.Open(cfg, forseti.WithArchiveDir("./runs"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer f.Close()
//
//	run, err := f.Run(ctx, store, ruleSet, signals)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	doc, err := f.Export(run, "default")
//	fmt.Println(string(doc))
//
// ELI12:
//
// Forseti is the judge's clerk. You hand it the case file (the graph), the
// rulebook (the rules), and notes on how trustworthy each precedent is (the
// signals). It grinds through the rules until nothing changes, writes down
// every step it took, files the finished decision in the cabinet, and only
// shows outsiders the redacted copy.
package forseti

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/forseti/pkg/archive"
	"github.com/orneryd/forseti/pkg/authority"
	"github.com/orneryd/forseti/pkg/config"
	"github.com/orneryd/forseti/pkg/engine"
	"github.com/orneryd/forseti/pkg/export"
	"github.com/orneryd/forseti/pkg/graph"
	"github.com/orneryd/forseti/pkg/rules"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("forseti is closed")

// Run is one finalized evaluation: the fixed-point interpretation, the
// termination status, engine statistics, and the archive ID if the run was
// persisted.
type Run struct {
	ID             string
	Interpretation *engine.Interpretation
	Status         engine.Status
	Stats          engine.Stats
}

// Option configures Open.
type Option func(*Forseti) error

// WithArchiveDir persists finalized runs to a Badger archive at dir.
// Without it runs are archived in memory only.
func WithArchiveDir(dir string) Option {
	return func(f *Forseti) error {
		arch, err := archive.NewBadgerArchive(dir)
		if err != nil {
			return err
		}
		f.archive = arch
		return nil
	}
}

// WithArchive uses the given archive instead of the default in-memory one.
func WithArchive(a archive.Archive) Option {
	return func(f *Forseti) error {
		f.archive = a
		return nil
	}
}

// Forseti is the embedded reasoning service.
//
// Safe for concurrent use. Each Run evaluates against its own store; the
// shared state (calculator, profiles, archive) is read-only or internally
// synchronized.
type Forseti struct {
	mu       sync.RWMutex
	cfg      *config.Config
	calc     *authority.Calculator
	profiles *export.Registry
	archive  archive.Archive
	closed   bool
}

// Open validates cfg and constructs the service. The configuration is
// rejected wholesale on the first malformed table or profile.
func Open(cfg *config.Config, opts ...Option) (*Forseti, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tables, err := cfg.AuthorityTables()
	if err != nil {
		return nil, err
	}
	calc, err := authority.NewCalculator(tables)
	if err != nil {
		return nil, err
	}
	profiles, err := cfg.ProfileRegistry()
	if err != nil {
		return nil, err
	}
	f := &Forseti{
		cfg:      cfg,
		calc:     calc,
		profiles: profiles,
		archive:  archive.NewMemoryArchive(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Calculator exposes the authority calculator for callers that score
// signals outside a run.
func (f *Forseti) Calculator() *authority.Calculator {
	return f.calc
}

// Archive exposes the run archive for listing and loading past runs.
func (f *Forseti) Archive() archive.Archive {
	return f.archive
}

// Run evaluates ruleSet against store to a fixed point and archives the
// finalized interpretation. Rule validity windows are checked against the
// wall clock; use RunAt to pin the reference time.
//
// Rule weights are first scaled by the authority multiplier for their
// signals; rules absent from signals keep their declared weight. The store
// is mutated (new timestep layers) and must not be reused across runs.
func (f *Forseti) Run(ctx context.Context, store *graph.Store, ruleSet []rules.Rule, signals map[string]authority.Signals) (*Run, error) {
	return f.RunAt(ctx, store, ruleSet, signals, time.Time{})
}

// RunAt is Run with a pinned reference time for rule validity windows,
// handed to the engine unchanged. Runs with the same inputs and the same
// now are byte-identical regardless of when they execute; a zero now falls
// back to the wall clock.
func (f *Forseti) RunAt(ctx context.Context, store *graph.Store, ruleSet []rules.Rule, signals map[string]authority.Signals, now time.Time) (*Run, error) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return nil, ErrClosed
	}
	f.mu.RUnlock()

	scaled := authority.ScaleRules(ruleSet, signals, f.calc)

	opts := engine.DefaultOptions()
	opts.Now = now
	if f.cfg.Engine.MaxTimesteps > 0 {
		opts.MaxTimesteps = f.cfg.Engine.MaxTimesteps
	}
	if f.cfg.Engine.Parallelism > 0 {
		opts.Parallelism = f.cfg.Engine.Parallelism
	}

	eng, err := engine.New(store, scaled, opts)
	if err != nil {
		return nil, err
	}
	interp, status, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	rec := archive.NewRunRecord(interp, status)
	if err := f.archive.SaveRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("archive run: %w", err)
	}

	return &Run{
		ID:             rec.ID,
		Interpretation: interp,
		Status:         status,
		Stats:          eng.Stats(),
	}, nil
}

// Export renders a finalized run under the named redaction profile.
func (f *Forseti) Export(run *Run, profile string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.profiles.Export(run.Interpretation, run.Status, profile)
}

// Explain returns the derivation chain behind one fact of a finalized run,
// oldest first. An empty result means the fact was asserted, not derived.
func (f *Forseti) Explain(run *Run, entity graph.EntityRef, label string) []engine.Derivation {
	return run.Interpretation.Explain(entity, label)
}

// Close releases the archive. Runs already returned stay usable; new
// operations fail with ErrClosed.
func (f *Forseti) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.archive.Close()
}
