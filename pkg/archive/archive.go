// Package archive persists finalized Forseti runs.
//
// A run record is written once, after the engine terminates, and never
// mutated: the archive stores the final interpretation, its derivation DAG
// and the convergence status, keyed by a run ID. Archival is strictly
// post-run - nothing here ever participates in evaluation.
//
// Two implementations ship behind the Archive interface:
//   - MemoryArchive: process-local, for tests and embedded callers
//   - BadgerArchive: persistent on-disk archive (see badger.go)
//
// Example:
//
//	arch := archive.NewMemoryArchive()
//	defer arch.Close()
//
//	rec := archive.NewRunRecord(interp, status)
//	if err := arch.SaveRun(ctx, rec); err != nil {
//		return err
//	}
//
//	loaded, _ := arch.LoadRun(ctx, rec.ID)
//	interp2, status2, _ := loaded.Interpretation()
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/forseti/pkg/engine"
	"github.com/orneryd/forseti/pkg/graph"
)

// Common errors
var (
	ErrNotFound      = errors.New("run not found")
	ErrAlreadyExists = errors.New("run already exists")
	ErrClosed        = errors.New("archive closed")
)

// FactRow is the stored form of one fact: the entity's stable textual ref
// plus the interval bounds.
type FactRow struct {
	Entity string  `json:"entity"`
	Label  string  `json:"label"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// RunRecord is one archived run.
type RunRecord struct {
	ID          string              `json:"id"`
	CreatedAt   time.Time           `json:"created_at"`
	Status      string              `json:"status"`
	Timestep    int                 `json:"timestep"`
	Facts       []FactRow           `json:"facts"`
	Derivations []engine.Derivation `json:"derivations,omitempty"`
}

// RunSummary is the listing form of a record: everything but the payload.
type RunSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Timestep  int       `json:"timestep"`
	FactCount int       `json:"fact_count"`
}

// Archive stores finalized runs.
type Archive interface {
	SaveRun(ctx context.Context, rec *RunRecord) error
	LoadRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)
	Close() error
}

// NewRunRecord captures a finalized interpretation as a record with a fresh
// UUID and creation timestamp.
func NewRunRecord(interp *engine.Interpretation, status engine.Status) *RunRecord {
	rec := &RunRecord{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Status:      status.String(),
		Timestep:    interp.Timestep,
		Derivations: interp.Derivations,
	}
	for _, k := range interp.SortedKeys() {
		iv := interp.Facts[k]
		rec.Facts = append(rec.Facts, FactRow{
			Entity: k.Entity.String(),
			Label:  k.Label,
			Lower:  iv.Lower,
			Upper:  iv.Upper,
		})
	}
	return rec
}

// Interpretation reconstructs the engine types from the record.
func (r *RunRecord) Interpretation() (*engine.Interpretation, engine.Status, error) {
	interp := &engine.Interpretation{
		Timestep:    r.Timestep,
		Facts:       make(map[graph.FactKey]graph.Interval, len(r.Facts)),
		Derivations: r.Derivations,
	}
	for _, f := range r.Facts {
		ref, err := parseRef(f.Entity)
		if err != nil {
			return nil, 0, err
		}
		iv, err := graph.NewInterval(f.Lower, f.Upper)
		if err != nil {
			return nil, 0, fmt.Errorf("fact %s/%s: %w", f.Entity, f.Label, err)
		}
		interp.Facts[graph.FactKey{Entity: ref, Label: f.Label}] = iv
	}
	status := engine.StatusConverged
	if r.Status == engine.StatusExhausted.String() {
		status = engine.StatusExhausted
	}
	return interp, status, nil
}

func parseRef(s string) (graph.EntityRef, error) {
	switch {
	case strings.HasPrefix(s, "node:"):
		return graph.NodeRef(graph.NodeID(strings.TrimPrefix(s, "node:"))), nil
	case strings.HasPrefix(s, "edge:"):
		return graph.EdgeRef(graph.EdgeID(strings.TrimPrefix(s, "edge:"))), nil
	default:
		return graph.EntityRef{}, fmt.Errorf("malformed entity ref %q", s)
	}
}

// MemoryArchive is the in-process Archive implementation.
//
// Safe for concurrent use. Records are deep-copied on neither side - treat
// saved records as immutable, as with every finalized interpretation.
type MemoryArchive struct {
	mu     sync.RWMutex
	runs   map[string]*RunRecord
	closed bool
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{runs: make(map[string]*RunRecord)}
}

// SaveRun stores a record. Duplicate IDs are rejected - runs are immutable.
func (m *MemoryArchive) SaveRun(_ context.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record needs an id: %w", ErrNotFound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.runs[rec.ID]; exists {
		return fmt.Errorf("run %q: %w", rec.ID, ErrAlreadyExists)
	}
	m.runs[rec.ID] = rec
	return nil
}

// LoadRun retrieves a record by ID.
func (m *MemoryArchive) LoadRun(_ context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ListRuns returns summaries ordered by creation time, then ID.
func (m *MemoryArchive) ListRuns(_ context.Context) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]RunSummary, 0, len(m.runs))
	for _, rec := range m.runs {
		out = append(out, summarize(rec))
	}
	sortSummaries(out)
	return out, nil
}

// Close marks the archive closed. Subsequent calls fail with ErrClosed.
func (m *MemoryArchive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func summarize(rec *RunRecord) RunSummary {
	return RunSummary{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Status:    rec.Status,
		Timestep:  rec.Timestep,
		FactCount: len(rec.Facts),
	}
}

func sortSummaries(out []RunSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}
