package forseti

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/forseti/pkg/aggregate"
	"github.com/orneryd/forseti/pkg/authority"
	"github.com/orneryd/forseti/pkg/config"
	"github.com/orneryd/forseti/pkg/engine"
	"github.com/orneryd/forseti/pkg/export"
	"github.com/orneryd/forseti/pkg/graph"
	"github.com/orneryd/forseti/pkg/rules"
)

func claimStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	require.NoError(t, s.AddNode(&graph.Node{ID: "claim-1", Labels: []string{"Claim"}}))
	require.NoError(t, s.SetFact(graph.NodeRef("claim-1"), "duty_established", 0, graph.Point(0.8)))
	require.NoError(t, s.SetFact(graph.NodeRef("claim-1"), "breach_shown", 0, graph.Interval{Lower: 0.62, Upper: 0.70}))
	return s
}

func claimRules() []rules.Rule {
	return []rules.Rule{{
		ID:   "negligence-civil",
		Head: rules.Head{Label: "liable_negligence", Kind: rules.TargetNode, Selector: "Claim"},
		Body: []rules.Clause{
			{Pattern: graph.ClausePattern{Scope: graph.ScopeSelf, Label: "duty_established"}, Threshold: 0.6},
			{Pattern: graph.ClausePattern{Scope: graph.ScopeSelf, Label: "breach_shown"}, Threshold: 0.6},
		},
		Aggregation: aggregate.BurdenCivil,
		Weight:      1.0,
	}}
}

func TestOpen(t *testing.T) {
	t.Run("nil_config_uses_defaults", func(t *testing.T) {
		f, err := Open(nil)
		require.NoError(t, err)
		defer f.Close()
		assert.NotNil(t, f.Calculator())
		assert.NotNil(t, f.Archive())
	})

	t.Run("invalid_config_rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.Engine.MaxTimesteps = -1
		_, err := Open(cfg)
		assert.Error(t, err)
	})

	t.Run("half_written_table_rejected", func(t *testing.T) {
		cfg := config.Default()
		delete(cfg.Authority.Treatment, string(authority.TreatmentOverruled))
		_, err := Open(cfg)
		assert.ErrorIs(t, err, authority.ErrConfig)
	})
}

func TestRunAndExport(t *testing.T) {
	f, err := Open(nil)
	require.NoError(t, err)
	defer f.Close()

	run, err := f.Run(context.Background(), claimStore(t), claimRules(), nil)
	require.NoError(t, err)

	t.Run("run_converges", func(t *testing.T) {
		assert.Equal(t, engine.StatusConverged, run.Status)
		assert.NotEmpty(t, run.ID)

		iv, ok := run.Interpretation.Fact(graph.NodeRef("claim-1"), "liable_negligence")
		require.True(t, ok)
		assert.Equal(t, graph.Interval{Lower: 0.62, Upper: 0.8}, iv)
	})

	t.Run("run_is_archived", func(t *testing.T) {
		summaries, err := f.Archive().ListRuns(context.Background())
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, run.ID, summaries[0].ID)

		rec, err := f.Archive().LoadRun(context.Background(), run.ID)
		require.NoError(t, err)
		interp, status, err := rec.Interpretation()
		require.NoError(t, err)
		assert.Equal(t, run.Status, status)
		assert.True(t, interp.Equal(run.Interpretation))
	})

	t.Run("default_export_hides_provenance", func(t *testing.T) {
		doc, err := f.Export(run, "default")
		require.NoError(t, err)
		var tree map[string]any
		require.NoError(t, json.Unmarshal(doc, &tree))
		assert.NotContains(t, tree, "derivations")
	})

	t.Run("audit_export_shows_provenance", func(t *testing.T) {
		doc, err := f.Export(run, "audit")
		require.NoError(t, err)
		var tree map[string]any
		require.NoError(t, json.Unmarshal(doc, &tree))
		assert.Contains(t, tree, "derivations")
	})

	t.Run("unknown_profile", func(t *testing.T) {
		_, err := f.Export(run, "court-filing")
		assert.ErrorIs(t, err, export.ErrProfileNotFound)
	})

	t.Run("explain", func(t *testing.T) {
		chain := f.Explain(run, graph.NodeRef("claim-1"), "liable_negligence")
		require.Len(t, chain, 1)
		assert.Equal(t, "negligence-civil", chain[0].RuleID)

		assert.Empty(t, f.Explain(run, graph.NodeRef("claim-1"), "duty_established"))
	})
}

func TestRunWithSignals(t *testing.T) {
	f, err := Open(nil)
	require.NoError(t, err)
	defer f.Close()

	// Overruled authority at zero age in the same jurisdiction scales the
	// rule weight to 0.05; the derived lower bound collapses toward the
	// civil floor.
	signals := map[string]authority.Signals{
		"negligence-civil": {
			Treatment:          authority.TreatmentOverruled,
			SourceJurisdiction: "us.ca",
			TargetJurisdiction: "us.ca",
			Court:              authority.CourtHighest,
		},
	}
	run, err := f.Run(context.Background(), claimStore(t), claimRules(), signals)
	require.NoError(t, err)

	iv, ok := run.Interpretation.Fact(graph.NodeRef("claim-1"), "liable_negligence")
	require.True(t, ok)
	// Scale([0.62,0.8], 0.05, 0.51): lower = 0.51 + 0.05*0.11
	assert.InDelta(t, 0.5155, iv.Lower, 1e-9)
	assert.InDelta(t, 0.6955, iv.Upper, 1e-9)
}

func TestRunAtPinsValidityWindows(t *testing.T) {
	f, err := Open(nil)
	require.NoError(t, err)
	defer f.Close()

	windowed := claimRules()
	windowed[0].ValidFrom = mustTime(t, "2000-01-01T00:00:00Z")
	windowed[0].ValidUntil = mustTime(t, "2001-01-01T00:00:00Z")

	t.Run("rule_fires_at_pinned_instant", func(t *testing.T) {
		run, err := f.RunAt(context.Background(), claimStore(t), windowed, nil, mustTime(t, "2000-06-01T00:00:00Z"))
		require.NoError(t, err)

		iv, ok := run.Interpretation.Fact(graph.NodeRef("claim-1"), "liable_negligence")
		require.True(t, ok)
		assert.Equal(t, graph.Interval{Lower: 0.62, Upper: 0.8}, iv)
	})

	t.Run("expired_rule_silent_on_wall_clock", func(t *testing.T) {
		run, err := f.Run(context.Background(), claimStore(t), windowed, nil)
		require.NoError(t, err)

		_, ok := run.Interpretation.Fact(graph.NodeRef("claim-1"), "liable_negligence")
		assert.False(t, ok)
	})
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestClose(t *testing.T) {
	f, err := Open(nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close()) // idempotent

	_, err = f.Run(context.Background(), claimStore(t), claimRules(), nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = f.Export(&Run{}, "default")
	assert.ErrorIs(t, err, ErrClosed)
}
