package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/forseti/pkg/aggregate"
	"github.com/orneryd/forseti/pkg/graph"
)

func validRule() Rule {
	return Rule{
		ID:   "negligence-civil",
		Head: Head{Label: "liable_negligence", Kind: TargetNode, Selector: "Claim"},
		Body: []Clause{
			{Pattern: graph.ClausePattern{Scope: graph.ScopeSelf, Label: "duty_established"}, Threshold: 0.6},
			{Pattern: graph.ClausePattern{Scope: graph.ScopeSelf, Label: "breach_shown"}, Threshold: 0.6},
		},
		Aggregation: aggregate.BurdenCivil,
		Weight:      1.0,
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestRuleValidate(t *testing.T) {
	t.Run("valid_rule", func(t *testing.T) {
		r := validRule()
		assert.NoError(t, r.Validate())
	})

	t.Run("empty_id", func(t *testing.T) {
		r := validRule()
		r.ID = ""
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("empty_head_label", func(t *testing.T) {
		r := validRule()
		r.Head.Label = ""
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("empty_body", func(t *testing.T) {
		r := validRule()
		r.Body = nil
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("unknown_aggregation", func(t *testing.T) {
		r := validRule()
		r.Aggregation = aggregate.KindUnknown
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("weight_out_of_range", func(t *testing.T) {
		r := validRule()
		r.Weight = 1.2
		assert.ErrorIs(t, r.Validate(), ErrConfig)

		r.Weight = -0.1
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("threshold_out_of_range", func(t *testing.T) {
		r := validRule()
		r.Body[0].Threshold = 1.5
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("empty_premise_label", func(t *testing.T) {
		r := validRule()
		r.Body[1].Pattern.Label = ""
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})

	t.Run("neighbor_scope_needs_edge_type", func(t *testing.T) {
		r := validRule()
		r.Body[0].Pattern.Scope = graph.ScopeNeighbor
		assert.ErrorIs(t, r.Validate(), ErrConfig)

		r.Body[0].Pattern.EdgeType = "CITES"
		assert.NoError(t, r.Validate())
	})

	t.Run("inverted_validity_window", func(t *testing.T) {
		r := validRule()
		r.ValidFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		r.ValidUntil = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		assert.ErrorIs(t, r.Validate(), ErrConfig)
	})
}

func TestValidateAll(t *testing.T) {
	t.Run("duplicate_ids_rejected", func(t *testing.T) {
		err := ValidateAll([]Rule{validRule(), validRule()})
		assert.ErrorIs(t, err, ErrConfig)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("distinct_ids_accepted", func(t *testing.T) {
		a, b := validRule(), validRule()
		b.ID = "negligence-civil-2"
		assert.NoError(t, ValidateAll([]Rule{a, b}))
	})
}

func TestValidAt(t *testing.T) {
	window := validRule()
	window.ValidFrom = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	window.ValidUntil = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("inside_window", func(t *testing.T) {
		assert.True(t, window.ValidAt(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("before_window", func(t *testing.T) {
		assert.False(t, window.ValidAt(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("after_window", func(t *testing.T) {
		assert.False(t, window.ValidAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("zero_bounds_unbounded", func(t *testing.T) {
		r := validRule()
		assert.True(t, r.ValidAt(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, r.ValidAt(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)))
	})
}

// =============================================================================
// Weight Scaling Tests
// =============================================================================

func TestScale(t *testing.T) {
	iv := graph.Interval{Lower: 0.62, Upper: 0.70}

	t.Run("weight_one_is_identity", func(t *testing.T) {
		assert.Equal(t, iv, Scale(iv, 1.0, 0.51))
	})

	t.Run("weight_zero_collapses_to_floor", func(t *testing.T) {
		out := Scale(iv, 0, 0.51)
		assert.InDelta(t, 0.51, out.Lower, 1e-9)
		assert.InDelta(t, 0.59, out.Upper, 1e-9) // floor + original width
	})

	t.Run("half_weight_interpolates", func(t *testing.T) {
		out := Scale(graph.Interval{Lower: 0.6, Upper: 0.8}, 0.5, 0)
		assert.InDelta(t, 0.30, out.Lower, 1e-9)
		assert.InDelta(t, 0.50, out.Upper, 1e-9)
	})

	t.Run("width_preserved", func(t *testing.T) {
		for _, w := range []float64{0, 0.25, 0.5, 0.75} {
			out := Scale(iv, w, 0.51)
			assert.InDelta(t, iv.Width(), out.Width(), 1e-9, "weight %v", w)
		}
	})

	t.Run("result_stays_valid", func(t *testing.T) {
		out := Scale(graph.Interval{Lower: 0.95, Upper: 1.0}, 0.9, 0.9)
		assert.True(t, out.Valid())
	})

	t.Run("negative_weight_clamped_to_zero", func(t *testing.T) {
		assert.Equal(t, Scale(iv, 0, 0.51), Scale(iv, -1, 0.51))
	})
}

// =============================================================================
// Spec Compilation Tests
// =============================================================================

func TestSpecCompile(t *testing.T) {
	spec := Spec{
		ID:   "negligence-civil",
		Head: HeadSpec{Label: "liable_negligence", Kind: "node", Selector: "Claim"},
		Body: []ClauseSpec{
			{Scope: "self", Label: "duty_established", Threshold: 0.6},
			{Scope: "neighbor", EdgeType: "CITES", Dir: "out", Label: "breach_shown", Threshold: 0.6},
		},
		Aggregation: "legal_burden_civil_051",
		Weight:      1.0,
		ValidFrom:   "2020-01-01T00:00:00Z",
	}

	t.Run("compiles_enums_and_times", func(t *testing.T) {
		r, err := spec.Compile()
		require.NoError(t, err)
		assert.Equal(t, TargetNode, r.Head.Kind)
		assert.Equal(t, aggregate.BurdenCivil, r.Aggregation)
		assert.Equal(t, graph.ScopeNeighbor, r.Body[1].Pattern.Scope)
		assert.Equal(t, graph.DirOut, r.Body[1].Pattern.Dir)
		assert.Equal(t, 2020, r.ValidFrom.Year())
		assert.True(t, r.ValidUntil.IsZero())
	})

	t.Run("defaults", func(t *testing.T) {
		s := spec
		s.Head.Kind = ""
		s.Body = []ClauseSpec{{Label: "duty_established", Threshold: 0.6}}
		r, err := s.Compile()
		require.NoError(t, err)
		assert.Equal(t, TargetNode, r.Head.Kind)
		assert.Equal(t, graph.ScopeSelf, r.Body[0].Pattern.Scope)
	})

	t.Run("unknown_aggregation", func(t *testing.T) {
		s := spec
		s.Aggregation = "majority_vote"
		_, err := s.Compile()
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("unknown_scope", func(t *testing.T) {
		s := spec
		s.Body = []ClauseSpec{{Scope: "cousin", Label: "x", Threshold: 0.5}}
		_, err := s.Compile()
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("unknown_head_kind", func(t *testing.T) {
		s := spec
		s.Head.Kind = "hyperedge"
		_, err := s.Compile()
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("bad_timestamp", func(t *testing.T) {
		s := spec
		s.ValidFrom = "last tuesday"
		_, err := s.Compile()
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestLoadSpecs(t *testing.T) {
	t.Run("array_of_specs", func(t *testing.T) {
		doc := `[{
			"id": "r1",
			"head": {"label": "liable_negligence", "selector": "Claim"},
			"body": [{"label": "duty_established", "threshold": 0.6}],
			"aggregation": "legal_burden_civil_051",
			"weight": 1.0
		}]`
		rs, err := LoadSpecs(strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, rs, 1)
		assert.Equal(t, "r1", rs[0].ID)
	})

	t.Run("duplicate_ids", func(t *testing.T) {
		doc := `[
			{"id": "r1", "head": {"label": "x"}, "body": [{"label": "y", "threshold": 0.5}],
			 "aggregation": "legal_conservative_min", "weight": 1},
			{"id": "r1", "head": {"label": "x"}, "body": [{"label": "y", "threshold": 0.5}],
			 "aggregation": "legal_conservative_min", "weight": 1}
		]`
		_, err := LoadSpecs(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("malformed_json", func(t *testing.T) {
		_, err := LoadSpecs(strings.NewReader(`{"not": "an array"}`))
		assert.ErrorIs(t, err, ErrConfig)
	})
}
