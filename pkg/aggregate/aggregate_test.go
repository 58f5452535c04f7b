package aggregate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/forseti/pkg/graph"
)

func premise(lower, upper, weight float64) Premise {
	return Premise{Interval: graph.Interval{Lower: lower, Upper: upper}, Weight: weight}
}

func TestParseKind(t *testing.T) {
	t.Run("catalogue_identifiers", func(t *testing.T) {
		for id, want := range map[string]Kind{
			"legal_burden_civil_051":    BurdenCivil,
			"legal_burden_clear_075":    BurdenClear,
			"legal_burden_criminal_090": BurdenCriminal,
			"legal_conservative_min":    ConservativeMin,
			"precedent_weighted":        PrecedentWeighted,
		} {
			k, err := ParseKind(id)
			require.NoError(t, err, id)
			assert.Equal(t, want, k)
			assert.Equal(t, id, k.String())
			assert.True(t, k.Valid())
		}
	})

	t.Run("unknown_identifier", func(t *testing.T) {
		_, err := ParseKind("legal_burden_absolute_100")
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("zero_value_invalid", func(t *testing.T) {
		assert.False(t, KindUnknown.Valid())
	})
}

func TestFloor(t *testing.T) {
	assert.Equal(t, 0.51, BurdenCivil.Floor())
	assert.Equal(t, 0.75, BurdenClear.Floor())
	assert.Equal(t, 0.90, BurdenCriminal.Floor())
	assert.Equal(t, 0.0, ConservativeMin.Floor())
	assert.Equal(t, 0.0, PrecedentWeighted.Floor())
}

// =============================================================================
// Burden-of-Proof Aggregations
// =============================================================================

func TestApplyBurden(t *testing.T) {
	t.Run("premise_above_floor_unchanged", func(t *testing.T) {
		out, fired := BurdenCivil.Apply([]Premise{premise(0.62, 0.70, 1)})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.62, Upper: 0.70}, out)
	})

	t.Run("lower_bound_raised_to_floor", func(t *testing.T) {
		out, fired := BurdenCivil.Apply([]Premise{premise(0.40, 0.70, 1)})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.51, Upper: 0.70}, out)
	})

	t.Run("burden_unmeetable_fails_closed", func(t *testing.T) {
		// Even the most optimistic premise bound sits below the floor.
		_, fired := BurdenCivil.Apply([]Premise{premise(0.30, 0.40, 1)})
		assert.False(t, fired)
	})

	t.Run("criminal_floor", func(t *testing.T) {
		out, fired := BurdenCriminal.Apply([]Premise{premise(0.85, 0.95, 1)})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.90, Upper: 0.95}, out)
	})

	t.Run("multiple_premises_min_lower_max_upper", func(t *testing.T) {
		out, fired := BurdenClear.Apply([]Premise{
			premise(0.80, 0.85, 1),
			premise(0.76, 0.95, 1),
		})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.76, Upper: 0.95}, out)
	})
}

// =============================================================================
// Conservative Minimum
// =============================================================================

func TestApplyConservativeMin(t *testing.T) {
	t.Run("weak_premise_caps_result", func(t *testing.T) {
		out, fired := ConservativeMin.Apply([]Premise{
			premise(0.90, 0.95, 1),
			premise(0.40, 0.60, 1),
		})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.40, Upper: 0.60}, out)
	})

	t.Run("single_premise_identity", func(t *testing.T) {
		out, fired := ConservativeMin.Apply([]Premise{premise(0.55, 0.65, 1)})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.55, Upper: 0.65}, out)
	})

	t.Run("componentwise_not_pairwise", func(t *testing.T) {
		// Min lower and min upper come from different premises.
		out, fired := ConservativeMin.Apply([]Premise{
			premise(0.30, 0.90, 1),
			premise(0.50, 0.60, 1),
		})
		require.True(t, fired)
		assert.Equal(t, graph.Interval{Lower: 0.30, Upper: 0.60}, out)
	})
}

// =============================================================================
// Precedent-Weighted Average
// =============================================================================

func TestApplyPrecedentWeighted(t *testing.T) {
	t.Run("weighted_average", func(t *testing.T) {
		out, fired := PrecedentWeighted.Apply([]Premise{
			premise(0.80, 0.90, 2),
			premise(0.20, 0.40, 1),
		})
		require.True(t, fired)
		assert.InDelta(t, 0.60, out.Lower, 1e-9)
		assert.InDelta(t, 0.7333333333, out.Upper, 1e-9)
	})

	t.Run("equal_weights_plain_average", func(t *testing.T) {
		out, fired := PrecedentWeighted.Apply([]Premise{
			premise(0.80, 0.90, 1),
			premise(0.20, 0.40, 1),
		})
		require.True(t, fired)
		assert.InDelta(t, 0.50, out.Lower, 1e-9)
		assert.InDelta(t, 0.65, out.Upper, 1e-9)
	})

	t.Run("zero_total_weight_fails_closed", func(t *testing.T) {
		_, fired := PrecedentWeighted.Apply([]Premise{
			premise(0.80, 0.90, 0),
			premise(0.20, 0.40, 0),
		})
		assert.False(t, fired)
	})

	t.Run("negative_weight_fails_closed", func(t *testing.T) {
		_, fired := PrecedentWeighted.Apply([]Premise{premise(0.5, 0.6, -1)})
		assert.False(t, fired)
	})

	t.Run("nan_weight_fails_closed", func(t *testing.T) {
		_, fired := PrecedentWeighted.Apply([]Premise{premise(0.5, 0.6, math.NaN())})
		assert.False(t, fired)
	})
}

// =============================================================================
// Shared Edge Cases
// =============================================================================

func TestApplyEdgeCases(t *testing.T) {
	kinds := []Kind{BurdenCivil, BurdenClear, BurdenCriminal, ConservativeMin, PrecedentWeighted}

	t.Run("no_premises_fails_closed", func(t *testing.T) {
		for _, k := range kinds {
			_, fired := k.Apply(nil)
			assert.False(t, fired, k.String())
		}
	})

	t.Run("malformed_premise_fails_closed", func(t *testing.T) {
		bad := Premise{Interval: graph.Interval{Lower: 0.9, Upper: 0.1}, Weight: 1}
		for _, k := range kinds {
			_, fired := k.Apply([]Premise{bad})
			assert.False(t, fired, k.String())
		}
	})

	t.Run("unknown_kind_fails_closed", func(t *testing.T) {
		_, fired := KindUnknown.Apply([]Premise{premise(0.5, 0.6, 1)})
		assert.False(t, fired)
	})
}
