package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/forseti/pkg/engine"
	"github.com/orneryd/forseti/pkg/graph"
)

// testInterp builds a finalized interpretation with two facts and one
// derivation record.
func testInterp() *engine.Interpretation {
	claim := graph.NodeRef("claim-1")
	precedent := graph.NodeRef("case-a")
	return &engine.Interpretation{
		Timestep: 1,
		Facts: map[graph.FactKey]graph.Interval{
			{Entity: claim, Label: "liable_negligence"}:    {Lower: 0.62, Upper: 0.8},
			{Entity: precedent, Label: "duty_established"}: {Lower: 0.9, Upper: 0.9},
		},
		Derivations: []engine.Derivation{
			{
				RuleID:   "negligence-civil",
				Entity:   claim,
				Label:    "liable_negligence",
				Timestep: 1,
				Result:   graph.Interval{Lower: 0.62, Upper: 0.8},
				Premises: []engine.PremiseRef{
					{Entity: precedent, Label: "duty_established", Timestep: 0, Interval: graph.Interval{Lower: 0.9, Upper: 0.9}},
				},
			},
		},
	}
}

func unmarshalDoc(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var tree map[string]any
	require.NoError(t, json.Unmarshal(data, &tree))
	return tree
}

// =============================================================================
// Profile Registry Tests
// =============================================================================

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	t.Run("builtins_present", func(t *testing.T) {
		def, err := reg.Get("default")
		require.NoError(t, err)
		assert.False(t, def.IncludeDerivations)

		audit, err := reg.Get("audit")
		require.NoError(t, err)
		assert.True(t, audit.IncludeDerivations)
	})

	t.Run("unknown_profile", func(t *testing.T) {
		_, err := reg.Get("court-filing")
		assert.ErrorIs(t, err, ErrProfileNotFound)

		_, err = reg.Export(testInterp(), engine.StatusConverged, "court-filing")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("register_validates", func(t *testing.T) {
		err := reg.Register(Profile{Name: ""})
		assert.ErrorIs(t, err, ErrInvalidProfile)

		err = reg.Register(Profile{Name: "bad", Fields: map[string]Action{"x": "scramble"}})
		assert.ErrorIs(t, err, ErrInvalidProfile)

		err = reg.Register(Profile{Name: "good", Fields: map[string]Action{"facts.entity": ActionHash}})
		assert.NoError(t, err)
	})
}

// =============================================================================
// Export Document Tests
// =============================================================================

func TestExport(t *testing.T) {
	reg := NewRegistry()

	t.Run("default_profile_omits_derivations", func(t *testing.T) {
		data, err := reg.Export(testInterp(), engine.StatusConverged, "default")
		require.NoError(t, err)

		tree := unmarshalDoc(t, data)
		assert.Equal(t, "converged", tree["status"])
		assert.Equal(t, float64(1), tree["timestep"])
		assert.NotContains(t, tree, "derivations")
		assert.NotContains(t, string(data), "negligence-civil")
	})

	t.Run("audit_profile_includes_derivations", func(t *testing.T) {
		data, err := reg.Export(testInterp(), engine.StatusConverged, "audit")
		require.NoError(t, err)

		tree := unmarshalDoc(t, data)
		require.Contains(t, tree, "derivations")
		ds := tree["derivations"].([]any)
		require.Len(t, ds, 1)
		assert.Equal(t, "negligence-civil", ds[0].(map[string]any)["rule_id"])
	})

	t.Run("facts_sorted_by_key", func(t *testing.T) {
		data, err := reg.Export(testInterp(), engine.StatusConverged, "default")
		require.NoError(t, err)

		tree := unmarshalDoc(t, data)
		facts := tree["facts"].([]any)
		require.Len(t, facts, 2)
		assert.Equal(t, "node:case-a", facts[0].(map[string]any)["entity"])
		assert.Equal(t, "node:claim-1", facts[1].(map[string]any)["entity"])
	})

	t.Run("exhausted_status", func(t *testing.T) {
		data, err := reg.Export(testInterp(), engine.StatusExhausted, "default")
		require.NoError(t, err)
		assert.Equal(t, "exhausted", unmarshalDoc(t, data)["status"])
	})

	t.Run("deterministic_output", func(t *testing.T) {
		a, err := reg.Export(testInterp(), engine.StatusConverged, "audit")
		require.NoError(t, err)
		b, err := reg.Export(testInterp(), engine.StatusConverged, "audit")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

// =============================================================================
// Field Redaction Tests
// =============================================================================

func TestRedaction(t *testing.T) {
	t.Run("drop_removes_field", func(t *testing.T) {
		p := Profile{Name: "drop-entities", Fields: map[string]Action{"facts.entity": ActionDrop}}
		data, err := Export(testInterp(), engine.StatusConverged, p)
		require.NoError(t, err)

		facts := unmarshalDoc(t, data)["facts"].([]any)
		for _, f := range facts {
			assert.NotContains(t, f.(map[string]any), "entity")
			assert.Contains(t, f.(map[string]any), "label")
		}
	})

	t.Run("hash_replaces_value", func(t *testing.T) {
		p := Profile{Name: "hash-entities", Fields: map[string]Action{"facts.entity": ActionHash}}
		data, err := Export(testInterp(), engine.StatusConverged, p)
		require.NoError(t, err)

		assert.NotContains(t, string(data), "node:claim-1")
		facts := unmarshalDoc(t, data)["facts"].([]any)
		for _, f := range facts {
			v := f.(map[string]any)["entity"].(string)
			assert.True(t, strings.HasPrefix(v, "blake2b:"), v)
			assert.Len(t, v, len("blake2b:")+64)
		}
	})

	t.Run("hash_is_stable", func(t *testing.T) {
		p := Profile{Name: "hash-entities", Fields: map[string]Action{"facts.entity": ActionHash}}
		a, err := Export(testInterp(), engine.StatusConverged, p)
		require.NoError(t, err)
		b, err := Export(testInterp(), engine.StatusConverged, p)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("truncate_keeps_prefix", func(t *testing.T) {
		p := Profile{
			Name:        "truncate-labels",
			Fields:      map[string]Action{"facts.label": ActionTruncate},
			TruncateLen: 4,
		}
		data, err := Export(testInterp(), engine.StatusConverged, p)
		require.NoError(t, err)

		facts := unmarshalDoc(t, data)["facts"].([]any)
		labels := make([]string, 0, len(facts))
		for _, f := range facts {
			labels = append(labels, f.(map[string]any)["label"].(string))
		}
		assert.ElementsMatch(t, []string{"duty", "liab"}, labels)
	})

	t.Run("nested_path_into_derivations", func(t *testing.T) {
		p := Profile{
			Name:               "hide-premises",
			IncludeDerivations: true,
			Fields:             map[string]Action{"derivations.premises.label": ActionHash},
		}
		data, err := Export(testInterp(), engine.StatusConverged, p)
		require.NoError(t, err)

		ds := unmarshalDoc(t, data)["derivations"].([]any)
		premises := ds[0].(map[string]any)["premises"].([]any)
		label := premises[0].(map[string]any)["label"].(string)
		assert.True(t, strings.HasPrefix(label, "blake2b:"))
		// The derivation's own label is untouched.
		assert.Equal(t, "liable_negligence", ds[0].(map[string]any)["label"])
	})

	t.Run("missing_path_is_noop", func(t *testing.T) {
		p := Profile{Name: "noop", Fields: map[string]Action{"facts.nonexistent": ActionDrop}}
		_, err := Export(testInterp(), engine.StatusConverged, p)
		assert.NoError(t, err)
	})
}
