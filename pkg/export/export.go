// Package export serializes terminal interpretations under named redaction
// profiles.
//
// The default profile exports facts only - no derivation records, no trace -
// enforcing privacy by default. Seeing WHY a fact holds requires the
// explicit audit profile, which includes the full derivation DAG. On top of
// profile selection, field-level redaction maps dotted field paths to an
// action:
//   - drop: remove the field entirely
//   - hash: replace the value with a hex content hash (BLAKE2b-256)
//   - truncate: keep only a prefix of string values
//
// Export output is deterministic: facts and derivations are sorted before
// marshalling, so identical interpretations produce byte-identical
// documents - the property the golden corpus compares against.
//
// Example:
//
//	reg := export.NewRegistry()
//	doc, err := reg.Export(interp, status, "default")
//	if errors.Is(err, export.ErrProfileNotFound) {
//		// unknown profile name: no partial export is emitted
//	}
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/forseti/pkg/engine"
	"github.com/orneryd/forseti/pkg/graph"
)

// Common errors
var (
	// ErrProfileNotFound is returned for an unknown profile name.
	ErrProfileNotFound = errors.New("redaction profile not found")
	// ErrInvalidProfile marks a malformed profile at registration time.
	ErrInvalidProfile = errors.New("invalid redaction profile")
)

// Action is a field-level redaction action.
type Action string

const (
	// ActionDrop removes the field from the export.
	ActionDrop Action = "drop"
	// ActionHash replaces the value with hex(BLAKE2b-256(json(value))).
	ActionHash Action = "hash"
	// ActionTruncate keeps a prefix of string values (see Profile.TruncateLen).
	ActionTruncate Action = "truncate"
)

// Profile is a named redaction policy.
type Profile struct {
	Name string `json:"name"`

	// IncludeDerivations exports the derivation DAG. Off means facts only.
	IncludeDerivations bool `json:"include_derivations"`

	// Fields maps dotted field paths within the export document (e.g.
	// "facts.entity", "derivations.premises.label") to an Action.
	Fields map[string]Action `json:"fields,omitempty"`

	// TruncateLen is the prefix kept by ActionTruncate. <= 0 means 8.
	TruncateLen int `json:"truncate_len,omitempty"`
}

// Validate rejects malformed profiles: empty names and unknown actions.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProfile)
	}
	for path, action := range p.Fields {
		switch action {
		case ActionDrop, ActionHash, ActionTruncate:
		default:
			return fmt.Errorf("%w: %q: field %q: unknown action %q", ErrInvalidProfile, p.Name, path, action)
		}
	}
	return nil
}

// Registry holds named profiles.
//
// NewRegistry seeds the two built-ins:
//   - "default": facts only, privacy by default
//   - "audit": facts plus the full derivation DAG
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry with the built-in profiles installed.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	r.profiles["default"] = Profile{Name: "default"}
	r.profiles["audit"] = Profile{Name: "audit", IncludeDerivations: true}
	return r
}

// Register adds or replaces a profile after validating it.
func (r *Registry) Register(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.profiles[p.Name] = p
	return nil
}

// Get returns the named profile or ErrProfileNotFound.
func (r *Registry) Get(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%q: %w", name, ErrProfileNotFound)
	}
	return p, nil
}

// Export serializes the interpretation under the named profile.
//
// An unknown name fails with ErrProfileNotFound before anything is
// serialized - no partial export is ever emitted.
func (r *Registry) Export(interp *engine.Interpretation, status engine.Status, name string) ([]byte, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return Export(interp, status, p)
}

// FactEntry is one exported fact row.
type FactEntry struct {
	Entity string  `json:"entity"`
	Label  string  `json:"label"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// Document is the export document shape prior to redaction.
type Document struct {
	Timestep    int                 `json:"timestep"`
	Status      string              `json:"status"`
	Facts       []FactEntry         `json:"facts"`
	Derivations []engine.Derivation `json:"derivations,omitempty"`
}

// Export serializes the interpretation under an explicit profile.
func Export(interp *engine.Interpretation, status engine.Status, p Profile) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	doc := Document{
		Timestep: interp.Timestep,
		Status:   status.String(),
		Facts:    factEntries(interp),
	}
	if p.IncludeDerivations {
		doc.Derivations = sortedDerivations(interp.Derivations)
	}

	if len(p.Fields) == 0 {
		return json.MarshalIndent(doc, "", "  ")
	}
	return redactAndMarshal(doc, p)
}

func factEntries(interp *engine.Interpretation) []FactEntry {
	keys := interp.SortedKeys()
	out := make([]FactEntry, 0, len(keys))
	for _, k := range keys {
		iv := interp.Facts[k]
		out = append(out, FactEntry{
			Entity: k.Entity.String(),
			Label:  k.Label,
			Lower:  iv.Lower,
			Upper:  iv.Upper,
		})
	}
	return out
}

func sortedDerivations(ds []engine.Derivation) []engine.Derivation {
	out := make([]engine.Derivation, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Timestep != b.Timestep {
			return a.Timestep < b.Timestep
		}
		ak := graph.FactKey{Entity: a.Entity, Label: a.Label}.String()
		bk := graph.FactKey{Entity: b.Entity, Label: b.Label}.String()
		if ak != bk {
			return ak < bk
		}
		return a.RuleID < b.RuleID
	})
	return out
}

// redactAndMarshal round-trips the document through a generic map, applies
// the field actions along dotted paths (descending into arrays), and
// marshals the result.
func redactAndMarshal(doc Document, p Profile) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}

	truncLen := p.TruncateLen
	if truncLen <= 0 {
		truncLen = 8
	}

	paths := make([]string, 0, len(p.Fields))
	for path := range p.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		redactPath(tree, strings.Split(path, "."), p.Fields[path], truncLen)
	}
	return json.MarshalIndent(tree, "", "  ")
}

func redactPath(node any, path []string, action Action, truncLen int) {
	if len(path) == 0 {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		key := path[0]
		child, ok := v[key]
		if !ok {
			return
		}
		if len(path) == 1 {
			switch action {
			case ActionDrop:
				delete(v, key)
			case ActionHash:
				v[key] = hashValue(child)
			case ActionTruncate:
				if s, ok := child.(string); ok && len(s) > truncLen {
					v[key] = s[:truncLen]
				}
			}
			return
		}
		redactPath(child, path[1:], action, truncLen)
	case []any:
		// A path segment applies to every element of an array field.
		for _, item := range v {
			redactPath(item, path, action, truncLen)
		}
	}
}

// hashValue replaces a value with the hex BLAKE2b-256 digest of its JSON
// encoding, prefixed so redacted fields are recognizable downstream.
func hashValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(fmt.Sprint(v))
	}
	sum := blake2b.Sum256(raw)
	return fmt.Sprintf("blake2b:%x", sum)
}
