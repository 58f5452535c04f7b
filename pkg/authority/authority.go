// Package authority computes authority multipliers for Forseti rules.
//
// An authority multiplier is a pure numeric scale in [0, 1] applied to a
// rule's weight before the engine runs, combining four precedent signals by
// multiplication:
//   - Treatment: how later courts treated the cited authority
//     (Followed > Distinguished > Criticized > Questioned > Overruled)
//   - Recency: exponential decay exp(-age/halflife), floored at a
//     configured minimum so old-but-valid authority never hits zero
//   - Jurisdictional alignment: exact match 1.0, degrading for
//     ancestor / sibling / foreign jurisdictions per a configured table
//   - Court level: highest court 1.0, trial court ~0.78
//
// The calculator has no knowledge of the engine or the store; it only turns
// signals into a float. All tables are passed in explicitly - there is no
// ambient configuration lookup - and malformed tables are rejected before
// any run starts.
//
// Example Usage:
//
//	calc, err := authority.NewCalculator(authority.DefaultTables())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	m := calc.Multiplier(authority.Signals{
//		Treatment:          authority.TreatmentFollowed,
//		Age:                365 * 24 * time.Hour,
//		SourceJurisdiction: "us.ca",
//		TargetJurisdiction: "us.ca",
//		Court:              authority.CourtHighest,
//	})
//	// m close to 1.0: recent, followed, on-point supreme court authority
//
// ELI12:
//
// Imagine ranking advice before you follow it. Advice from your own coach
// (exact jurisdiction), given last week (recent), that everyone since has
// agreed with (followed), from the head coach (highest court) counts almost
// fully. Advice from a stranger's coach, twenty years ago, that was later
// overturned, barely counts at all - but it never counts as exactly zero,
// because it still existed.
package authority

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/orneryd/forseti/pkg/rules"
)

// ErrConfig marks a malformed weight table. Always fatal at load time;
// tables are never silently defaulted.
var ErrConfig = errors.New("authority config error")

// Treatment is the citation-treatment signal: how subsequent authority
// treated the cited case.
type Treatment string

const (
	TreatmentFollowed      Treatment = "FOLLOWED"
	TreatmentDistinguished Treatment = "DISTINGUISHED"
	TreatmentCriticized    Treatment = "CRITICIZED"
	TreatmentQuestioned    Treatment = "QUESTIONED"
	TreatmentOverruled     Treatment = "OVERRULED"
)

// Treatments lists every treatment enum value; Validate requires a table
// entry for each.
var Treatments = []Treatment{
	TreatmentFollowed,
	TreatmentDistinguished,
	TreatmentCriticized,
	TreatmentQuestioned,
	TreatmentOverruled,
}

// CourtLevel is the deciding court's position in the hierarchy.
type CourtLevel string

const (
	CourtHighest      CourtLevel = "HIGHEST"
	CourtIntermediate CourtLevel = "INTERMEDIATE"
	CourtTrial        CourtLevel = "TRIAL"
)

// CourtLevels lists every court-level enum value.
var CourtLevels = []CourtLevel{CourtHighest, CourtIntermediate, CourtTrial}

// Alignment classifies the relationship between the authority's
// jurisdiction and the claim's jurisdiction. Jurisdictions are dotted paths
// ("us", "us.ca", "us.ca.sup"): an ancestor is a path prefix, siblings
// share a parent, everything else is foreign.
type Alignment string

const (
	AlignmentExact    Alignment = "EXACT"
	AlignmentAncestor Alignment = "ANCESTOR"
	AlignmentSibling  Alignment = "SIBLING"
	AlignmentForeign  Alignment = "FOREIGN"
)

// Alignments lists every alignment enum value.
var Alignments = []Alignment{AlignmentExact, AlignmentAncestor, AlignmentSibling, AlignmentForeign}

// Tables hold the numeric lookup tables combined into a multiplier.
//
// Supplied fully-resolved by the configuration collaborator (see
// pkg/config); Validate enforces completeness and range before use.
type Tables struct {
	Treatment map[Treatment]float64
	Court     map[CourtLevel]float64
	Alignment map[Alignment]float64

	// RecencyHalfLife is the age at which the recency factor reaches 0.5.
	RecencyHalfLife time.Duration

	// RecencyFloor is the minimum recency factor; decay never drops below it.
	RecencyFloor float64
}

// DefaultTables returns the standard table set.
//
// Values mirror the reference corpus: followed authority keeps full weight,
// overruled authority keeps a residual 0.05; the highest court weighs 1.0
// and a trial court 0.78; recency half-life is ten years with a 0.10 floor.
func DefaultTables() *Tables {
	return &Tables{
		Treatment: map[Treatment]float64{
			TreatmentFollowed:      1.00,
			TreatmentDistinguished: 0.70,
			TreatmentCriticized:    0.45,
			TreatmentQuestioned:    0.30,
			TreatmentOverruled:     0.05,
		},
		Court: map[CourtLevel]float64{
			CourtHighest:      1.00,
			CourtIntermediate: 0.89,
			CourtTrial:        0.78,
		},
		Alignment: map[Alignment]float64{
			AlignmentExact:    1.00,
			AlignmentAncestor: 0.85,
			AlignmentSibling:  0.60,
			AlignmentForeign:  0.35,
		},
		RecencyHalfLife: 10 * 365 * 24 * time.Hour,
		RecencyFloor:    0.10,
	}
}

// Validate rejects incomplete or out-of-range tables.
//
// Every enum value must have an entry in [0,1], the half-life must be
// positive, and the recency floor must sit in [0,1]. Failures wrap
// ErrConfig and must abort before the engine starts.
func (t *Tables) Validate() error {
	for _, tr := range Treatments {
		if err := checkEntry("treatment", string(tr), t.Treatment, tr); err != nil {
			return err
		}
	}
	for _, c := range CourtLevels {
		if err := checkEntry("court", string(c), t.Court, c); err != nil {
			return err
		}
	}
	for _, a := range Alignments {
		if err := checkEntry("alignment", string(a), t.Alignment, a); err != nil {
			return err
		}
	}
	if t.RecencyHalfLife <= 0 {
		return fmt.Errorf("%w: recency half-life must be positive, got %v", ErrConfig, t.RecencyHalfLife)
	}
	if t.RecencyFloor < 0 || t.RecencyFloor > 1 {
		return fmt.Errorf("%w: recency floor %v outside [0,1]", ErrConfig, t.RecencyFloor)
	}
	return nil
}

func checkEntry[K comparable](table, name string, m map[K]float64, key K) error {
	v, ok := m[key]
	if !ok {
		return fmt.Errorf("%w: %s table missing entry %s", ErrConfig, table, name)
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s[%s] = %v outside [0,1]", ErrConfig, table, name, v)
	}
	return nil
}

// minValue returns the smallest value in a validated table.
func minValue[K comparable](m map[K]float64) float64 {
	min := 1.0
	for _, v := range m {
		if v < min {
			min = v
		}
	}
	return min
}

// Signals are the inputs to one multiplier computation.
type Signals struct {
	Treatment          Treatment
	Age                time.Duration
	SourceJurisdiction string
	TargetJurisdiction string
	Court              CourtLevel
}

// Calculator turns Signals into multipliers using validated Tables.
type Calculator struct {
	tables Tables
}

// NewCalculator validates the tables and constructs a Calculator.
func NewCalculator(tables *Tables) (*Calculator, error) {
	if tables == nil {
		return nil, fmt.Errorf("%w: nil tables", ErrConfig)
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{tables: *tables}, nil
}

// Multiplier combines the four signal factors by multiplication and clamps
// the product to [0, 1]. Unknown enum values contribute the most skeptical
// factor in their table rather than failing - signals arrive from citation
// extraction, which is allowed to be lossy; tables are not.
func (c *Calculator) Multiplier(s Signals) float64 {
	treatment, ok := c.tables.Treatment[s.Treatment]
	if !ok {
		treatment = minValue(c.tables.Treatment)
	}
	court, ok := c.tables.Court[s.Court]
	if !ok {
		court = minValue(c.tables.Court)
	}
	alignment := c.tables.Alignment[Align(s.SourceJurisdiction, s.TargetJurisdiction)]
	recency := c.recency(s.Age)

	m := treatment * recency * alignment * court
	return math.Max(0, math.Min(1, m))
}

// recency is exp(-age/halflife) scaled so that one half-life halves the
// factor, floored at the configured minimum. Negative ages (future
// authority, clock skew) count as zero age.
func (c *Calculator) recency(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	halfLives := float64(age) / float64(c.tables.RecencyHalfLife)
	r := math.Exp(-math.Ln2 * halfLives)
	return math.Max(c.tables.RecencyFloor, r)
}

// Align classifies two dotted jurisdiction paths.
func Align(source, target string) Alignment {
	if source == target {
		return AlignmentExact
	}
	if source == "" || target == "" {
		return AlignmentForeign
	}
	if strings.HasPrefix(target, source+".") || strings.HasPrefix(source, target+".") {
		return AlignmentAncestor
	}
	if parent(source) != "" && parent(source) == parent(target) {
		return AlignmentSibling
	}
	return AlignmentForeign
}

func parent(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// ScaleRules returns a copy of the rule set with each rule's weight
// multiplied by the multiplier for its signals. Rules without signals keep
// their weight. Runs before the engine; the engine never sees Signals.
func ScaleRules(rs []rules.Rule, signals map[string]Signals, c *Calculator) []rules.Rule {
	out := make([]rules.Rule, len(rs))
	copy(out, rs)
	for i := range out {
		if s, ok := signals[out[i].ID]; ok {
			out[i].Weight *= c.Multiplier(s)
		}
	}
	return out
}
