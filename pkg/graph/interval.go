package graph

import (
	"errors"
	"fmt"
	"math"
)

// Common errors
var (
	ErrInvalidInterval    = errors.New("invalid interval")
	ErrInvariantViolation = errors.New("invariant violation: interval widening")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidEdge        = errors.New("invalid edge: start or end node not found")
	ErrInvalidTimestep    = errors.New("invalid timestep")
)

// Interval is a bounded-confidence interval [Lower, Upper] with
// 0 <= Lower <= Upper <= 1, representing the admissible truth range of a fact.
//
// Intervals are partially ordered by inclusion. The system-wide consistency
// invariant is that a fact's interval may only ever narrow across timesteps
// for a given (entity, label) - never silently widen. Store.SetFact enforces
// this; see ErrInvariantViolation.
//
// A point fact has Lower == Upper.
//
// Example:
//
//	iv, err := graph.NewInterval(0.62, 0.70)
//	if err != nil {
//		return err
//	}
//	fmt.Println(iv.IsPoint())              // false
//	fmt.Println(iv.Contains(graph.Point(0.65))) // true
//
// ELI12 (Explain Like I'm 12):
//
// An interval is like saying "I'm somewhere between 60% and 70% sure".
// As the engine learns more, it's only allowed to get MORE precise
// ("between 62% and 65% sure"), never vaguer. Getting vaguer would mean
// the engine forgot something it already knew, which is a bug.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// NewInterval constructs a validated Interval.
//
// Returns ErrInvalidInterval if the bounds are NaN, outside [0,1], or
// Lower > Upper.
func NewInterval(lower, upper float64) (Interval, error) {
	iv := Interval{Lower: lower, Upper: upper}
	if !iv.Valid() {
		return Interval{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidInterval, lower, upper)
	}
	return iv, nil
}

// Point returns the point interval [v, v] clamped to [0, 1].
//
// Scalar attribute values from the exchange format are loaded as point
// intervals; see LoadExchange.
func Point(v float64) Interval {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	return Interval{Lower: v, Upper: v}
}

// Valid reports whether the interval is well-formed:
// 0 <= Lower <= Upper <= 1 and neither bound is NaN.
func (iv Interval) Valid() bool {
	if math.IsNaN(iv.Lower) || math.IsNaN(iv.Upper) {
		return false
	}
	return iv.Lower >= 0 && iv.Lower <= iv.Upper && iv.Upper <= 1
}

// IsPoint reports whether Lower == Upper.
func (iv Interval) IsPoint() bool {
	return iv.Lower == iv.Upper
}

// Width returns Upper - Lower.
func (iv Interval) Width() float64 {
	return iv.Upper - iv.Lower
}

// Equal reports exact equality of both bounds.
func (iv Interval) Equal(other Interval) bool {
	return iv.Lower == other.Lower && iv.Upper == other.Upper
}

// Contains reports whether other is contained within iv (other ⊆ iv).
//
// This is the partial order used by the monotonic-narrowing invariant:
// an update from iv to other is a legal narrowing iff iv.Contains(other).
func (iv Interval) Contains(other Interval) bool {
	return iv.Lower <= other.Lower && other.Upper <= iv.Upper
}

// MoreConservativeThan reports whether iv wins conflict resolution against
// other: lowest upper bound first, then highest lower bound (narrowest).
//
// The induced merge is a total order, so it is commutative and associative -
// rule evaluation order within a timestep cannot change which proposal wins.
func (iv Interval) MoreConservativeThan(other Interval) bool {
	if iv.Upper != other.Upper {
		return iv.Upper < other.Upper
	}
	return iv.Lower > other.Lower
}

// Clamp returns the interval with both bounds forced into [0, 1] and
// Upper raised to Lower if scaling pushed them past each other.
func (iv Interval) Clamp() Interval {
	lo := math.Max(0, math.Min(1, iv.Lower))
	hi := math.Max(0, math.Min(1, iv.Upper))
	if hi < lo {
		hi = lo
	}
	return Interval{Lower: lo, Upper: hi}
}

// String formats the interval as "[lower, upper]" with stable precision.
func (iv Interval) String() string {
	return fmt.Sprintf("[%.6g, %.6g]", iv.Lower, iv.Upper)
}
