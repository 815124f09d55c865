// Package uom provides unit-of-measure conversion and the rounding-tolerance
// arithmetic the allocation engine compares quantities with. All quantity
// comparisons in the engine go through Compare/IsZero so that a lot whose
// free quantity differs from the demand by less than the unit precision is
// still treated as an exact match.
package uom

import (
	"errors"
	"math"
)

// DefaultRounding is used when a unit does not specify its own precision.
const DefaultRounding = 0.01

// Unit describes a unit of measure. Factor is the size of one unit
// expressed in the product's reference unit; Rounding is the precision
// quantities in this unit are rounded to.
type Unit struct {
	ID       int64
	Name     string
	Factor   float64
	Rounding float64
}

// ErrInvalidUnit indicates a unit with a non-positive factor or rounding.
var ErrInvalidUnit = errors.New("uom: unit factor and rounding must be > 0")

// Normalized returns the unit with zero fields replaced by defaults.
func (u Unit) Normalized() Unit {
	if u.Factor == 0 {
		u.Factor = 1
	}
	if u.Rounding == 0 {
		u.Rounding = DefaultRounding
	}
	return u
}

// Round rounds value to the given precision using HALF-UP.
func Round(value, rounding float64) float64 {
	if rounding <= 0 {
		rounding = DefaultRounding
	}
	return math.Round(value/rounding) * rounding
}

// IsZero reports whether value is zero within the given precision.
func IsZero(value, rounding float64) bool {
	if rounding <= 0 {
		rounding = DefaultRounding
	}
	return math.Abs(Round(value, rounding)) < rounding/2
}

// Compare compares a and b within the given precision. It returns -1, 0 or 1.
func Compare(a, b, rounding float64) int {
	diff := a - b
	if IsZero(diff, rounding) {
		return 0
	}
	if diff < 0 {
		return -1
	}
	return 1
}

// Convert converts qty from one unit to another, rounding HALF-UP to the
// destination unit's precision.
func Convert(qty float64, from, to Unit) (float64, error) {
	from = from.Normalized()
	to = to.Normalized()
	if from.Factor <= 0 || to.Factor <= 0 || to.Rounding <= 0 {
		return 0, ErrInvalidUnit
	}
	if from == to {
		return qty, nil
	}
	return Round(qty*from.Factor/to.Factor, to.Rounding), nil
}
