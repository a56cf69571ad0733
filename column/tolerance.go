package column

import (
	"fmt"
	"math"
)

const (
	// DefaultXYResolution is the horizontal grid used to quantize column keys
	DefaultXYResolution = 0.1
	// DefaultZTolerance is the elevation difference below which two nodes coincide
	DefaultZTolerance = 0.01
)

// Key identifies a column by its quantized horizontal coordinate
type Key struct {
	I, J int64
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.I, k.J)
}

// Less orders keys by I then J
func (k Key) Less(o Key) bool {
	if k.I != o.I {
		return k.I < o.I
	}
	return k.J < o.J
}

// Tolerance is the floating point policy shared by columns and the registry
type Tolerance struct {
	XY float64 // Horizontal quantization step
	Z  float64 // Elevation equality threshold
}

// DefaultTolerance returns the thresholds used by the reference driver
func DefaultTolerance() Tolerance {
	return Tolerance{XY: DefaultXYResolution, Z: DefaultZTolerance}
}

// Validate checks that both thresholds are positive and finite
func (t Tolerance) Validate() error {
	if !(t.XY > 0) || math.IsInf(t.XY, 0) {
		return fmt.Errorf("invalid xy resolution %g", t.XY)
	}
	if !(t.Z > 0) || math.IsInf(t.Z, 0) {
		return fmt.Errorf("invalid z tolerance %g", t.Z)
	}
	return nil
}

// Quantize rounds a horizontal coordinate onto the key grid
func (t Tolerance) Quantize(x, y float64) Key {
	return Key{
		I: int64(math.Round(x / t.XY)),
		J: int64(math.Round(y / t.XY)),
	}
}

// SameZ reports whether two elevations are within the z threshold
func (t Tolerance) SameZ(a, b float64) bool {
	return math.Abs(a-b) < t.Z
}

// Less orders two elevations, treating values within the threshold as equal
func (t Tolerance) Less(a, b float64) bool {
	return !t.SameZ(a, b) && a < b
}
