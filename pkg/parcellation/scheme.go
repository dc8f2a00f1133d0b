// Package parcellation propagates cortical labels along fiber tracts into
// the white matter they pass through.
//
// The algorithm runs in three phases. Each fiber takes the label of the last
// cortical voxel it visits and deposits one observation of that label on every
// voxel it crosses. Each observed voxel then picks the label with the highest
// local frequency plus distance-weighted neighbor frequency. Finally only
// voxels whose original label is a fillable white matter code keep the result.
package parcellation

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// LabelRange is a closed interval of label values
type LabelRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Contains reports whether the voxel value v lies in the range
func (r LabelRange) Contains(v float32) bool {
	return v >= float32(r.Min) && v <= float32(r.Max)
}

// Neighborhood selects the neighbor offsets used when smoothing votes
type Neighborhood int

const (
	// FullNeighborhood uses all 26 offsets of the 3x3x3 cube around a voxel
	FullNeighborhood Neighborhood = iota

	// LegacyNeighborhood uses the 7 offsets in {-1,0}^3 without the origin.
	// Earlier releases only visited these and scored in float32; select it to
	// reproduce their output.
	LegacyNeighborhood
)

// String implements fmt.Stringer
func (n Neighborhood) String() string {
	switch n {
	case FullNeighborhood:
		return "full"
	case LegacyNeighborhood:
		return "legacy"
	default:
		return fmt.Sprintf("Neighborhood(%d)", int(n))
	}
}

// ParseNeighborhood parses "full" or "legacy"
func ParseNeighborhood(s string) (Neighborhood, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full", "26":
		return FullNeighborhood, nil
	case "legacy", "7":
		return LegacyNeighborhood, nil
	}
	return 0, fmt.Errorf("unknown neighborhood %q (must be full or legacy)", s)
}

// offset is a neighbor displacement with its precomputed Euclidean length
type offset struct {
	dx, dy, dz int32
	dist       float64

	// inv32 is 1/dist in float32, for legacy scoring
	inv32 float32
}

// offsets lists the neighbor displacements in z, y, x loop order
func (n Neighborhood) offsets() []offset {
	hi := int32(1)
	if n == LegacyNeighborhood {
		hi = 0
	}
	var out []offset
	for dz := int32(-1); dz <= hi; dz++ {
		for dy := int32(-1); dy <= hi; dy++ {
			for dx := int32(-1); dx <= hi; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				dist := r3.Norm(r3.Vec{X: float64(dx), Y: float64(dy), Z: float64(dz)})
				d32 := float32(dist)
				out = append(out, offset{
					dx: dx, dy: dy, dz: dz,
					dist:  dist,
					inv32: 1 / d32,
				})
			}
		}
	}
	return out
}

// Scheme holds the label encoding of a parcellation. The defaults match the
// FreeSurfer aparc+aseg lookup table.
type Scheme struct {
	// CorticalRanges are the label bands that identify cortical parcels
	CorticalRanges []LabelRange

	// FillableCodes are the voxel labels allowed to receive a propagated label
	FillableCodes []int

	Neighborhood Neighborhood

	// Workers bounds the goroutines used to resolve votes; 0 means 1
	Workers int
}

// DefaultScheme returns the aparc+aseg scheme: ctx-lh-* and ctx-rh-* as
// cortex, left/right cerebral white matter and the corpus callosum as fillable.
func DefaultScheme() Scheme {
	return Scheme{
		CorticalRanges: []LabelRange{{Min: 1001, Max: 1035}, {Min: 2001, Max: 2035}},
		FillableCodes:  []int{2, 41, 251, 252, 253, 254, 255},
		Neighborhood:   FullNeighborhood,
		Workers:        1,
	}
}

// Validate checks that the scheme can be used by a Propagator
func (s Scheme) Validate() error {
	if len(s.CorticalRanges) == 0 {
		return fmt.Errorf("no cortical label ranges configured")
	}
	for _, r := range s.CorticalRanges {
		if r.Min > r.Max {
			return fmt.Errorf("cortical range [%d, %d] is empty", r.Min, r.Max)
		}
	}
	if len(s.FillableCodes) == 0 {
		return fmt.Errorf("no fillable codes configured")
	}
	if s.Neighborhood != FullNeighborhood && s.Neighborhood != LegacyNeighborhood {
		return fmt.Errorf("invalid neighborhood %v", s.Neighborhood)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", s.Workers)
	}
	return nil
}
