package parcellation

import (
	"gonum.org/v1/gonum/stat"

	"tractparc/internal/models"
)

// Result holds the output of a propagation run
type Result struct {
	// Observations are the per-voxel fiber labels from phase one
	Observations Observations

	// Winners are the resolved votes of every observed voxel
	Winners map[models.Position]Vote

	// Labels is the final label map: winners on fillable voxels only
	Labels map[models.Position]int

	Stats Stats
}

// Stats summarizes a propagation run
type Stats struct {
	Fibers         int
	LabelledFibers int
	DroppedFibers  int

	// ObservedVoxels received at least one observation
	ObservedVoxels int

	// ResolvedVoxels have a positive winning label
	ResolvedVoxels int

	// FilledVoxels made it into the final label map
	FilledVoxels int

	// DistinctLabels is the number of different labels in the final map
	DistinctLabels int

	MeanFiberLength   float64
	StdDevFiberLength float64

	// MeanObservations is the average observation count per observed voxel
	MeanObservations float64

	// MeanScore is the average winning score over resolved voxels
	MeanScore float64
}

func computeStats(fibers []models.Fiber, labelled []bool, r *Result) Stats {
	s := Stats{
		Fibers:         len(fibers),
		ObservedVoxels: len(r.Observations),
		ResolvedVoxels: len(r.Winners),
		FilledVoxels:   len(r.Labels),
	}
	for _, ok := range labelled {
		if ok {
			s.LabelledFibers++
		}
	}
	s.DroppedFibers = s.Fibers - s.LabelledFibers

	if len(fibers) > 0 {
		lengths := make([]float64, len(fibers))
		for i, f := range fibers {
			lengths[i] = float64(len(f))
		}
		s.MeanFiberLength, s.StdDevFiberLength = stat.MeanStdDev(lengths, nil)
		if len(fibers) == 1 {
			s.StdDevFiberLength = 0
		}
	}

	if len(r.Observations) > 0 {
		counts := make([]float64, 0, len(r.Observations))
		for _, l := range r.Observations {
			counts = append(counts, float64(len(l)))
		}
		s.MeanObservations = stat.Mean(counts, nil)
	}

	if len(r.Winners) > 0 {
		scores := make([]float64, 0, len(r.Winners))
		for _, v := range r.Winners {
			scores = append(scores, v.Score)
		}
		s.MeanScore = stat.Mean(scores, nil)
	}

	seen := make(map[int]struct{})
	for _, l := range r.Labels {
		seen[l] = struct{}{}
	}
	s.DistinctLabels = len(seen)
	return s
}

// Apply builds the output grid for input. The grid starts zeroed, or as a copy
// of input when keepInput is set, and each final label is written into the
// first frame. Voxels outside the final label map are left as they start.
func (r *Result) Apply(input *models.Grid, keepInput bool) *models.Grid {
	var out *models.Grid
	if keepInput {
		out = input.Clone()
	} else {
		out = models.NewGrid(input.Nx, input.Ny, input.Nz, input.Nt)
	}
	for pos, label := range r.Labels {
		out.SetLabel(pos, float32(label))
	}
	return out
}
