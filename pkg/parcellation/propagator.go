package parcellation

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"tractparc/internal/models"
)

// Observations maps a voxel to the labels of the fibers that crossed it, in
// the order the fibers were processed
type Observations map[models.Position][]int

// Vote is the winning label of one voxel with the terms of its score
type Vote struct {
	Label    int
	Score    float64
	Local    float64
	Neighbor float64
}

// Propagator runs the label propagation for one Scheme.
// It holds no per-run state and may be reused.
type Propagator struct {
	scheme   Scheme
	offsets  []offset
	fillable map[float32]struct{}
}

// NewPropagator validates s and prepares a propagator for it
func NewPropagator(s Scheme) (*Propagator, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parcellation scheme: %w", err)
	}
	if s.Workers == 0 {
		s.Workers = 1
	}
	p := &Propagator{
		scheme:   s,
		offsets:  s.Neighborhood.offsets(),
		fillable: make(map[float32]struct{}, len(s.FillableCodes)),
	}
	for _, c := range s.FillableCodes {
		p.fillable[float32(c)] = struct{}{}
	}
	return p, nil
}

// Scheme returns the scheme the propagator was built with
func (p *Propagator) Scheme() Scheme {
	return p.scheme
}

func (p *Propagator) isCortical(v float32) bool {
	for _, r := range p.scheme.CorticalRanges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

func (p *Propagator) isFillable(v float32) bool {
	_, ok := p.fillable[v]
	return ok
}

// Run propagates cortical labels from grid along fibers.
// Every fiber position must lie inside the first frame of grid; otherwise a
// *models.PreconditionError is returned before any work is done.
func (p *Propagator) Run(grid *models.Grid, fibers []models.Fiber) (*Result, error) {
	if err := checkBounds(grid, fibers); err != nil {
		return nil, err
	}

	obs, labelled := p.collect(grid, fibers)
	winners, err := p.resolveAll(obs)
	if err != nil {
		return nil, err
	}
	labels := p.selectFillable(grid, winners)

	res := &Result{
		Observations: obs,
		Winners:      winners,
		Labels:       labels,
	}
	res.Stats = computeStats(fibers, labelled, res)
	return res, nil
}

func checkBounds(grid *models.Grid, fibers []models.Fiber) error {
	for i, f := range fibers {
		for j, pos := range f {
			if !grid.InBounds(pos) {
				return &models.PreconditionError{
					What:   "fiber position",
					Detail: fmt.Sprintf("fiber %d point %d at %v is outside the %s volume", i, j, pos, grid),
				}
			}
		}
	}
	return nil
}

// fiberLabel returns the cortical label of the last qualifying point of f
func (p *Propagator) fiberLabel(grid *models.Grid, f models.Fiber) (int, bool) {
	label, found := 0, false
	for _, pos := range f {
		if v := grid.Label(pos); p.isCortical(v) {
			label, found = int(v), true
		}
	}
	return label, found
}

// collect is phase one: assign each fiber a label and record it on every
// voxel the fiber crosses. It returns the observations and a per-fiber flag
// telling which fibers were labelled.
func (p *Propagator) collect(grid *models.Grid, fibers []models.Fiber) (Observations, []bool) {
	obs := make(Observations)
	labelled := make([]bool, len(fibers))
	for i, f := range fibers {
		label, ok := p.fiberLabel(grid, f)
		if !ok {
			continue
		}
		labelled[i] = true
		for _, pos := range f {
			obs[pos] = append(obs[pos], label)
		}
	}
	return obs, labelled
}

// resolveAll is phase two. obs is only read, so voxels are split into
// contiguous chunks, one goroutine each, writing disjoint slots of votes.
func (p *Propagator) resolveAll(obs Observations) (map[models.Position]Vote, error) {
	positions := make([]models.Position, 0, len(obs))
	for pos := range obs {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	votes := make([]Vote, len(positions))
	workers := p.scheme.Workers
	chunk := (len(positions) + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(positions); start += chunk {
		end := min(start+chunk, len(positions))
		g.Go(func() error {
			for i := start; i < end; i++ {
				votes[i] = p.resolve(obs, positions[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	winners := make(map[models.Position]Vote, len(positions))
	for i, pos := range positions {
		if votes[i].Label > 0 {
			winners[pos] = votes[i]
		}
	}
	return winners, nil
}

// scoreTolerance is how much a later label must beat the current best by.
// Scores that tie in exact arithmetic can differ in their last bits depending
// on which terms were summed.
const scoreTolerance = 1e-9

// resolve scores each distinct label at pos in first-seen order. Only a
// higher score replaces the current best, so ties go to the label that was
// observed first.
func (p *Propagator) resolve(obs Observations, pos models.Position) Vote {
	if p.scheme.Neighborhood == LegacyNeighborhood {
		return p.resolveLegacy(obs, pos)
	}
	labels := obs[pos]
	var best Vote
	for _, label := range distinct(labels) {
		local := LabelProb(labels, label)
		neighbor := p.neighborProb(obs, pos, label)
		if score := local + neighbor; score > best.Score+scoreTolerance {
			best = Vote{Label: label, Score: score, Local: local, Neighbor: neighbor}
		}
	}
	return best
}

// resolveLegacy scores in float32 with the operation order of earlier
// releases and compares without tolerance, so near-ties break exactly as
// they did there.
func (p *Propagator) resolveLegacy(obs Observations, pos models.Position) Vote {
	labels := obs[pos]
	var best Vote
	var bestScore float32
	for _, label := range distinct(labels) {
		local := labelProb32(labels, label)

		var neighbor float32
		var n int32
		for _, o := range p.offsets {
			nl, ok := obs[pos.Add(o.dx, o.dy, o.dz)]
			if !ok {
				continue
			}
			if prob := labelProb32(nl, label); prob > 0 {
				// the conversion rounds the product before the sum
				neighbor += float32(o.inv32 * prob)
				n++
			}
		}
		if n > 0 {
			neighbor /= float32(n)
		}

		if score := local + neighbor; score > bestScore {
			bestScore = score
			best = Vote{Label: label, Score: float64(score), Local: float64(local), Neighbor: float64(neighbor)}
		}
	}
	return best
}

// neighborProb averages prob/distance over the neighbors where label has a
// positive local probability
func (p *Propagator) neighborProb(obs Observations, pos models.Position, label int) float64 {
	var sum float64
	var n int
	for _, o := range p.offsets {
		nl, ok := obs[pos.Add(o.dx, o.dy, o.dz)]
		if !ok {
			continue
		}
		if prob := LabelProb(nl, label); prob > 0 {
			sum += prob / o.dist
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// selectFillable is phase three: keep the winners whose voxel originally
// carried a fillable code
func (p *Propagator) selectFillable(grid *models.Grid, winners map[models.Position]Vote) map[models.Position]int {
	labels := make(map[models.Position]int)
	for pos, v := range winners {
		if p.isFillable(grid.Label(pos)) {
			labels[pos] = v.Label
		}
	}
	return labels
}

// LabelProb returns the fraction of labels equal to label, or 0 for an empty list
func LabelProb(labels []int, label int) float64 {
	if len(labels) == 0 {
		return 0
	}
	count := 0
	for _, l := range labels {
		if l == label {
			count++
		}
	}
	return float64(count) / float64(len(labels))
}

func labelProb32(labels []int, label int) float32 {
	var count float32
	for _, l := range labels {
		if l == label {
			count++
		}
	}
	return count / float32(len(labels))
}

// distinct returns the unique values of labels in order of first appearance
func distinct(labels []int) []int {
	seen := make(map[int]struct{}, len(labels))
	out := make([]int, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
