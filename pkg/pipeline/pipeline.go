// Package pipeline runs a complete parcellation: read the label volume and the
// streamlines, propagate cortical labels, and write the requested outputs.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"tractparc/internal/fileio"
	"tractparc/internal/models"
	"tractparc/pkg/config"
	"tractparc/pkg/nifti"
	"tractparc/pkg/parcellation"
	"tractparc/pkg/trackvis"
	"tractparc/pkg/visualization"
)

// Params holds the inputs and outputs of one run
type Params struct {
	// StreamlineFile is the TrackVis file with the fiber tracts
	StreamlineFile string

	// VolumeFile is the NIfTI-1 cortex parcellation
	VolumeFile string

	// OutputFile receives the refined parcellation. When empty the run
	// computes the labels but persists nothing.
	OutputFile string

	// TracksOutFile, when set, receives the voxelized fibers re-encoded
	// against the volume
	TracksOutFile string

	// SlicesDir, when set, receives PNG slices of the output along x, y and z
	SlicesDir string

	// Config carries the label scheme and propagation settings
	Config *config.Config
}

// Pipeline drives decode, propagation and encode for one pair of inputs.
// Stages run strictly in order and nothing is written unless every earlier
// stage succeeded.
type Pipeline struct {
	params *Params

	header nifti.Header
	grid   *models.Grid
	fibers []models.Fiber

	result *parcellation.Result
	output *models.Grid
}

// NewPipeline creates a pipeline for params. A nil Config uses the defaults.
func NewPipeline(params *Params) *Pipeline {
	if params.Config == nil {
		params.Config = config.DefaultConfig()
	}
	return &Pipeline{params: params}
}

// Process runs the complete pipeline
func (p *Pipeline) Process() error {
	start := time.Now()

	scheme, err := p.params.Config.Scheme()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	propagator, err := parcellation.NewPropagator(scheme)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	// Step 1: label volume
	if err := p.loadVolume(); err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}

	// Step 2: streamlines
	if err := p.loadStreamlines(); err != nil {
		return fmt.Errorf("failed to load streamlines: %w", err)
	}

	// Step 3: propagation
	log.WithFields(log.Fields{
		"neighborhood": scheme.Neighborhood,
		"workers":      scheme.Workers,
	}).Info("Propagating cortical labels")
	p.result, err = propagator.Run(p.grid, p.fibers)
	if err != nil {
		return fmt.Errorf("failed to propagate labels from %s along %s: %w",
			p.params.VolumeFile, p.params.StreamlineFile, err)
	}
	p.output = p.result.Apply(p.grid, p.params.Config.Output.KeepInputLabels)
	logStats(p.result.Stats)

	// Step 4: outputs
	if err := p.writeOutputs(); err != nil {
		return err
	}

	// QC slices are diagnostics only; failures do not fail the run
	if p.params.SlicesDir != "" {
		p.saveSlices()
	}

	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Parcellation finished")
	return nil
}

func (p *Pipeline) loadVolume() error {
	path := p.params.VolumeFile
	logFileSize(path, "Reading label volume")

	h, g, err := nifti.ReadFile(path)
	if err != nil {
		return err
	}
	if h.DataType != nifti.DTFloat32 {
		log.WithFields(log.Fields{
			"file":     path,
			"datatype": h.DataType,
			"bitpix":   h.BitPix,
		}).Warn("Volume datatype is not float32; voxel values are read as raw float32")
	}
	log.WithFields(log.Fields{
		"dims":    g.String(),
		"spacing": h.Spacing(),
		"magic":   h.MagicString(),
	}).Info("Loaded label volume")
	log.Debugf("Volume header:\n%s", h)

	p.header, p.grid = h, g
	return nil
}

func (p *Pipeline) loadStreamlines() error {
	path := p.params.StreamlineFile
	logFileSize(path, "Reading streamlines")

	h, fibers, err := trackvis.ReadFile(path)
	if err != nil {
		return err
	}
	if h.CountMismatch(len(fibers)) {
		log.WithFields(log.Fields{
			"file":    path,
			"header":  h.NCount,
			"decoded": len(fibers),
		}).Warn("Track count in header does not match the file contents")
	}
	if h.VoxelSize != p.header.Spacing() {
		log.WithFields(log.Fields{
			"tracks": h.VoxelSize,
			"volume": p.header.Spacing(),
		}).Warn("Track voxel size differs from the volume spacing")
	}
	log.WithFields(log.Fields{
		"fibers":    len(fibers),
		"voxelSize": h.VoxelSize,
		"version":   h.Version,
	}).Info("Loaded streamlines")

	p.fibers = fibers
	return nil
}

// writeOutputs encodes every requested output before writing any of them,
// then writes them all or none
func (p *Pipeline) writeOutputs() error {
	var outs []fileio.File

	if p.params.OutputFile != "" {
		b, err := nifti.Encode(p.header, p.output)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", p.params.OutputFile, err)
		}
		outs = append(outs, fileio.File{Path: p.params.OutputFile, Data: b})
	} else {
		log.Info("No output file given; results are not saved")
	}

	if p.params.TracksOutFile != "" {
		_, b, err := trackvis.Encode(p.header, p.fibers)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", p.params.TracksOutFile, err)
		}
		outs = append(outs, fileio.File{Path: p.params.TracksOutFile, Data: b})
	}

	if err := fileio.WriteAll(outs); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	for _, o := range outs {
		log.WithFields(log.Fields{
			"file": o.Path,
			"size": humanize.Bytes(uint64(len(o.Data))),
		}).Info("Wrote output")
	}
	return nil
}

func (p *Pipeline) saveSlices() {
	viewer := visualization.NewViewer(p.output)
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(p.params.SlicesDir, axis)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			log.WithError(err).Warnf("Failed to save %s-axis slices", axis)
			continue
		}
		log.WithField("dir", axisDir).Debugf("Saved %s-axis slices", axis)
	}
}

// GetResult returns the propagation result, or nil before Process succeeds
func (p *Pipeline) GetResult() *parcellation.Result {
	return p.result
}

// GetOutputGrid returns the refined label grid, or nil before Process succeeds
func (p *Pipeline) GetOutputGrid() *models.Grid {
	return p.output
}

func logFileSize(path, msg string) {
	fields := log.Fields{"file": path}
	if info, err := os.Stat(path); err == nil {
		fields["size"] = humanize.Bytes(uint64(info.Size()))
	}
	log.WithFields(fields).Info(msg)
}

func logStats(s parcellation.Stats) {
	log.WithFields(log.Fields{
		"fibers":     s.Fibers,
		"labelled":   s.LabelledFibers,
		"dropped":    s.DroppedFibers,
		"meanLength": fmt.Sprintf("%.1f", s.MeanFiberLength),
		"observed":   s.ObservedVoxels,
		"resolved":   s.ResolvedVoxels,
		"filled":     s.FilledVoxels,
		"labels":     s.DistinctLabels,
		"meanObs":    fmt.Sprintf("%.2f", s.MeanObservations),
		"meanScore":  fmt.Sprintf("%.3f", s.MeanScore),
	}).Info("Propagation summary")
}
