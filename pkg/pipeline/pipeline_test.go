package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tractparc/internal/models"
	"tractparc/pkg/config"
	"tractparc/pkg/nifti"
	"tractparc/pkg/trackvis"
)

// newVolumeHeader creates a float32 header for a single frame volume
func newVolumeHeader(nx, ny, nz int, spacing float32) nifti.Header {
	h := nifti.Header{
		SizeOfHdr: nifti.HeaderSize,
		DataType:  nifti.DTFloat32,
		BitPix:    32,
		VoxOffset: nifti.DataOffset,
		SclSlope:  1,
		Magic:     nifti.MagicSingle,
	}
	h.Dim = [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1}
	h.PixDim = [8]float32{1, spacing, spacing, spacing, 1, 1, 1, 1}
	return h
}

// writeInputs creates a 4x4x4 volume with a cortical voxel at the origin and
// white matter along the x axis, plus one fiber running into the cortex
func writeInputs(t *testing.T, dir string, fibers []models.Fiber) (string, string) {
	t.Helper()

	h := newVolumeHeader(4, 4, 4, 1)
	g := models.NewGrid(4, 4, 4, 1)
	g.SetLabel(models.Position{X: 0}, 1005)
	g.SetLabel(models.Position{X: 1}, 2)
	g.SetLabel(models.Position{X: 2}, 2)
	g.SetLabel(models.Position{X: 3, Y: 3, Z: 3}, 41)

	volume := filepath.Join(dir, "aparc.nii")
	if err := nifti.WriteFile(volume, h, g); err != nil {
		t.Fatalf("Failed to write volume: %v", err)
	}
	tracks := filepath.Join(dir, "fibers.trk")
	if _, err := trackvis.WriteFile(tracks, h, fibers); err != nil {
		t.Fatalf("Failed to write tracks: %v", err)
	}
	return volume, tracks
}

func defaultFibers() []models.Fiber {
	return []models.Fiber{
		{{X: 2}, {X: 1}, {X: 0}},
	}
}

// TestProcess runs the whole pipeline with every optional output enabled
func TestProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end test in short mode")
	}
	dir := t.TempDir()
	volume, tracks := writeInputs(t, dir, defaultFibers())

	params := &Params{
		StreamlineFile: tracks,
		VolumeFile:     volume,
		OutputFile:     filepath.Join(dir, "refined.nii"),
		TracksOutFile:  filepath.Join(dir, "voxelized.trk"),
		SlicesDir:      filepath.Join(dir, "slices"),
	}
	p := NewPipeline(params)
	if err := p.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	_, out, err := nifti.ReadFile(params.OutputFile)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	want := map[models.Position]float32{
		{X: 0}:             0,
		{X: 1}:             1005,
		{X: 2}:             1005,
		{X: 3, Y: 3, Z: 3}: 0,
	}
	for pos, v := range want {
		if got := out.Label(pos); got != v {
			t.Errorf("Voxel %v: expected %v, got %v", pos, v, got)
		}
	}

	_, fibers, err := trackvis.ReadFile(params.TracksOutFile)
	if err != nil {
		t.Fatalf("Failed to read voxelized tracks: %v", err)
	}
	if len(fibers) != 1 || len(fibers[0]) != 3 || fibers[0][2] != (models.Position{}) {
		t.Errorf("Unexpected voxelized tracks %v", fibers)
	}

	for _, axis := range []string{"x", "y", "z"} {
		entries, err := os.ReadDir(filepath.Join(params.SlicesDir, axis))
		if err != nil || len(entries) != 4 {
			t.Errorf("Expected 4 %s slices: %v", axis, err)
		}
	}

	r := p.GetResult()
	if r == nil || r.Stats.Fibers != 1 || r.Stats.FilledVoxels != 2 {
		t.Errorf("Unexpected result %+v", r)
	}
	if p.GetOutputGrid() == nil {
		t.Errorf("Expected an output grid")
	}
}

func TestProcessKeepInputLabels(t *testing.T) {
	dir := t.TempDir()
	volume, tracks := writeInputs(t, dir, defaultFibers())

	cfg := config.DefaultConfig()
	cfg.Output.KeepInputLabels = true
	cfg.Propagation.Workers = 2

	params := &Params{
		StreamlineFile: tracks,
		VolumeFile:     volume,
		OutputFile:     filepath.Join(dir, "refined.nii"),
		Config:         cfg,
	}
	if err := NewPipeline(params).Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	_, out, err := nifti.ReadFile(params.OutputFile)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	if got := out.Label(models.Position{}); got != 1005 {
		t.Errorf("Expected the cortical input label to be kept, got %v", got)
	}
	if got := out.Label(models.Position{X: 3, Y: 3, Z: 3}); got != 41 {
		t.Errorf("Expected untouched voxel to keep 41, got %v", got)
	}
	if got := out.Label(models.Position{X: 2}); got != 1005 {
		t.Errorf("Expected propagated label 1005, got %v", got)
	}
}

func TestProcessWithoutOutput(t *testing.T) {
	dir := t.TempDir()
	volume, tracks := writeInputs(t, dir, defaultFibers())

	p := NewPipeline(&Params{StreamlineFile: tracks, VolumeFile: volume})
	if err := p.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected only the two inputs in %s, found %d entries", dir, len(entries))
	}
	if got := p.GetOutputGrid().Label(models.Position{X: 1}); got != 1005 {
		t.Errorf("Expected in-memory result 1005, got %v", got)
	}
}

func TestProcessErrorsWriteNothing(t *testing.T) {
	cases := []struct {
		name   string
		fibers []models.Fiber
		setup  func(p *Params)
		check  func(err error) bool
	}{
		{
			name:   "fiber outside volume",
			fibers: []models.Fiber{{{X: 1}, {X: 4}}},
			check: func(err error) bool {
				var pe *models.PreconditionError
				return errors.As(err, &pe)
			},
		},
		{
			name:   "missing streamlines",
			fibers: defaultFibers(),
			setup:  func(p *Params) { p.StreamlineFile += ".missing" },
			check: func(err error) bool {
				var ioe *models.IOError
				return errors.As(err, &ioe)
			},
		},
		{
			name:   "second output in missing directory",
			fibers: defaultFibers(),
			setup: func(p *Params) {
				p.TracksOutFile = filepath.Join(filepath.Dir(p.TracksOutFile), "nodir", "voxelized.trk")
			},
			check: func(err error) bool {
				var ioe *models.IOError
				return errors.As(err, &ioe)
			},
		},
		{
			name:   "corrupt volume",
			fibers: defaultFibers(),
			setup: func(p *Params) {
				os.WriteFile(p.VolumeFile, []byte("not a volume"), 0644)
			},
			check: func(err error) bool {
				var fe *models.FormatError
				return errors.As(err, &fe)
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dir := t.TempDir()
			volume, tracks := writeInputs(t, dir, c.fibers)
			params := &Params{
				StreamlineFile: tracks,
				VolumeFile:     volume,
				OutputFile:     filepath.Join(dir, "refined.nii"),
				TracksOutFile:  filepath.Join(dir, "voxelized.trk"),
			}
			if c.setup != nil {
				c.setup(params)
			}

			err := NewPipeline(params).Process()
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !c.check(err) {
				t.Errorf("Unexpected error type %T: %v", err, err)
			}
			for _, f := range []string{params.OutputFile, params.TracksOutFile} {
				if _, err := os.Stat(f); !os.IsNotExist(err) {
					t.Errorf("Expected no output at %s", f)
				}
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir failed: %v", err)
			}
			if len(entries) != 2 {
				t.Errorf("Expected only the two inputs in %s, found %d entries", dir, len(entries))
			}
		})
	}
}

func TestProcessInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Propagation.Neighborhood = "diagonal"
	err := NewPipeline(&Params{Config: cfg}).Process()
	if err == nil {
		t.Fatal("Expected a configuration error")
	}
}
