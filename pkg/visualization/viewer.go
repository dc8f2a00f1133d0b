// Package visualization renders slices of a label volume for quick visual checks.
package visualization

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"tractparc/internal/models"
)

// Viewer extracts 2D slices from the first frame of a label grid.
// Each label value is drawn with a fixed color; label 0 is black.
type Viewer struct {
	grid *models.Grid
}

// NewViewer creates a new label volume viewer
func NewViewer(grid *models.Grid) *Viewer {
	return &Viewer{grid: grid}
}

// LabelColor returns the display color of a label value
func LabelColor(label float32) color.RGBA {
	if label == 0 {
		return color.RGBA{A: 255}
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%g", label)
	sum := h.Sum32()
	// Keep every channel away from black so labels stand out from background
	return color.RGBA{
		R: uint8(sum) | 0x40,
		G: uint8(sum>>8) | 0x40,
		B: uint8(sum>>16) | 0x40,
		A: 255,
	}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	g := v.grid

	var img *image.RGBA
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= g.Nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, g.Nx)
		}
		img = image.NewRGBA(image.Rect(0, 0, g.Nz, g.Ny))
		for y := 0; y < g.Ny; y++ {
			for z := 0; z < g.Nz; z++ {
				img.SetRGBA(z, y, LabelColor(g.At(0, z, y, position)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= g.Ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, g.Ny)
		}
		img = image.NewRGBA(image.Rect(0, 0, g.Nx, g.Nz))
		for z := 0; z < g.Nz; z++ {
			for x := 0; x < g.Nx; x++ {
				img.SetRGBA(x, z, LabelColor(g.At(0, z, position, x)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= g.Nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, g.Nz)
		}
		img = image.NewRGBA(image.Rect(0, 0, g.Nx, g.Ny))
		for y := 0; y < g.Ny; y++ {
			for x := 0; x < g.Nx; x++ {
				img.SetRGBA(x, y, LabelColor(g.At(0, position, y, x)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image.
// PNG is lossless, so label colors survive exactly.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.grid.Nx
	case "y", "Y":
		maxPos = v.grid.Ny
	case "z", "Z":
		maxPos = v.grid.Nz
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
