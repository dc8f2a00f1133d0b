package models

import "fmt"

// Grid represents a 4D volume of float32 voxel values.
// Data is stored flat in [t][z][y][x] order, x varying fastest,
// which is the order voxels appear in a NIfTI data block.
type Grid struct {
	// Data is the flat voxel array
	Data []float32

	// Nx, Ny, Nz, Nt are the extents along each axis
	Nx, Ny, Nz, Nt int
}

// NewGrid allocates a zero-filled grid with the given extents
func NewGrid(nx, ny, nz, nt int) *Grid {
	return &Grid{
		Data: make([]float32, nx*ny*nz*nt),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
		Nt:   nt,
	}
}

// Len returns the number of voxels the extents describe
func (g *Grid) Len() int {
	return g.Nx * g.Ny * g.Nz * g.Nt
}

// Index returns the flat offset of voxel (t, z, y, x). It does not check bounds.
func (g *Grid) Index(t, z, y, x int) int {
	return ((t*g.Nz+z)*g.Ny+y)*g.Nx + x
}

// At returns the value of voxel (t, z, y, x)
func (g *Grid) At(t, z, y, x int) float32 {
	return g.Data[g.Index(t, z, y, x)]
}

// Set stores v at voxel (t, z, y, x)
func (g *Grid) Set(t, z, y, x int, v float32) {
	g.Data[g.Index(t, z, y, x)] = v
}

// InBounds reports whether p addresses a voxel of the first frame
func (g *Grid) InBounds(p Position) bool {
	return p.X >= 0 && int(p.X) < g.Nx &&
		p.Y >= 0 && int(p.Y) < g.Ny &&
		p.Z >= 0 && int(p.Z) < g.Nz &&
		g.Nt > 0
}

// Label returns the value at p in the first frame.
// p must be in bounds.
func (g *Grid) Label(p Position) float32 {
	return g.At(0, int(p.Z), int(p.Y), int(p.X))
}

// SetLabel stores v at p in the first frame
func (g *Grid) SetLabel(p Position, v float32) {
	g.Set(0, int(p.Z), int(p.Y), int(p.X), v)
}

// Clone returns a deep copy of the grid
func (g *Grid) Clone() *Grid {
	c := &Grid{Nx: g.Nx, Ny: g.Ny, Nz: g.Nz, Nt: g.Nt}
	c.Data = make([]float32, len(g.Data))
	copy(c.Data, g.Data)
	return c
}

// String implements fmt.Stringer
func (g *Grid) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", g.Nx, g.Ny, g.Nz, g.Nt)
}
