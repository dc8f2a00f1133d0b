package models

// Position identifies a single voxel in the label volume
type Position struct {
	X, Y, Z int32
}

// Less orders positions lexicographically by Z, then Y, then X.
// This matches the memory order of the volume data and gives
// deterministic iteration over position sets.
func (p Position) Less(q Position) bool {
	if p.Z != q.Z {
		return p.Z < q.Z
	}
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.X < q.X
}

// Add returns the position shifted by the given offset
func (p Position) Add(dx, dy, dz int32) Position {
	return Position{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// Fiber is one streamline resampled into voxel space.
// Points are kept in traversal order, which matters when
// choosing the cortical label of a tract.
type Fiber []Position
