// Package nifti reads and writes single-file NIfTI-1 volumes holding float32 voxels.
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
//
// Only little-endian, uncompressed files are supported. The data block is
// expected to start at byte 352: one padding float follows the 348-byte
// header, then the voxels in t, z, y, x order with x varying fastest.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"

	"gonum.org/v1/gonum/mat"

	"tractparc/internal/models"
)

const (
	// HeaderSize is the fixed size of a NIfTI-1 header in bytes
	HeaderSize = 348

	// DataOffset is where the grid starts: header plus one padding float
	DataOffset = HeaderSize + 4

	// DTFloat32 is the NIFTI_TYPE_FLOAT32 datatype code
	DTFloat32 = 16

	formatName = "nifti1"
	elemSize   = 4
)

var (
	// MagicSingle marks header and data stored in one .nii file
	MagicSingle = [4]byte{'n', '+', '1', 0}

	// MagicPair marks a .hdr/.img pair
	MagicPair = [4]byte{'n', 'i', '1', 0}

	byteOrder = binary.LittleEndian
)

// Header defines the structure of the Nifti1 header.
//
// Field order is the on-disk layout; encoding/binary reads and writes it
// without padding so every field lands on its documented byte offset.
//
// Type translation from nifti1 C header to golang:
//
// C     Go
// -------------
// int   int32
// float float32
// short int16
// char  byte
type Header struct {
	SizeOfHdr          int32    // 0   Must be 348
	UnusedDataType     [10]byte // 4   Unused
	UnusedDbName       [18]byte // 14  Unused
	UnusedExtents      int32    // 32  Unused
	UnusedSessionError int16    // 36  Unused
	UnusedRegular      byte     // 38  Unused
	DimInfo            byte     // 39  MRI slice ordering

	Dim           [8]int16   // 40  Data array dimensions
	IntentP1      float32    // 56  1st intent parameter
	IntentP2      float32    // 60  2nd intent parameter
	IntentP3      float32    // 64  3rd intent parameter
	IntentCode    int16      // 68  NIFTI_INTENT_* code
	DataType      int16      // 70  Defines data type
	BitPix        int16      // 72  Number bits/voxel
	SliceStart    int16      // 74  First slice index
	PixDim        [8]float32 // 76  Grid spacing
	VoxOffset     float32    // 108 Offset into .nii file
	SclSlope      float32    // 112 Data scaling: slope
	SclInter      float32    // 116 Data scaling: offset
	SliceEnd      int16      // 120 Last slice index
	SliceCode     byte       // 122 Slice timing order
	XYZTUnits     byte       // 123 Units of pixdim[1..4]
	CalMax        float32    // 124 Max display intensity
	CalMin        float32    // 128 Min display intensity
	SliceDuration float32    // 132 Time for 1 slice
	TOffset       float32    // 136 Time axis shift
	UnusedGlmax   int32      // 140 Unused
	UnusedGlmin   int32      // 144 Unused

	Descrip [80]byte // 148 Any text you like
	AuxFile [24]byte // 228 Auxiliary filename

	QFormCode int16 // 252 NIFTI_XFORM_* code
	SFormCode int16 // 254 NIFTI_XFORM_* code

	QuaternB float32 // 256 Quaternion b params
	QuaternC float32 // 260 Quaternion c params
	QuaternD float32 // 264 Quaternion d params
	QOffsetX float32 // 268 Quaternion x shift
	QOffsetY float32 // 272 Quaternion y shift
	QOffsetZ float32 // 276 Quaternion z shift

	SRowX [4]float32 // 280 1st row affine transform
	SRowY [4]float32 // 296 2nd row affine transform
	SRowZ [4]float32 // 312 3rd row affine transform

	IntentName [16]byte // 328 'name' or meaning of data

	Magic [4]byte // 344 Must be "ni1\0" or "n+1\0"
}

func init() {
	if n := binary.Size(Header{}); n != HeaderSize {
		panic(fmt.Sprintf("nifti: header layout is %d bytes, want %d", n, HeaderSize))
	}
}

// String prints header information, one field per line.
func (h Header) String() string {
	s := reflect.ValueOf(&h).Elem()
	typeOfT := s.Type()
	strs := make([]string, s.NumField())
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		strs[i] = fmt.Sprintf("%d: %s %s = %v", i,
			typeOfT.Field(i).Name, f.Type(), f.Interface())
	}
	return strings.Join(strs, "\n")
}

// Extents returns the x, y, z and t extents. Values below 1 count as 1 so a
// 3D file that leaves dim[4] at zero still has one frame.
func (h Header) Extents() (nx, ny, nz, nt int) {
	ext := func(d int16) int {
		if d < 1 {
			return 1
		}
		return int(d)
	}
	return ext(h.Dim[1]), ext(h.Dim[2]), ext(h.Dim[3]), ext(h.Dim[4])
}

// Spacing returns the voxel size along x, y and z (pixdim[1..3])
func (h Header) Spacing() [3]float32 {
	return [3]float32{h.PixDim[1], h.PixDim[2], h.PixDim[3]}
}

// Affine returns the sform matrix as a 4x4 dense matrix with [0 0 0 1] as last row.
func (h Header) Affine() *mat.Dense {
	data := make([]float64, 0, 16)
	for _, row := range [][4]float32{h.SRowX, h.SRowY, h.SRowZ} {
		for _, v := range row {
			data = append(data, float64(v))
		}
	}
	data = append(data, 0, 0, 0, 1)
	return mat.NewDense(4, 4, data)
}

// MagicString returns the magic without the trailing NUL
func (h Header) MagicString() string {
	return strings.TrimRight(string(h.Magic[:]), "\x00")
}

// NewGrid allocates a zero grid shaped by the header extents
func (h Header) NewGrid() *models.Grid {
	nx, ny, nz, nt := h.Extents()
	return models.NewGrid(nx, ny, nz, nt)
}

// DecodeHeader parses and validates the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, &models.FormatError{
			Format: formatName, Field: "file size",
			Expected: fmt.Sprintf(">= %d bytes", HeaderSize), Actual: len(b),
		}
	}
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), byteOrder, &h); err != nil {
		return h, &models.FormatError{Format: formatName, Field: "header", Err: err}
	}
	if err := validateHeader(h); err != nil {
		return h, err
	}
	return h, nil
}

func validateHeader(h Header) error {
	switch {
	case h.SizeOfHdr != HeaderSize:
		return &models.FormatError{
			Format: formatName, Field: "sizeof_hdr",
			Expected: HeaderSize, Actual: h.SizeOfHdr,
		}
	case h.Magic != MagicSingle && h.Magic != MagicPair:
		return &models.FormatError{
			Format: formatName, Field: "magic",
			Expected: fmt.Sprintf("%q or %q", "n+1", "ni1"), Actual: fmt.Sprintf("%q", h.Magic[:]),
		}
	}
	return nil
}

// Decode parses a complete NIfTI-1 file image. The first float after the
// header is padding and is skipped; the grid is filled from the second one.
func Decode(b []byte) (Header, *models.Grid, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return h, nil, err
	}

	rest := len(b) - HeaderSize
	if rest%elemSize != 0 {
		return h, nil, &models.FormatError{
			Format: formatName, Field: "data size",
			Expected: fmt.Sprintf("multiple of %d", elemSize), Actual: rest,
		}
	}

	nx, ny, nz, nt := h.Extents()
	need := 1 + nx*ny*nz*nt
	if have := rest / elemSize; have < need {
		return h, nil, &models.FormatError{
			Format: formatName, Field: "data size",
			Expected: fmt.Sprintf("%d floats", need), Actual: have,
		}
	}

	grid := h.NewGrid()

	data := b[DataOffset:]
	for i := range grid.Data {
		grid.Data[i] = math.Float32frombits(byteOrder.Uint32(data[i*elemSize:]))
	}
	return h, grid, nil
}

// Encode writes the header verbatim, one zero padding float and the grid.
// The grid extents must match the header extents.
func Encode(h Header, g *models.Grid) ([]byte, error) {
	nx, ny, nz, nt := h.Extents()
	if g.Nx != nx || g.Ny != ny || g.Nz != nz || g.Nt != nt || len(g.Data) != g.Len() {
		return nil, &models.PreconditionError{
			What:   "grid shape",
			Detail: fmt.Sprintf("header describes %dx%dx%dx%d, grid is %s with %d values", nx, ny, nz, nt, g, len(g.Data)),
		}
	}

	var hdr bytes.Buffer
	if err := binary.Write(&hdr, byteOrder, &h); err != nil {
		return nil, &models.FormatError{Format: formatName, Field: "header", Err: err}
	}

	out := make([]byte, DataOffset+len(g.Data)*elemSize)
	copy(out, hdr.Bytes())
	// out[HeaderSize:DataOffset] stays zero: the padding float.
	for i, v := range g.Data {
		byteOrder.PutUint32(out[DataOffset+i*elemSize:], math.Float32bits(v))
	}
	return out, nil
}
