// Package trackvis reads and writes TrackVis .trk streamline files.
//
// Header layout follows http://trackvis.org/docs/?subsect=fileformat.
// Point coordinates are stored in millimeters; decoding maps them onto the
// voxel grid by dividing by the voxel size and truncating toward zero.
package trackvis

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"tractparc/internal/models"
	"tractparc/pkg/nifti"
)

const (
	// HeaderSize is the fixed size of a TrackVis header in bytes
	HeaderSize = 1000

	// Version is the header version written by Encode
	Version = 2

	formatName = "trackvis"
	floatSize  = 4
)

var (
	idString = [6]byte{'T', 'R', 'A', 'C', 'K', 0}

	// voxel order written by Encode; the same bytes go into Pad2
	lasOrder = [4]byte{'L', 'A', 'S', 0}

	byteOrder = binary.LittleEndian
)

// Header defines the structure of the TrackVis header. Field order is the
// on-disk layout.
type Header struct {
	IDString                [6]byte       // 0   "TRACK" followed by NUL
	Dim                     [3]int16      // 6   Dimension of the image volume
	VoxelSize               [3]float32    // 12  Voxel size of the image volume
	Origin                  [3]float32    // 24  Not used by TrackVis, always zero
	NScalars                int16         // 36  Scalars saved at each point
	ScalarName              [10][20]byte  // 38  Name of each scalar
	NProperties             int16         // 238 Properties saved at each track
	PropertyName            [10][20]byte  // 240 Name of each property
	VoxToRAS                [4][4]float32 // 440 Voxel to RAS matrix, unset if [3][3] is 0
	Reserved                [444]byte     // 504
	VoxelOrder              [4]byte       // 948 Storing order of the original image
	Pad2                    [4]byte       // 952
	ImageOrientationPatient [6]float32    // 956 As in the DICOM header
	Pad1                    [2]byte       // 980
	InvertX                 byte          // 982
	InvertY                 byte          // 983
	InvertZ                 byte          // 984
	SwapXY                  byte          // 985
	SwapYZ                  byte          // 986
	SwapZX                  byte          // 987
	NCount                  int32         // 988 Number of tracks, 0 if not stored
	Version                 int32         // 992
	HdrSize                 int32         // 996 Must be 1000
}

func init() {
	if n := binary.Size(Header{}); n != HeaderSize {
		panic(fmt.Sprintf("trackvis: header layout is %d bytes, want %d", n, HeaderSize))
	}
}

// ID returns the identification string without trailing NULs
func (h Header) ID() string {
	return strings.TrimRight(string(h.IDString[:]), "\x00")
}

// CountMismatch reports whether the header stores a track count that
// differs from n. A zero count means the count was not stored.
func (h Header) CountMismatch(n int) bool {
	return h.NCount != 0 && int(h.NCount) != n
}

// pointStride is the number of floats per point record
func (h Header) pointStride() int {
	return 3 + int(h.NScalars)
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

	switch {
	case h.HdrSize != HeaderSize:
		return h, &models.FormatError{
			Format: formatName, Field: "hdr_size",
			Expected: HeaderSize, Actual: h.HdrSize,
		}
	case !bytes.HasPrefix(h.IDString[:], idString[:5]):
		return h, &models.FormatError{
			Format: formatName, Field: "id_string",
			Expected: `"TRACK"`, Actual: fmt.Sprintf("%q", h.IDString[:]),
		}
	case h.NScalars < 0 || h.NProperties < 0:
		return h, &models.FormatError{
			Format: formatName, Field: "n_scalars/n_properties",
			Expected: ">= 0", Actual: fmt.Sprintf("%d/%d", h.NScalars, h.NProperties),
		}
	}
	for i, v := range h.VoxelSize {
		if !(v > 0) || math.IsInf(float64(v), 0) {
			return h, &models.FormatError{
				Format: formatName, Field: fmt.Sprintf("voxel_size[%d]", i),
				Expected: "> 0", Actual: v,
			}
		}
	}
	return h, nil
}

// cursor walks the record section of a track file
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) remaining() int { return len(c.b) - c.off }

func (c *cursor) readUint32() uint32 {
	v := byteOrder.Uint32(c.b[c.off:])
	c.off += 4
	return v
}

func (c *cursor) readFloat32() float32 {
	return math.Float32frombits(c.readUint32())
}

func (c *cursor) skip(n int) { c.off += n }

// toVoxel converts a millimeter coordinate to a voxel index, truncating toward zero
func toVoxel(mm, voxelSize float32) (int32, bool) {
	v := float64(mm / voxelSize)
	if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return int32(math.Trunc(v)), true
}

// maxNudge bounds the ulp steps toMillimeters takes
const maxNudge = 8

// toMillimeters scales voxel index v by voxelSize. The rounded product can
// land just short of v*voxelSize so that toVoxel truncates it to the next
// voxel toward zero; it is then moved away from zero one ulp at a time until
// it maps back to v.
func toMillimeters(v int32, voxelSize float32) float32 {
	mm := voxelSize * float32(v)
	dir := float32(math.Inf(1))
	if v < 0 {
		dir = float32(math.Inf(-1))
	}
	for i := 0; i < maxNudge; i++ {
		if got, ok := toVoxel(mm, voxelSize); ok && got == v {
			break
		}
		mm = math.Nextafter32(mm, dir)
	}
	return mm
}

// Decode parses a complete track file. Tracks and their points keep file order.
// Per-point scalars and per-track properties are skipped.
func Decode(b []byte) (Header, []models.Fiber, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return h, nil, err
	}

	stride := h.pointStride() * floatSize
	props := int(h.NProperties) * floatSize

	c := &cursor{b: b, off: HeaderSize}
	fibers := make([]models.Fiber, 0, max(int(h.NCount), 0))
	for c.remaining() > 0 {
		idx := len(fibers)
		if c.remaining() < 4 {
			return h, nil, &models.FormatError{
				Format: formatName, Field: fmt.Sprintf("track %d length", idx),
				Expected: "4 bytes", Actual: fmt.Sprintf("%d bytes", c.remaining()),
			}
		}
		n := int64(c.readUint32())
		need := n*int64(stride) + int64(props)
		if int64(c.remaining()) < need {
			return h, nil, &models.FormatError{
				Format: formatName, Field: fmt.Sprintf("track %d", idx),
				Expected: fmt.Sprintf("%d bytes for %d points", need, n),
				Actual:   fmt.Sprintf("%d bytes", c.remaining()),
			}
		}

		fiber := make(models.Fiber, n)
		for i := range fiber {
			var xyz [3]int32
			for a := 0; a < 3; a++ {
				mm := c.readFloat32()
				v, ok := toVoxel(mm, h.VoxelSize[a])
				if !ok {
					return h, nil, &models.FormatError{
						Format: formatName, Field: fmt.Sprintf("track %d point %d", idx, i),
						Expected: "finite coordinate", Actual: mm,
					}
				}
				xyz[a] = v
			}
			c.skip(int(h.NScalars) * floatSize)
			fiber[i] = models.Position{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		}
		c.skip(props)
		fibers = append(fibers, fiber)
	}
	return h, fibers, nil
}

// NewHeader builds the header Encode writes for fibers sampled on the
// volume described by ref.
func NewHeader(ref nifti.Header, count int) Header {
	h := Header{
		IDString:                idString,
		VoxelOrder:              lasOrder,
		Pad2:                    lasOrder,
		ImageOrientationPatient: [6]float32{1, 0, 0, 0, -1, 0},
		NCount:                  int32(count),
		Version:                 Version,
		HdrSize:                 HeaderSize,
	}
	h.Dim = [3]int16{ref.Dim[1], ref.Dim[2], ref.Dim[3]}
	h.VoxelSize = ref.Spacing()

	aff := ref.Affine()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			h.VoxToRAS[i][j] = float32(aff.At(i, j))
		}
	}
	return h
}

// Encode writes fibers as a track file laid out on the reference volume.
// Voxel indices are scaled back to millimeters by the volume spacing and
// always decode to the same indices; since Decode truncates, sub-voxel
// positions of an earlier file are not restored.
func Encode(ref nifti.Header, fibers []models.Fiber) (Header, []byte, error) {
	h := NewHeader(ref, len(fibers))

	size := HeaderSize
	for _, f := range fibers {
		size += 4 + len(f)*3*floatSize
	}

	var hdr bytes.Buffer
	if err := binary.Write(&hdr, byteOrder, &h); err != nil {
		return h, nil, &models.FormatError{Format: formatName, Field: "header", Err: err}
	}

	out := make([]byte, size)
	off := copy(out, hdr.Bytes())
	putFloat := func(v float32) {
		byteOrder.PutUint32(out[off:], math.Float32bits(v))
		off += floatSize
	}

	vs := h.VoxelSize
	for _, f := range fibers {
		byteOrder.PutUint32(out[off:], uint32(len(f)))
		off += 4
		for _, p := range f {
			putFloat(toMillimeters(p.X, vs[0]))
			putFloat(toMillimeters(p.Y, vs[1]))
			putFloat(toMillimeters(p.Z, vs[2]))
		}
	}
	return h, out, nil
}
