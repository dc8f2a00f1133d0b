package trackvis

import (
	"fmt"

	"tractparc/internal/fileio"
	"tractparc/internal/models"
	"tractparc/pkg/nifti"
)

// ReadFile loads and decodes the track file at path.
func ReadFile(path string) (Header, []models.Fiber, error) {
	b, err := fileio.ReadBytes(path)
	if err != nil {
		return Header{}, nil, err
	}
	if fileio.IsGzip(b) {
		return Header{}, nil, fmt.Errorf("%s: %w", path, &models.FormatError{
			Format: formatName, Field: "encoding",
			Expected: "uncompressed .trk", Actual: "gzip",
		})
	}
	h, fibers, err := Decode(b)
	if err != nil {
		return h, nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, fibers, nil
}

// WriteFile encodes fibers against ref and writes them to path.
func WriteFile(path string, ref nifti.Header, fibers []models.Fiber) (Header, error) {
	h, b, err := Encode(ref, fibers)
	if err != nil {
		return h, fmt.Errorf("%s: %w", path, err)
	}
	return h, fileio.WriteAtomic(path, b)
}
