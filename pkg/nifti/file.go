package nifti

import (
	"fmt"

	"tractparc/internal/fileio"
	"tractparc/internal/models"
)

// ReadFile loads and decodes the NIfTI-1 file at path.
func ReadFile(path string) (Header, *models.Grid, error) {
	b, err := fileio.ReadBytes(path)
	if err != nil {
		return Header{}, nil, err
	}
	if fileio.IsGzip(b) {
		return Header{}, nil, fmt.Errorf("%s: %w", path, &models.FormatError{
			Format: formatName, Field: "encoding",
			Expected: "uncompressed .nii", Actual: "gzip",
		})
	}
	h, g, err := Decode(b)
	if err != nil {
		return h, nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, g, nil
}

// WriteFile encodes h and g and writes them to path. Nothing is written if
// encoding fails.
func WriteFile(path string, h Header, g *models.Grid) error {
	b, err := Encode(h, g)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return fileio.WriteAtomic(path, b)
}
