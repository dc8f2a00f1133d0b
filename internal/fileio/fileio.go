// Package fileio holds the file helpers shared by the volume and streamline codecs.
package fileio

import (
	"bytes"
	"os"
	"path/filepath"

	"tractparc/internal/models"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ReadBytes returns the contents of a file as an array of bytes.
// Failures are reported as *models.IOError.
func ReadBytes(filename string) ([]byte, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, &models.IOError{Op: "read", Path: filename, Err: err}
	}
	return content, nil
}

// IsGzip reports whether b starts with the gzip magic. Compressed inputs are
// not supported, so callers use this to give a clearer error than a bad header.
func IsGzip(b []byte) bool {
	return bytes.HasPrefix(b, gzipMagic)
}

// File is one output of WriteAll
type File struct {
	Path string
	Data []byte
}

// staged is a file written to a temporary name next to its destination
type staged struct {
	path string
	tmp  string
}

func stage(f File) (staged, error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return staged{}, &models.IOError{Op: "create", Path: f.Path, Err: err}
	}
	s := staged{path: f.Path, tmp: tmp.Name()}

	if _, err := tmp.Write(f.Data); err != nil {
		tmp.Close()
		os.Remove(s.tmp)
		return staged{}, &models.IOError{Op: "write", Path: f.Path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(s.tmp)
		return staged{}, &models.IOError{Op: "close", Path: f.Path, Err: err}
	}
	if err := os.Chmod(s.tmp, 0644); err != nil {
		os.Remove(s.tmp)
		return staged{}, &models.IOError{Op: "chmod", Path: f.Path, Err: err}
	}
	return s, nil
}

// WriteAll writes every file or none of them. All data first goes to
// temporary files next to the destinations, which are then renamed into
// place. If any step fails, the temporary files and the destinations
// already renamed are removed.
func WriteAll(files []File) error {
	var pending []staged
	discard := func() {
		for _, s := range pending {
			os.Remove(s.tmp)
		}
	}

	for _, f := range files {
		s, err := stage(f)
		if err != nil {
			discard()
			return err
		}
		pending = append(pending, s)
	}

	for i, s := range pending {
		if err := os.Rename(s.tmp, s.path); err != nil {
			for _, done := range pending[:i] {
				os.Remove(done.path)
			}
			pending = pending[i:]
			discard()
			return &models.IOError{Op: "rename", Path: s.path, Err: err}
		}
	}
	return nil
}

// WriteAtomic writes data to a temporary file next to filename and renames it
// into place, so readers never observe a partially written file.
func WriteAtomic(filename string, data []byte) error {
	return WriteAll([]File{{Path: filename, Data: data}})
}
