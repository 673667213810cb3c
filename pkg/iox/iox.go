package iox

import (
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes src to a temporary file next to dstFilename, and then renames it into place.
// Readers that scan the directory never observe a partially written file.
func WriteFileAtomic(dstFilename string, src io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dstFilename), "."+filepath.Base(dstFilename)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err = os.Rename(tmpName, dstFilename); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
