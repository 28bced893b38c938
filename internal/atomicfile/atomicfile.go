package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
)

// Write replaces path with data:
//   - ensures the parent directory exists (0700)
//   - writes to a temp file in the same directory, matching pattern
//   - syncs, chmods to 0600 and renames over path
//
// Readers never observe a partially written file.
func Write(path string, data []byte, pattern string) error {
	if path == "" {
		return errors.New("atomicfile: path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any error; after a successful rename this
	// is a no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
