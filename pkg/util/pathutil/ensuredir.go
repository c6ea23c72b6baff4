package pathutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// EnsureDir creates path if it does not exist and returns its absolute form.
func EnsureDir(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to expand path")
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		if err := os.MkdirAll(absPath, 0750); err != nil {
			return "", errors.Wrap(err, "failed to create dir")
		}
	}

	return absPath, nil
}
