package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// HomeDir obtains the path to the user's home directory.
func HomeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.WithError(err).Warn("Failed to obtain home directory")
		return ""
	}
	return home
}

// Expand expands a leading ~ in path to the user's home directory.
func Expand(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	return homedir.Expand(path)
}

// DataDir returns a path to the directory used to store skyarena data. Such dir is ~/.skycoin/skyarena
func DataDir() string {
	return filepath.Join(HomeDir(), ".skycoin", "skyarena")
}

// AtomicWriteFile creates a temp file in which to write data, then renames it
// to filename for an atomic write. On failure the temp file is removed.
func AtomicWriteFile(filename string, data []byte) error {
	dir, name := filepath.Split(filename)
	if dir == "" {
		dir = "."
	}
	f, err := ioutil.TempFile(dir, name)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if permErr := os.Chmod(f.Name(), 0600); err == nil {
		err = permErr
	}
	if err == nil {
		err = os.Rename(f.Name(), filename)
	}

	if err != nil {
		if rmErr := os.Remove(f.Name()); rmErr != nil {
			log.WithError(rmErr).Warnf("Failed to remove file %s", f.Name())
		}
		return err
	}
	return nil
}
