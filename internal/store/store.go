package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultDBFile = "goobtool.db"
)

// CheckExists verifies if the embedded datastore exists in the given directory.
// Returns true if the store exists, false otherwise.
func CheckExists(storePath string) (bool, error) {
	dbPath := GetDBPath(storePath)
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: check store existence: %w", ErrStorage, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: datastore path is a directory, expected file: %s", ErrStorage, dbPath)
	}
	return true, nil
}

// EnsureStorePath creates the datastore directory if it is missing.
func EnsureStorePath(storePath string) error {
	if err := os.MkdirAll(storePath, 0o750); err != nil {
		return fmt.Errorf("%w: create store directory: %w", ErrStorage, err)
	}
	return nil
}

// GetStorePath returns the default datastore directory: the current working directory.
func GetStorePath() string {
	return "."
}

// GetDBPath returns the full path to the embedded database file.
func GetDBPath(storePath string) string {
	return filepath.Join(storePath, DefaultDBFile)
}
