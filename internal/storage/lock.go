package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFile guards an export directory against concurrent writers
const LockFile = ".runport.lock"

// Lock is a held directory lock
type Lock struct {
	path string
}

// AcquireLock creates the lock file in dir, failing if another writer holds it
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFile)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("export directory is locked by %s", path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file %s", path)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
