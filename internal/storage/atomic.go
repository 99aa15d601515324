package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// tempMarker separates a target name from the random suffix of its staged copy
const tempMarker = ".tmp."

// backupTimeFormat keeps backups of the same file within one second apart
const backupTimeFormat = "20060102-150405.000000000"

// AtomicWriter stages files next to their target and commits them by rename,
// so a reader only ever sees the old or the new content.
type AtomicWriter struct {
	dir       string
	backupDir string
	rename    func(oldpath, newpath string) error
	now       func() time.Time
}

// NewAtomicWriter creates a writer for dir. An empty backupDir disables backups.
func NewAtomicWriter(dir, backupDir string) *AtomicWriter {
	return &AtomicWriter{
		dir:       dir,
		backupDir: backupDir,
		rename:    os.Rename,
		now:       time.Now,
	}
}

// Stage writes data to a temporary file beside name and returns its path
func (w *AtomicWriter) Stage(name string, data []byte) (string, error) {
	tempFile := filepath.Join(w.dir, name+tempMarker+generateTempSuffix())

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := w.verifyFileIntegrity(tempFile, data); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("file integrity check failed: %w", err)
	}

	return tempFile, nil
}

// Commit backs up the current content of name, then renames tempFile over it
func (w *AtomicWriter) Commit(tempFile, name string) error {
	target := filepath.Join(w.dir, name)

	if err := w.createBackup(target); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if err := w.rename(tempFile, target); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Remove backs up name, then deletes it. A missing file is not an error.
func (w *AtomicWriter) Remove(name string) error {
	target := filepath.Join(w.dir, name)

	if err := w.createBackup(target); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanupTemps removes staged files left behind by an interrupted run
func (w *AtomicWriter) CleanupTemps() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.Contains(entry.Name(), tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove leftover %s: %w", entry.Name(), err)
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}

// Discard removes staged files that will not be committed
func (w *AtomicWriter) Discard(tempFiles ...string) {
	for _, f := range tempFiles {
		os.Remove(f)
	}
}

// createBackup copies an existing file into the backup directory
func (w *AtomicWriter) createBackup(filename string) error {
	if w.backupDir == "" {
		return nil // Backups disabled
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil // No file to backup
	}

	if err := os.MkdirAll(w.backupDir, 0755); err != nil {
		return err
	}

	timestamp := w.now().UTC().Format(backupTimeFormat)
	backupName := fmt.Sprintf("%s.%s.backup", filepath.Base(filename), timestamp)
	return copyFile(filename, filepath.Join(w.backupDir, backupName))
}

// verifyFileIntegrity verifies that written data matches expected data
func (w *AtomicWriter) verifyFileIntegrity(filename string, expectedData []byte) error {
	actualData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	expectedHash := sha256.Sum256(expectedData)
	actualHash := sha256.Sum256(actualData)

	if expectedHash != actualHash {
		return fmt.Errorf("hash mismatch")
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// generateTempSuffix generates a unique suffix for temporary files
func generateTempSuffix() string {
	timestamp := time.Now().UnixNano()
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d-%d", timestamp, os.Getpid())))
	return hex.EncodeToString(hash[:4])
}
