package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/pkg/types"
)

// ManifestFile is the name of the manifest inside an export directory
const ManifestFile = "manifest.json"

// HistoryDir holds backups of overwritten and removed files
const HistoryDir = ".history"

// File is one artifact written next to the manifest
type File struct {
	Name    string
	Content []byte
}

// WriteResult describes what a write changed on disk
type WriteResult struct {
	Diff      *ManifestDiff
	Written   []string
	Unchanged []string
	Removed   []string
}

// ExportWriter is the only component that mutates an export directory
type ExportWriter struct {
	dir    string
	writer *AtomicWriter
	logger logger.Logger
}

// NewExportWriter creates a writer for dir. With keepHistory every file about
// to be overwritten or removed is first copied to dir/.history.
func NewExportWriter(dir string, keepHistory bool, log logger.Logger) *ExportWriter {
	if log == nil {
		log = logger.Discard()
	}
	backupDir := ""
	if keepHistory {
		backupDir = filepath.Join(dir, HistoryDir)
	}
	return &ExportWriter{
		dir:    dir,
		writer: NewAtomicWriter(dir, backupDir),
		logger: log.WithField("dir", dir),
	}
}

// ReadManifest loads the manifest of dir. A missing manifest is an empty export.
func ReadManifest(dir string) (*types.ExportManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &types.ExportManifest{Resources: map[string]types.CanonicalResource{}}, nil
		}
		return nil, err
	}
	return types.UnmarshalManifest(data)
}

type stagedFile struct {
	name     string
	temp     string
	existed  bool
	previous []byte
}

// Write replaces the export with manifest and files. Every file is staged
// before anything is committed; commits go by rename with the manifest last.
// A failed commit rolls back the files already committed, so the prior export
// stays as it was. The manifest's artifact index is set from files.
func (w *ExportWriter) Write(manifest *types.ExportManifest, files []File) (*WriteResult, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, errors.WriteError(w.dir, err)
	}

	lock, err := AcquireLock(w.dir)
	if err != nil {
		return nil, errors.WriteError(w.dir, err).
			WithCause("Another export is writing to this directory").
			WithSolutions(
				"Wait for the running export to finish",
				fmt.Sprintf("Remove %s if no export is running", filepath.Join(w.dir, LockFile)),
			)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			w.logger.Error("Failed to release lock", err)
		}
	}()

	leftovers, err := w.writer.CleanupTemps()
	if err != nil {
		return nil, errors.WriteError(w.dir, err)
	}
	if len(leftovers) > 0 {
		w.logger.WithField("files", leftovers).Warn("Removed files left by an interrupted export")
	}

	if err := checkNames(files); err != nil {
		return nil, errors.WriteError(w.dir, err)
	}

	prior, err := ReadManifest(w.dir)
	if err != nil {
		return nil, errors.WriteError(filepath.Join(w.dir, ManifestFile), err).
			WithSolutions("Move the damaged manifest.json aside and run the export again")
	}

	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	digests := make([]types.ArtifactDigest, 0, len(sorted))
	for _, f := range sorted {
		digests = append(digests, types.NewArtifactDigest(f.Name, f.Content))
	}
	manifest.SetArtifacts(digests)

	manifestData, err := manifest.Marshal()
	if err != nil {
		return nil, errors.WriteError(ManifestFile, err)
	}

	result := &WriteResult{}
	result.Diff, err = DiffManifests(prior, manifest)
	if err != nil {
		return nil, errors.WriteError(ManifestFile, err)
	}

	// manifest goes last
	sorted = append(sorted, File{Name: ManifestFile, Content: manifestData})

	var staged []stagedFile
	for _, f := range sorted {
		previous, err := os.ReadFile(filepath.Join(w.dir, f.Name))
		existed := err == nil
		if existed && bytes.Equal(previous, f.Content) {
			result.Unchanged = append(result.Unchanged, f.Name)
			continue
		}
		temp, err := w.writer.Stage(f.Name, f.Content)
		if err != nil {
			w.discard(staged)
			return nil, errors.WriteError(filepath.Join(w.dir, f.Name), err)
		}
		staged = append(staged, stagedFile{name: f.Name, temp: temp, existed: existed, previous: previous})
	}

	for i, s := range staged {
		if err := w.writer.Commit(s.temp, s.name); err != nil {
			w.discard(staged[i:])
			w.rollback(staged[:i])
			return nil, errors.WriteError(filepath.Join(w.dir, s.name), err)
		}
		result.Written = append(result.Written, s.name)
	}

	produced := make(map[string]bool, len(sorted))
	for _, f := range sorted {
		produced[f.Name] = true
	}
	for _, name := range prior.ArtifactNames() {
		if produced[name] || !safeName(name) {
			continue
		}
		if err := w.writer.Remove(name); err != nil {
			w.logger.WithField("file", name).Error("Failed to remove stale artifact", err)
			continue
		}
		result.Removed = append(result.Removed, name)
	}

	w.logger.WithFields(map[string]interface{}{
		"written":   len(result.Written),
		"unchanged": len(result.Unchanged),
		"removed":   len(result.Removed),
	}).Info("Export written")

	return result, nil
}

// rollback restores files committed before a failed commit, newest first
func (w *ExportWriter) rollback(committed []stagedFile) {
	for i := len(committed) - 1; i >= 0; i-- {
		s := committed[i]
		target := filepath.Join(w.dir, s.name)
		if !s.existed {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				w.logger.WithField("file", s.name).Error("Rollback failed", err)
			}
			continue
		}
		temp, err := w.writer.Stage(s.name, s.previous)
		if err == nil {
			err = w.writer.rename(temp, target)
		}
		if err != nil {
			w.writer.Discard(temp)
			w.logger.WithField("file", s.name).Error("Rollback failed", err)
		}
	}
}

func (w *ExportWriter) discard(staged []stagedFile) {
	temps := make([]string, 0, len(staged))
	for _, s := range staged {
		temps = append(temps, s.temp)
	}
	w.writer.Discard(temps...)
}

// safeName accepts plain file names inside the export directory
func safeName(name string) bool {
	return name != "" &&
		name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.HasPrefix(name, ".") &&
		!strings.Contains(name, tempMarker)
}

func checkNames(files []File) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if !safeName(f.Name) || f.Name == ManifestFile {
			return fmt.Errorf("invalid artifact name %q", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate artifact %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
