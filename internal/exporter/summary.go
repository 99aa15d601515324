package exporter

import (
	"time"

	"github.com/yairfalse/runport/internal/collectors"
	"github.com/yairfalse/runport/internal/storage"
	"github.com/yairfalse/runport/pkg/types"
)

// Summary is what a run reports back to the operator
type Summary struct {
	ProjectID string               `json:"project_id"`
	Region    string               `json:"region"`
	OutDir    string               `json:"out_dir"`
	Resources []types.ResourceRef  `json:"resources"`
	Skipped   []collectors.Skipped `json:"skipped,omitempty"`
	Warnings  []collectors.Warning `json:"warnings,omitempty"`
	Variables int                  `json:"variables"`

	Diff      *storage.ManifestDiff `json:"diff,omitempty"`
	Written   []string              `json:"written,omitempty"`
	Unchanged []string              `json:"unchanged,omitempty"`
	Removed   []string              `json:"removed,omitempty"`
	Published []string              `json:"published,omitempty"`

	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
}

// Complete reports whether every enumerated resource was exported
func (s *Summary) Complete() bool {
	return s.ExitCode == 0
}
