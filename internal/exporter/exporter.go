// Package exporter runs one export: enumerate, describe, normalize,
// synthesize, write and optionally publish.
package exporter

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/yairfalse/runport/internal/cache"
	"github.com/yairfalse/runport/internal/collectors"
	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/internal/normalizer"
	"github.com/yairfalse/runport/internal/publish"
	"github.com/yairfalse/runport/internal/snapshot"
	"github.com/yairfalse/runport/internal/storage"
	"github.com/yairfalse/runport/internal/synth"
	"github.com/yairfalse/runport/pkg/types"
)

// Stages of warnings raised after the describe pool
const (
	StageSynthesis = "synthesis"
	StagePublish   = "publish"
)

// Config holds everything one export run needs. It is resolved once by the
// caller; nothing here reads the environment.
type Config struct {
	Kind           string
	ProjectID      string
	Region         string
	// Regions to enumerate, global region first. Empty means every
	// location the provider reports.
	Regions        []string
	OutDir         string
	Workers        int
	RequestTimeout time.Duration
	KeepHistory    bool
}

// Progress follows the describe phase
type Progress interface {
	collectors.Progress
	Start(total int64)
	Finish()
}

// Publisher mirrors the written export somewhere else
type Publisher interface {
	Publish(ctx context.Context, dir string, names []string) (*publish.Result, error)
}

// Exporter wires the pipeline components together
type Exporter struct {
	provider   *cache.IdentityProvider
	normalizer *normalizer.ResourceNormalizer
	config     Config
	progress   Progress
	publisher  Publisher
	logger     logger.Logger
	now        func() time.Time
}

// New creates an exporter reading from provider
func New(provider collectors.Provider, config Config, log logger.Logger) *Exporter {
	if log == nil {
		log = logger.Discard()
	}
	if config.Kind == "" {
		config.Kind = types.KindRunService
	}
	return &Exporter{
		provider:   cache.NewIdentityProvider(provider),
		normalizer: normalizer.NewResourceNormalizer(),
		config:     config,
		logger:     log,
		now:        time.Now,
	}
}

// WithProgress reports describe progress to p
func (e *Exporter) WithProgress(p Progress) *Exporter {
	e.progress = p
	return e
}

// WithPublisher mirrors every successful export through p
func (e *Exporter) WithPublisher(p Publisher) *Exporter {
	e.publisher = p
	return e
}

// Run performs one export. The summary is returned even on failure and its
// ExitCode is always set; the error is non-nil only for failures that
// stopped the run (enumeration, normalization, synthesis, write).
// Cancelling ctx stops new describes and writes what was gathered.
func (e *Exporter) Run(ctx context.Context) (*Summary, error) {
	start := e.now()
	summary := &Summary{
		ProjectID: e.config.ProjectID,
		Region:    e.config.Region,
		OutDir:    e.config.OutDir,
	}
	finish := func(err error) (*Summary, error) {
		summary.Duration = e.now().Sub(start)
		summary.ExitCode = exitCode(summary, err)
		if err != nil {
			summary.Error = err.Error()
		}
		return summary, err
	}

	log := e.logger.WithFields(map[string]interface{}{
		"project": e.config.ProjectID,
		"kind":    e.config.Kind,
	})

	refs, err := collectors.NewEnumerator(e.provider, e.config.RequestTimeout, log).Enumerate(ctx, e.config.Kind, e.config.Regions)
	if err != nil {
		return finish(e.enumerationFailed(err))
	}
	log.WithField("resources", len(refs)).Info("Enumerated resources")

	pool := collectors.NewPool(
		collectors.NewDescriber(e.provider, e.normalizer, e.config.Kind, e.config.RequestTimeout, log),
		e.normalizer,
		e.config.Kind,
		e.config.Workers,
		log,
	).WithRecorder(snapshot.NewRecorder(e.config.Region))

	if e.progress != nil {
		e.progress.Start(int64(len(refs)))
		pool.WithProgress(e.progress)
	}
	pooled, err := pool.Run(ctx, refs)
	if e.progress != nil {
		e.progress.Finish()
	}
	if err != nil {
		return finish(err)
	}

	stats := e.provider.Stats()
	log.WithFields(map[string]interface{}{
		"hits":   stats.Hits,
		"misses": stats.Misses,
	}).Debug("Identity lookups")

	summary.Skipped = pooled.Skipped
	summary.Warnings = append(summary.Warnings, pooled.Warnings...)
	summary.Cancelled = pooled.Cancelled

	manifest := types.NewExportManifest(e.config.ProjectID, e.config.Region, e.normalizer.Version(e.config.Kind))
	for _, r := range pooled.Resources {
		if err := manifest.Add(*r); err != nil {
			return finish(errors.NormalizationError(r.Ref.String(), err.Error()))
		}
	}
	summary.Resources = manifest.Refs()
	log.WithField("resources", manifest.ResourceCount()).Debug("Assembled manifest")

	synthesized, err := synth.New(log).Synthesize(manifest)
	if err != nil {
		return finish(err)
	}
	for _, w := range synthesized.Warnings {
		summary.Warnings = append(summary.Warnings, collectors.Warning{
			Resource: w.Resource.String(),
			Stage:    StageSynthesis,
			Message:  fmt.Sprintf("%s: %s", w.Attribute, w.Message),
		})
	}
	summary.Variables = len(synthesized.Variables)

	files := make([]storage.File, 0, len(synthesized.Artifacts)+len(pooled.Snapshots))
	for _, a := range synthesized.Artifacts {
		files = append(files, storage.File{Name: a.Name, Content: a.Content})
	}
	for _, s := range pooled.Snapshots {
		files = append(files, storage.File{Name: s.Name, Content: s.Content})
	}

	written, err := storage.NewExportWriter(e.config.OutDir, e.config.KeepHistory, log).Write(manifest, files)
	if err != nil {
		return finish(err)
	}
	summary.Diff = written.Diff
	summary.Written = written.Written
	summary.Unchanged = written.Unchanged
	summary.Removed = written.Removed

	if e.publisher != nil {
		e.publish(ctx, summary, manifest)
	}

	return finish(nil)
}

// publish never fails the run; the local export is already committed
func (e *Exporter) publish(ctx context.Context, summary *Summary, manifest *types.ExportManifest) {
	if ctx.Err() != nil {
		summary.Warnings = append(summary.Warnings, collectors.Warning{
			Stage:   StagePublish,
			Outcome: errors.OutcomeCancelled,
			Message: "skipped, export was interrupted",
		})
		return
	}

	names := append(manifest.ArtifactNames(), storage.ManifestFile)
	result, err := e.publisher.Publish(ctx, e.config.OutDir, names)
	if result != nil {
		summary.Published = result.Objects
	}
	if err != nil {
		e.logger.Error("Publishing export failed", err)
		summary.Warnings = append(summary.Warnings, collectors.Warning{
			Stage:   StagePublish,
			Outcome: errors.OutcomeOf(err),
			Message: err.Error(),
		})
	}
}

func (e *Exporter) enumerationFailed(err error) error {
	var runErr *errors.RunError
	if stderrors.As(err, &runErr) && runErr.Type == errors.ErrorTypeEnumeration {
		return errors.EnumerationFailed(e.config.ProjectID, runErr.Err)
	}
	return errors.EnumerationFailed(e.config.ProjectID, err)
}

func exitCode(summary *Summary, err error) int {
	if err != nil {
		return errors.GetExitCode(err)
	}
	if len(summary.Skipped) > 0 {
		return errors.ExitPartial
	}
	return errors.ExitOK
}
