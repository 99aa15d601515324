package collectors

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/internal/snapshot"
	"github.com/yairfalse/runport/pkg/types"
)

// ReasonCancelled marks refs that were never described because the run was interrupted
const ReasonCancelled = "cancelled"

// DefaultWorkers is the describe concurrency when none is configured
const DefaultWorkers = 8

// Skipped is a resource left out of the export
type Skipped struct {
	Ref     types.ResourceRef `json:"ref"`
	Reason  string            `json:"reason"`
	Outcome errors.Outcome    `json:"outcome,omitempty"`
	Message string            `json:"message,omitempty"`
}

// PoolResult is the outcome of describing and normalizing a set of refs
type PoolResult struct {
	Resources []*types.CanonicalResource
	Snapshots []snapshot.File
	Skipped   []Skipped
	Warnings  []Warning
	Cancelled bool
}

// Pool describes and normalizes refs with bounded concurrency
type Pool struct {
	describer  *Describer
	normalizer Normalizer
	kind       string
	workers    int64
	progress   Progress
	recorder   Recorder
	logger     logger.Logger
}

// NewPool creates a pool running at most workers describes at once
func NewPool(describer *Describer, normalizer Normalizer, kind string, workers int, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Pool{
		describer:  describer,
		normalizer: normalizer,
		kind:       kind,
		workers:    int64(workers),
		logger:     log,
	}
}

// WithProgress reports each finished ref to p
func (p *Pool) WithProgress(progress Progress) *Pool {
	p.progress = progress
	return p
}

// WithRecorder keeps raw snapshots of every exported resource
func (p *Pool) WithRecorder(recorder Recorder) *Pool {
	p.recorder = recorder
	return p
}

type poolItem struct {
	resource  *types.CanonicalResource
	snapshots []snapshot.File
	skipped   *Skipped
	warnings  []Warning
}

// Run processes refs. Cancelling ctx stops new describes; calls already in
// flight finish under their own timeout and refs never started come back as
// skipped with ReasonCancelled. A NormalizationError is fatal and returned
// after in-flight work drains. Results keep the order of refs.
func (p *Pool) Run(ctx context.Context, refs []types.ResourceRef) (*PoolResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(p.workers)
	items := make([]poolItem, len(refs))

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)

	// in-flight calls must not be torn down by the interrupt
	detached := context.WithoutCancel(ctx)

	started := 0
	for i, ref := range refs {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}
		if runCtx.Err() != nil {
			sem.Release(1)
			break
		}
		started++

		wg.Add(1)
		go func(i int, ref types.ResourceRef) {
			defer wg.Done()
			defer sem.Release(1)

			item, err := p.process(detached, ref)
			if err != nil {
				fatalMu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				fatalMu.Unlock()
				cancel()
				return
			}
			items[i] = item
			if p.progress != nil {
				p.progress.Increment(1)
			}
		}(i, ref)
	}

	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}

	result := &PoolResult{}
	for i, ref := range refs {
		if i >= started {
			result.Cancelled = true
			result.Skipped = append(result.Skipped, Skipped{
				Ref:     ref,
				Reason:  ReasonCancelled,
				Outcome: errors.OutcomeCancelled,
				Message: "export interrupted before describe started",
			})
			continue
		}
		item := items[i]
		result.Warnings = append(result.Warnings, item.warnings...)
		if item.skipped != nil {
			result.Skipped = append(result.Skipped, *item.skipped)
			continue
		}
		result.Resources = append(result.Resources, item.resource)
		result.Snapshots = append(result.Snapshots, item.snapshots...)
	}

	if result.Cancelled {
		p.logger.WithFields(map[string]interface{}{
			"started":   started,
			"cancelled": len(refs) - started,
		}).Warn("Export interrupted, writing partial results")
	}

	return result, nil
}

// process returns an error only for failures that must abort the run
func (p *Pool) process(ctx context.Context, ref types.ResourceRef) (poolItem, error) {
	log := p.logger.WithField("resource", ref.String())

	desc, err := p.describer.Describe(ctx, ref)
	if err != nil {
		outcome := errors.OutcomeOf(err)
		log.WithField("outcome", outcome).Error("Skipping resource", err)
		return poolItem{skipped: &Skipped{
			Ref:     ref,
			Reason:  string(outcome),
			Outcome: outcome,
			Message: err.Error(),
		}}, nil
	}

	resource, err := p.normalizer.Normalize(ref, p.kind, desc.Config, desc.Bindings, desc.Identity)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNormalization) {
			return poolItem{}, err
		}
		return poolItem{}, errors.NormalizationError(ref.String(), fmt.Sprintf("normalize: %v", err))
	}

	item := poolItem{resource: resource, warnings: desc.Warnings}
	if p.recorder != nil {
		files, err := p.recorder.Record(ref, desc.Config, desc.Bindings, desc.Identity)
		if err != nil {
			log.WithField("error", err).Warn("Raw snapshot not kept")
			item.warnings = append(item.warnings, Warning{
				Resource: ref.String(),
				Stage:    StageSnapshot,
				Message:  err.Error(),
			})
		}
		item.snapshots = files
	}

	log.Debug("Described resource")
	return item, nil
}
