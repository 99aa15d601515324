package collectors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/pkg/types"
)

// Enumerator lists the resources an export covers
type Enumerator struct {
	provider Provider
	timeout  time.Duration
	logger   logger.Logger
}

// NewEnumerator creates an enumerator over provider. Every listing call is bounded by timeout.
func NewEnumerator(provider Provider, timeout time.Duration, log logger.Logger) *Enumerator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Enumerator{provider: provider, timeout: timeout, logger: log}
}

// Enumerate lists kind in every region and returns refs de-duplicated by
// (name, region) and ordered by region, then name. An empty region list
// means every location the provider reports. Listing is not retried: any
// failure aborts with an EnumerationError.
func (e *Enumerator) Enumerate(ctx context.Context, kind string, regions []string) ([]types.ResourceRef, error) {
	if len(regions) == 0 {
		locations, err := e.listLocations(ctx)
		if err != nil {
			return nil, errors.EnumerationError(fmt.Errorf("listing locations: %w", err))
		}
		regions = locations
		e.logger.WithField("regions", len(regions)).Debug("Resolved all regions from provider")
	}

	regions = uniqueStrings(regions)

	seen := make(map[string]bool)
	var refs []types.ResourceRef
	for _, region := range regions {
		listed, err := e.list(ctx, kind, region)
		if err != nil {
			return nil, errors.EnumerationError(fmt.Errorf("listing %s in %s: %w", kind, region, err))
		}

		for _, ref := range listed {
			if ref.Region == "" {
				ref.Region = region
			}
			if err := ref.Validate(); err != nil {
				e.logger.WithField("region", region).Warn(fmt.Sprintf("Ignoring unnamed resource: %v", err))
				continue
			}
			if seen[ref.Key()] {
				continue
			}
			seen[ref.Key()] = true
			refs = append(refs, ref)
		}

		e.logger.WithFields(map[string]interface{}{
			"region": region,
			"count":  len(listed),
		}).Debug("Listed resources")
	}

	types.SortRefs(refs)
	return refs, nil
}

func (e *Enumerator) listLocations(ctx context.Context) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.provider.ListLocations(callCtx)
}

func (e *Enumerator) list(ctx context.Context, kind, region string) ([]types.ResourceRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.provider.List(callCtx, kind, region)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
