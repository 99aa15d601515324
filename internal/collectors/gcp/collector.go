package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	run "google.golang.org/api/run/v1"

	"github.com/yairfalse/runport/internal/collectors"
	"github.com/yairfalse/runport/pkg/types"
)

// listPageSize bounds each services.list page
const listPageSize = 500

// RunCollector serves Cloud Run services through the Admin API v1
type RunCollector struct {
	client *Client
}

var _ collectors.Provider = (*RunCollector)(nil)

// NewRunCollector creates a provider for Cloud Run services
func NewRunCollector(client *Client) *RunCollector {
	return &RunCollector{client: client}
}

// ListLocations returns every Cloud Run region available to the project
func (c *RunCollector) ListLocations(ctx context.Context) ([]string, error) {
	var regions []string
	pageToken := ""
	for {
		call := c.client.runService.Projects.Locations.List(c.client.projectName()).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}
		for _, loc := range resp.Locations {
			if loc.LocationId != "" {
				regions = append(regions, loc.LocationId)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	sort.Strings(regions)
	return regions, nil
}

// List returns the services deployed in region
func (c *RunCollector) List(ctx context.Context, kind, region string) ([]types.ResourceRef, error) {
	if kind != types.KindRunService {
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}

	var refs []types.ResourceRef
	continueToken := ""
	for {
		call := c.client.runService.Projects.Locations.Services.List(c.client.locationName(region)).
			Limit(listPageSize).
			Context(ctx)
		if continueToken != "" {
			call = call.Continue(continueToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}
		for _, svc := range resp.Items {
			if svc.Metadata == nil || svc.Metadata.Name == "" {
				continue
			}
			refs = append(refs, types.ResourceRef{Name: svc.Metadata.Name, Region: region})
		}
		if resp.Metadata == nil || resp.Metadata.Continue == "" {
			break
		}
		continueToken = resp.Metadata.Continue
	}

	return refs, nil
}

// Describe returns the service document as a generic mapping
func (c *RunCollector) Describe(ctx context.Context, kind string, ref types.ResourceRef) (types.ResourceConfig, error) {
	if kind != types.KindRunService {
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}

	svc, err := c.client.runService.Projects.Locations.Services.Get(c.client.serviceName(ref.Region, ref.Name)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}

	return toResourceConfig(svc)
}

// toResourceConfig re-decodes the typed API struct so the normalizer sees
// the same wire shape regardless of client library version
func toResourceConfig(svc *run.Service) (types.ResourceConfig, error) {
	data, err := json.Marshal(svc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode service: %w", err)
	}
	var config types.ResourceConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to decode service: %w", err)
	}
	return config, nil
}
