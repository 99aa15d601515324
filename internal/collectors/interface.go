package collectors

import (
	"context"

	"github.com/yairfalse/runport/internal/snapshot"
	"github.com/yairfalse/runport/pkg/types"
)

// Provider is the read-only cloud API surface the export depends on.
// Implementations classify failures with errors.OutcomeError so callers can
// tell NotFound from PermissionDenied from Unavailable.
type Provider interface {
	// ListLocations returns every region the service is offered in
	ListLocations(ctx context.Context) ([]string, error)

	// List returns the resources of kind deployed in region
	List(ctx context.Context, kind, region string) ([]types.ResourceRef, error)

	// Describe returns the raw configuration document of a resource
	Describe(ctx context.Context, kind string, ref types.ResourceRef) (types.ResourceConfig, error)

	// GetIamPolicy returns the IAM bindings attached to a resource
	GetIamPolicy(ctx context.Context, kind string, ref types.ResourceRef) ([]types.IamBinding, error)

	// DescribeIdentity returns a service account, or a NotFound outcome error
	DescribeIdentity(ctx context.Context, email string) (*types.ServiceAccountInfo, error)
}

// IdentityResolver finds the identity email a raw document references
type IdentityResolver interface {
	IdentityEmail(kind string, raw any) string
}

// Normalizer converts a described resource into its canonical form
type Normalizer interface {
	Normalize(ref types.ResourceRef, kind string, raw any, bindings []types.IamBinding, identity *types.ServiceAccountInfo) (*types.CanonicalResource, error)
}

// Progress receives one tick per finished describe
type Progress interface {
	Increment(delta int64)
}

// Recorder keeps the raw description of a resource before it is discarded
type Recorder interface {
	Record(ref types.ResourceRef, config types.ResourceConfig, bindings []types.IamBinding, identity *types.ServiceAccountInfo) ([]snapshot.File, error)
}
