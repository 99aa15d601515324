package collectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/pkg/types"
)

// fakeProvider serves canned documents keyed by ref key
type fakeProvider struct {
	mu sync.Mutex

	locations    []string
	locationsErr error
	listed       map[string][]types.ResourceRef
	listErr      map[string]error
	configs      map[string]types.ResourceConfig
	describeErr  map[string]error
	policies     map[string][]types.IamBinding
	policyErr    map[string]error
	identities   map[string]*types.ServiceAccountInfo
	identityErr  error

	// listHook runs before ListLocations and List return
	listHook func(ctx context.Context) error

	// describeHook runs before Describe returns; used to block in-flight calls
	describeHook func(ctx context.Context, ref types.ResourceRef) error

	describeCalls []string
	identityCalls []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		listed:      map[string][]types.ResourceRef{},
		listErr:     map[string]error{},
		configs:     map[string]types.ResourceConfig{},
		describeErr: map[string]error{},
		policies:    map[string][]types.IamBinding{},
		policyErr:   map[string]error{},
		identities:  map[string]*types.ServiceAccountInfo{},
	}
}

func (f *fakeProvider) addService(ref types.ResourceRef, image, serviceAccount string) {
	f.listed[ref.Region] = append(f.listed[ref.Region], ref)
	template := map[string]any{
		"containers": []any{map[string]any{"image": image}},
	}
	if serviceAccount != "" {
		template["serviceAccount"] = serviceAccount
	}
	f.configs[ref.Key()] = types.ResourceConfig{"template": template}
}

func (f *fakeProvider) ListLocations(ctx context.Context) ([]string, error) {
	if f.listHook != nil {
		if err := f.listHook(ctx); err != nil {
			return nil, err
		}
	}
	return f.locations, f.locationsErr
}

func (f *fakeProvider) List(ctx context.Context, kind, region string) ([]types.ResourceRef, error) {
	if f.listHook != nil {
		if err := f.listHook(ctx); err != nil {
			return nil, err
		}
	}
	if err := f.listErr[region]; err != nil {
		return nil, err
	}
	return f.listed[region], nil
}

func (f *fakeProvider) Describe(ctx context.Context, kind string, ref types.ResourceRef) (types.ResourceConfig, error) {
	f.mu.Lock()
	f.describeCalls = append(f.describeCalls, ref.Key())
	f.mu.Unlock()

	if f.describeHook != nil {
		if err := f.describeHook(ctx, ref); err != nil {
			return nil, err
		}
	}
	if err := f.describeErr[ref.Key()]; err != nil {
		return nil, err
	}
	config, ok := f.configs[ref.Key()]
	if !ok {
		return nil, errors.NewOutcomeError(errors.OutcomeNotFound, fmt.Errorf("service %s not found", ref))
	}
	return config, nil
}

func (f *fakeProvider) GetIamPolicy(ctx context.Context, kind string, ref types.ResourceRef) ([]types.IamBinding, error) {
	if err := f.policyErr[ref.Key()]; err != nil {
		return nil, err
	}
	return f.policies[ref.Key()], nil
}

func (f *fakeProvider) DescribeIdentity(ctx context.Context, email string) (*types.ServiceAccountInfo, error) {
	f.mu.Lock()
	f.identityCalls = append(f.identityCalls, email)
	f.mu.Unlock()

	if f.identityErr != nil {
		return nil, f.identityErr
	}
	sa, ok := f.identities[email]
	if !ok {
		return nil, errors.NewOutcomeError(errors.OutcomeNotFound, fmt.Errorf("service account %s not found", email))
	}
	return sa, nil
}

// templateResolver reads template.serviceAccount
type templateResolver struct{}

func (templateResolver) IdentityEmail(kind string, raw any) string {
	doc, ok := raw.(types.ResourceConfig)
	if !ok {
		return ""
	}
	template, _ := doc["template"].(map[string]any)
	email, _ := template["serviceAccount"].(string)
	return email
}

// passthroughNormalizer keeps the image only
type passthroughNormalizer struct {
	fail map[string]error
}

func (n passthroughNormalizer) Normalize(ref types.ResourceRef, kind string, raw any, bindings []types.IamBinding, identity *types.ServiceAccountInfo) (*types.CanonicalResource, error) {
	if err := n.fail[ref.Key()]; err != nil {
		return nil, err
	}
	doc := raw.(types.ResourceConfig)
	template := doc["template"].(map[string]any)
	container := template["containers"].([]any)[0].(map[string]any)
	return &types.CanonicalResource{
		Ref:        ref,
		Kind:       kind,
		Attributes: map[string]any{"image": container["image"]},
		Bindings:   types.MergeBindings(bindings),
		Identity:   identity,
	}, nil
}
