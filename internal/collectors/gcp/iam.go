package gcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/yairfalse/runport/pkg/types"
)

// GetIamPolicy returns the bindings of a service. Conditional bindings keep
// their role and members; the condition itself is not modelled.
func (c *RunCollector) GetIamPolicy(ctx context.Context, kind string, ref types.ResourceRef) ([]types.IamBinding, error) {
	if kind != types.KindRunService {
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}

	policy, err := c.client.runService.Projects.Locations.Services.GetIamPolicy(c.client.serviceName(ref.Region, ref.Name)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}

	bindings := make([]types.IamBinding, 0, len(policy.Bindings))
	for _, b := range policy.Bindings {
		if b == nil {
			continue
		}
		bindings = append(bindings, types.NewIamBinding(b.Role, b.Members...))
	}
	return types.MergeBindings(bindings), nil
}

// DescribeIdentity looks up a service account by email
func (c *RunCollector) DescribeIdentity(ctx context.Context, email string) (*types.ServiceAccountInfo, error) {
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid service account email %q", email)
	}

	sa, err := c.client.iamService.Projects.ServiceAccounts.Get("projects/-/serviceAccounts/" + email).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}

	return &types.ServiceAccountInfo{
		Email:       sa.Email,
		DisplayName: sa.DisplayName,
		Description: sa.Description,
		UniqueID:    sa.UniqueId,
		ProjectID:   sa.ProjectId,
		Disabled:    sa.Disabled,
	}, nil
}
