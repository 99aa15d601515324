package types

import (
	"errors"
	"sort"
	"strings"
)

// ResourceRef identifies a deployed service within the export
type ResourceRef struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Key returns the manifest key for the reference
func (r ResourceRef) Key() string {
	return r.Region + "/" + r.Name
}

// String returns a string representation of the reference
func (r ResourceRef) String() string {
	return r.Name + " (" + r.Region + ")"
}

// Validate checks that both parts of the reference are set
func (r ResourceRef) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("resource name is required")
	}
	if strings.TrimSpace(r.Region) == "" {
		return errors.New("resource region is required")
	}
	return nil
}

// Less orders references by region, then name
func (r ResourceRef) Less(other ResourceRef) bool {
	if r.Region != other.Region {
		return r.Region < other.Region
	}
	return r.Name < other.Name
}

// SortRefs sorts references in place by region, then name
func SortRefs(refs []ResourceRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

// ResourceConfig is the raw provider document describing a resource
type ResourceConfig map[string]any

// IamBinding associates a role with a set of members
type IamBinding struct {
	Role    string   `json:"role" yaml:"role"`
	Members []string `json:"members" yaml:"members"`
}

// NewIamBinding creates a binding with a sorted, de-duplicated member set
func NewIamBinding(role string, members ...string) IamBinding {
	return IamBinding{Role: role, Members: uniqueSorted(members)}
}

// MergeBindings folds bindings sharing a role into one and orders them by role
func MergeBindings(bindings []IamBinding) []IamBinding {
	byRole := make(map[string][]string)
	for _, b := range bindings {
		if strings.TrimSpace(b.Role) == "" {
			continue
		}
		byRole[b.Role] = append(byRole[b.Role], b.Members...)
	}

	roles := make([]string, 0, len(byRole))
	for role := range byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	merged := make([]IamBinding, 0, len(roles))
	for _, role := range roles {
		merged = append(merged, NewIamBinding(role, byRole[role]...))
	}
	return merged
}

// ServiceAccountInfo describes the identity a resource runs as
type ServiceAccountInfo struct {
	Email       string `json:"email" yaml:"email"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	UniqueID    string `json:"unique_id,omitempty" yaml:"unique_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// AccountID returns the local part of the service account email
func (s *ServiceAccountInfo) AccountID() string {
	if i := strings.Index(s.Email, "@"); i >= 0 {
		return s.Email[:i]
	}
	return s.Email
}

// CanonicalResource is the provider-agnostic model of one exported resource
type CanonicalResource struct {
	Ref        ResourceRef         `json:"ref"`
	Kind       string              `json:"kind"`
	Attributes map[string]any      `json:"attributes"`
	Extra      map[string]any      `json:"extra,omitempty"`
	Bindings   []IamBinding        `json:"bindings"`
	Identity   *ServiceAccountInfo `json:"identity,omitempty"`
}

// Validate checks if the resource has all required fields
func (r *CanonicalResource) Validate() error {
	if err := r.Ref.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Kind) == "" {
		return errors.New("resource kind is required")
	}
	seen := make(map[string]bool, len(r.Bindings))
	for _, b := range r.Bindings {
		if seen[b.Role] {
			return errors.New("duplicate binding for role " + b.Role)
		}
		seen[b.Role] = true
	}
	return nil
}

// GetAttribute returns a canonical attribute by key
func (r *CanonicalResource) GetAttribute(key string) (any, bool) {
	if r.Attributes == nil {
		return nil, false
	}
	value, exists := r.Attributes[key]
	return value, exists
}

// StringAttribute returns a string attribute, or empty string if absent
func (r *CanonicalResource) StringAttribute(key string) string {
	value, ok := r.GetAttribute(key)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
