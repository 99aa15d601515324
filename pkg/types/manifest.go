package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ManifestVersion is the on-disk format version of manifest.json
const ManifestVersion = 1

// ExportManifest is the durable, re-loadable result of an export
type ExportManifest struct {
	Version           int                          `json:"version"`
	NormalizerVersion int                          `json:"normalizer_version"`
	ProjectID         string                       `json:"project_id"`
	Region            string                       `json:"region"`
	Resources         map[string]CanonicalResource `json:"resources"`
	Artifacts         []ArtifactDigest             `json:"artifacts,omitempty"`
}

// ArtifactDigest records a file written alongside the manifest
type ArtifactDigest struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

// NewArtifactDigest hashes data for the artifact index
func NewArtifactDigest(name string, data []byte) ArtifactDigest {
	sum := sha256.Sum256(data)
	return ArtifactDigest{Name: name, SHA256: hex.EncodeToString(sum[:])}
}

// NewExportManifest creates an empty manifest for a project and region
func NewExportManifest(projectID, region string, normalizerVersion int) *ExportManifest {
	return &ExportManifest{
		Version:           ManifestVersion,
		NormalizerVersion: normalizerVersion,
		ProjectID:         projectID,
		Region:            region,
		Resources:         make(map[string]CanonicalResource),
	}
}

// Add inserts a resource, rejecting a second resource with the same ref
func (m *ExportManifest) Add(resource CanonicalResource) error {
	if err := resource.Validate(); err != nil {
		return fmt.Errorf("invalid resource %s: %w", resource.Ref, err)
	}
	if m.Resources == nil {
		m.Resources = make(map[string]CanonicalResource)
	}
	key := resource.Ref.Key()
	if _, exists := m.Resources[key]; exists {
		return fmt.Errorf("duplicate resource %s", resource.Ref)
	}
	m.Resources[key] = resource
	return nil
}

// Get returns the resource for a ref
func (m *ExportManifest) Get(ref ResourceRef) (CanonicalResource, bool) {
	r, ok := m.Resources[ref.Key()]
	return r, ok
}

// Refs returns every ref in the manifest ordered by region, then name
func (m *ExportManifest) Refs() []ResourceRef {
	refs := make([]ResourceRef, 0, len(m.Resources))
	for _, r := range m.Resources {
		refs = append(refs, r.Ref)
	}
	SortRefs(refs)
	return refs
}

// Sorted returns every resource ordered by region, then name
func (m *ExportManifest) Sorted() []CanonicalResource {
	refs := m.Refs()
	out := make([]CanonicalResource, 0, len(refs))
	for _, ref := range refs {
		out = append(out, m.Resources[ref.Key()])
	}
	return out
}

// ResourceCount returns the number of resources in the manifest
func (m *ExportManifest) ResourceCount() int {
	return len(m.Resources)
}

// SetArtifacts replaces the artifact index, ordered by name
func (m *ExportManifest) SetArtifacts(digests []ArtifactDigest) {
	sorted := append([]ArtifactDigest(nil), digests...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	m.Artifacts = sorted
}

// ArtifactNames returns the names recorded in the artifact index
func (m *ExportManifest) ArtifactNames() []string {
	names := make([]string, 0, len(m.Artifacts))
	for _, a := range m.Artifacts {
		names = append(names, a.Name)
	}
	return names
}

// Validate checks global fields and the key/ref agreement of every resource
func (m *ExportManifest) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return errors.New("manifest project_id is required")
	}
	if strings.TrimSpace(m.Region) == "" {
		return errors.New("manifest region is required")
	}
	for key, r := range m.Resources {
		if key != r.Ref.Key() {
			return fmt.Errorf("manifest key %q does not match resource %s", key, r.Ref)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("resource %s is invalid: %w", key, err)
		}
	}
	return nil
}

// Marshal serializes the manifest; equal manifests always yield equal bytes
func (m *ExportManifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalManifest loads a manifest written by Marshal
func UnmarshalManifest(data []byte) (*ExportManifest, error) {
	var m ExportManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Resources == nil {
		m.Resources = make(map[string]CanonicalResource)
	}
	return &m, nil
}
