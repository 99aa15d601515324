// Package snapshot keeps the raw provider documents of an export as YAML files,
// the audit trail next to the canonical manifest.
package snapshot

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/runport/pkg/types"
)

// File name suffixes
const (
	ConfigSuffix   = "_config.yaml"
	IAMSuffix      = "_iam.yaml"
	IdentitySuffix = "_sa.yaml"
)

// File is one rendered snapshot
type File struct {
	Name    string
	Content []byte
}

// iamDocument mirrors the shape of a provider IAM policy
type iamDocument struct {
	Bindings []types.IamBinding `yaml:"bindings"`
}

// Recorder renders raw descriptions. Resources outside the export's region
// carry the region in their file names so names never collide.
type Recorder struct {
	region string
}

// NewRecorder creates a recorder for an export whose global region is region
func NewRecorder(region string) *Recorder {
	return &Recorder{region: region}
}

// BaseName is the file name prefix of a resource's snapshots
func (r *Recorder) BaseName(ref types.ResourceRef) string {
	if ref.Region == r.region {
		return ref.Name
	}
	return ref.Name + "." + ref.Region
}

// Record renders the config, IAM policy and, when present, identity of a
// resource. The identity file is omitted when the resource has none.
func (r *Recorder) Record(ref types.ResourceRef, config types.ResourceConfig, bindings []types.IamBinding, identity *types.ServiceAccountInfo) ([]File, error) {
	base := r.BaseName(ref)

	configData, err := encode(map[string]any(config))
	if err != nil {
		return nil, fmt.Errorf("failed to encode config of %s: %w", ref, err)
	}

	if bindings == nil {
		bindings = []types.IamBinding{}
	}
	iamData, err := encode(iamDocument{Bindings: bindings})
	if err != nil {
		return nil, fmt.Errorf("failed to encode IAM policy of %s: %w", ref, err)
	}

	files := []File{
		{Name: base + ConfigSuffix, Content: configData},
		{Name: base + IAMSuffix, Content: iamData},
	}

	if identity != nil {
		saData, err := encode(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to encode service account of %s: %w", ref, err)
		}
		files = append(files, File{Name: base + IdentitySuffix, Content: saData})
	}

	return files, nil
}

// encode writes YAML with two-space indentation; map keys come out sorted
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
