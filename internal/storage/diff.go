package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/r3labs/diff"

	"github.com/yairfalse/runport/pkg/types"
)

// ResourceChange lists the canonical paths that differ for one resource
type ResourceChange struct {
	Ref   types.ResourceRef `json:"ref"`
	Paths []string          `json:"paths"`
}

// ManifestDiff compares an export against the one it replaces
type ManifestDiff struct {
	Added   []types.ResourceRef `json:"added"`
	Removed []types.ResourceRef `json:"removed"`
	Changed []ResourceChange    `json:"changed"`
}

// Empty reports whether the two manifests describe the same resources
func (d *ManifestDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffManifests computes added, removed and changed resources. A nil prior
// is an empty export.
func DiffManifests(prior, next *types.ExportManifest) (*ManifestDiff, error) {
	if prior == nil {
		prior = &types.ExportManifest{}
	}
	if next == nil {
		next = &types.ExportManifest{}
	}

	differ, err := diff.NewDiffer(diff.SliceOrdering(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create differ: %w", err)
	}

	d := &ManifestDiff{
		Added:   []types.ResourceRef{},
		Removed: []types.ResourceRef{},
		Changed: []ResourceChange{},
	}

	for _, ref := range next.Refs() {
		before, ok := prior.Get(ref)
		if !ok {
			d.Added = append(d.Added, ref)
			continue
		}
		after, _ := next.Get(ref)

		paths, err := changedPaths(differ, before, after)
		if err != nil {
			return nil, fmt.Errorf("failed to diff %s: %w", ref, err)
		}
		if len(paths) > 0 {
			d.Changed = append(d.Changed, ResourceChange{Ref: ref, Paths: paths})
		}
	}

	for _, ref := range prior.Refs() {
		if _, ok := next.Get(ref); !ok {
			d.Removed = append(d.Removed, ref)
		}
	}

	return d, nil
}

// changedPaths diffs two resources in their serialized form, so a manifest
// read from disk compares equal to the one it was written from.
func changedPaths(differ *diff.Differ, before, after types.CanonicalResource) ([]string, error) {
	a, err := document(before)
	if err != nil {
		return nil, err
	}
	b, err := document(after)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range b {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var paths []string
	for _, k := range keys {
		if reflect.DeepEqual(a[k], b[k]) {
			continue
		}
		changes, err := differ.Diff(a[k], b[k])
		if err != nil {
			// a value changed type; report the whole subtree
			paths = append(paths, k)
			continue
		}
		for _, c := range changes {
			paths = append(paths, strings.Join(append([]string{k}, c.Path...), "."))
		}
	}

	return uniqueSorted(paths), nil
}

func document(r types.CanonicalResource) (map[string]interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	delete(doc, "ref")
	return doc, nil
}

func uniqueSorted(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	for i, v := range values {
		if i > 0 && v == values[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}
