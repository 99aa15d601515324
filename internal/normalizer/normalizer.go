package normalizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/pkg/types"
)

// ResourceNormalizer converts raw provider documents into canonical resources
type ResourceNormalizer struct {
	tables map[string]*AliasTable
}

// NewResourceNormalizer creates a normalizer with the built-in alias tables
func NewResourceNormalizer() *ResourceNormalizer {
	return &ResourceNormalizer{
		tables: DefaultTables(),
	}
}

// Version returns the alias table version for kind, or 0 if unsupported
func (n *ResourceNormalizer) Version(kind string) int {
	if table, ok := n.tables[kind]; ok {
		return table.Version
	}
	return 0
}

// IdentityEmail returns the identity email a document references, if any
func (n *ResourceNormalizer) IdentityEmail(kind string, raw any) string {
	table, ok := n.tables[kind]
	if !ok {
		return ""
	}
	doc, ok := asMap(raw)
	if !ok {
		return ""
	}
	for _, attr := range table.Attributes {
		if attr.Name != AttrServiceAccount {
			continue
		}
		for _, alias := range attr.Aliases {
			value, found := lookup(doc, alias.Path)
			if !found {
				continue
			}
			if email, ok := value.(string); ok && strings.Contains(email, "@") {
				return email
			}
		}
	}
	return ""
}

// Normalize maps a provider document plus its IAM bindings and identity onto
// the canonical vocabulary. Missing fields become absent attributes and
// wrong-typed fields move to Extra; only a document that is not a mapping,
// or a kind without an alias table, is an error.
func (n *ResourceNormalizer) Normalize(ref types.ResourceRef, kind string, raw any, bindings []types.IamBinding, identity *types.ServiceAccountInfo) (*types.CanonicalResource, error) {
	table, ok := n.tables[kind]
	if !ok {
		return nil, errors.NormalizationError(ref.String(), fmt.Sprintf("no alias table for kind %q", kind))
	}

	doc, ok := asMap(raw)
	if !ok {
		return nil, errors.NormalizationError(ref.String(), fmt.Sprintf("document is not a mapping (got %T)", raw))
	}

	resource := &types.CanonicalResource{
		Ref:        ref,
		Kind:       kind,
		Attributes: make(map[string]any),
		Bindings:   types.MergeBindings(bindings),
	}
	extra := make(map[string]any)
	consumed := make(map[string]bool)

	for _, attr := range table.Attributes {
		for _, alias := range attr.Aliases {
			value, found := lookup(doc, alias.Path)
			if !found || value == nil {
				continue
			}
			consumed[pathKey(alias.Path)] = true

			converted, err := alias.Convert(value)
			if err != nil {
				extra[alias.Path.String()] = value
				continue
			}
			if s, ok := converted.(split); ok {
				extra[alias.Path.String()] = s.leftover
				converted = s.value
			}
			if attr.Name == AttrLabels {
				converted = dropKeys(converted, table.SystemLabels)
			}
			if isEmpty(converted) {
				break
			}
			resource.Attributes[attr.Name] = converted
			break
		}
	}

	w := newExtraWalker(table, consumed, extra)
	w.walk(nil, doc)

	if len(extra) > 0 {
		resource.Extra = extra
	}

	if identity != nil {
		copied := *identity
		resource.Identity = &copied
	}

	if err := resource.Validate(); err != nil {
		return nil, errors.NormalizationError(ref.String(), err.Error())
	}

	return resource, nil
}

// extraWalker keeps every value of a document that no alias consumed and
// that is not volatile. Subtrees holding a consumed alias, and expanded maps,
// are walked so their siblings are kept; any other subtree is kept whole
// under its path.
type extraWalker struct {
	volatile      map[string]bool
	volatilePaths map[string]bool
	expand        map[string]bool
	consumed      map[string]bool
	extra         map[string]any
}

func newExtraWalker(table *AliasTable, consumed map[string]bool, extra map[string]any) *extraWalker {
	w := &extraWalker{
		volatile:      table.Volatile,
		volatilePaths: make(map[string]bool, len(table.VolatilePaths)),
		expand:        make(map[string]bool, len(table.Expand)),
		consumed:      consumed,
		extra:         extra,
	}
	for _, p := range table.VolatilePaths {
		w.volatilePaths[pathKey(p)] = true
	}
	for _, p := range table.Expand {
		w.expand[pathKey(p)] = true
	}
	return w
}

func (w *extraWalker) walk(path Path, value any) {
	if value == nil {
		return
	}
	if len(path) > 0 {
		key := pathKey(path)
		if w.volatile[path[len(path)-1]] || w.volatilePaths[key] || w.consumed[key] {
			return
		}
		if !w.expand[key] && !isConsumedPrefix(key, w.consumed) {
			w.extra[path.String()] = value
			return
		}
	}

	switch node := value.(type) {
	case map[string]any:
		for k, child := range node {
			w.walk(join(path, k), child)
		}
	case []any:
		// sidecars and extra ports sit next to the element an alias reads
		for i, child := range node {
			w.walk(join(path, strconv.Itoa(i)), child)
		}
	default:
		if len(path) > 0 {
			w.extra[path.String()] = value
		}
	}
}

func isConsumedPrefix(key string, consumed map[string]bool) bool {
	prefix := key + "\x00"
	for c := range consumed {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func pathKey(p Path) string {
	return strings.Join(p, "\x00")
}

func asMap(raw any) (map[string]any, bool) {
	switch doc := raw.(type) {
	case types.ResourceConfig:
		return map[string]any(doc), doc != nil
	case map[string]any:
		return doc, doc != nil
	default:
		return nil, false
	}
}

func dropKeys(value any, keys map[string]bool) any {
	m, ok := value.(map[string]any)
	if !ok || len(keys) == 0 {
		return value
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !keys[k] {
			out[k] = v
		}
	}
	return out
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
