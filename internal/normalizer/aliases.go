package normalizer

import "github.com/yairfalse/runport/pkg/types"

// TableVersion is bumped whenever an alias table changes in a way that
// alters canonical output for an existing document.
const TableVersion = 3

// Canonical attribute names shared by every resource kind
const (
	AttrImage          = "image"
	AttrPort           = "port"
	AttrCPU            = "cpu"
	AttrMemory         = "memory"
	AttrConcurrency    = "concurrency"
	AttrTimeoutSeconds = "timeout_seconds"
	AttrMinInstances   = "min_instances"
	AttrMaxInstances   = "max_instances"
	AttrServiceAccount = "service_account"
	AttrIngress        = "ingress"
	AttrDescription    = "description"
	AttrEnv            = "env"
	AttrLabels         = "labels"
)

// Path addresses a value inside a provider document. Segments are map keys,
// or list indexes when the segment is numeric. Annotation keys contain dots,
// so paths are never split on ".".
type Path []string

// Alias is one provider-specific location of a canonical attribute
type Alias struct {
	Path    Path
	Convert Converter
}

// Attribute maps a canonical name to its aliases, tried in order
type Attribute struct {
	Name    string
	Aliases []Alias
}

// AliasTable describes how to normalize one resource kind
type AliasTable struct {
	Kind       string
	Version    int
	Attributes []Attribute
	// Expand lists the document's structural maps and annotation maps. They
	// are always kept key by key, so volatile keys inside them are filtered.
	Expand []Path
	// Volatile keys change on every deploy or only describe the document
	// itself; they are never kept
	Volatile map[string]bool
	// VolatilePaths are dropped at exactly these locations
	VolatilePaths []Path
	// SystemLabels are dropped from the labels attribute
	SystemLabels map[string]bool
}

// v1 is the Knative-shaped Cloud Run Admin API v1 document, v2 the flat Admin API v2 one
var (
	v1Container   = Path{"spec", "template", "spec", "containers", "0"}
	v1TemplateAnn = Path{"spec", "template", "metadata", "annotations"}
	v1ServiceAnn  = Path{"metadata", "annotations"}
	v2Container   = Path{"template", "containers", "0"}
	v2TemplateAnn = Path{"template", "annotations"}
	v2ServiceAnn  = Path{"annotations"}
)

func join(base Path, rest ...string) Path {
	p := make(Path, 0, len(base)+len(rest))
	p = append(p, base...)
	return append(p, rest...)
}

func runServiceTable() *AliasTable {
	return &AliasTable{
		Kind:    types.KindRunService,
		Version: TableVersion,
		Attributes: []Attribute{
			{Name: AttrImage, Aliases: []Alias{
				{Path: join(v1Container, "image"), Convert: toString},
				{Path: join(v2Container, "image"), Convert: toString},
			}},
			{Name: AttrPort, Aliases: []Alias{
				{Path: join(v1Container, "ports", "0", "containerPort"), Convert: toInt},
				{Path: join(v2Container, "ports", "0", "containerPort"), Convert: toInt},
			}},
			{Name: AttrCPU, Aliases: []Alias{
				{Path: join(v1Container, "resources", "limits", "cpu"), Convert: toQuantity},
				{Path: join(v2Container, "resources", "limits", "cpu"), Convert: toQuantity},
			}},
			{Name: AttrMemory, Aliases: []Alias{
				{Path: join(v1Container, "resources", "limits", "memory"), Convert: toQuantity},
				{Path: join(v2Container, "resources", "limits", "memory"), Convert: toQuantity},
			}},
			{Name: AttrConcurrency, Aliases: []Alias{
				{Path: Path{"spec", "template", "spec", "containerConcurrency"}, Convert: toInt},
				{Path: Path{"template", "maxInstanceRequestConcurrency"}, Convert: toInt},
			}},
			{Name: AttrTimeoutSeconds, Aliases: []Alias{
				{Path: Path{"spec", "template", "spec", "timeoutSeconds"}, Convert: toInt},
				{Path: Path{"template", "timeout"}, Convert: toDurationSeconds},
			}},
			{Name: AttrMinInstances, Aliases: []Alias{
				{Path: join(v1TemplateAnn, "autoscaling.knative.dev/minScale"), Convert: toIntString},
				{Path: Path{"template", "scaling", "minInstanceCount"}, Convert: toInt},
			}},
			{Name: AttrMaxInstances, Aliases: []Alias{
				{Path: join(v1TemplateAnn, "autoscaling.knative.dev/maxScale"), Convert: toIntString},
				{Path: Path{"template", "scaling", "maxInstanceCount"}, Convert: toInt},
			}},
			{Name: AttrServiceAccount, Aliases: []Alias{
				{Path: Path{"spec", "template", "spec", "serviceAccountName"}, Convert: toString},
				{Path: Path{"template", "serviceAccount"}, Convert: toString},
			}},
			{Name: AttrIngress, Aliases: []Alias{
				{Path: join(v1ServiceAnn, "run.googleapis.com/ingress"), Convert: toIngress},
				{Path: Path{"ingress"}, Convert: toIngress},
			}},
			{Name: AttrDescription, Aliases: []Alias{
				{Path: join(v1ServiceAnn, "run.googleapis.com/description"), Convert: toString},
				{Path: Path{"description"}, Convert: toString},
			}},
			{Name: AttrEnv, Aliases: []Alias{
				{Path: join(v1Container, "env"), Convert: toEnv},
				{Path: join(v2Container, "env"), Convert: toEnv},
			}},
			{Name: AttrLabels, Aliases: []Alias{
				{Path: Path{"metadata", "labels"}, Convert: toStringMap},
				{Path: Path{"labels"}, Convert: toStringMap},
			}},
		},
		Expand: []Path{
			{"metadata"}, {"spec"}, {"spec", "template"}, {"spec", "template", "metadata"}, {"spec", "template", "spec"},
			{"template"},
			v1TemplateAnn, v1ServiceAnn, v2TemplateAnn, v2ServiceAnn,
		},
		Volatile: map[string]bool{
			"apiVersion":            true,
			"kind":                  true,
			"status":                true,
			"namespace":             true,
			"selfLink":              true,
			"uid":                   true,
			"resourceVersion":       true,
			"generation":            true,
			"observedGeneration":    true,
			"creationTimestamp":     true,
			"createTime":            true,
			"updateTime":            true,
			"deleteTime":            true,
			"expireTime":            true,
			"etag":                  true,
			"creator":               true,
			"lastModifier":          true,
			"client":                true,
			"clientVersion":         true,
			"reconciling":           true,
			"conditions":            true,
			"terminalCondition":     true,
			"latestReadyRevision":   true,
			"latestCreatedRevision": true,
			"trafficStatuses":       true,
			"uri":                   true,
			"urls":                  true,
			"satisfiesPzs":          true,

			"client.knative.dev/nonce":           true,
			"client.knative.dev/user-image":      true,
			"run.googleapis.com/client-name":     true,
			"run.googleapis.com/client-version":  true,
			"run.googleapis.com/ingress-status":  true,
			"run.googleapis.com/operation-id":    true,
			"run.googleapis.com/urls":            true,
			"serving.knative.dev/creator":        true,
			"serving.knative.dev/lastModifier":   true,
			"serving.knative.dev/lastModifierId": true,
		},
		// resource and revision names, and the generated container name
		VolatilePaths: []Path{
			{"name"},
			{"metadata", "name"},
			{"spec", "template", "metadata", "name"},
			join(v1Container, "name"),
			join(v2Container, "name"),
		},
		SystemLabels: map[string]bool{
			"cloud.googleapis.com/location": true,
		},
	}
}

// DefaultTables returns the alias table of every supported kind
func DefaultTables() map[string]*AliasTable {
	t := runServiceTable()
	return map[string]*AliasTable{t.Kind: t}
}
