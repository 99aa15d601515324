package synth

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/yairfalse/runport/pkg/types"
)

// slot is one literal value a resource block renders. Slots on the same
// path holding the same value across resources become a shared variable.
type slot struct {
	path  string
	value cty.Value
}

func (s slot) key() string {
	return s.path + "\x00" + valueKey(s.value)
}

// scalar canonical attributes and how their value reaches Terraform
var scalarAttributes = []struct {
	name    string
	convert func(any) (cty.Value, bool)
}{
	{"description", stringValue},
	{"ingress", ingressValue},
	{"image", stringValue},
	{"port", numberValue},
	{"cpu", stringValue},
	{"memory", stringValue},
	{"concurrency", numberValue},
	{"timeout_seconds", durationValue},
	{"min_instances", numberValue},
	{"max_instances", numberValue},
	{"service_account", stringValue},
}

// map attributes contribute one slot per key: env.MODE, labels.team
var mapAttributes = []string{"env", "labels"}

// collectSlots lists the renderable values of a resource in a fixed order.
// Values with an unexpected type are reported and left out.
func collectSlots(r types.CanonicalResource, skip map[string]bool) ([]slot, []string) {
	var slots []slot
	var rejected []string

	for _, attr := range scalarAttributes {
		if skip[attr.name] {
			continue
		}
		raw, ok := r.Attributes[attr.name]
		if !ok {
			continue
		}
		value, ok := attr.convert(raw)
		if !ok {
			rejected = append(rejected, attr.name)
			continue
		}
		slots = append(slots, slot{path: attr.name, value: value})
	}

	for _, name := range mapAttributes {
		raw, ok := r.Attributes[name]
		if !ok {
			continue
		}
		m, ok := stringMap(raw)
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			slots = append(slots, slot{path: name + "." + k, value: cty.StringVal(m[k])})
		}
	}

	return slots, rejected
}

func stringValue(raw any) (cty.Value, bool) {
	s, ok := raw.(string)
	if !ok {
		return cty.NilVal, false
	}
	return cty.StringVal(s), true
}

func numberValue(raw any) (cty.Value, bool) {
	switch v := raw.(type) {
	case int:
		return cty.NumberIntVal(int64(v)), true
	case int64:
		return cty.NumberIntVal(v), true
	case float64:
		if v == math.Trunc(v) {
			return cty.NumberIntVal(int64(v)), true
		}
		return cty.NumberFloatVal(v), true
	default:
		return cty.NilVal, false
	}
}

func durationValue(raw any) (cty.Value, bool) {
	n, ok := numberValue(raw)
	if !ok {
		return cty.NilVal, false
	}
	return cty.StringVal(n.AsBigFloat().Text('f', -1) + "s"), true
}

var ingressEnum = map[string]string{
	"all":                               "INGRESS_TRAFFIC_ALL",
	"internal":                          "INGRESS_TRAFFIC_INTERNAL_ONLY",
	"internal-and-cloud-load-balancing": "INGRESS_TRAFFIC_INTERNAL_LOAD_BALANCER",
}

func ingressValue(raw any) (cty.Value, bool) {
	s, ok := raw.(string)
	if !ok {
		return cty.NilVal, false
	}
	enum, ok := ingressEnum[s]
	if !ok {
		return cty.NilVal, false
	}
	return cty.StringVal(enum), true
}

func stringMap(raw any) (map[string]string, bool) {
	out := make(map[string]string)
	switch m := raw.(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
	default:
		return nil, false
	}
	return out, true
}

// valueKey is a type-tagged rendering used to compare values
func valueKey(v cty.Value) string {
	switch v.Type() {
	case cty.String:
		return "s:" + v.AsString()
	case cty.Number:
		return "n:" + v.AsBigFloat().Text('f', -1)
	case cty.Bool:
		return fmt.Sprintf("b:%t", v.True())
	default:
		return "?:" + v.GoString()
	}
}

// typeName is the variable type constraint for v
func typeName(v cty.Value) string {
	switch v.Type() {
	case cty.Number:
		return "number"
	case cty.Bool:
		return "bool"
	default:
		return "string"
	}
}

func pathLabel(path string) string {
	return strings.ReplaceAll(path, ".", " ")
}
