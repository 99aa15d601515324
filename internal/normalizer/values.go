package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Converter turns a raw aliased value into its canonical form.
// A non-nil error means the value had the wrong type.
type Converter func(raw any) (any, error)

// split is returned by converters that keep part of a value; the leftover
// is preserved in Extra under the alias path.
type split struct {
	value    any
	leftover any
}

// lookup walks doc along path
func lookup(doc map[string]any, path Path) (any, bool) {
	var current any = doc
	for _, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

func toString(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", raw)
	}
	return s, nil
}

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", raw)
	}
}

// toIntString accepts integers carried as strings, as Knative annotations are
func toIntString(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer string, got %q", s)
		}
		return n, nil
	}
	return toInt(raw)
}

// toDurationSeconds accepts "300s" style durations or plain seconds
func toDurationSeconds(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("expected duration, got %q", s)
		}
		return int64(d / time.Second), nil
	}
	return toInt(raw)
}

// toQuantity keeps resource quantities as strings; whole-core millicpu
// values are folded so "1000m" and "1" compare equal.
func toQuantity(raw any) (any, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = strings.TrimSpace(v)
	case int, int32, int64, float64, json.Number:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		s = strconv.FormatInt(n.(int64), 10)
	default:
		return nil, fmt.Errorf("expected quantity, got %T", raw)
	}

	if milli, ok := strings.CutSuffix(s, "m"); ok {
		if n, err := strconv.ParseInt(milli, 10, 64); err == nil && n > 0 && n%1000 == 0 {
			return strconv.FormatInt(n/1000, 10), nil
		}
	}
	return s, nil
}

var ingressValues = map[string]string{
	"all":                                    "all",
	"internal":                               "internal",
	"internal-and-cloud-load-balancing":      "internal-and-cloud-load-balancing",
	"INGRESS_TRAFFIC_ALL":                    "all",
	"INGRESS_TRAFFIC_INTERNAL_ONLY":          "internal",
	"INGRESS_TRAFFIC_INTERNAL_LOAD_BALANCER": "internal-and-cloud-load-balancing",
}

func toIngress(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected ingress string, got %T", raw)
	}
	canonical, ok := ingressValues[s]
	if !ok {
		return nil, fmt.Errorf("unknown ingress value %q", s)
	}
	return canonical, nil
}

func toStringMap(raw any) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected map, got %T", raw)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string value for %q, got %T", k, v)
		}
		out[k] = s
	}
	return out, nil
}

// toEnv folds a [{name, value}] list into a map. Entries sourced from secrets
// or config have no literal value and are handed back as leftover.
func toEnv(raw any) (any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected env list, got %T", raw)
	}

	values := make(map[string]any, len(list))
	var leftover []any
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected env entry map, got %T", item)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("env entry without name")
		}
		value, hasValue := entry["value"]
		if _, fromSource := entry["valueFrom"]; fromSource || entry["valueSource"] != nil {
			leftover = append(leftover, entry)
			continue
		}
		if !hasValue {
			// Cloud Run omits empty values
			values[name] = ""
			continue
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string value for env %q, got %T", name, value)
		}
		values[name] = s
	}

	sort.Slice(leftover, func(i, j int) bool {
		return leftover[i].(map[string]any)["name"].(string) < leftover[j].(map[string]any)["name"].(string)
	})

	if len(leftover) == 0 {
		return values, nil
	}
	return split{value: values, leftover: leftover}, nil
}
