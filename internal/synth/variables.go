package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Reserved global variables
const (
	VarProjectID = "project_id"
	VarRegion    = "region"
)

// Variable is a declared input of the synthesized configuration
type Variable struct {
	Name        string
	Description string
	Type        string
	Value       cty.Value
	// Path is the attribute path the value was extracted from; empty for globals
	Path string
	// Resources names every resource referencing the variable, in sorted order
	Resources []string
}

// resourceSlots pairs a resource's Terraform name with the slots its block renders
type resourceSlots struct {
	name  string
	slots []slot
}

type sharedValue struct {
	path      string
	value     cty.Value
	resources []string
}

// extractVariables returns one variable for every (path, value) pair held by
// at least two resources, plus a lookup from slot key to variable name.
// entries must be in sorted resource order.
func extractVariables(entries []resourceSlots, registry *nameRegistry) ([]Variable, map[string]string) {
	shared := make(map[string]*sharedValue)
	var order []string

	for _, entry := range entries {
		for _, s := range entry.slots {
			k := s.key()
			sv, ok := shared[k]
			if !ok {
				sv = &sharedValue{path: s.path, value: s.value}
				shared[k] = sv
				order = append(order, k)
			}
			sv.resources = append(sv.resources, entry.name)
		}
	}

	var candidates []string
	for _, k := range order {
		if len(shared[k].resources) >= 2 {
			candidates = append(candidates, k)
		}
	}

	// Names depend only on (path, first resource), never on map order
	sort.Slice(candidates, func(i, j int) bool {
		a, b := shared[candidates[i]], shared[candidates[j]]
		if a.path != b.path {
			return a.path < b.path
		}
		return a.resources[0] < b.resources[0]
	})

	var vars []Variable
	lookup := make(map[string]string, len(candidates))
	for _, k := range candidates {
		sv := shared[k]
		name := registry.claim(identifier(sv.resources[0], sv.path))
		lookup[k] = name
		vars = append(vars, Variable{
			Name:        name,
			Description: fmt.Sprintf("Shared %s of %s", pathLabel(sv.path), strings.Join(sv.resources, ", ")),
			Type:        typeName(sv.value),
			Value:       sv.value,
			Path:        sv.path,
			Resources:   sv.resources,
		})
	}

	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars, lookup
}
