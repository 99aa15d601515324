package synth

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
)

var nonIdentifier = regexp.MustCompile(`[^a-z0-9_]+`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// identifier turns arbitrary text into a Terraform identifier:
// lower snake case, starting with a letter.
func identifier(parts ...string) string {
	raw := strings.Join(parts, "_")
	snake := strcase.ToSnake(raw)
	snake = nonIdentifier.ReplaceAllString(snake, "_")
	snake = repeatedUnderscore.ReplaceAllString(snake, "_")
	snake = strings.Trim(snake, "_")
	if snake == "" {
		return "r"
	}
	if snake[0] >= '0' && snake[0] <= '9' {
		snake = "r_" + snake
	}
	return snake
}

// nameRegistry hands out unique identifiers. Callers claim names in a
// deterministic order, so the same input always yields the same suffixes.
type nameRegistry struct {
	taken map[string]bool
}

func newNameRegistry(reserved ...string) *nameRegistry {
	r := &nameRegistry{taken: make(map[string]bool)}
	for _, name := range reserved {
		r.taken[name] = true
	}
	return r
}

func (r *nameRegistry) claim(base string) string {
	if !r.taken[base] {
		r.taken[base] = true
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !r.taken[candidate] {
			r.taken[candidate] = true
			return candidate
		}
	}
}

// roleSuffix shortens predefined roles: roles/run.invoker -> run_invoker
func roleSuffix(role string) string {
	return identifier(strings.TrimPrefix(role, "roles/"))
}
