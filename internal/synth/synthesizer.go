// Package synth turns an export manifest into Terraform configuration.
package synth

import (
	"fmt"
	"sort"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/pkg/types"
)

// Artifact names, in the order Synthesize returns them
const (
	MainFile      = "main.tf"
	VariablesFile = "variables.tf"
	TfvarsFile    = "terraform.tfvars"
)

// Artifact is one generated file
type Artifact struct {
	Name    string
	Content []byte
}

// SynthesisWarning notes a value that could not be rendered the preferred way.
// The artifact is still produced.
type SynthesisWarning struct {
	Resource  types.ResourceRef
	Attribute string
	Message   string
}

func (w SynthesisWarning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Resource, w.Attribute, w.Message)
}

// Result holds the generated artifacts and everything worth reporting about them
type Result struct {
	Artifacts []Artifact
	Variables []Variable
	Warnings  []SynthesisWarning
}

// Artifact returns the generated file with the given name
func (r *Result) Artifact(name string) ([]byte, bool) {
	for _, a := range r.Artifacts {
		if a.Name == name {
			return a.Content, true
		}
	}
	return nil, false
}

// Synthesizer renders manifests. It holds no state between calls.
type Synthesizer struct {
	log logger.Logger
}

// New creates a synthesizer
func New(log logger.Logger) *Synthesizer {
	if log == nil {
		log = logger.Discard()
	}
	return &Synthesizer{log: log}
}

// managedIdentity is a service account rendered as its own resource
type managedIdentity struct {
	info   types.ServiceAccountInfo
	tfName string
}

// servicePlan is everything needed to render one service and its bindings
type servicePlan struct {
	resource types.CanonicalResource
	tfName   string
	slots    []slot
	identity *managedIdentity
}

// Synthesize renders main.tf, variables.tf and terraform.tfvars. The same
// manifest always yields the same bytes.
func (s *Synthesizer) Synthesize(manifest *types.ExportManifest) (*Result, error) {
	if manifest == nil {
		return nil, errors.SynthesisError(MainFile, "no manifest to synthesize")
	}
	if err := manifest.Validate(); err != nil {
		return nil, errors.SynthesisError(MainFile, err.Error())
	}

	resources := manifest.Sorted()
	identities := collectIdentities(resources)
	tfNames := serviceNames(resources)

	result := &Result{}
	plans := make([]servicePlan, 0, len(resources))
	entries := make([]resourceSlots, 0, len(resources))

	for i, r := range resources {
		plan := servicePlan{resource: r, tfName: tfNames[i]}
		skip := map[string]bool{}

		if email := r.StringAttribute("service_account"); email != "" {
			if id, ok := identities[email]; ok {
				plan.identity = id
				skip["service_account"] = true
			} else {
				result.Warnings = append(result.Warnings, SynthesisWarning{
					Resource:  r.Ref,
					Attribute: "service_account",
					Message:   fmt.Sprintf("service account %s is not part of the export, rendered as a literal", email),
				})
			}
		}

		slots, rejected := collectSlots(r, skip)
		for _, attr := range rejected {
			result.Warnings = append(result.Warnings, SynthesisWarning{
				Resource:  r.Ref,
				Attribute: attr,
				Message:   fmt.Sprintf("value %v cannot be expressed in Terraform, omitted", r.Attributes[attr]),
			})
		}
		plan.slots = slots
		plans = append(plans, plan)
		entries = append(entries, resourceSlots{name: tfNames[i], slots: slots})
	}

	vars, lookup := extractVariables(entries, newNameRegistry(VarProjectID, VarRegion))
	result.Variables = vars

	r := &renderer{
		manifest:   manifest,
		lookup:     lookup,
		identities: sortedIdentities(identities),
	}

	result.Artifacts = []Artifact{
		{Name: MainFile, Content: r.main(plans)},
		{Name: VariablesFile, Content: r.variables(vars)},
		{Name: TfvarsFile, Content: r.tfvars(vars)},
	}

	for _, a := range result.Artifacts {
		if err := validate(a); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(map[string]interface{}{
		"resources": len(resources),
		"variables": len(vars),
		"warnings":  len(result.Warnings),
	}).Debug("Synthesized Terraform configuration")

	return result, nil
}

// collectIdentities indexes the service accounts described during export by
// email and assigns each a resource name.
func collectIdentities(resources []types.CanonicalResource) map[string]*managedIdentity {
	byEmail := make(map[string]types.ServiceAccountInfo)
	for _, r := range resources {
		if r.Identity == nil || r.Identity.Email == "" {
			continue
		}
		if _, seen := byEmail[r.Identity.Email]; !seen {
			byEmail[r.Identity.Email] = *r.Identity
		}
	}

	emails := make([]string, 0, len(byEmail))
	for email := range byEmail {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	registry := newNameRegistry()
	out := make(map[string]*managedIdentity, len(emails))
	for _, email := range emails {
		info := byEmail[email]
		out[email] = &managedIdentity{info: info, tfName: registry.claim(identifier(info.AccountID()))}
	}
	return out
}

func sortedIdentities(identities map[string]*managedIdentity) []*managedIdentity {
	out := make([]*managedIdentity, 0, len(identities))
	for _, id := range identities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.Email < out[j].info.Email })
	return out
}

// serviceNames assigns resource names in manifest order. A name deployed in
// several regions carries the region in every one of its resource names.
func serviceNames(resources []types.CanonicalResource) []string {
	regions := make(map[string]int)
	for _, r := range resources {
		regions[r.Ref.Name]++
	}

	registry := newNameRegistry()
	names := make([]string, len(resources))
	for i, r := range resources {
		base := identifier(r.Ref.Name)
		if regions[r.Ref.Name] > 1 {
			base = identifier(r.Ref.Name, r.Ref.Region)
		}
		names[i] = registry.claim(base)
	}
	return names
}
