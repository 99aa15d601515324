package synth

import (
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/yairfalse/runport/internal/errors"
)

// validate parses a generated file back; anything unparseable is a bug in the
// renderer, never a property of the input.
func validate(a Artifact) error {
	parser := hclparse.NewParser()
	_, diags := parser.ParseHCL(a.Content, a.Name)
	if diags.HasErrors() {
		return errors.SynthesisError(a.Name, diags.Error())
	}
	return nil
}
