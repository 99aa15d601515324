package synth

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/yairfalse/runport/pkg/types"
)

// Terraform resource types
const (
	serviceType        = "google_cloud_run_v2_service"
	bindingType        = "google_cloud_run_v2_service_iam_binding"
	serviceAccountType = "google_service_account"
)

const providerSource = "hashicorp/google"

type renderer struct {
	manifest   *types.ExportManifest
	lookup     map[string]string
	identities []*managedIdentity
}

func traversal(root string, attrs ...string) hcl.Traversal {
	t := hcl.Traversal{hcl.TraverseRoot{Name: root}}
	for _, a := range attrs {
		t = append(t, hcl.TraverseAttr{Name: a})
	}
	return t
}

func varRef(name string) hclwrite.Tokens {
	return hclwrite.TokensForTraversal(traversal("var", name))
}

// main renders provider setup, identities, services and their bindings
func (r *renderer) main(plans []servicePlan) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	tf := body.AppendNewBlock("terraform", nil).Body()
	providers := tf.AppendNewBlock("required_providers", nil).Body()
	providers.SetAttributeRaw("google", hclwrite.TokensForObject([]hclwrite.ObjectAttrTokens{
		{Name: hclwrite.TokensForIdentifier("source"), Value: hclwrite.TokensForValue(cty.StringVal(providerSource))},
	}))
	body.AppendNewline()

	provider := body.AppendNewBlock("provider", []string{"google"}).Body()
	provider.SetAttributeRaw("project", varRef(VarProjectID))
	provider.SetAttributeRaw("region", varRef(VarRegion))

	for _, id := range r.identities {
		body.AppendNewline()
		r.serviceAccount(body, id)
	}

	bindingNames := newNameRegistry()
	for _, plan := range plans {
		body.AppendNewline()
		r.service(body, plan)
		for _, b := range plan.resource.Bindings {
			body.AppendNewline()
			r.binding(body, plan, b, bindingNames.claim(identifier(plan.tfName, roleSuffix(b.Role))))
		}
	}

	return hclwrite.Format(f.Bytes())
}

func (r *renderer) projectTokens(project string) hclwrite.Tokens {
	if project == "" || project == r.manifest.ProjectID {
		return varRef(VarProjectID)
	}
	return hclwrite.TokensForValue(cty.StringVal(project))
}

func (r *renderer) serviceAccount(body *hclwrite.Body, id *managedIdentity) {
	sa := body.AppendNewBlock("resource", []string{serviceAccountType, id.tfName}).Body()
	sa.SetAttributeRaw("project", r.projectTokens(id.info.ProjectID))
	sa.SetAttributeValue("account_id", cty.StringVal(id.info.AccountID()))
	if id.info.DisplayName != "" {
		sa.SetAttributeValue("display_name", cty.StringVal(id.info.DisplayName))
	}
	if id.info.Description != "" {
		sa.SetAttributeValue("description", cty.StringVal(id.info.Description))
	}
	if id.info.Disabled {
		sa.SetAttributeValue("disabled", cty.True)
	}
}

// slotTokens renders the value at path, or nil when the resource has none
func (r *renderer) slotTokens(plan servicePlan, path string) hclwrite.Tokens {
	for _, s := range plan.slots {
		if s.path != path {
			continue
		}
		if name, ok := r.lookup[s.key()]; ok {
			return varRef(name)
		}
		return hclwrite.TokensForValue(s.value)
	}
	return nil
}

// mapKeys lists the keys of a map attribute rendered through slots
func mapKeys(plan servicePlan, attr string) []string {
	prefix := attr + "."
	var keys []string
	for _, s := range plan.slots {
		if strings.HasPrefix(s.path, prefix) {
			keys = append(keys, strings.TrimPrefix(s.path, prefix))
		}
	}
	return keys
}

func objectKey(k string) hclwrite.Tokens {
	if hclsyntax.ValidIdentifier(k) {
		return hclwrite.TokensForIdentifier(k)
	}
	return hclwrite.TokensForValue(cty.StringVal(k))
}

func setIf(body *hclwrite.Body, name string, tokens hclwrite.Tokens) {
	if tokens != nil {
		body.SetAttributeRaw(name, tokens)
	}
}

func (r *renderer) service(body *hclwrite.Body, plan servicePlan) {
	res := plan.resource
	svc := body.AppendNewBlock("resource", []string{serviceType, plan.tfName}).Body()

	svc.SetAttributeValue("name", cty.StringVal(res.Ref.Name))
	if res.Ref.Region == r.manifest.Region {
		svc.SetAttributeRaw("location", varRef(VarRegion))
	} else {
		svc.SetAttributeValue("location", cty.StringVal(res.Ref.Region))
	}
	svc.SetAttributeRaw("project", varRef(VarProjectID))
	setIf(svc, "description", r.slotTokens(plan, "description"))
	setIf(svc, "ingress", r.slotTokens(plan, "ingress"))

	if keys := mapKeys(plan, "labels"); len(keys) > 0 {
		attrs := make([]hclwrite.ObjectAttrTokens, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, hclwrite.ObjectAttrTokens{
				Name:  objectKey(k),
				Value: r.slotTokens(plan, "labels."+k),
			})
		}
		svc.SetAttributeRaw("labels", hclwrite.TokensForObject(attrs))
	}

	tmpl := svc.AppendNewBlock("template", nil).Body()
	if plan.identity != nil {
		tmpl.SetAttributeTraversal("service_account", traversal(serviceAccountType, plan.identity.tfName, "email"))
	} else {
		setIf(tmpl, "service_account", r.slotTokens(plan, "service_account"))
	}
	setIf(tmpl, "timeout", r.slotTokens(plan, "timeout_seconds"))
	setIf(tmpl, "max_instance_request_concurrency", r.slotTokens(plan, "concurrency"))

	minTokens := r.slotTokens(plan, "min_instances")
	maxTokens := r.slotTokens(plan, "max_instances")
	if minTokens != nil || maxTokens != nil {
		scaling := tmpl.AppendNewBlock("scaling", nil).Body()
		setIf(scaling, "min_instance_count", minTokens)
		setIf(scaling, "max_instance_count", maxTokens)
	}

	container := tmpl.AppendNewBlock("containers", nil).Body()
	setIf(container, "image", r.slotTokens(plan, "image"))

	if port := r.slotTokens(plan, "port"); port != nil {
		container.AppendNewBlock("ports", nil).Body().SetAttributeRaw("container_port", port)
	}

	var limits []hclwrite.ObjectAttrTokens
	for _, name := range []string{"cpu", "memory"} {
		if tokens := r.slotTokens(plan, name); tokens != nil {
			limits = append(limits, hclwrite.ObjectAttrTokens{Name: hclwrite.TokensForIdentifier(name), Value: tokens})
		}
	}
	if len(limits) > 0 {
		container.AppendNewBlock("resources", nil).Body().SetAttributeRaw("limits", hclwrite.TokensForObject(limits))
	}

	for _, k := range mapKeys(plan, "env") {
		env := container.AppendNewBlock("env", nil).Body()
		env.SetAttributeValue("name", cty.StringVal(k))
		env.SetAttributeRaw("value", r.slotTokens(plan, "env."+k))
	}
}

func (r *renderer) binding(body *hclwrite.Body, plan servicePlan, b types.IamBinding, tfName string) {
	bind := body.AppendNewBlock("resource", []string{bindingType, tfName}).Body()
	bind.SetAttributeTraversal("project", traversal(serviceType, plan.tfName, "project"))
	bind.SetAttributeTraversal("location", traversal(serviceType, plan.tfName, "location"))
	bind.SetAttributeTraversal("name", traversal(serviceType, plan.tfName, "name"))
	bind.SetAttributeValue("role", cty.StringVal(b.Role))

	members := make([]hclwrite.Tokens, 0, len(b.Members))
	for _, m := range b.Members {
		members = append(members, r.memberTokens(m))
	}
	bind.SetAttributeRaw("members", hclwrite.TokensForTuple(members))
}

// memberTokens references managed service accounts instead of repeating their email
func (r *renderer) memberTokens(member string) hclwrite.Tokens {
	if email, ok := strings.CutPrefix(member, "serviceAccount:"); ok {
		for _, id := range r.identities {
			if id.info.Email == email {
				return hclwrite.TokensForTraversal(traversal(serviceAccountType, id.tfName, "member"))
			}
		}
	}
	return hclwrite.TokensForValue(cty.StringVal(member))
}

// variables declares the globals followed by every extracted variable
func (r *renderer) variables(vars []Variable) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	declare := func(name, description, typ string) {
		v := body.AppendNewBlock("variable", []string{name}).Body()
		v.SetAttributeValue("description", cty.StringVal(description))
		v.SetAttributeRaw("type", hclwrite.TokensForIdentifier(typ))
	}

	declare(VarProjectID, "Project the services are deployed in", "string")
	body.AppendNewline()
	declare(VarRegion, "Default region of the services", "string")

	for _, v := range vars {
		body.AppendNewline()
		declare(v.Name, v.Description, v.Type)
	}

	return hclwrite.Format(f.Bytes())
}

// tfvars assigns the exported values to every declared variable
func (r *renderer) tfvars(vars []Variable) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue(VarProjectID, cty.StringVal(r.manifest.ProjectID))
	body.SetAttributeValue(VarRegion, cty.StringVal(r.manifest.Region))
	for _, v := range vars {
		body.SetAttributeValue(v.Name, v.Value)
	}

	return hclwrite.Format(f.Bytes())
}
