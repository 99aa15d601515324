package collectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/pkg/types"
)

// Sub-fetch stages reported in warnings
const (
	StageConfig   = "config"
	StageIAM      = "iam"
	StageIdentity = "identity"
	StageSnapshot = "snapshot"
)

// DefaultRequestTimeout bounds each provider call when none is configured
const DefaultRequestTimeout = 30 * time.Second

// Warning is a non-fatal degradation recorded during the run
type Warning struct {
	Resource string         `json:"resource,omitempty"`
	Stage    string         `json:"stage"`
	Outcome  errors.Outcome `json:"outcome,omitempty"`
	Message  string         `json:"message"`
}

func (w Warning) String() string {
	if w.Resource == "" {
		return fmt.Sprintf("%s: %s", w.Stage, w.Message)
	}
	return fmt.Sprintf("%s %s: %s", w.Resource, w.Stage, w.Message)
}

// Description is everything fetched for one resource
type Description struct {
	Ref      types.ResourceRef
	Config   types.ResourceConfig
	Bindings []types.IamBinding
	Identity *types.ServiceAccountInfo
	Warnings []Warning
}

// Describer fetches configuration, IAM policy and identity of a resource
type Describer struct {
	provider Provider
	resolver IdentityResolver
	kind     string
	timeout  time.Duration
	logger   logger.Logger
}

// NewDescriber creates a describer for kind. Every provider call is bounded by timeout.
func NewDescriber(provider Provider, resolver IdentityResolver, kind string, timeout time.Duration, log logger.Logger) *Describer {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Describer{
		provider: provider,
		resolver: resolver,
		kind:     kind,
		timeout:  timeout,
		logger:   log,
	}
}

// Describe runs the config and IAM fetches concurrently, then the identity
// fetch when the config names an identity email. Only a config failure is
// returned as an error (a DescribeError carrying its outcome); IAM and
// identity failures degrade to warnings.
func (d *Describer) Describe(ctx context.Context, ref types.ResourceRef) (*Description, error) {
	desc := &Description{Ref: ref}
	log := d.logger.WithField("resource", ref.String())

	var (
		wg       sync.WaitGroup
		bindings []types.IamBinding
		iamErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		bindings, iamErr = d.provider.GetIamPolicy(callCtx, d.kind, ref)
	}()

	config, err := d.fetchConfig(ctx, ref)
	wg.Wait()
	if err != nil {
		return nil, errors.DescribeError(ref.String(), err)
	}
	desc.Config = config

	if iamErr != nil {
		outcome := errors.OutcomeOf(iamErr)
		log.WithField("outcome", outcome).Warn("IAM policy unavailable, exporting without bindings")
		desc.Warnings = append(desc.Warnings, Warning{
			Resource: ref.String(),
			Stage:    StageIAM,
			Outcome:  outcome,
			Message:  fmt.Sprintf("IAM policy not exported: %v", iamErr),
		})
		bindings = nil
	}
	desc.Bindings = types.MergeBindings(bindings)

	email := ""
	if d.resolver != nil {
		email = d.resolver.IdentityEmail(d.kind, config)
	}
	if email == "" {
		return desc, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	identity, err := d.provider.DescribeIdentity(callCtx, email)
	switch {
	case err == nil:
		desc.Identity = identity
	case errors.IsNotFound(err):
		// external or deleted identity; absence is a valid state
		log.WithField("identity", email).Debug("Identity not found")
	default:
		outcome := errors.OutcomeOf(err)
		log.WithFields(map[string]interface{}{"identity": email, "outcome": outcome}).Warn("Identity lookup failed")
		desc.Warnings = append(desc.Warnings, Warning{
			Resource: ref.String(),
			Stage:    StageIdentity,
			Outcome:  outcome,
			Message:  fmt.Sprintf("identity %s not exported: %v", email, err),
		})
	}

	return desc, nil
}

func (d *Describer) fetchConfig(ctx context.Context, ref types.ResourceRef) (types.ResourceConfig, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	config, err := d.provider.Describe(callCtx, d.kind, ref)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.NewOutcomeError(errors.OutcomeNotFound, fmt.Errorf("empty configuration for %s", ref))
	}
	return config, nil
}
