package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/runport/internal/collectors"
	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/publish"
	"github.com/yairfalse/runport/internal/storage"
	"github.com/yairfalse/runport/internal/synth"
	"github.com/yairfalse/runport/pkg/types"
)

const (
	project = "demo-project"
	region  = "us-central1"
	runner  = "runner@demo-project.iam.gserviceaccount.com"
)

var (
	refA = types.ResourceRef{Name: "svc-a", Region: region}
	refB = types.ResourceRef{Name: "svc-b", Region: region}
	refC = types.ResourceRef{Name: "svc-c", Region: region}
)

// stubProvider serves Cloud Run Admin API v2 shaped documents
type stubProvider struct {
	mu sync.Mutex

	listed      map[string][]types.ResourceRef
	listErr     error
	configs     map[string]types.ResourceConfig
	describeErr map[string]error
	policies    map[string][]types.IamBinding
	identities  map[string]*types.ServiceAccountInfo

	onDescribe func(ref types.ResourceRef)
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		listed:      map[string][]types.ResourceRef{},
		configs:     map[string]types.ResourceConfig{},
		describeErr: map[string]error{},
		policies:    map[string][]types.IamBinding{},
		identities:  map[string]*types.ServiceAccountInfo{},
	}
}

func (p *stubProvider) add(ref types.ResourceRef, image, memory, serviceAccount string) {
	p.listed[ref.Region] = append(p.listed[ref.Region], ref)
	container := map[string]any{
		"image": image,
		"ports": []any{map[string]any{"containerPort": float64(8080)}},
		"resources": map[string]any{
			"limits": map[string]any{"cpu": "1", "memory": memory},
		},
	}
	template := map[string]any{"containers": []any{container}}
	if serviceAccount != "" {
		template["serviceAccount"] = serviceAccount
	}
	p.configs[ref.Key()] = types.ResourceConfig{
		"name":     fmt.Sprintf("projects/%s/locations/%s/services/%s", project, ref.Region, ref.Name),
		"ingress":  "INGRESS_TRAFFIC_ALL",
		"template": template,
	}
}

func (p *stubProvider) ListLocations(ctx context.Context) ([]string, error) {
	var regions []string
	for r := range p.listed {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions, nil
}

func (p *stubProvider) List(ctx context.Context, kind, region string) ([]types.ResourceRef, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.listed[region], nil
}

func (p *stubProvider) Describe(ctx context.Context, kind string, ref types.ResourceRef) (types.ResourceConfig, error) {
	if p.onDescribe != nil {
		p.onDescribe(ref)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.describeErr[ref.Key()]; err != nil {
		return nil, err
	}
	return p.configs[ref.Key()], nil
}

func (p *stubProvider) GetIamPolicy(ctx context.Context, kind string, ref types.ResourceRef) ([]types.IamBinding, error) {
	return p.policies[ref.Key()], nil
}

func (p *stubProvider) DescribeIdentity(ctx context.Context, email string) (*types.ServiceAccountInfo, error) {
	if sa, ok := p.identities[email]; ok {
		return sa, nil
	}
	return nil, errors.NewOutcomeError(errors.OutcomeNotFound, fmt.Errorf("service account %s not found", email))
}

func twoServices() *stubProvider {
	p := newStubProvider()
	p.add(refA, "gcr.io/demo-project/a:1", "512Mi", runner)
	p.add(refB, "gcr.io/demo-project/b:1", "512Mi", "")
	p.policies[refA.Key()] = []types.IamBinding{types.NewIamBinding("roles/run.invoker", "allUsers")}
	p.identities[runner] = &types.ServiceAccountInfo{
		Email:       runner,
		DisplayName: "Runner",
		ProjectID:   project,
	}
	return p
}

func testConfig(dir string) Config {
	return Config{
		Kind:           types.KindRunService,
		ProjectID:      project,
		Region:         region,
		Regions:        []string{region},
		OutDir:         dir,
		Workers:        4,
		RequestTimeout: time.Second,
		KeepHistory:    true,
	}
}

func readExport(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(data)
	}
	return out
}

func TestExporter_Run(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")

	summary, err := New(twoServices(), testConfig(dir), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, errors.ExitOK, summary.ExitCode)
	assert.True(t, summary.Complete())
	assert.Equal(t, []types.ResourceRef{refA, refB}, summary.Resources)
	assert.Empty(t, summary.Skipped)
	assert.Equal(t, []types.ResourceRef{refA, refB}, summary.Diff.Added)

	files := readExport(t, dir)
	for _, name := range []string{
		storage.ManifestFile,
		synth.MainFile, synth.VariablesFile, synth.TfvarsFile,
		"svc-a_config.yaml", "svc-a_iam.yaml", "svc-a_sa.yaml",
		"svc-b_config.yaml", "svc-b_iam.yaml",
	} {
		assert.Contains(t, files, name)
	}
	assert.NotContains(t, files, "svc-b_sa.yaml")

	manifest, err := storage.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.ResourceCount())
	a, ok := manifest.Get(refA)
	require.True(t, ok)
	assert.Equal(t, "gcr.io/demo-project/a:1", a.StringAttribute("image"))
	require.NotNil(t, a.Identity)
	assert.Equal(t, runner, a.Identity.Email)

	// the shared memory limit becomes one variable
	assert.Contains(t, files[synth.TfvarsFile], `svc_a_memory`)
	assert.Contains(t, files[synth.MainFile], `google_service_account.runner.email`)
}

func TestExporter_IsIdempotent(t *testing.T) {
	dir := t.TempDir()

	_, err := New(twoServices(), testConfig(dir), nil).Run(context.Background())
	require.NoError(t, err)
	first := readExport(t, dir)

	summary, err := New(twoServices(), testConfig(dir), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, readExport(t, dir))
	assert.Empty(t, summary.Written)
	assert.True(t, summary.Diff.Empty())
}

func TestExporter_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	p := twoServices()
	p.describeErr[refB.Key()] = errors.NewOutcomeError(errors.OutcomePermissionDenied, fmt.Errorf("403"))

	summary, err := New(p, testConfig(dir), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, errors.ExitPartial, summary.ExitCode)
	assert.False(t, summary.Complete())
	assert.Equal(t, []types.ResourceRef{refA}, summary.Resources)
	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, refB, summary.Skipped[0].Ref)
	assert.Equal(t, errors.OutcomePermissionDenied, summary.Skipped[0].Outcome)

	manifest, err := storage.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceRef{refA}, manifest.Refs())
	assert.NotContains(t, readExport(t, dir), "svc-b_config.yaml")
}

func TestExporter_EnumerationFailureWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")
	p := twoServices()
	p.listErr = errors.NewOutcomeError(errors.OutcomePermissionDenied, fmt.Errorf("403 caller lacks run.services.list"))

	summary, err := New(p, testConfig(dir), nil).Run(context.Background())
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeEnumeration))
	assert.Equal(t, errors.ExitEnumeration, summary.ExitCode)
	assert.NotEmpty(t, summary.Error)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExporter_CancellationWritesPartialManifest(t *testing.T) {
	dir := t.TempDir()
	p := twoServices()
	p.add(refC, "gcr.io/demo-project/c:1", "1Gi", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.onDescribe = func(ref types.ResourceRef) {
		if ref == refA {
			cancel()
		}
	}

	config := testConfig(dir)
	config.Workers = 1
	summary, err := New(p, config, nil).WithPublisher(&recordingPublisher{}).Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	assert.Equal(t, errors.ExitPartial, summary.ExitCode)
	assert.Equal(t, []types.ResourceRef{refA}, summary.Resources)
	require.Len(t, summary.Skipped, 2)
	for _, s := range summary.Skipped {
		assert.Equal(t, collectors.ReasonCancelled, s.Reason)
	}

	manifest, err := storage.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceRef{refA}, manifest.Refs())

	var publishSkipped bool
	for _, w := range summary.Warnings {
		if w.Stage == StagePublish {
			publishSkipped = true
		}
	}
	assert.True(t, publishSkipped)
}

func TestExporter_UnresolvedIdentityWarns(t *testing.T) {
	dir := t.TempDir()
	p := twoServices()
	delete(p.identities, runner)

	summary, err := New(p, testConfig(dir), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, errors.ExitOK, summary.ExitCode)

	var synthWarnings []collectors.Warning
	for _, w := range summary.Warnings {
		if w.Stage == StageSynthesis {
			synthWarnings = append(synthWarnings, w)
		}
	}
	require.Len(t, synthWarnings, 1)
	assert.Equal(t, refA.String(), synthWarnings[0].Resource)

	main := readExport(t, dir)[synth.MainFile]
	assert.Contains(t, main, runner)
	assert.NotContains(t, main, "google_service_account")
}

type recordingPublisher struct {
	names []string
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, dir string, names []string) (*publish.Result, error) {
	p.names = names
	if p.err != nil {
		return &publish.Result{}, p.err
	}
	result := &publish.Result{}
	for _, n := range names {
		result.Objects = append(result.Objects, "gs://bucket/"+n)
	}
	return result, nil
}

func TestExporter_Publish(t *testing.T) {
	dir := t.TempDir()
	pub := &recordingPublisher{}

	summary, err := New(twoServices(), testConfig(dir), nil).WithPublisher(pub).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storage.ManifestFile, pub.names[len(pub.names)-1])
	assert.Contains(t, pub.names, synth.MainFile)
	assert.Contains(t, pub.names, "svc-a_config.yaml")
	assert.Len(t, summary.Published, len(pub.names))
}

func TestExporter_PublishFailureIsAWarning(t *testing.T) {
	dir := t.TempDir()
	pub := &recordingPublisher{err: fmt.Errorf("bucket not found")}

	summary, err := New(twoServices(), testConfig(dir), nil).WithPublisher(pub).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, errors.ExitOK, summary.ExitCode)
	require.NotEmpty(t, summary.Warnings)
	last := summary.Warnings[len(summary.Warnings)-1]
	assert.Equal(t, StagePublish, last.Stage)
	assert.Contains(t, last.Message, "bucket not found")

	_, err = storage.ReadManifest(dir)
	assert.NoError(t, err)
}

type countingProgress struct {
	mu       sync.Mutex
	total    int64
	done     int64
	finished bool
}

func (p *countingProgress) Start(total int64) { p.total = total }

func (p *countingProgress) Increment(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += delta
}

func (p *countingProgress) Finish() { p.finished = true }

func TestExporter_ReportsProgress(t *testing.T) {
	progress := &countingProgress{}

	_, err := New(twoServices(), testConfig(t.TempDir()), nil).WithProgress(progress).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), progress.total)
	assert.Equal(t, int64(2), progress.done)
	assert.True(t, progress.finished)
}

func TestExporter_EmptyRegionsListsEveryLocation(t *testing.T) {
	dir := t.TempDir()
	p := twoServices()
	europe := types.ResourceRef{Name: "svc-a", Region: "europe-west1"}
	p.add(europe, "gcr.io/demo-project/a:1", "512Mi", "")

	config := testConfig(dir)
	summary, err := New(p, config, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceRef{refA, refB}, summary.Resources)

	config.Regions = nil
	summary, err = New(p, config, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceRef{europe, refA, refB}, summary.Resources)
	assert.Contains(t, readExport(t, dir), "svc-a.europe-west1_config.yaml")
}
