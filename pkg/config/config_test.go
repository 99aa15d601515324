package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_ConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runport.yaml")
	writeFile(t, path, `
provider:
  project: file-project
  regions: [europe-west1]
export:
  workers: 4
  request_timeout: 10s
`)
	t.Setenv("RUNPORT_EXPORT_WORKERS", "16")

	v := viper.New()
	Setup(v, path)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "file-project", cfg.Provider.Project)
	assert.Equal(t, []string{"europe-west1"}, cfg.Provider.Regions)
	assert.Equal(t, 16, cfg.Export.Workers, "environment overrides the config file")
	assert.Equal(t, 10*time.Second, cfg.Export.RequestTimeout)
	assert.True(t, cfg.Export.KeepHistory)
	assert.Equal(t, "run.service", cfg.Provider.Kind)
	assert.Empty(t, cfg.Provider.Region, "region has no viper default")
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	v := viper.New()
	Setup(v, "")
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Export.Workers)
	assert.Equal(t, "text", cfg.Output.Format)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Provider.Project = "p"
		cfg.Provider.Region = "us-central1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no project", mutate: func(c *Config) { c.Provider.Project = "" }, wantErr: true},
		{name: "no region", mutate: func(c *Config) { c.Provider.Region = "" }, wantErr: true},
		{name: "unknown kind", mutate: func(c *Config) { c.Provider.Kind = "run.job" }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Export.Workers = 0 }, wantErr: true},
		{name: "too many workers", mutate: func(c *Config) { c.Export.Workers = MaxWorkers + 1 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Export.RequestTimeout = 0 }, wantErr: true},
		{name: "bad publish", mutate: func(c *Config) { c.Export.Publish = "s3://bucket" }, wantErr: true},
		{name: "gcs publish", mutate: func(c *Config) { c.Export.Publish = "gs://bucket/prefix" }},
		{name: "bad output", mutate: func(c *Config) { c.Output.Format = "table" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTargetRegions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Region = "us-central1"
	cfg.Provider.Regions = []string{"europe-west1", "us-central1", " "}
	assert.Equal(t, []string{"us-central1", "europe-west1"}, cfg.TargetRegions())

	cfg.Provider.AllRegions = true
	assert.Nil(t, cfg.TargetRegions())
}

func TestExpandPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()
	cfg.Export.OutDir = "~/exports"
	require.NoError(t, cfg.ExpandPaths())
	assert.Equal(t, filepath.Join(home, "exports"), cfg.Export.OutDir)
}

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestResolveAmbient_Precedence(t *testing.T) {
	gcloudDir := t.TempDir()
	writeFile(t, filepath.Join(gcloudDir, "active_config"), "work\n")
	writeFile(t, filepath.Join(gcloudDir, "configurations", "config_work"), `[core]
project = gcloud-project
account = dev@example.com

[run]
region = asia-east1
`)
	detector := &GcloudDetector{ConfigDir: gcloudDir}

	tests := []struct {
		name          string
		preset        ProviderConfig
		env           map[string]string
		wantProject   string
		wantRegion    string
		projectSource Source
		regionSource  Source
	}{
		{
			name:          "flags win",
			preset:        ProviderConfig{Project: "flag-project", Region: "europe-west1"},
			env:           map[string]string{"PROJECT_ID": "env-project", "REGION": "us-east1"},
			wantProject:   "flag-project",
			wantRegion:    "europe-west1",
			projectSource: SourceConfig,
			regionSource:  SourceConfig,
		},
		{
			name:          "PROJECT_ID and REGION",
			env:           map[string]string{"PROJECT_ID": "env-project", "REGION": "us-east1", "GOOGLE_CLOUD_PROJECT": "sdk"},
			wantProject:   "env-project",
			wantRegion:    "us-east1",
			projectSource: SourceEnv,
			regionSource:  SourceEnv,
		},
		{
			name:          "cloud sdk variables",
			env:           map[string]string{"CLOUDSDK_CORE_PROJECT": "sdk-project", "CLOUDSDK_RUN_REGION": "us-west1"},
			wantProject:   "sdk-project",
			wantRegion:    "us-west1",
			projectSource: SourceCloudSDK,
			regionSource:  SourceCloudSDK,
		},
		{
			name:          "gcloud configuration",
			env:           map[string]string{},
			wantProject:   "gcloud-project",
			wantRegion:    "asia-east1",
			projectSource: SourceGcloud,
			regionSource:  SourceGcloud,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Provider.Project = tt.preset.Project
			cfg.Provider.Region = tt.preset.Region

			res := cfg.ResolveAmbient(Ambient{Getenv: envMap(tt.env), Gcloud: detector})

			assert.Equal(t, tt.wantProject, cfg.Provider.Project)
			assert.Equal(t, tt.wantRegion, cfg.Provider.Region)
			assert.Equal(t, tt.projectSource, res.ProjectSource)
			assert.Equal(t, tt.regionSource, res.RegionSource)
		})
	}
}

func TestResolveAmbient_DefaultRegion(t *testing.T) {
	cfg := DefaultConfig()
	res := cfg.ResolveAmbient(Ambient{
		Getenv: envMap(nil),
		Gcloud: &GcloudDetector{ConfigDir: t.TempDir()},
	})

	assert.Empty(t, cfg.Provider.Project)
	assert.Equal(t, SourceNone, res.ProjectSource)
	assert.Equal(t, DefaultRegion, cfg.Provider.Region)
	assert.Equal(t, SourceDefault, res.RegionSource)
}

func TestGcloudDetector_UnsetValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "configurations", "config_default"), "[core]\nproject = (unset)\n")

	settings, err := (&GcloudDetector{ConfigDir: dir}).Detect()
	require.NoError(t, err)
	assert.Equal(t, "default", settings.Configuration)
	assert.Empty(t, settings.Project)
}

func TestNewGcloudDetector_HonoursCloudSDKConfig(t *testing.T) {
	d := NewGcloudDetector(envMap(map[string]string{"CLOUDSDK_CONFIG": "/opt/gcloud"}))
	assert.Equal(t, "/opt/gcloud", d.ConfigDir)
}
