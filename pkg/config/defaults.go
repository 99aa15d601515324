package config

import (
	"os"
	"strings"
)

// DefaultRegion applies when no source names a region
const DefaultRegion = "us-central1"

// Source names where a project or region value came from
type Source string

const (
	SourceConfig   Source = "flag/config"
	SourceEnv      Source = "environment"
	SourceCloudSDK Source = "cloud sdk environment"
	SourceGcloud   Source = "gcloud configuration"
	SourceDefault  Source = "default"
	SourceNone     Source = ""
)

// Ambient is the process environment consulted after flags and the config file
type Ambient struct {
	Getenv func(string) string
	Gcloud *GcloudDetector
}

// DefaultAmbient reads the real process environment
func DefaultAmbient() Ambient {
	return Ambient{
		Getenv: os.Getenv,
		Gcloud: NewGcloudDetector(os.Getenv),
	}
}

// Resolution records which source supplied the project and region
type Resolution struct {
	ProjectSource Source
	RegionSource  Source
	Warnings      []string
}

// ResolveAmbient fills an empty project or region from, in order:
// PROJECT_ID/REGION, GOOGLE_CLOUD_PROJECT/CLOUDSDK_CORE_PROJECT/CLOUDSDK_RUN_REGION,
// the active gcloud configuration, and finally DefaultRegion.
// It runs once at startup; nothing downstream reads the environment.
func (c *Config) ResolveAmbient(env Ambient) Resolution {
	getenv := env.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	res := Resolution{}

	if c.Provider.Project != "" {
		res.ProjectSource = SourceConfig
	} else if v := strings.TrimSpace(getenv("PROJECT_ID")); v != "" {
		c.Provider.Project, res.ProjectSource = v, SourceEnv
	} else if v := firstEnv(getenv, "GOOGLE_CLOUD_PROJECT", "CLOUDSDK_CORE_PROJECT"); v != "" {
		c.Provider.Project, res.ProjectSource = v, SourceCloudSDK
	}

	if c.Provider.Region != "" {
		res.RegionSource = SourceConfig
	} else if v := strings.TrimSpace(getenv("REGION")); v != "" {
		c.Provider.Region, res.RegionSource = v, SourceEnv
	} else if v := firstEnv(getenv, "CLOUDSDK_RUN_REGION"); v != "" {
		c.Provider.Region, res.RegionSource = v, SourceCloudSDK
	}

	if (c.Provider.Project == "" || c.Provider.Region == "") && env.Gcloud != nil {
		settings, err := env.Gcloud.Detect()
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
		}
		if c.Provider.Project == "" && settings.Project != "" {
			c.Provider.Project, res.ProjectSource = settings.Project, SourceGcloud
		}
		if c.Provider.Region == "" && settings.Region != "" {
			c.Provider.Region, res.RegionSource = settings.Region, SourceGcloud
		}
	}

	if c.Provider.Region == "" {
		c.Provider.Region, res.RegionSource = DefaultRegion, SourceDefault
	}

	return res
}

func firstEnv(getenv func(string) string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
