package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// GcloudDetector reads the active gcloud CLI configuration
type GcloudDetector struct {
	// ConfigDir is the gcloud configuration directory (CLOUDSDK_CONFIG or ~/.config/gcloud)
	ConfigDir string
}

// GcloudSettings are the values runport takes from the gcloud CLI
type GcloudSettings struct {
	Configuration string
	Project       string
	Region        string
	Account       string
}

// NewGcloudDetector creates a detector for the default gcloud configuration directory
func NewGcloudDetector(getenv func(string) string) *GcloudDetector {
	if getenv == nil {
		getenv = os.Getenv
	}
	if dir := getenv("CLOUDSDK_CONFIG"); dir != "" {
		return &GcloudDetector{ConfigDir: dir}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return &GcloudDetector{}
	}
	return &GcloudDetector{ConfigDir: filepath.Join(home, ".config", "gcloud")}
}

// ActiveConfiguration returns the name of the active gcloud configuration
func (d *GcloudDetector) ActiveConfiguration() string {
	if d.ConfigDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(d.ConfigDir, "active_config"))
	if err != nil {
		return "default"
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "default"
	}
	return name
}

// Detect reads core/project, core/account and run/region from the active configuration.
// A missing gcloud installation yields empty settings, not an error.
func (d *GcloudDetector) Detect() (GcloudSettings, error) {
	settings := GcloudSettings{}
	if d.ConfigDir == "" {
		return settings, nil
	}

	settings.Configuration = d.ActiveConfiguration()
	path := filepath.Join(d.ConfigDir, "configurations", "config_"+settings.Configuration)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read gcloud configuration %s: %w", path, err)
	}

	file, err := ini.Load(data)
	if err != nil {
		return settings, fmt.Errorf("failed to parse gcloud configuration %s: %w", path, err)
	}

	settings.Project = unsetToEmpty(file.Section("core").Key("project").String())
	settings.Account = unsetToEmpty(file.Section("core").Key("account").String())
	settings.Region = unsetToEmpty(file.Section("run").Key("region").String())

	return settings, nil
}

// gcloud writes "(unset)" in some versions
func unsetToEmpty(value string) string {
	value = strings.TrimSpace(value)
	if value == "(unset)" {
		return ""
	}
	return value
}
