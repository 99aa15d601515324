package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// MaxWorkers caps export.workers
	MaxWorkers = 64

	EnvPrefix = "RUNPORT"
)

// Config represents the complete runport configuration
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Export   ExportConfig   `mapstructure:"export"`
	Output   OutputConfig   `mapstructure:"output"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig selects the project, regions and credentials used for listing
type ProviderConfig struct {
	Project     string   `mapstructure:"project"`
	Region      string   `mapstructure:"region"`
	Regions     []string `mapstructure:"regions"`
	AllRegions  bool     `mapstructure:"all_regions"`
	Credentials string   `mapstructure:"credentials"`
	Kind        string   `mapstructure:"kind"`
}

// ExportConfig controls the describe pool and the export directory
type ExportConfig struct {
	OutDir         string        `mapstructure:"out_dir"`
	Workers        int           `mapstructure:"workers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	KeepHistory    bool          `mapstructure:"keep_history"`
	Publish        string        `mapstructure:"publish"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
// Project and region are left empty; ResolveAmbient fills them.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind: "run.service",
		},
		Export: ExportConfig{
			OutDir:         "./export",
			Workers:        8,
			RequestTimeout: 30 * time.Second,
			KeepHistory:    true,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Setup registers config file locations, defaults and environment bindings on v
func Setup(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".runport"))
		}
		v.AddConfigPath(".")
	}

	// RUNPORT_EXPORT_WORKERS -> export.workers
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("provider.kind", defaults.Provider.Kind)
	v.SetDefault("provider.regions", []string{})
	v.SetDefault("provider.all_regions", false)
	v.SetDefault("export.out_dir", defaults.Export.OutDir)
	v.SetDefault("export.workers", defaults.Export.Workers)
	v.SetDefault("export.request_timeout", defaults.Export.RequestTimeout)
	v.SetDefault("export.keep_history", defaults.Export.KeepHistory)
	v.SetDefault("export.publish", "")
	v.SetDefault("output.format", defaults.Output.Format)
	v.SetDefault("output.no_color", false)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	// No defaults for these: an empty value falls through to ResolveAmbient
	v.BindEnv("provider.project")
	v.BindEnv("provider.region")
	v.BindEnv("provider.credentials", "RUNPORT_PROVIDER_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("logging.level", "RUNPORT_LOGGING_LEVEL", "LOG_LEVEL")
}

// Load reads the config file (if any) and unmarshals v into a Config
func Load(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is not an error - we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.Project) == "" {
		return fmt.Errorf("provider project is required")
	}
	if strings.TrimSpace(c.Provider.Region) == "" {
		return fmt.Errorf("provider region is required")
	}
	if c.Provider.Kind != "run.service" {
		return fmt.Errorf("unsupported resource kind %q", c.Provider.Kind)
	}

	if c.Export.OutDir == "" {
		return fmt.Errorf("export output directory is required")
	}
	if c.Export.Workers < 1 || c.Export.Workers > MaxWorkers {
		return fmt.Errorf("export workers must be between 1 and %d, got %d", MaxWorkers, c.Export.Workers)
	}
	if c.Export.RequestTimeout <= 0 {
		return fmt.Errorf("export request timeout must be positive")
	}
	if c.Export.Publish != "" && !strings.HasPrefix(c.Export.Publish, "gs://") {
		return fmt.Errorf("export publish target must be a gs:// URL, got %q", c.Export.Publish)
	}

	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("output format must be text or json, got %q", c.Output.Format)
	}

	return nil
}

// TargetRegions returns the regions to enumerate, global region first.
// An empty result with AllRegions set means "ask the provider".
func (c *Config) TargetRegions() []string {
	seen := map[string]bool{}
	var regions []string
	add := func(r string) {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			return
		}
		seen[r] = true
		regions = append(regions, r)
	}

	if c.Provider.AllRegions {
		return nil
	}
	add(c.Provider.Region)
	for _, r := range c.Provider.Regions {
		add(r)
	}
	return regions
}

// ExpandPaths expands home directory paths
func (c *Config) ExpandPaths() error {
	var err error
	c.Export.OutDir, err = expandPath(c.Export.OutDir)
	if err != nil {
		return fmt.Errorf("failed to expand export output directory: %w", err)
	}

	c.Provider.Credentials, err = expandPath(c.Provider.Credentials)
	if err != nil {
		return fmt.Errorf("failed to expand credentials path: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}

	if len(path) == 1 {
		return home, nil
	}

	return filepath.Join(home, path[1:]), nil
}
