// Package config provides configuration loading and management for tractparc.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"tractparc/pkg/parcellation"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Label encoding of the input parcellation
	Labels struct {
		// CorticalRanges are closed intervals of cortical parcel labels
		CorticalRanges []parcellation.LabelRange `yaml:"corticalRanges"`

		// FillableCodes are voxel labels that may receive a propagated label
		FillableCodes []int `yaml:"fillableCodes"`
	} `yaml:"labels"`

	// Propagation parameters
	Propagation struct {
		// Neighborhood is "full" (26 neighbors) or "legacy" (7 neighbors)
		Neighborhood string `yaml:"neighborhood"`

		// Workers specifies how many goroutines resolve voxel votes
		Workers int `yaml:"workers"`
	} `yaml:"propagation"`

	// Output parameters
	Output struct {
		// KeepInputLabels starts the output from the input labels instead of zeros
		KeepInputLabels bool `yaml:"keepInputLabels"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level"`

		// File, when set, receives log output through a rotating writer
		File string `yaml:"file"`

		// MaxSize is the size in megabytes before the log file is rotated
		MaxSize int `yaml:"maxSize"`

		// MaxAge is the number of days rotated files are kept
		MaxAge int `yaml:"maxAge"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	scheme := parcellation.DefaultScheme()
	cfg.Labels.CorticalRanges = scheme.CorticalRanges
	cfg.Labels.FillableCodes = scheme.FillableCodes

	cfg.Propagation.Neighborhood = scheme.Neighborhood.String()
	cfg.Propagation.Workers = runtime.NumCPU() // Use all available cores by default

	cfg.Output.KeepInputLabels = false

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 28

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Lists given in the file replace the defaults rather than merging
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Scheme converts the label and propagation sections into a parcellation scheme
func (c *Config) Scheme() (parcellation.Scheme, error) {
	n, err := parcellation.ParseNeighborhood(c.Propagation.Neighborhood)
	if err != nil {
		return parcellation.Scheme{}, err
	}
	return parcellation.Scheme{
		CorticalRanges: c.Labels.CorticalRanges,
		FillableCodes:  c.Labels.FillableCodes,
		Neighborhood:   n,
		Workers:        c.Propagation.Workers,
	}, nil
}

// Validate checks the configuration for values the pipeline cannot use
func (c *Config) Validate() error {
	s, err := c.Scheme()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if c.Logging.MaxSize < 0 || c.Logging.MaxAge < 0 {
		return fmt.Errorf("logging maxSize and maxAge must be non-negative")
	}
	return nil
}
