package httpcache

import (
	"github.com/cyverse/rubbercache/fill"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Config holds the HTTP cache parameters
type Config struct {
	fill.Config `yaml:",inline"`

	// CacheableStatus lists response statuses that are stored
	CacheableStatus []int `yaml:"cacheable_status"`
	// RequireContentLength skips responses that do not announce their size
	RequireContentLength bool `yaml:"require_content_length"`
}

// NewDefaultConfig creates a default Config
func NewDefaultConfig() *Config {
	return &Config{
		Config:               *fill.NewDefaultConfig(),
		CacheableStatus:      []int{200},
		RequireContentLength: true,
	}
}

// NewConfigFromYAML creates a Config from YAML, missing fields keep their defaults
func NewConfigFromYAML(yamlBytes []byte) (*Config, error) {
	config := NewDefaultConfig()

	err := yaml.Unmarshal(yamlBytes, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal YAML - %v: %w", string(yamlBytes), err)
	}

	return config, nil
}

// Validate validates the config
func (config *Config) Validate() error {
	err := config.Config.Validate()
	if err != nil {
		return err
	}

	if len(config.CacheableStatus) == 0 {
		return xerrors.Errorf("no cacheable status given")
	}
	return nil
}

func (config *Config) isCacheableStatus(status int) bool {
	for _, cacheable := range config.CacheableStatus {
		if cacheable == status {
			return true
		}
	}
	return false
}
