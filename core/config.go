package core

import (
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/rs/zerolog"
)

// Config mirrors flowlock.yaml and carries the injectable collaborators.
// The zero value of Logger is a silent logger; Observer nil means no
// observer.
type Config struct {
	Workers             int               `yaml:"workers"`
	AntiStarvationLimit uint32            `yaml:"anti_starvation_limit"`
	DefaultPolicy       string            `yaml:"default_policy"`
	Policies            map[string]string `yaml:"policies"`
	Profiling           bool              `yaml:"profiling"`

	Logger   zerolog.Logger `yaml:"-"`
	Observer Observer       `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Workers:             DefaultWorkerCount(),
		AntiStarvationLimit: 10,
		DefaultPolicy:       PolicyShared.String(),
		Profiling:           true,
		Logger:              zerolog.Nop(),
	}
}

// LoadConfig reads YAML and overrides defaults; an empty path or an
// unreadable file yields defaults only.
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)
	return cfg.sanitized()
}

// sanitized clamps out-of-range values back to defaults.
func (c Config) sanitized() Config {
	if c.Workers < 1 {
		c.Workers = DefaultWorkerCount()
	}
	if c.AntiStarvationLimit < 1 {
		c.AntiStarvationLimit = 10
	}
	if _, err := ParsePolicy(c.DefaultPolicy); err != nil {
		c.DefaultPolicy = PolicyShared.String()
	}
	return c
}
