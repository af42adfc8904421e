// Package config loads and validates the YAML configuration: node
// endpoints, timeouts, storage layout and negotiation capabilities.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// NodeConfig is one DICOM peer endpoint.
type NodeConfig struct {
	AET              string `yaml:"aet" validate:"required,max=16"`
	Host             string `yaml:"host" validate:"required"`
	Port             int    `yaml:"port" validate:"required,gt=0,lte=65535"`
	TLS              bool   `yaml:"tls"`
	ValidateHostname bool   `yaml:"validate_hostname"`
}

// TimeoutsConfig mirrors the association timers, in seconds.
type TimeoutsConfig struct {
	Connect  int `yaml:"connect" validate:"gte=0"`
	Accept   int `yaml:"accept" validate:"gte=0"`
	Request  int `yaml:"request" validate:"gte=0"`
	Response int `yaml:"response" validate:"gte=0"`
	Release  int `yaml:"release" validate:"gte=0"`
	Idle     int `yaml:"idle" validate:"gte=0"`
}

// StorageConfig configures the storage SCP.
type StorageConfig struct {
	Directory       string `yaml:"directory"`
	FilenamePattern string `yaml:"filename_pattern"`
}

// Config is the root configuration document.
type Config struct {
	Local NodeConfig            `yaml:"local" validate:"required"`
	Nodes map[string]NodeConfig `yaml:"nodes" validate:"dive"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`

	MaxOpsInvoked   int `yaml:"max_ops_invoked" validate:"gte=0,lte=65535"`
	MaxOpsPerformed int `yaml:"max_ops_performed" validate:"gte=0,lte=65535"`

	Storage StorageConfig `yaml:"storage"`

	// TransferCapabilityFile is a properties-style file mapping SOP class
	// UID to a comma-separated transfer syntax list.
	TransferCapabilityFile string `yaml:"transfer_capability_file"`

	// ExtendSOPClassesFile is a properties-style file listing related
	// general SOP classes for common extended negotiation.
	ExtendSOPClassesFile string `yaml:"extend_sop_classes_file"`
}

var validate = validator.New()

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration back to disk.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Node returns a named peer.
func (c *Config) Node(name string) (NodeConfig, error) {
	n, ok := c.Nodes[name]
	if !ok {
		return NodeConfig{}, fmt.Errorf("node %q is not configured", name)
	}
	return n, nil
}

// seconds converts a seconds field to a time.Duration.
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ConnectTimeout returns the connect timer.
func (t TimeoutsConfig) ConnectTimeout() time.Duration { return seconds(t.Connect) }

// AcceptTimeout returns the accept (ARTIM) timer.
func (t TimeoutsConfig) AcceptTimeout() time.Duration { return seconds(t.Accept) }

// ReleaseTimeout returns the release timer.
func (t TimeoutsConfig) ReleaseTimeout() time.Duration { return seconds(t.Release) }

// ResponseTimeout returns the per-response timer.
func (t TimeoutsConfig) ResponseTimeout() time.Duration { return seconds(t.Response) }
