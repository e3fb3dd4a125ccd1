// Package config loads and validates the stackform.yaml project
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stackform/stackform/pkg/telemetry"
)

// Vars holds deployment-wide substitution variables. They replace the
// {region} and {account_id} placeholders in component policy templates.
type Vars struct {
	// Region is the target cloud region.
	Region string `yaml:"region" validate:"required"`

	// AccountID is the target account identifier.
	AccountID string `yaml:"account_id" validate:"required"`
}

// ExecutorConfig tunes plan execution.
type ExecutorConfig struct {
	// MaxParallel caps concurrent provider calls.
	MaxParallel int `yaml:"max_parallel" validate:"omitempty,min=1,max=64"`

	// MaxAttempts caps attempts per operation, counting the first.
	MaxAttempts int `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`

	// OperationTimeout bounds each provider call.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// PolicyConfig configures guardrail evaluation.
type PolicyConfig struct {
	// GuardrailDir holds additional rego guardrail policies, loaded next
	// to the built-in set.
	GuardrailDir string `yaml:"guardrail_dir,omitempty"`

	// Protected lists instance names whose deletion guardrails must
	// block.
	Protected []string `yaml:"protected,omitempty"`
}

// Config is the full stackform.yaml configuration.
type Config struct {
	// CatalogDir holds the component definition documents.
	CatalogDir string `yaml:"catalog_dir" validate:"required"`

	// StatePath is the SQLite state database location.
	StatePath string `yaml:"state_path" validate:"required"`

	// Deployment is the deployment document applied by plan and apply.
	Deployment string `yaml:"deployment,omitempty"`

	// Vars are the deployment-wide substitution variables.
	Vars Vars `yaml:"vars" validate:"required"`

	// Executor tunes plan execution.
	Executor ExecutorConfig `yaml:"executor"`

	// Policy configures guardrail evaluation.
	Policy PolicyConfig `yaml:"policy"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration defaults applied before a file is
// loaded over them.
func Default() *Config {
	return &Config{
		CatalogDir: "catalog",
		StatePath:  "stackform.db",
		Deployment: "deployment.json",
		Executor: ExecutorConfig{
			MaxParallel:      10,
			MaxAttempts:      6,
			OperationTimeout: 5 * time.Minute,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads, merges over defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document over the defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return nil, fmt.Errorf("invalid config: field %s failed %s validation",
				first.Namespace(), first.Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults restores zero-valued tunables a partial document wiped
// out.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Executor.MaxParallel == 0 {
		c.Executor.MaxParallel = def.Executor.MaxParallel
	}
	if c.Executor.MaxAttempts == 0 {
		c.Executor.MaxAttempts = def.Executor.MaxAttempts
	}
	if c.Executor.OperationTimeout == 0 {
		c.Executor.OperationTimeout = def.Executor.OperationTimeout
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging.Level = def.Telemetry.Logging.Level
	}
	if c.Telemetry.Logging.Format == "" {
		c.Telemetry.Logging.Format = def.Telemetry.Logging.Format
	}
}
