package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so scenario files can say "250ms" or "5s".
// yaml.v2 has no native duration support.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string, or a bare integer as
// nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StressConfig describes one stress scenario.
//
// A scenario runs a number of mutator threads that cross native-call
// boundaries and allocate continuously, while a requester thread stops the
// world at a fixed cadence. All fields are optional in the YAML; zero values
// are replaced by defaults.
type StressConfig struct {
	// Threads is the number of mutator threads.
	Threads int `yaml:"threads"`

	// Duration is the total run time.
	Duration Duration `yaml:"duration"`

	// SuspendEvery is the cadence of stop-the-world cycles.
	SuspendEvery Duration `yaml:"suspend_every"`

	// AllocBytes is the per-iteration allocation size; 0 disables
	// allocation in the mutator loop.
	AllocBytes int `yaml:"alloc_bytes"`

	// Sampling enables allocation sampling for the run.
	Sampling bool `yaml:"sampling"`
}

// DefaultStressConfig is the scenario used when no config file and no flags
// override it.
func DefaultStressConfig() StressConfig {
	return StressConfig{
		Threads:      4,
		Duration:     Duration(3 * time.Second),
		SuspendEvery: Duration(10 * time.Millisecond),
		AllocBytes:   64,
	}
}

// LoadStressConfig reads a scenario from a YAML file and applies defaults to
// unset fields.
func LoadStressConfig(path string) (StressConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StressConfig{}, fmt.Errorf("reading scenario: %w", err)
	}

	cfg := StressConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StressConfig{}, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return StressConfig{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return cfg, nil
}

func (c *StressConfig) applyDefaults() {
	def := DefaultStressConfig()
	if c.Threads == 0 {
		c.Threads = def.Threads
	}
	if c.Duration == 0 {
		c.Duration = def.Duration
	}
	if c.SuspendEvery == 0 {
		c.SuspendEvery = def.SuspendEvery
	}
}

func (c *StressConfig) validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.Duration.Std() < time.Millisecond {
		return fmt.Errorf("duration %v is below 1ms", c.Duration.Std())
	}
	if c.SuspendEvery.Std() < time.Microsecond {
		return fmt.Errorf("suspend_every %v is below 1us", c.SuspendEvery.Std())
	}
	if c.AllocBytes < 0 {
		return fmt.Errorf("alloc_bytes must be non-negative, got %d", c.AllocBytes)
	}
	return nil
}
