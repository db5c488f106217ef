package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Validator handles configuration validation
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Name == "" {
		return fmt.Errorf("experiment name is required")
	}

	if c.Paths.ResultsDir == "" {
		return fmt.Errorf("paths.results_dir is required")
	}

	if c.Paths.LogDir == "" {
		return fmt.Errorf("paths.log_dir is required")
	}

	if c.Programs.MetricsScript == "" {
		return fmt.Errorf("programs.metrics_script is required")
	}

	if c.Programs.AttackScript == "" {
		return fmt.Errorf("programs.attack_script is required")
	}

	if c.Attack.TargetIP == "" {
		return fmt.Errorf("attack.target_ip is required")
	}

	if c.Attack.SourceHost == "" {
		return fmt.Errorf("attack.source_host is required")
	}

	if c.Controller.Port <= 0 || c.Controller.Port > 65535 {
		return fmt.Errorf("controller.port %d is out of range", c.Controller.Port)
	}

	if err := v.validateDurations(c); err != nil {
		return err
	}

	if len(c.Tests) == 0 {
		return fmt.Errorf("at least one test type must be defined")
	}

	seen := make(map[string]bool)
	for i := range c.Tests {
		test := &c.Tests[i]
		if err := v.validateTestCase(c, i, test); err != nil {
			return err
		}
		if seen[test.Name] {
			return fmt.Errorf("test %s: duplicate test name", test.Name)
		}
		seen[test.Name] = true
	}

	return nil
}

// validateDurations checks that every timeout and interval is positive.
func (v *Validator) validateDurations(c *Config) error {
	durations := []struct {
		name  string
		value int64
	}{
		{"timeouts.controller", int64(c.Timeouts.Controller)},
		{"timeouts.network", int64(c.Timeouts.Network)},
		{"timeouts.detector", int64(c.Timeouts.Detector)},
		{"timeouts.attack", int64(c.Timeouts.Attack)},
		{"intervals.fast", int64(c.Intervals.Fast)},
		{"intervals.slow", int64(c.Intervals.Slow)},
		{"intervals.progress", int64(c.Intervals.Progress)},
		{"delays.settle", int64(c.Delays.Settle)},
		{"delays.cooldown", int64(c.Delays.Cooldown)},
		{"delays.stop_grace", int64(c.Delays.StopGrace)},
	}

	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	return nil
}

// validateTestCase validates a single test type definition
func (v *Validator) validateTestCase(c *Config, index int, test *TestCase) error {
	if test.Name == "" {
		return fmt.Errorf("test %d: name is required", index)
	}

	if test.Topology == "" {
		return fmt.Errorf("test %s: topology script is required", test.Name)
	}

	if test.Interface == "" {
		return fmt.Errorf("test %s: monitored interface is required", test.Name)
	}

	if test.Controller == "" {
		return fmt.Errorf("test %s: controller is required (use %q for non-SDN tests)", test.Name, ControllerNone)
	}

	if test.Iterations < 0 {
		return fmt.Errorf("test %s: iteration count cannot be negative", test.Name)
	}

	if test.HasController() {
		if err := v.validateProgramPath(test.Name, test.Controller); err != nil {
			return err
		}
	}

	return nil
}

// validateProgramPath checks an absolute controller path exists and is
// executable. Relative paths are trusted to resolve via PATH.
func (v *Validator) validateProgramPath(testName, path string) error {
	if !filepath.IsAbs(path) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("test %s: controller does not exist: %s", testName, path)
		}
		return fmt.Errorf("test %s: cannot access controller %s: %v", testName, path, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("test %s: controller %s is not a regular file", testName, path)
	}

	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("test %s: controller %s is not executable", testName, path)
	}

	return nil
}
