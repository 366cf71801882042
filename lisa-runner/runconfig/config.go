// Package runconfig loads the JSON run configuration consumed by lisa-runner.
//
// The file is decoded with yaml.v3, so YAML files are accepted as well. Keys
// whose order is significant on the command lines built from them (lisaParams,
// parseResults, extra test parameters) keep their file order.
package runconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingField marks a configuration lacking one of the mandatory top-level keys.
	ErrMissingField = errors.New("required field not found")
)

// Config is the complete run configuration. It is read once at start and never
// mutated after the work list has been built.
type Config struct {
	Tests         *TestSelection `yaml:"tests"`
	VMs           *VMs           `yaml:"vms"`
	GeneralConfig *GeneralConfig `yaml:"generalConfig"`
	Processes     ProcessCount   `yaml:"processes"`

	TestsConfig  map[string]SuiteOverride `yaml:"testsConfig"`
	ExtraTests   []ExtraTest              `yaml:"extraTests"`
	LisaParams   Params                   `yaml:"lisaParams"`
	ParseResults *Params                  `yaml:"parseResults"`

	// Catalog replaces DefaultCatalog when set.
	Catalog []string `yaml:"catalog"`
	// SecondaryVMSuites lists the suites whose second VM entry is a non-SUT
	// dependency VM. Defaults to DefaultSecondaryVMSuites.
	SecondaryVMSuites []string `yaml:"secondaryVMSuites"`
}

// TestSelection chooses suites from the catalog. Run wins over Skip; with
// neither set every catalog suite is selected. A key that is present decodes
// to a non-nil slice, so an explicit empty run list selects nothing.
type TestSelection struct {
	Run  []string `yaml:"run"`
	Skip []string `yaml:"skip"`
}

// VMs describes the VMs used by the run.
type VMs struct {
	Main VMSpec `yaml:"main"`
}

// VMSpec describes the template VM cloned once per worker.
type VMSpec struct {
	Name       string `yaml:"name"`
	Server     string `yaml:"server"`
	VHDPath    string `yaml:"vhdPath"`
	VHDFolder  string `yaml:"vhdFolder"`
	Memory     string `yaml:"memory"`
	Generation int    `yaml:"generation"`
	SwitchName string `yaml:"switchName"`
}

// SuiteOverride is the per-suite section of testsConfig.
type SuiteOverride struct {
	Skip   []string                     `yaml:"skip"`
	Params map[string]map[string]string `yaml:"params"`
}

// ExtraTest is a test case injected into every selected suite definition.
type ExtraTest struct {
	TestName      string `yaml:"testName"`
	SetupScript   string `yaml:"setupScript"`
	TestScript    string `yaml:"testScript"`
	CleanupScript string `yaml:"cleanupScript"`
	Files         string `yaml:"files"`
	Timeout       int    `yaml:"timeout"`
	OnError       string `yaml:"onError"`
	NoReboot      *bool  `yaml:"noReboot"`
	TestParams    Params `yaml:"testParams"`
}

// ProcessCount is the worker pool size. It accepts both 4 and "4".
type ProcessCount int

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *ProcessCount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: processes must be a number", node.Line)
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: processes must be a number: %w", node.Line, err)
	}
	*p = ProcessCount(n)
	return nil
}

// Load reads and decodes the configuration file. It does not validate it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the mandatory keys first, in the order tests, vms,
// generalConfig, then the values the orchestrator depends on. needVHD is set
// when the run will clone the template disk.
func (c *Config) Validate(needVHD bool) error {
	switch {
	case c.Tests == nil:
		return fmt.Errorf("%w: tests", ErrMissingField)
	case c.VMs == nil:
		return fmt.Errorf("%w: vms", ErrMissingField)
	case c.GeneralConfig == nil:
		return fmt.Errorf("%w: generalConfig", ErrMissingField)
	}
	if c.Processes < 1 {
		return fmt.Errorf("processes must be at least 1, got %d", c.Processes)
	}
	if c.VMs.Main.Name == "" {
		return fmt.Errorf("%w: vms.main.name", ErrMissingField)
	}
	if needVHD && c.VMs.Main.VHDPath == "" {
		return fmt.Errorf("%w: vms.main.vhdPath", ErrMissingField)
	}
	for i, extra := range c.ExtraTests {
		if extra.TestName == "" {
			return fmt.Errorf("extraTests[%d]: testName is empty", i)
		}
	}
	return nil
}

// PoolCount returns the configured number of parallel workers.
func (c *Config) PoolCount() int {
	return int(c.Processes)
}

// SuiteCatalog returns the closed set of suite definitions known to the run.
func (c *Config) SuiteCatalog() []string {
	if len(c.Catalog) > 0 {
		return append([]string(nil), c.Catalog...)
	}
	return append([]string(nil), DefaultCatalog...)
}

// SecondaryVMSuiteSet returns the suites carrying a non-SUT VM entry.
func (c *Config) SecondaryVMSuiteSet() map[string]bool {
	names := c.SecondaryVMSuites
	if len(names) == 0 {
		names = DefaultSecondaryVMSuites
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
