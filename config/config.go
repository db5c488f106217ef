package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ControllerNone is the sentinel used in test definitions that run
// without an SDN controller.
const ControllerNone = "none"

// Config represents the overall experiment configuration. It is loaded
// once at startup and never mutated afterwards; every component
// receives it (or a sub-section of it) by reference.
type Config struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Paths      PathsConfig      `yaml:"paths"`
	Programs   ProgramsConfig   `yaml:"programs"`
	Emulator   EmulatorConfig   `yaml:"emulator"`
	Controller ControllerConfig `yaml:"controller"`
	Detector   DetectorConfig   `yaml:"detector"`
	Attack     AttackConfig     `yaml:"attack"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Intervals  IntervalsConfig  `yaml:"intervals"`
	Delays     DelaysConfig     `yaml:"delays"`

	// Tests is the ordered trial matrix. Order is preserved so repeated
	// runs execute trials deterministically.
	Tests []TestCase `yaml:"tests"`
}

// PathsConfig groups the filesystem locations used by the experiment.
type PathsConfig struct {
	ResultsDir  string `yaml:"results_dir"`
	LogDir      string `yaml:"log_dir"`
	ScratchDir  string `yaml:"scratch_dir"`
	TopologyDir string `yaml:"topology_dir"`
}

// ProgramsConfig names the external collaborator programs.
type ProgramsConfig struct {
	Python        string `yaml:"python"`
	MetricsScript string `yaml:"metrics_script"`
	AttackScript  string `yaml:"attack_script"`
}

// EmulatorConfig describes the interactive network emulator session.
type EmulatorConfig struct {
	// Prompt is the marker that signals the emulator CLI is ready for
	// input.
	Prompt string `yaml:"prompt"`
	// WarmupCommand is issued after bring-up on SDN test types to force
	// full-mesh flow installation before the attack starts.
	WarmupCommand string `yaml:"warmup_command"`
	// WarmupMarker appears in the session output once the warm-up has
	// printed its result summary.
	WarmupMarker string `yaml:"warmup_marker"`
	ExitCommand  string `yaml:"exit_command"`
	// CleanupCommand resets emulator state left behind by a previous
	// run (dangling switches, namespaces, links).
	CleanupCommand []string `yaml:"cleanup_command"`
	// CleanupPatterns match command lines of stray processes that must
	// be swept during cleanup even when their supervised context is
	// already gone.
	CleanupPatterns []string `yaml:"cleanup_patterns"`
}

// ControllerConfig describes the optional SDN controller. The program
// path itself is per test type; the listen port and extra arguments
// are shared.
type ControllerConfig struct {
	Port int      `yaml:"port"`
	Args []string `yaml:"args,omitempty"`
}

// DetectorConfig describes the intrusion detection process and the
// well-known output files it produces.
type DetectorConfig struct {
	Program    string `yaml:"program"`
	ConfigPath string `yaml:"config_path"`
	LogDir     string `yaml:"log_dir"`
	EveLog     string `yaml:"eve_log"`
	FastLog    string `yaml:"fast_log"`
	StatsLog   string `yaml:"stats_log"`
	EngineLog  string `yaml:"engine_log"`
}

// AttackConfig describes the synthetic attack generation step.
type AttackConfig struct {
	// TargetIP is the victim address inside the emulated topology.
	TargetIP string `yaml:"target_ip"`
	// SourceHost is the emulated host that runs the generator.
	SourceHost string `yaml:"source_host"`
	// VictimHost serves a plain HTTP endpoint so HTTP-level attacks
	// have something to hit.
	VictimHost string   `yaml:"victim_host"`
	VictimPort int      `yaml:"victim_port"`
	// VictimPattern identifies the victim service in the process table
	// once it is up.
	VictimPattern string   `yaml:"victim_pattern"`
	Args          []string `yaml:"args,omitempty"`
	// CompletionMarker is the banner the generator prints when the
	// whole suite has finished.
	CompletionMarker string `yaml:"completion_marker"`
	// StatsGlob matches ground-truth artifacts in the scratch dir.
	StatsGlob string `yaml:"stats_glob"`
	// PointerFile records the path of the iteration's ground truth for
	// downstream steps.
	PointerFile string `yaml:"pointer_file"`
}

// TimeoutsConfig bounds each readiness wait.
type TimeoutsConfig struct {
	Controller time.Duration `yaml:"controller"`
	Network    time.Duration `yaml:"network"`
	Detector   time.Duration `yaml:"detector"`
	Attack     time.Duration `yaml:"attack"`
}

// IntervalsConfig sets the polling cadences.
type IntervalsConfig struct {
	// Fast is used for quick system checks (ports, files, processes).
	Fast time.Duration `yaml:"fast"`
	// Slow is used for the long attack-completion wait.
	Slow time.Duration `yaml:"slow"`
	// Progress is how often the attack wait logs a diagnostic line.
	Progress time.Duration `yaml:"progress"`
}

// DelaysConfig sets the fixed settle waits between steps.
type DelaysConfig struct {
	// Settle lets asynchronous log writers catch up before artifacts
	// are read.
	Settle time.Duration `yaml:"settle"`
	// Cooldown separates consecutive iterations that share interfaces.
	Cooldown time.Duration `yaml:"cooldown"`
	// StopGrace is how long a terminated process group may take to
	// exit before it is killed outright.
	StopGrace time.Duration `yaml:"stop_grace"`
}

// TestCase is one named test configuration variant.
type TestCase struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Topology is the emulator script, relative to paths.topology_dir
	// unless absolute.
	Topology string `yaml:"topology"`
	// Interface is the switch port the detector monitors.
	Interface string `yaml:"interface"`
	// Controller is the controller program path, or "none".
	Controller string `yaml:"controller"`
	Iterations int    `yaml:"iterations"`
}

// HasController reports whether this test type runs an SDN controller.
func (t *TestCase) HasController() bool {
	return t.Controller != "" && t.Controller != ControllerNone
}

// Load loads configuration from a YAML file, applies defaults and
// validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	cfg.applyDefaults()

	validator := NewValidator()
	if err := validator.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in the observed defaults for everything the file
// leaves unset.
func (c *Config) applyDefaults() {
	if c.Paths.ScratchDir == "" {
		c.Paths.ScratchDir = "/tmp"
	}
	if c.Programs.Python == "" {
		c.Programs.Python = "python3"
	}
	if c.Emulator.Prompt == "" {
		c.Emulator.Prompt = "mininet>"
	}
	if c.Emulator.WarmupCommand == "" {
		c.Emulator.WarmupCommand = "pingall"
	}
	if c.Emulator.WarmupMarker == "" {
		c.Emulator.WarmupMarker = "Results:"
	}
	if c.Emulator.ExitCommand == "" {
		c.Emulator.ExitCommand = "exit"
	}
	if len(c.Emulator.CleanupCommand) == 0 {
		c.Emulator.CleanupCommand = []string{"mn", "-c"}
	}
	if c.Controller.Port == 0 {
		c.Controller.Port = 6633
	}
	if c.Detector.Program == "" {
		c.Detector.Program = "suricata"
	}
	if c.Detector.LogDir == "" {
		c.Detector.LogDir = "/var/log/suricata"
	}
	if c.Detector.EveLog == "" {
		c.Detector.EveLog = "eve.json"
	}
	if c.Detector.FastLog == "" {
		c.Detector.FastLog = "fast.log"
	}
	if c.Detector.StatsLog == "" {
		c.Detector.StatsLog = "stats.log"
	}
	if c.Detector.EngineLog == "" {
		c.Detector.EngineLog = "suricata.log"
	}
	if c.Attack.VictimHost == "" {
		c.Attack.VictimHost = "victim"
	}
	if c.Attack.VictimPort == 0 {
		c.Attack.VictimPort = 80
	}
	if c.Attack.VictimPattern == "" {
		c.Attack.VictimPattern = "http.server"
	}
	if c.Attack.CompletionMarker == "" {
		c.Attack.CompletionMarker = "ATTACK SUITE COMPLETED"
	}
	if c.Attack.StatsGlob == "" {
		c.Attack.StatsGlob = "controlled_attack_stats_*.json"
	}
	if c.Attack.PointerFile == "" {
		c.Attack.PointerFile = "last_ground_truth.txt"
	}
	if c.Timeouts.Controller == 0 {
		c.Timeouts.Controller = 30 * time.Second
	}
	if c.Timeouts.Network == 0 {
		c.Timeouts.Network = 45 * time.Second
	}
	if c.Timeouts.Detector == 0 {
		c.Timeouts.Detector = 30 * time.Second
	}
	if c.Timeouts.Attack == 0 {
		c.Timeouts.Attack = 600 * time.Second
	}
	if c.Intervals.Fast == 0 {
		c.Intervals.Fast = time.Second
	}
	if c.Intervals.Slow == 0 {
		c.Intervals.Slow = 5 * time.Second
	}
	if c.Intervals.Progress == 0 {
		c.Intervals.Progress = 30 * time.Second
	}
	if c.Delays.Settle == 0 {
		c.Delays.Settle = 10 * time.Second
	}
	if c.Delays.Cooldown == 0 {
		c.Delays.Cooldown = 10 * time.Second
	}
	if c.Delays.StopGrace == 0 {
		c.Delays.StopGrace = 5 * time.Second
	}
}

// TestByName returns the test case with the given name, or nil.
func (c *Config) TestByName(name string) *TestCase {
	for i := range c.Tests {
		if c.Tests[i].Name == name {
			return &c.Tests[i]
		}
	}
	return nil
}

// TotalIterations returns the size of the trial matrix.
func (c *Config) TotalIterations() int {
	total := 0
	for i := range c.Tests {
		total += c.Tests[i].Iterations
	}
	return total
}

// TopologyPath resolves a test case's topology script against the
// configured topology directory.
func (c *Config) TopologyPath(t *TestCase) string {
	if filepath.IsAbs(t.Topology) {
		return t.Topology
	}
	return filepath.Join(c.Paths.TopologyDir, t.Topology)
}

// DetectorFile returns the path of one of the detector's well-known
// output files.
func (c *Config) DetectorFile(name string) string {
	return filepath.Join(c.Detector.LogDir, name)
}
