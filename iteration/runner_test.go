package iteration

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ids-bench/artifacts"
	"ids-bench/config"
	"ids-bench/probe"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testConfig builds a config with millisecond-scale waits so timeout
// paths finish quickly. The monitored interface is the loopback device
// and the victim pattern matches the test process itself, so the real
// system predicates hold without external processes.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		Name: "test experiment",
		Paths: config.PathsConfig{
			ResultsDir:  filepath.Join(root, "results"),
			LogDir:      filepath.Join(root, "logs"),
			ScratchDir:  filepath.Join(root, "scratch"),
			TopologyDir: root,
		},
		Programs: config.ProgramsConfig{
			Python:        "python3",
			MetricsScript: "collect_detection_metrics.py",
			AttackScript:  "controlled_attack_generator.py",
		},
		Emulator: config.EmulatorConfig{
			Prompt:         "mininet>",
			WarmupCommand:  "pingall",
			WarmupMarker:   "Results:",
			ExitCommand:    "exit",
			CleanupCommand: []string{"true"},
		},
		Controller: config.ControllerConfig{Port: 52913},
		Detector: config.DetectorConfig{
			Program:   "suricata",
			LogDir:    filepath.Join(root, "suricata"),
			EveLog:    "eve.json",
			FastLog:   "fast.log",
			StatsLog:  "stats.log",
			EngineLog: "suricata.log",
		},
		Attack: config.AttackConfig{
			TargetIP:         "10.0.0.100",
			SourceHost:       "web1",
			VictimHost:       "victim",
			VictimPort:       80,
			VictimPattern:    os.Args[0],
			CompletionMarker: "ATTACK SUITE COMPLETED",
			StatsGlob:        "controlled_attack_stats_*.json",
			PointerFile:      "last_ground_truth.txt",
		},
		Timeouts: config.TimeoutsConfig{
			Controller: 100 * time.Millisecond,
			Network:    300 * time.Millisecond,
			Detector:   100 * time.Millisecond,
			Attack:     500 * time.Millisecond,
		},
		Intervals: config.IntervalsConfig{
			Fast:     10 * time.Millisecond,
			Slow:     20 * time.Millisecond,
			Progress: 10 * time.Second,
		},
		Delays: config.DelaysConfig{
			Settle:    time.Millisecond,
			Cooldown:  time.Millisecond,
			StopGrace: 100 * time.Millisecond,
		},
	}

	for _, dir := range []string{cfg.Paths.ResultsDir, cfg.Paths.LogDir, cfg.Paths.ScratchDir, cfg.Detector.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	return cfg
}

type fakeSession struct {
	mu     sync.Mutex
	output string
	sent   []string
	quit   bool
	onSend func(line string)
}

func (f *fakeSession) Send(line string) error {
	f.mu.Lock()
	f.sent = append(f.sent, line)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(line)
	}
	return nil
}

func (f *fakeSession) Quit(exitCommand string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quit = true
	return nil
}

func (f *fakeSession) OutputContains(marker string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Contains(f.output, marker)
}

func (f *fakeSession) OutputSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.output))
}

type fakeSupervisor struct {
	mu       sync.Mutex
	started  []string
	stopAll  int
	alive    map[string]bool
	session  *fakeSession
	onStart  func(name string)
	startErr error
}

func (f *fakeSupervisor) Start(name string, argv []string, dir, logPath string) error {
	f.mu.Lock()
	f.started = append(f.started, name)
	onStart := f.onStart
	f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if onStart != nil {
		onStart(name)
	}
	return nil
}

func (f *fakeSupervisor) StartSession(name string, argv []string, dir, logPath string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return f.session, nil
}

func (f *fakeSupervisor) Stop(name string) {}

func (f *fakeSupervisor) StopAll(patterns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAll++
}

func (f *fakeSupervisor) IsAlive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[name]
}

func (f *fakeSupervisor) stopAllCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopAll
}

type fakeCollector struct {
	groundTruth string
	contexts    []artifacts.IterationContext
	err         error
}

func (f *fakeCollector) Collect(ctx context.Context, ictx artifacts.IterationContext, groundTruthPath string) error {
	f.groundTruth = groundTruthPath
	f.contexts = append(f.contexts, ictx)
	return f.err
}

// healthySession fakes an emulator whose output already carries every
// marker the runner looks for, and that drops a finished ground-truth
// artifact when the attack command is injected.
func healthySession(t *testing.T, cfg *config.Config) *fakeSession {
	t.Helper()
	session := &fakeSession{
		output: "mininet> \n*** Results: 0% dropped\ncontrolled_attack_generator.py\nATTACK SUITE COMPLETED\n",
	}
	session.onSend = func(line string) {
		if strings.Contains(line, cfg.Programs.AttackScript) {
			stats := filepath.Join(cfg.Paths.ScratchDir, "controlled_attack_stats_1700000000.json")
			content := `{"start_time":1700000000,"attacks":{},"totals":{"total_packets_sent":111500,"total_duration":95.2}}`
			if err := os.WriteFile(stats, []byte(content), 0o644); err != nil {
				t.Errorf("Failed to write stats: %v", err)
			}
		}
	}
	return session
}

// healthySupervisor fakes a detector that comes up and creates its
// alert log as soon as it is started.
func healthySupervisor(cfg *config.Config, session *fakeSession) *fakeSupervisor {
	sup := &fakeSupervisor{
		alive:   map[string]bool{"detector": true},
		session: session,
	}
	sup.onStart = func(name string) {
		if name == "detector" {
			_ = os.WriteFile(cfg.DetectorFile(cfg.Detector.FastLog), nil, 0o644)
		}
	}
	return sup
}

func TestRunCompletes(t *testing.T) {
	cfg := testConfig(t)
	session := healthySession(t, cfg)
	sup := healthySupervisor(cfg, session)
	collector := &fakeCollector{}

	runner := NewRunner(cfg, testLogger(), sup, collector)
	test := &config.TestCase{Name: "traditional", Topology: "topo.py", Interface: "lo", Controller: "none"}

	outcome := runner.Run(context.Background(), test, 1)

	if !outcome.Completed {
		t.Fatalf("Expected completed iteration, failed in %s: %v", outcome.FailedState, outcome.Err)
	}
	if len(collector.contexts) != 1 {
		t.Fatalf("Expected one Collect call, got %d", len(collector.contexts))
	}

	ictx := collector.contexts[0]
	if ictx.TestType != "traditional" || ictx.Iteration != 1 {
		t.Errorf("Wrong iteration context: %+v", ictx)
	}
	wantDir := filepath.Join(cfg.Paths.ResultsDir, "traditional", "iteration_1")
	if ictx.ResultsDir != wantDir {
		t.Errorf("Results dir = %s, want %s", ictx.ResultsDir, wantDir)
	}
	if !strings.Contains(collector.groundTruth, "controlled_attack_stats_") {
		t.Errorf("Collector received unexpected ground truth path %q", collector.groundTruth)
	}

	// Teardown clears the scratch dir: no stats artifact or pointer
	// survives into the next iteration.
	leftovers, _ := filepath.Glob(filepath.Join(cfg.Paths.ScratchDir, cfg.Attack.StatsGlob))
	if len(leftovers) != 0 {
		t.Errorf("Scratch dir should be clean after the run, found %v", leftovers)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.ScratchDir, cfg.Attack.PointerFile)); !os.IsNotExist(err) {
		t.Error("Ground truth pointer should be removed by teardown")
	}

	// Teardown always runs: the session was asked to exit and clean
	// ran at entry and at teardown.
	if !session.quit {
		t.Error("Session should receive a graceful exit")
	}
	if sup.stopAllCalls() < 2 {
		t.Errorf("Expected clean at entry and teardown, got %d StopAll calls", sup.stopAllCalls())
	}

	// The attack command was injected with source host, program and
	// target.
	var attackLine string
	for _, line := range session.sent {
		if strings.Contains(line, cfg.Programs.AttackScript) {
			attackLine = line
		}
	}
	for _, part := range []string{"web1", "controlled_attack_generator.py", "10.0.0.100"} {
		if !strings.Contains(attackLine, part) {
			t.Errorf("Attack command %q missing %q", attackLine, part)
		}
	}
}

func TestRunControllerTimeout(t *testing.T) {
	cfg := testConfig(t)
	sup := &fakeSupervisor{alive: map[string]bool{}, session: &fakeSession{}}
	runner := NewRunner(cfg, testLogger(), sup, &fakeCollector{})

	test := &config.TestCase{Name: "sdn", Topology: "topo.py", Interface: "lo", Controller: "pox.py"}

	start := time.Now()
	outcome := runner.Run(context.Background(), test, 1)
	elapsed := time.Since(start)

	if outcome.Completed {
		t.Fatal("Expected failed iteration")
	}
	if outcome.FailedState != StateController {
		t.Errorf("FailedState = %s, want %s", outcome.FailedState, StateController)
	}
	if !errors.Is(outcome.Err, probe.ErrTimeout) {
		t.Errorf("Expected timeout error, got %v", outcome.Err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Controller timeout took %v, configured bound is %v", elapsed, cfg.Timeouts.Controller)
	}
	// Short-circuit still tears down.
	if sup.stopAllCalls() < 2 {
		t.Errorf("Teardown clean should run after failure, got %d StopAll calls", sup.stopAllCalls())
	}
}

func TestRunDetectorTimeout(t *testing.T) {
	cfg := testConfig(t)
	session := healthySession(t, cfg)
	sup := healthySupervisor(cfg, session)
	// Detector never reports alive.
	sup.alive["detector"] = false

	runner := NewRunner(cfg, testLogger(), sup, &fakeCollector{})
	test := &config.TestCase{Name: "traditional", Topology: "topo.py", Interface: "lo", Controller: "none"}

	outcome := runner.Run(context.Background(), test, 1)

	if outcome.Completed {
		t.Fatal("Expected failed iteration")
	}
	if outcome.FailedState != StateDetector {
		t.Errorf("FailedState = %s, want %s", outcome.FailedState, StateDetector)
	}
	if !session.quit {
		t.Error("Teardown should still exit the session after a detector failure")
	}
}

// A failed iteration leaves nothing behind that stops the next one.
func TestIterationIsolation(t *testing.T) {
	cfg := testConfig(t)
	session := healthySession(t, cfg)
	sup := healthySupervisor(cfg, session)
	collector := &fakeCollector{}
	runner := NewRunner(cfg, testLogger(), sup, collector)
	test := &config.TestCase{Name: "traditional", Topology: "topo.py", Interface: "lo", Controller: "none"}

	// Iteration 1: detector dead.
	sup.mu.Lock()
	sup.alive["detector"] = false
	sup.mu.Unlock()
	first := runner.Run(context.Background(), test, 1)
	if first.Completed {
		t.Fatal("First iteration should fail")
	}

	// Iteration 2: healthy detector; must run to completion.
	sup.mu.Lock()
	sup.alive["detector"] = true
	sup.mu.Unlock()
	second := runner.Run(context.Background(), test, 2)
	if !second.Completed {
		t.Fatalf("Second iteration should complete, failed in %s: %v", second.FailedState, second.Err)
	}
	if second.Iteration != 2 {
		t.Errorf("Iteration number = %d, want 2", second.Iteration)
	}
}

func TestRunMetricsFailure(t *testing.T) {
	cfg := testConfig(t)
	session := healthySession(t, cfg)
	sup := healthySupervisor(cfg, session)
	collector := &fakeCollector{err: errors.New("collaborator exited 1")}

	runner := NewRunner(cfg, testLogger(), sup, collector)
	test := &config.TestCase{Name: "traditional", Topology: "topo.py", Interface: "lo", Controller: "none"}

	outcome := runner.Run(context.Background(), test, 1)
	if outcome.Completed {
		t.Fatal("Expected failed iteration")
	}
	if outcome.FailedState != StateMetrics {
		t.Errorf("FailedState = %s, want %s", outcome.FailedState, StateMetrics)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	sup := &fakeSupervisor{alive: map[string]bool{}}
	runner := NewRunner(cfg, testLogger(), sup, &fakeCollector{})

	// Stale artifacts from an aborted run.
	stale := filepath.Join(cfg.Paths.ScratchDir, "controlled_attack_stats_1.json")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatalf("Failed to write stale artifact: %v", err)
	}

	runner.Clean()
	runner.Clean()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Clean should remove stale ground-truth artifacts")
	}
	if sup.stopAllCalls() != 2 {
		t.Errorf("Expected 2 StopAll calls, got %d", sup.stopAllCalls())
	}
}

func TestFollower(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "network.log")
	dest := filepath.Join(dir, "attack.log")

	if err := os.WriteFile(src, []byte("before follow\n"), 0o644); err != nil {
		t.Fatalf("Failed to seed source: %v", err)
	}

	f := followLog(src, dest, 10*time.Millisecond)

	appendTo := func(s string) {
		t.Helper()
		file, err := os.OpenFile(src, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("Failed to open source: %v", err)
		}
		defer file.Close()
		if _, err := file.WriteString(s); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	appendTo("during follow\n")
	time.Sleep(50 * time.Millisecond)
	appendTo("just before stop\n")

	f.Stop()
	f.Stop() // safe to repeat

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("Failed to read destination: %v", err)
	}
	got := string(data)

	if strings.Contains(got, "before follow") {
		t.Error("Follower should start from the source's current size")
	}
	if !strings.Contains(got, "during follow") {
		t.Error("Follower should copy appended content")
	}
	if !strings.Contains(got, "just before stop") {
		t.Error("Stop should drain content written just before it")
	}
}
