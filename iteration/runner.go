// Package iteration sequences one full trial: cleanup, optional
// controller, network emulator, detector, attack suite, metrics
// collection, teardown and cooldown. Each state is a precondition for
// the next; any failure short-circuits to teardown, which always runs.
package iteration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ids-bench/artifacts"
	"ids-bench/config"
	"ids-bench/probe"
	"ids-bench/runlog"
	"ids-bench/supervise"
)

// State names, used in outcomes and diagnostics.
const (
	StateClean      = "CLEAN"
	StateController = "CONTROLLER"
	StateNetwork    = "NETWORK"
	StateDetector   = "DETECTOR"
	StateAttack     = "ATTACK"
	StateMetrics    = "METRICS"
	StateTeardown   = "TEARDOWN"
	StateCooldown   = "COOLDOWN"
)

// Session is the interactive control channel into the running network
// emulator.
type Session interface {
	Send(line string) error
	Quit(exitCommand string) error
	OutputContains(marker string) bool
	OutputSize() int64
}

// Supervisor is the process-control surface the state machine needs.
type Supervisor interface {
	Start(name string, argv []string, dir, logPath string) error
	StartSession(name string, argv []string, dir, logPath string) (Session, error)
	Stop(name string)
	StopAll(patterns ...string)
	IsAlive(name string) bool
}

// Collector relocates one iteration's artifacts and runs the metrics
// collaborator.
type Collector interface {
	Collect(ctx context.Context, ictx artifacts.IterationContext, groundTruthPath string) error
}

// Outcome is the terminal result of one trial. Failures are values:
// nothing escapes the runner as a panic or unhandled error.
type Outcome struct {
	TestType    string
	Iteration   int
	Completed   bool
	FailedState string
	Err         error
	ResultsDir  string
	Duration    time.Duration
}

// Runner executes single trials.
type Runner struct {
	cfg       *config.Config
	logger    *logrus.Logger
	sup       Supervisor
	collector Collector
}

// NewRunner creates a trial runner.
func NewRunner(cfg *config.Config, logger *logrus.Logger, sup Supervisor, collector Collector) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{cfg: cfg, logger: logger, sup: sup, collector: collector}
}

// supervisorAdapter narrows *supervise.Supervisor to the Supervisor
// interface.
type supervisorAdapter struct {
	*supervise.Supervisor
}

func (a supervisorAdapter) Start(name string, argv []string, dir, logPath string) error {
	_, err := a.Supervisor.Start(name, argv, dir, logPath)
	return err
}

func (a supervisorAdapter) StartSession(name string, argv []string, dir, logPath string) (Session, error) {
	return a.Supervisor.StartInteractive(name, argv, dir, logPath)
}

// WrapSupervisor adapts the concrete supervisor to the interface the
// runner consumes.
func WrapSupervisor(s *supervise.Supervisor) Supervisor {
	return supervisorAdapter{s}
}

// Run executes one trial of test as iteration n (1-based). The outcome
// is always returned; teardown runs regardless of where the trial
// failed, including on context cancellation.
func (r *Runner) Run(ctx context.Context, test *config.TestCase, n int) Outcome {
	start := time.Now()
	log := r.logger.WithFields(logrus.Fields{
		"test_type": test.Name,
		"iteration": n,
	})

	ictx := artifacts.IterationContext{
		TestType:   test.Name,
		Iteration:  n,
		ResultsDir: filepath.Join(r.cfg.Paths.ResultsDir, test.Name, fmt.Sprintf("iteration_%d", n)),
		ComponentLogs: map[string]string{
			runlog.ComponentNetwork:  runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentNetwork),
			runlog.ComponentDetector: runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentDetector),
			runlog.ComponentAttack:   runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentAttack),
		},
	}
	if test.HasController() {
		ictx.ComponentLogs[runlog.ComponentController] = runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentController)
	}

	var session Session
	failedState, err := r.execute(ctx, test, n, ictx, &session)

	r.teardown(session)

	outcome := Outcome{
		TestType:   test.Name,
		Iteration:  n,
		ResultsDir: ictx.ResultsDir,
		Duration:   time.Since(start),
	}
	if err != nil {
		outcome.FailedState = failedState
		outcome.Err = err
		log.WithError(err).Errorf("iteration failed in %s after %v", failedState, outcome.Duration)
		return outcome
	}

	outcome.Completed = true
	log.Infof("iteration completed in %v", outcome.Duration)

	log.Debugf("%s: waiting %v before next trial", StateCooldown, r.cfg.Delays.Cooldown)
	sleepCtx(ctx, r.cfg.Delays.Cooldown)

	return outcome
}

// execute walks the states up to and including METRICS. It returns the
// name of the failing state alongside the error.
func (r *Runner) execute(ctx context.Context, test *config.TestCase, n int, ictx artifacts.IterationContext, sessionOut *Session) (string, error) {
	log := r.logger.WithFields(logrus.Fields{
		"test_type": test.Name,
		"iteration": n,
	})

	log.Infof("%s: resetting environment", StateClean)
	r.Clean()

	if err := ctx.Err(); err != nil {
		return StateClean, err
	}

	if test.HasController() {
		log.Infof("%s: starting %s", StateController, test.Controller)
		if err := r.startController(ctx, test); err != nil {
			return StateController, err
		}
	}

	log.Infof("%s: starting topology %s", StateNetwork, test.Topology)
	session, err := r.startNetwork(ctx, test)
	if err != nil {
		return StateNetwork, err
	}
	*sessionOut = session

	log.Infof("%s: starting detector on %s", StateDetector, test.Interface)
	if err := r.startDetector(ctx, test); err != nil {
		return StateDetector, err
	}

	log.Infof("%s: launching attack suite against %s", StateAttack, r.cfg.Attack.TargetIP)
	groundTruth, err := r.runAttack(ctx, session, log)
	if err != nil {
		return StateAttack, err
	}

	log.Infof("%s: collecting artifacts into %s", StateMetrics, ictx.ResultsDir)
	if err := r.collector.Collect(ctx, ictx, groundTruth); err != nil {
		return StateMetrics, err
	}

	return "", nil
}

// startController launches the SDN controller and waits for its
// control-plane port.
func (r *Runner) startController(ctx context.Context, test *config.TestCase) error {
	argv := append([]string{r.cfg.Programs.Python, test.Controller}, r.cfg.Controller.Args...)
	logPath := runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentController)

	if err := r.sup.Start(runlog.ComponentController, argv, "", logPath); err != nil {
		return err
	}

	err := probe.Await(ctx, probe.PortListening(uint32(r.cfg.Controller.Port)),
		r.cfg.Timeouts.Controller, r.cfg.Intervals.Fast)
	if err != nil {
		return fmt.Errorf("controller port %d not listening: %w", r.cfg.Controller.Port, err)
	}
	return nil
}

// startNetwork brings up the emulator session, waits for the
// interactive prompt and the monitored interface, warms up
// connectivity on SDN configurations, and starts the victim's HTTP
// endpoint.
func (r *Runner) startNetwork(ctx context.Context, test *config.TestCase) (Session, error) {
	argv := []string{r.cfg.Programs.Python, r.cfg.TopologyPath(test)}
	logPath := runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentNetwork)

	session, err := r.sup.StartSession(runlog.ComponentNetwork, argv, "", logPath)
	if err != nil {
		return nil, err
	}

	ready := probe.All(
		func() bool { return session.OutputContains(r.cfg.Emulator.Prompt) },
		probe.InterfaceExists(test.Interface),
	)
	if err := probe.Await(ctx, ready, r.cfg.Timeouts.Network, r.cfg.Intervals.Fast); err != nil {
		return session, fmt.Errorf("network not ready (prompt %q, interface %s): %w",
			r.cfg.Emulator.Prompt, test.Interface, err)
	}

	// SDN configurations need flows installed before traffic flows
	// predictably; a full mesh ping forces that.
	if test.HasController() {
		if err := session.Send(r.cfg.Emulator.WarmupCommand); err != nil {
			return session, err
		}
		err := probe.Await(ctx,
			func() bool { return session.OutputContains(r.cfg.Emulator.WarmupMarker) },
			r.cfg.Timeouts.Network, r.cfg.Intervals.Fast)
		if err != nil {
			return session, fmt.Errorf("connectivity warm-up did not finish: %w", err)
		}
	}

	victimCmd := fmt.Sprintf("%s %s -m http.server %d &",
		r.cfg.Attack.VictimHost, r.cfg.Programs.Python, r.cfg.Attack.VictimPort)
	if err := session.Send(victimCmd); err != nil {
		return session, err
	}
	err = probe.Await(ctx, probe.ProcessMatching(r.cfg.Attack.VictimPattern),
		r.cfg.Timeouts.Network, r.cfg.Intervals.Fast)
	if err != nil {
		return session, fmt.Errorf("victim HTTP service not running: %w", err)
	}

	return session, nil
}

// startDetector clears old detector logs, starts the detector bound to
// the monitored interface, and waits until it is alive with its
// primary alert log created.
func (r *Runner) startDetector(ctx context.Context, test *config.TestCase) error {
	for _, name := range []string{
		r.cfg.Detector.EveLog,
		r.cfg.Detector.FastLog,
		r.cfg.Detector.StatsLog,
		r.cfg.Detector.EngineLog,
	} {
		if err := os.Remove(r.cfg.DetectorFile(name)); err != nil && !os.IsNotExist(err) {
			r.logger.WithError(err).Warnf("could not clear detector log %s", name)
		}
	}

	argv := []string{r.cfg.Detector.Program}
	if r.cfg.Detector.ConfigPath != "" {
		argv = append(argv, "-c", r.cfg.Detector.ConfigPath)
	}
	argv = append(argv, "-i", test.Interface, "-l", r.cfg.Detector.LogDir)

	logPath := runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentDetector)
	if err := r.sup.Start(runlog.ComponentDetector, argv, "", logPath); err != nil {
		return err
	}

	ready := probe.All(
		func() bool { return r.sup.IsAlive(runlog.ComponentDetector) },
		probe.FileExists(r.cfg.DetectorFile(r.cfg.Detector.FastLog)),
	)
	if err := probe.Await(ctx, ready, r.cfg.Timeouts.Detector, r.cfg.Intervals.Fast); err != nil {
		return fmt.Errorf("detector not ready (alert log %s): %w",
			r.cfg.DetectorFile(r.cfg.Detector.FastLog), err)
	}
	return nil
}

// runAttack clears stale ground truth, injects the attack command into
// the session, waits for the composite completion signal and returns
// the discovered ground-truth path.
func (r *Runner) runAttack(ctx context.Context, session Session, log *logrus.Entry) (string, error) {
	r.clearGroundTruth()
	attackStart := time.Now()

	cmdParts := []string{
		r.cfg.Attack.SourceHost,
		r.cfg.Programs.Python,
		r.cfg.Programs.AttackScript,
		r.cfg.Attack.TargetIP,
	}
	cmdParts = append(cmdParts, r.cfg.Attack.Args...)
	command := strings.Join(cmdParts, " ")

	if err := session.Send(command); err != nil {
		return "", fmt.Errorf("failed to inject attack command: %w", err)
	}

	// Acceptance confirmation is best-effort: the CLI may not echo.
	echoSeen := probe.Await(ctx,
		func() bool { return session.OutputContains(r.cfg.Programs.AttackScript) },
		r.cfg.Intervals.Slow, r.cfg.Intervals.Fast)
	if echoSeen != nil {
		log.Warn("attack command acceptance not confirmed in session output")
	}

	// Stream session output growth into the attack component log while
	// the suite runs; the follower is stopped on every exit path.
	follower := followLog(
		runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentNetwork),
		runlog.ComponentLogPath(r.cfg.Paths.LogDir, runlog.ComponentAttack),
		r.cfg.Intervals.Fast)
	defer follower.Stop()

	// The console banner and the flushed stats file can race; watch
	// both every poll.
	complete := probe.Any(
		func() bool { return session.OutputContains(r.cfg.Attack.CompletionMarker) },
		func() bool {
			path, err := artifacts.FindGroundTruth(r.cfg.Paths.ScratchDir, r.cfg.Attack.StatsGlob, attackStart)
			return err == nil && artifacts.HasTotals(path)
		},
	)

	err := probe.AwaitProgress(ctx, complete,
		r.cfg.Timeouts.Attack, r.cfg.Intervals.Slow, r.cfg.Intervals.Progress,
		func(elapsed time.Duration) {
			log.Infof("%s: still running after %v (output %d bytes)",
				StateAttack, elapsed.Round(time.Second), session.OutputSize())
		})
	if err != nil {
		return "", fmt.Errorf("attack suite did not complete: %w", err)
	}

	// Let the detector finish processing in-flight packets before
	// artifacts are read.
	sleepCtx(ctx, r.cfg.Delays.Settle)

	groundTruth, err := artifacts.FindGroundTruth(r.cfg.Paths.ScratchDir, r.cfg.Attack.StatsGlob, attackStart)
	if err != nil {
		return "", err
	}

	pointer := filepath.Join(r.cfg.Paths.ScratchDir, r.cfg.Attack.PointerFile)
	if err := artifacts.WritePointer(pointer, groundTruth); err != nil {
		log.WithError(err).Warn("ground truth pointer not written")
	}

	return groundTruth, nil
}

// teardown asks the session to exit gracefully and then cleans
// unconditionally. It never fails.
func (r *Runner) teardown(session Session) {
	r.logger.Debugf("%s: shutting down", StateTeardown)
	if session != nil {
		if err := session.Quit(r.cfg.Emulator.ExitCommand); err != nil {
			r.logger.WithError(err).Debug("graceful session exit failed")
		}
	}
	r.Clean()
}

// Clean stops every supervised process, sweeps strays, resets emulator
// state and removes transient per-run files. It is idempotent and
// safe on a system with nothing running.
func (r *Runner) Clean() {
	r.sup.StopAll(r.cfg.Emulator.CleanupPatterns...)

	if len(r.cfg.Emulator.CleanupCommand) > 0 {
		runQuiet(r.cfg.Emulator.CleanupCommand)
	}

	r.clearGroundTruth()
}

// clearGroundTruth removes stale stats artifacts and the pointer file.
func (r *Runner) clearGroundTruth() {
	matches, err := filepath.Glob(filepath.Join(r.cfg.Paths.ScratchDir, r.cfg.Attack.StatsGlob))
	if err == nil {
		for _, match := range matches {
			if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
				r.logger.WithError(err).Debugf("could not remove stale artifact %s", match)
			}
		}
	}
	pointer := filepath.Join(r.cfg.Paths.ScratchDir, r.cfg.Attack.PointerFile)
	if err := os.Remove(pointer); err != nil && !os.IsNotExist(err) {
		r.logger.WithError(err).Debug("could not remove ground truth pointer")
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
