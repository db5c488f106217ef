// Package artifacts relocates one iteration's raw outputs into its
// durable results directory and drives the external metrics
// collaborator over them.
package artifacts

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"ids-bench/config"
)

// Well-known file names inside an iteration's results directory.
const (
	GroundTruthFileName = "ground_truth.json"
	MetricsFileName     = "detection_metrics.json"
	AlertCountFileName  = "alert_count.txt"
	SummaryFileName     = "summary.txt"
)

// IterationContext names one trial and the locations its artifacts
// belong to. It owns no external resources; it is a coordinate for
// naming things.
type IterationContext struct {
	TestType   string
	Iteration  int
	ResultsDir string
	// ComponentLogs maps logical component names to the log files
	// captured for this iteration.
	ComponentLogs map[string]string
}

// Collector copies raw artifacts and invokes the metrics collaborator.
type Collector struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewCollector creates a collector bound to the experiment config.
func NewCollector(cfg *config.Config, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{cfg: cfg, logger: logger}
}

// Collect gathers everything one iteration produced. Individual
// detector files or component logs may be missing (warning only); a
// missing ground truth or a failing metrics collaborator fails the
// iteration.
func (c *Collector) Collect(ctx context.Context, ictx IterationContext, groundTruthPath string) error {
	log := c.logger.WithFields(logrus.Fields{
		"test_type": ictx.TestType,
		"iteration": ictx.Iteration,
	})

	if err := os.MkdirAll(ictx.ResultsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create results dir %s: %w", ictx.ResultsDir, err)
	}

	// Detector output files. Partial sets are acceptable.
	detectorFiles := []string{
		c.cfg.Detector.EveLog,
		c.cfg.Detector.FastLog,
		c.cfg.Detector.StatsLog,
		c.cfg.Detector.EngineLog,
	}
	for _, name := range detectorFiles {
		src := c.cfg.DetectorFile(name)
		if err := copyFile(src, filepath.Join(ictx.ResultsDir, name)); err != nil {
			log.WithError(err).Warnf("detector file %s not collected", name)
		}
	}

	// Component logs captured during the iteration.
	for component, path := range ictx.ComponentLogs {
		dest := filepath.Join(ictx.ResultsDir, component+".log")
		if err := copyFile(path, dest); err != nil {
			log.WithError(err).Warnf("component log %s not collected", component)
		}
	}

	// Ground truth is the one artifact the iteration cannot do without.
	gtDest := filepath.Join(ictx.ResultsDir, GroundTruthFileName)
	if err := copyFile(groundTruthPath, gtDest); err != nil {
		return fmt.Errorf("ground truth missing: %w", err)
	}

	alertCount, err := c.writeAlertCount(ictx.ResultsDir)
	if err != nil {
		return err
	}
	log.Infof("collected artifacts, %d alerts in plain-text log", alertCount)

	metricsPath := filepath.Join(ictx.ResultsDir, MetricsFileName)
	if err := c.runMetricsCollaborator(ctx, ictx, gtDest, metricsPath); err != nil {
		return err
	}

	if err := c.writeSummary(ictx, alertCount, metricsPath); err != nil {
		log.WithError(err).Warn("summary not written")
	}

	return nil
}

// writeAlertCount records the line count of the copied plain-text
// alert log, 0 when the log was never produced.
func (c *Collector) writeAlertCount(resultsDir string) (int, error) {
	fastCopy := filepath.Join(resultsDir, c.cfg.Detector.FastLog)
	count, err := countLines(fastCopy)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to count alerts in %s: %w", fastCopy, err)
		}
		count = 0
	}

	path := filepath.Join(resultsDir, AlertCountFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(count)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return count, nil
}

// runMetricsCollaborator invokes the external metrics program over the
// collected copies and propagates its verdict.
func (c *Collector) runMetricsCollaborator(ctx context.Context, ictx IterationContext, groundTruth, output string) error {
	eveCopy := filepath.Join(ictx.ResultsDir, c.cfg.Detector.EveLog)

	cmd := exec.CommandContext(ctx, c.cfg.Programs.Python, c.cfg.Programs.MetricsScript,
		groundTruth, eveCopy, output, ictx.TestType, strconv.Itoa(ictx.Iteration))
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"test_type": ictx.TestType,
			"iteration": ictx.Iteration,
		}).Errorf("metrics collaborator failed: %v\n%s", err, out)
		return fmt.Errorf("metrics collaborator failed: %w", err)
	}

	c.logger.Debugf("metrics collaborator output:\n%s", out)
	return nil
}

// writeSummary renders the human-readable per-iteration summary.
func (c *Collector) writeSummary(ictx IterationContext, alertCount int, metricsPath string) error {
	path := filepath.Join(ictx.ResultsDir, SummaryFileName)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "Test type:    %s\n", ictx.TestType)
	fmt.Fprintf(f, "Iteration:    %d\n", ictx.Iteration)
	fmt.Fprintf(f, "Collected at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(f, "Alert count:  %d\n", alertCount)

	if m, err := LoadMetrics(metricsPath); err == nil {
		fmt.Fprintf(f, "\nDetection summary:\n")
		fmt.Fprintf(f, "  Attack types:      %d\n", m.Summary.TotalAttacks)
		fmt.Fprintf(f, "  Detected:          %d\n", m.Summary.DetectedAttacks)
		fmt.Fprintf(f, "  Not detected:      %d\n", m.Summary.UndetectedAttacks)
		fmt.Fprintf(f, "  Packets sent:      %d\n", m.Summary.TotalPacketsSent)
		fmt.Fprintf(f, "  Total alerts:      %d\n", m.Summary.TotalAlerts)
		fmt.Fprintf(f, "  Overall rate:      %.2f%%\n", m.Summary.OverallDetectionRatePercent)
	}

	return nil
}

// copyFile copies src to dest, creating or truncating dest.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
	}
	return out.Sync()
}

// countLines counts newline-delimited lines in a file.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
