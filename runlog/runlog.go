// Package runlog sets up the unified run log and names the
// per-component log files that capture raw process output.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// RunLogName is the unified orchestration log inside the log dir.
const RunLogName = "experiment_run.log"

// Logical component names. Each supervised component tees its combined
// output into <log_dir>/<component>.log.
const (
	ComponentNetwork    = "network"
	ComponentController = "controller"
	ComponentDetector   = "detector"
	ComponentAttack     = "attack"
)

// Setup creates the log directory and returns a logger that writes
// timestamped entries to both stderr and the unified run log. The
// returned closer releases the run log file handle.
func Setup(logDir string, verbose bool) (*logrus.Logger, func() error, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir %s: %w", logDir, err)
	}

	path := filepath.Join(logDir, RunLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}

	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger, f.Close, nil
}

// ComponentLogPath returns the log file path for a logical component.
func ComponentLogPath(logDir, component string) string {
	return filepath.Join(logDir, component+".log")
}
