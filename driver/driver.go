// Package driver walks the configured trial matrix, invoking the
// iteration runner once per (test type, iteration) pair and tolerating
// individual failures so the matrix always progresses.
package driver

import (
	"context"

	"github.com/sirupsen/logrus"

	"ids-bench/config"
	"ids-bench/iteration"
)

// Counters tracks trial outcomes for one driver run.
type Counters struct {
	Completed int
	Failed    int
	Total     int
}

// SuccessRate returns completed/total as a percentage, 0 when the
// matrix is empty.
func (c Counters) SuccessRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Total) * 100
}

// IterationRunner is the per-trial collaborator.
type IterationRunner interface {
	Run(ctx context.Context, test *config.TestCase, n int) iteration.Outcome
	Clean()
}

// Driver runs the whole experiment.
type Driver struct {
	cfg    *config.Config
	logger *logrus.Logger
	runner IterationRunner

	outcomes []iteration.Outcome
}

// New creates an experiment driver.
func New(cfg *config.Config, logger *logrus.Logger, runner IterationRunner) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{cfg: cfg, logger: logger, runner: runner}
}

// Run executes every trial in configuration order. It cleans once
// before the first trial and once after the last; the final clean also
// runs when ctx is cancelled mid-matrix. Individual failures never
// abort the matrix.
func (d *Driver) Run(ctx context.Context) Counters {
	counters := Counters{Total: d.cfg.TotalIterations()}

	d.logger.Infof("starting experiment %q: %d test types, %d trials",
		d.cfg.Name, len(d.cfg.Tests), counters.Total)

	d.runner.Clean()
	defer d.runner.Clean()

matrix:
	for ti := range d.cfg.Tests {
		test := &d.cfg.Tests[ti]
		for n := 1; n <= test.Iterations; n++ {
			if ctx.Err() != nil {
				d.logger.Warn("experiment interrupted, cleaning up")
				break matrix
			}

			outcome := d.runner.Run(ctx, test, n)
			d.outcomes = append(d.outcomes, outcome)

			if outcome.Completed {
				counters.Completed++
			} else {
				counters.Failed++
			}

			d.logger.Infof("progress: %d completed, %d failed, %d remaining",
				counters.Completed, counters.Failed,
				counters.Total-counters.Completed-counters.Failed)
		}
	}

	d.logger.Infof("experiment finished: %d/%d trials completed (%.1f%% success rate)",
		counters.Completed, counters.Total, counters.SuccessRate())

	return counters
}

// Outcomes returns the per-trial outcomes in execution order.
func (d *Driver) Outcomes() []iteration.Outcome {
	return d.outcomes
}
