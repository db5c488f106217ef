// Package report renders the cross-iteration comparison report from
// the artifacts persisted on disk. Aggregation is a pure
// read-and-render pass: re-running it over the same results produces
// the same report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ids-bench/artifacts"
	"ids-bench/config"
)

// ReportFileName is the final comparison report at the results root.
const ReportFileName = "comparison_report.txt"

// displayNames maps ground-truth attack keys to their human names when
// the metrics document carries no attack_type field.
var displayNames = map[string]string{
	"syn_flood":  "SYN Flood",
	"port_scan":  "Port Scan",
	"icmp_flood": "ICMP Flood",
	"http_flood": "HTTP Flood",
}

// Aggregator builds the comparison report.
type Aggregator struct {
	logger *logrus.Logger
}

// NewAggregator creates a report aggregator.
func NewAggregator(logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{logger: logger}
}

// Generate scans every iteration directory under resultsRoot for the
// given test types, renders the report, writes it to the results root
// and returns the text.
func (a *Aggregator) Generate(resultsRoot string, tests []config.TestCase) (string, error) {
	var b strings.Builder

	b.WriteString("=" + strings.Repeat("=", 69) + "\n")
	b.WriteString("IDS DETECTION EFFECTIVENESS COMPARISON\n")
	b.WriteString("=" + strings.Repeat("=", 69) + "\n")

	for i := range tests {
		test := &tests[i]
		a.renderTestType(&b, resultsRoot, test)
	}

	text := b.String()

	path := filepath.Join(resultsRoot, ReportFileName)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	a.logger.Infof("comparison report written to %s", path)

	return text, nil
}

// renderTestType appends one test type's section: per-iteration attack
// lines followed by summary statistics over the alert counts.
func (a *Aggregator) renderTestType(b *strings.Builder, resultsRoot string, test *config.TestCase) {
	fmt.Fprintf(b, "\nTest type: %s\n", test.Name)
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", 70))

	iterations := iterationDirs(filepath.Join(resultsRoot, test.Name))

	var alertCounts []float64
	for _, n := range iterations {
		dir := filepath.Join(resultsRoot, test.Name, fmt.Sprintf("iteration_%d", n))
		fmt.Fprintf(b, "\nIteration %d:\n", n)

		metricsPath := filepath.Join(dir, artifacts.MetricsFileName)
		m, err := artifacts.LoadMetrics(metricsPath)
		if err != nil {
			fmt.Fprintf(b, "  no metrics collected\n")
		} else {
			renderAttacks(b, m)
		}

		if count, ok := readAlertCount(filepath.Join(dir, artifacts.AlertCountFileName)); ok {
			alertCounts = append(alertCounts, float64(count))
		}
	}

	renderSummary(b, alertCounts)
}

// renderAttacks writes one line per attack type, sorted by key so the
// output is deterministic.
func renderAttacks(b *strings.Builder, m *artifacts.DetectionMetrics) {
	keys := make([]string, 0, len(m.Attacks))
	for key := range m.Attacks {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		attack := m.Attacks[key]
		name := displayName(key, attack.AttackType)

		if attack.Detected {
			ttd := 0.0
			if attack.TimeToDetectSeconds != nil {
				ttd = *attack.TimeToDetectSeconds
			}
			// Rates are alerts/packets and may exceed 100%; render
			// whatever the collaborator reported.
			fmt.Fprintf(b, "  %s: %gs → %d alerts (%g%% detection rate)\n",
				name, ttd, attack.TotalAlerts, attack.DetectionRatePercent)
		} else {
			fmt.Fprintf(b, "  %s: NOT DETECTED (%d packets sent)\n",
				name, attack.PacketsSent)
		}
	}
}

// renderSummary writes the per-test statistics over the recorded alert
// counts. Trial arithmetic is integral: the mean is floored.
func renderSummary(b *strings.Builder, counts []float64) {
	fmt.Fprintf(b, "\nSummary:\n")
	fmt.Fprintf(b, "  Iterations with results: %d\n", len(counts))
	if len(counts) == 0 {
		return
	}

	mean := int(stat.Mean(counts, nil))
	min := int(floats.Min(counts))
	max := int(floats.Max(counts))

	fmt.Fprintf(b, "  Alerts per iteration: mean %d, min %d, max %d\n", mean, min, max)
}

// iterationDirs returns the iteration numbers present under dir,
// sorted ascending.
func iterationDirs(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var numbers []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rest, found := strings.CutPrefix(entry.Name(), "iteration_")
		if !found {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			continue
		}
		numbers = append(numbers, n)
	}

	sort.Ints(numbers)
	return numbers
}

// readAlertCount parses an alert_count.txt written by the collector.
func readAlertCount(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || count < 0 {
		return 0, false
	}
	return count, true
}

// displayName resolves the human-readable attack name.
func displayName(key, attackType string) string {
	if attackType != "" {
		return attackType
	}
	if name, ok := displayNames[key]; ok {
		return name
	}
	words := strings.Split(key, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
