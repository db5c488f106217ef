package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GroundTruth mirrors the parts of the attack generator's stats
// document that the orchestrator inspects. The document itself is
// opaque: it is located, copied and forwarded, never modified.
type GroundTruth struct {
	StartTime float64                 `json:"start_time"`
	Totals    *GroundTruthTotals      `json:"totals,omitempty"`
	Attacks   map[string]AttackRecord `json:"attacks"`
}

// GroundTruthTotals is only written once the attack suite has
// finished, which makes its presence the artifact-side end-of-run
// marker.
type GroundTruthTotals struct {
	TotalPacketsSent float64 `json:"total_packets_sent"`
	TotalDuration    float64 `json:"total_duration"`
}

// AttackRecord is one attack's ground-truth entry.
type AttackRecord struct {
	AttackType  string  `json:"attack_type"`
	PacketsSent int     `json:"packets_sent"`
	Duration    float64 `json:"duration"`
}

// FindGroundTruth returns the newest file in dir matching glob whose
// modification time is after since. The generator writes one stats
// file per run with a timestamped name, so newest-by-mtime identifies
// the current iteration's document.
func FindGroundTruth(dir, glob string, since time.Time) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", fmt.Errorf("bad ground truth pattern %q: %w", glob, err)
	}

	var newest string
	var newestMod time.Time
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.ModTime().Before(since) {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = match
			newestMod = info.ModTime()
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no ground truth matching %q in %s newer than %s", glob, dir, since.Format(time.RFC3339))
	}
	return newest, nil
}

// HasTotals reports whether the document at path parses as JSON and
// carries the end-of-run totals object. Unreadable or partially
// flushed files count as not finished.
func HasTotals(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var gt GroundTruth
	if err := json.Unmarshal(data, &gt); err != nil {
		return false
	}
	return gt.Totals != nil
}

// WritePointer persists the discovered ground-truth path to the
// well-known pointer file for downstream steps.
func WritePointer(pointerPath, groundTruthPath string) error {
	if err := os.WriteFile(pointerPath, []byte(groundTruthPath+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write ground truth pointer %s: %w", pointerPath, err)
	}
	return nil
}

// ReadPointer reads back a pointer written by WritePointer.
func ReadPointer(pointerPath string) (string, error) {
	data, err := os.ReadFile(pointerPath)
	if err != nil {
		return "", fmt.Errorf("failed to read ground truth pointer %s: %w", pointerPath, err)
	}
	return strings.TrimSpace(string(data)), nil
}
