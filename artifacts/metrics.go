package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
)

// DetectionMetrics mirrors the metrics collaborator's output document.
// The orchestrator persists the document verbatim and reads only the
// fields needed for reporting.
type DetectionMetrics struct {
	Metadata MetricsMetadata          `json:"metadata"`
	Attacks  map[string]AttackMetrics `json:"attacks"`
	Summary  MetricsSummary           `json:"summary"`
}

// MetricsMetadata identifies which trial a metrics document belongs to.
type MetricsMetadata struct {
	TestType          string `json:"test_type"`
	Iteration         string `json:"iteration"`
	AnalysisTimestamp string `json:"analysis_timestamp"`
}

// AttackMetrics is one attack type's detection outcome.
// DetectionRatePercent is alerts/packets and can legitimately exceed
// 100; it is passed through unmodified.
type AttackMetrics struct {
	AttackType           string   `json:"attack_type"`
	PacketsSent          int      `json:"packets_sent"`
	Detected             bool     `json:"detected"`
	TimeToDetectSeconds  *float64 `json:"time_to_detect_seconds"`
	TotalAlerts          int      `json:"total_alerts"`
	DetectionRatePercent float64  `json:"detection_rate_percent"`
}

// MetricsSummary is the collaborator's cross-attack aggregate.
type MetricsSummary struct {
	TotalAttacks                int     `json:"total_attacks"`
	DetectedAttacks             int     `json:"detected_attacks"`
	UndetectedAttacks           int     `json:"undetected_attacks"`
	DetectionSuccessRatePercent float64 `json:"detection_success_rate_percent"`
	TotalPacketsSent            int     `json:"total_packets_sent"`
	TotalAlerts                 int     `json:"total_alerts"`
	OverallDetectionRatePercent float64 `json:"overall_detection_rate_percent"`
}

// LoadMetrics reads and decodes a persisted metrics document.
func LoadMetrics(path string) (*DetectionMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics %s: %w", path, err)
	}
	var m DetectionMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metrics %s: %w", path, err)
	}
	return &m, nil
}
