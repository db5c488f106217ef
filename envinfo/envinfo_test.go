package envinfo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCollect(t *testing.T) {
	snap, err := Collect()
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if snap.CollectedAt.IsZero() {
		t.Error("Snapshot should carry a collection timestamp")
	}
	// Individual probes are best effort; on Linux the basics always
	// resolve.
	if snap.OS == "" {
		t.Error("OS should be populated")
	}
	if snap.CPUCores <= 0 {
		t.Errorf("CPUCores = %d, want > 0", snap.CPUCores)
	}
	if len(snap.Interfaces) == 0 {
		t.Error("At least the loopback interface should be listed")
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json")

	snap, err := Collect()
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if err := snap.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	var round Snapshot
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}
	if round.Hostname != snap.Hostname {
		t.Errorf("Hostname = %q, want %q", round.Hostname, snap.Hostname)
	}
}
