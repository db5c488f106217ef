// Package envinfo records a snapshot of the host the experiment ran
// on, so results can be interpreted against the hardware and kernel
// that produced them.
package envinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Snapshot is the environment record persisted next to the results.
type Snapshot struct {
	CollectedAt   time.Time `json:"collected_at"`
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform"`
	KernelVersion string    `json:"kernel_version"`
	CPUModel      string    `json:"cpu_model"`
	CPUCores      int       `json:"cpu_cores"`
	MemoryTotalMB uint64    `json:"memory_total_mb"`
	Interfaces    []string  `json:"interfaces"`
}

// Collect gathers the snapshot from the local host. Individual probes
// that fail leave their fields empty rather than failing the snapshot.
func Collect() (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now()}

	if info, err := host.Info(); err == nil {
		snap.Hostname = info.Hostname
		snap.OS = info.OS
		snap.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		snap.KernelVersion = info.KernelVersion
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		snap.CPUModel = infos[0].ModelName
	}
	if count, err := cpu.Counts(true); err == nil {
		snap.CPUCores = count
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryTotalMB = vm.Total / (1024 * 1024)
	}

	if ifaces, err := psnet.Interfaces(); err == nil {
		for _, iface := range ifaces {
			snap.Interfaces = append(snap.Interfaces, iface.Name)
		}
	}

	if snap.Hostname == "" && snap.CPUModel == "" {
		return snap, fmt.Errorf("environment collection produced an empty snapshot")
	}
	return snap, nil
}

// Write persists the snapshot as indented JSON.
func (s *Snapshot) Write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal environment snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write environment snapshot %s: %w", path, err)
	}
	return nil
}
