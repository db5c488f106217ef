package probe

import (
	"os"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// PortListening returns a predicate that holds when a local TCP socket
// is listening on port.
func PortListening(port uint32) Predicate {
	return func() bool {
		conns, err := psnet.Connections("tcp")
		if err != nil {
			return false
		}
		for _, conn := range conns {
			if conn.Status == "LISTEN" && conn.Laddr.Port == port {
				return true
			}
		}
		return false
	}
}

// FileExists returns a predicate that holds when path names an
// existing file.
func FileExists(path string) Predicate {
	return func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
}

// FileContains returns a predicate that holds when the file at path
// can be read and contains marker.
func FileContains(path, marker string) Predicate {
	return func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		return strings.Contains(string(data), marker)
	}
}

// InterfaceExists returns a predicate that holds when a network
// interface with the given name is present.
func InterfaceExists(name string) Predicate {
	return func() bool {
		ifaces, err := psnet.Interfaces()
		if err != nil {
			return false
		}
		for _, iface := range ifaces {
			if iface.Name == name {
				return true
			}
		}
		return false
	}
}

// ProcessMatching returns a predicate that holds when some process in
// the process table has a command line containing pattern.
func ProcessMatching(pattern string) Predicate {
	return func() bool {
		procs, err := process.Processes()
		if err != nil {
			return false
		}
		for _, p := range procs {
			cmdline, err := p.Cmdline()
			if err != nil {
				continue
			}
			if strings.Contains(cmdline, pattern) {
				return true
			}
		}
		return false
	}
}

// All composes predicates; the result holds only when every predicate
// holds in the same poll.
func All(preds ...Predicate) Predicate {
	return func() bool {
		for _, p := range preds {
			if !safeEval(p) {
				return false
			}
		}
		return true
	}
}

// Any composes predicates; the result holds when at least one
// predicate holds. Every predicate is still evaluated each poll, which
// matters when the signals being watched can race each other.
func Any(preds ...Predicate) Predicate {
	return func() bool {
		ready := false
		for _, p := range preds {
			if safeEval(p) {
				ready = true
			}
		}
		return ready
	}
}
