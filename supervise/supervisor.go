// Package supervise starts and stops the external processes that make
// up an experiment: the network emulator, the optional SDN controller,
// the detector and any helpers. Every process runs in its own process
// group under a named handle so termination is scoped and auditable.
package supervise

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Handle identifies one supervised process group.
type Handle struct {
	Name      string
	SessionID string
	LogPath   string
	StartedAt time.Time

	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}
	waitErr error
}

// Pid returns the group leader's pid, or 0 when the process never
// started.
func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Supervisor manages named external process groups. At most one handle
// exists per logical name; starting a name that is already running
// first stops and erases the previous handle.
type Supervisor struct {
	logger *logrus.Logger
	grace  time.Duration

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewSupervisor creates a supervisor. grace is how long a terminated
// group may take to exit before it is killed outright.
func NewSupervisor(logger *logrus.Logger, grace time.Duration) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Supervisor{
		logger:  logger,
		grace:   grace,
		handles: make(map[string]*Handle),
	}
}

// Start launches argv as a detached process group named name, teeing
// its combined output to logPath. Any previous process with the same
// name is stopped first and its log truncated, so no stale state leaks
// into the new run.
func (s *Supervisor) Start(name string, argv []string, dir, logPath string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, _, err := s.startLocked(name, argv, dir, logPath, false)
	return h, err
}

func (s *Supervisor) startLocked(name string, argv []string, dir, logPath string, wantStdin bool) (*Handle, io.WriteCloser, error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("process %s: empty command", name)
	}

	if old, exists := s.handles[name]; exists {
		s.stopHandle(old)
		delete(s.handles, name)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("process %s: failed to open log %s: %w", name, logPath, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	var stdin io.WriteCloser
	if wantStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			logFile.Close()
			return nil, nil, fmt.Errorf("process %s: failed to open stdin pipe: %w", name, err)
		}
	}
	// Own process group, so Stop can signal every descendant at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, nil, fmt.Errorf("process %s: failed to start %q: %w", name, argv[0], err)
	}

	h := &Handle{
		Name:      name,
		SessionID: xid.New().String(),
		LogPath:   logPath,
		StartedAt: time.Now(),
		cmd:       cmd,
		logFile:   logFile,
		done:      make(chan struct{}),
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	s.handles[name] = h
	s.logger.WithFields(logrus.Fields{
		"process": name,
		"session": h.SessionID,
		"pid":     h.Pid(),
	}).Infof("started %s", strings.Join(argv, " "))

	return h, stdin, nil
}

// Stop terminates the named process group. It is idempotent: stopping
// a name that is not running is a no-op.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.handles[name]
	if !exists {
		return
	}
	s.stopHandle(h)
	delete(s.handles, name)
}

// stopHandle signals the whole group, waits out the grace period and
// kills whatever is left. Must be called with the lock held.
func (s *Supervisor) stopHandle(h *Handle) {
	pid := h.Pid()
	if pid > 0 {
		select {
		case <-h.done:
			// Already exited; nothing to signal.
		default:
			_ = syscall.Kill(-pid, syscall.SIGTERM)
			select {
			case <-h.done:
			case <-time.After(s.grace):
				_ = syscall.Kill(-pid, syscall.SIGKILL)
				<-h.done
			}
		}
	}
	if h.logFile != nil {
		h.logFile.Close()
	}
	s.logger.WithFields(logrus.Fields{
		"process": h.Name,
		"session": h.SessionID,
	}).Debug("stopped")
}

// IsAlive reports whether the named handle still has a live leader
// process.
func (s *Supervisor) IsAlive(name string) bool {
	s.mu.Lock()
	h, exists := s.handles[name]
	s.mu.Unlock()
	if !exists {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Names returns the names of all currently supervised handles.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	return names
}

// StopAll stops every supervised handle, then sweeps the process table
// for survivors whose command line matches one of the patterns. The
// sweep defends against groups that died leaving children alive. It is
// safe to call repeatedly and never fails.
func (s *Supervisor) StopAll(patterns ...string) {
	s.mu.Lock()
	for name, h := range s.handles {
		s.stopHandle(h)
		delete(s.handles, name)
	}
	s.mu.Unlock()

	if len(patterns) == 0 {
		return
	}

	procs, err := process.Processes()
	if err != nil {
		s.logger.WithError(err).Warn("process sweep: cannot list processes")
		return
	}

	self := os.Getpid()
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		for _, pattern := range patterns {
			if strings.Contains(cmdline, pattern) {
				s.logger.WithFields(logrus.Fields{
					"pid":     p.Pid,
					"pattern": pattern,
				}).Debugf("sweeping stray process: %s", cmdline)
				if err := p.Terminate(); err != nil {
					_ = p.Kill()
				}
				break
			}
		}
	}
}
