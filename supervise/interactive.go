package supervise

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Interactive is a supervised process with an open stdin pipe, used
// for tools whose only control surface is an interactive CLI. Commands
// are injected as lines; readiness and completion are observed through
// the captured output log.
type Interactive struct {
	*Handle

	sup *Supervisor

	mu     sync.Mutex
	stdin  io.WriteCloser
	closed bool
}

// StartInteractive launches argv like Start but keeps a stdin pipe
// open for command injection.
func (s *Supervisor) StartInteractive(name string, argv []string, dir, logPath string) (*Interactive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, stdin, err := s.startLocked(name, argv, dir, logPath, true)
	if err != nil {
		return nil, err
	}
	return &Interactive{Handle: h, sup: s, stdin: stdin}, nil
}

// Send writes one command line into the session.
func (i *Interactive) Send(line string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("session %s: stdin already closed", i.Name)
	}
	if _, err := io.WriteString(i.stdin, line+"\n"); err != nil {
		return fmt.Errorf("session %s: failed to send %q: %w", i.Name, line, err)
	}
	return nil
}

// Quit requests a graceful exit by sending the exit command and
// closing stdin. The process may take a grace period to wind down; the
// caller follows up with an unconditional stop either way.
func (i *Interactive) Quit(exitCommand string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	var sendErr error
	if exitCommand != "" {
		_, sendErr = io.WriteString(i.stdin, exitCommand+"\n")
	}
	if err := i.stdin.Close(); err != nil && sendErr == nil {
		sendErr = err
	}
	if sendErr != nil {
		return fmt.Errorf("session %s: graceful exit failed: %w", i.Name, sendErr)
	}
	return nil
}

// OutputContains reports whether the captured session output contains
// marker. Read errors count as "not seen".
func (i *Interactive) OutputContains(marker string) bool {
	data, err := os.ReadFile(i.LogPath)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), marker)
}

// OutputSize returns the current size of the captured output, 0 when
// unreadable.
func (i *Interactive) OutputSize() int64 {
	info, err := os.Stat(i.LogPath)
	if err != nil {
		return 0
	}
	return info.Size()
}
