package iteration

import (
	"io"
	"os"
	"os/exec"
	"time"
)

// follower periodically copies appended bytes from a source log into a
// destination log. It exists so the attack's console traffic, which
// arrives inside the emulator session output, lands in its own
// component log for human inspection.
type follower struct {
	src      string
	dest     string
	interval time.Duration

	offset int64
	stop   chan struct{}
	done   chan struct{}
}

// followLog starts following src into dest from src's current size.
func followLog(src, dest string, interval time.Duration) *follower {
	f := &follower{
		src:      src,
		dest:     dest,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if info, err := os.Stat(src); err == nil {
		f.offset = info.Size()
	}
	go f.loop()
	return f
}

func (f *follower) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			// Final drain so nothing written just before Stop is lost.
			f.drain()
			return
		case <-ticker.C:
			f.drain()
		}
	}
}

// drain copies whatever has been appended since the last pass.
func (f *follower) drain() {
	src, err := os.Open(f.src)
	if err != nil {
		return
	}
	defer src.Close()

	if _, err := src.Seek(f.offset, io.SeekStart); err != nil {
		return
	}

	dest, err := os.OpenFile(f.dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer dest.Close()

	n, err := io.Copy(dest, src)
	if err != nil && n == 0 {
		return
	}
	f.offset += n
}

// Stop terminates the follower and waits for its final drain. Safe to
// call more than once.
func (f *follower) Stop() {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}

// runQuiet runs a command discarding output and ignoring failure; used
// for reset commands that must never fail cleanup.
func runQuiet(argv []string) {
	if len(argv) == 0 {
		return
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	_ = cmd.Run()
}
