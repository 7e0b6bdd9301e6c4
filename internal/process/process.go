/*
Package process wraps direct OS process management: sending termination
signals to a pid and reconciling the daemon's own tracked pids on
shutdown. It is the "Process Adapter" used by the Website and Service
Supervisors for anything that is a spawned interpreter rather than a
container.

There is no third-party process-supervision library in play here (the
ecosystem candidates are all either full init-system replacements or
tied to a specific container runtime); signal delivery by pid is a thin
enough operation that the standard library's os and syscall packages are
the right tool, not a gap to fill.
*/
package process

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"syscall"
)

// Adapter stops OS processes on behalf of a supervisor. It holds no pid
// table itself — Website and Service Supervisors own their own pid
// bookkeeping in the Config Store — Adapter only knows how to verify and
// signal a single pid at a time.
type Adapter struct {
	logger *slog.Logger

	// expectedBinaryName is not set by NewAdapter and not read by Stop;
	// Stop takes the name it compares against /proc/<pid>/comm as an
	// argument on each call.
	expectedBinaryName string
}

// NewAdapter constructs a process Adapter. The binary name Stop verifies
// is passed to each Stop call rather than fixed here, and Stop only
// verifies it when it is non-empty, since a single Adapter instance is
// shared across services that launch different interpreters.
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Stop sends SIGTERM to pid, first checking that the process running
// under that pid still matches expectedName. A mismatch means the pid
// has been recycled by the OS since it was recorded, and Stop does
// nothing rather than risk killing an unrelated process. Failures are
// swallowed: the caller reconciles actual state via a presence check on
// its next tick rather than trusting Stop's return value.
func (a *Adapter) Stop(pid int, expectedName string) {
	if pid <= 0 {
		return
	}

	if expectedName != "" {
		actual, err := binaryNameForPID(pid)
		if err != nil {
			a.logger.Debug("process not found, nothing to stop", "pid", pid)
			return
		}
		if actual != expectedName {
			a.logger.Warn("refusing to stop pid: binary name mismatch, pid likely reused",
				"pid", pid, "expected", expectedName, "actual", actual)
			return
		}
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		// on Unix, FindProcess always succeeds regardless of whether the
		// pid is alive; this branch only fires on platforms where it
		// actually probes (e.g. Windows).
		a.logger.Debug("process lookup failed", "pid", pid, "error", err)
		return
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		a.logger.Debug("signal delivery failed, process likely already gone", "pid", pid, "error", err)
	}
}

// Kill sends SIGKILL unconditionally, without a binary-name check. The
// supervisors stop backends through Stop only and do not escalate to
// Kill.
func (a *Adapter) Kill(pid int) {
	if pid <= 0 {
		return
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = process.Signal(syscall.SIGKILL)
}

// IsAlive reports whether pid refers to a running process. On Unix this
// is implemented by sending signal 0, which performs the permission and
// existence checks without actually delivering a signal.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// binaryNameForPID resolves the executable name currently running under
// pid. Linux reads /proc/<pid>/comm; other platforms return an error,
// which callers treat as "unable to verify, refuse by default" upstream
// of Stop only when expectedName was supplied.
func binaryNameForPID(pid int) (string, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("process: binary name lookup unsupported on %s", runtime.GOOS)
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	name := string(raw)
	// /proc/<pid>/comm is newline-terminated.
	if n := len(name); n > 0 && name[n-1] == '\n' {
		name = name[:n-1]
	}
	return name, nil
}
