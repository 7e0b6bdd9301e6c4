package updater

import (
	"os"
	"path/filepath"
	"time"
)

// garbageCollect deletes the previous instance's pid/socket files 60
// seconds after a committed handover, matching spec §4.10 phase 5. It
// runs detached from the handshake goroutine since the process it
// belongs to may already be exiting by the time the delay elapses.
func (u *Updater) garbageCollect(previousInstanceID string) {
	time.Sleep(gcDelay)

	pattern := filepath.Join(u.runDir, "proxy-"+previousInstanceID+".*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		u.logger.Warn("garbage collect: glob failed", "pattern", pattern, "error", err)
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			u.logger.Warn("garbage collect: failed to remove stale file", "path", path, "error", err)
		}
	}
}
