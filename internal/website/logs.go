package website

import (
	"os"
	"path/filepath"
	"sync"
)

// logBuffer accumulates a backend's stdout/stderr between reconciliation
// ticks. Check() flushes it to the per-domain log file and clears it;
// any write in between marks the website's watcher flag so a silent
// backend (no log output at all) is distinguishable from one producing
// output normally.
type logBuffer struct {
	mu  sync.Mutex
	buf []byte
	domain string
	onWrite func(domain string)
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	if b.onWrite != nil {
		b.onWrite(b.domain)
	}
	return len(p), nil
}

func (b *logBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = nil
	return out
}

func (s *Supervisor) logBufferFor(domain string) *logBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.logs[domain]; ok {
		return existing
	}
	buf := &logBuffer{
		domain: domain,
		onWrite: func(d string) {
			s.mu.Lock()
			s.watcher[d] = true
			s.mu.Unlock()
		},
	}
	s.logs[domain] = buf
	return buf
}

func (s *Supervisor) flushLogs(domain string) {
	s.mu.Lock()
	buf, ok := s.logs[domain]
	s.mu.Unlock()
	if !ok {
		return
	}

	data := buf.drain()
	if len(data) == 0 {
		return
	}

	if err := os.MkdirAll(s.logRoot, 0o755); err != nil {
		s.logger.Warn("failed to create log root", "error", err)
		return
	}

	path := filepath.Join(s.logRoot, domain+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("failed to open website log file", "domain", domain, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		s.logger.Warn("failed to write website log file", "domain", domain, "error", err)
	}
}
