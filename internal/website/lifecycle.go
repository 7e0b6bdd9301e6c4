package website

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/models"
)

// Start spawns domain's backend. It refuses if the website is already
// active, if it is still inside its error-cooldown window, or if its
// document root does not exist; it does not check for any particular
// entry file inside the document root.
func (s *Supervisor) Start(ctx context.Context, domain string) error {
	s.mu.Lock()
	if s.active[domain] {
		s.mu.Unlock()
		return fmt.Errorf("website: %q is already active", domain)
	}
	if until, ok := s.cooldownUntil(domain); ok && time.Now().Before(until) {
		s.mu.Unlock()
		return fmt.Errorf("website: %q is in cooldown until %s", domain, until.Format(time.RFC3339))
	}
	s.mu.Unlock()

	var site models.Website
	found := false
	s.store.ViewWeb(func(sites map[string]models.Website) {
		if w, ok := sites[domain]; ok {
			site = w
			found = true
		}
	})
	if !found {
		return errNotFound
	}

	if _, err := os.Stat(site.DocumentRoot); err != nil {
		return fmt.Errorf("website: %q has no document root: %w", domain, err)
	}

	var startErr error
	switch site.Backend {
	case models.BackendContainer:
		startErr = s.startContainer(ctx, site)
	default:
		startErr = s.startProcess(site)
	}

	if startErr != nil {
		s.recordFailure(domain)
		s.store.Web(func(sites map[string]models.Website) {
			if w, ok := sites[domain]; ok {
				w.Status = models.StatusErrored
				w.LastUpdatedEpochMs = nowMs()
				sites[domain] = w
			}
		})
		return startErr
	}

	s.mu.Lock()
	s.active[domain] = true
	s.errorCounts[domain] = 0
	s.mu.Unlock()

	s.store.Web(func(sites map[string]models.Website) {
		if w, ok := sites[domain]; ok {
			w.Status = models.StatusRunning
			w.LastUpdatedEpochMs = nowMs()
			sites[domain] = w
		}
	})
	return nil
}

func (s *Supervisor) startContainer(ctx context.Context, site models.Website) error {
	return s.engine.Run(ctx, containerengine.RunConfig{
		Name:      containerNameFor(site.Domain),
		Image:     site.ContainerImage,
		HostMount: site.DocumentRoot,
		MountTo:   "/app",
		Env:       []string{fmt.Sprintf("PORT=%d", site.Port)},
	})
}

func (s *Supervisor) startProcess(site models.Website) error {
	pid, err := spawnStaticServer(site.DocumentRoot, site.Port, s.logBufferFor(site.Domain))
	if err != nil {
		return fmt.Errorf("website: spawn backend for %q: %w", site.Domain, err)
	}
	s.store.Web(func(sites map[string]models.Website) {
		if w, ok := sites[site.Domain]; ok {
			w.BackendPID = &pid
			sites[site.Domain] = w
		}
	})
	return nil
}

// cooldownUntil returns the time a failed domain becomes eligible for a
// restart again: errorCount seconds after its last recorded failure.
func (s *Supervisor) cooldownUntil(domain string) (time.Time, bool) {
	last, ok := s.lastFailure[domain]
	if !ok {
		return time.Time{}, false
	}
	count := s.errorCounts[domain]
	return last.Add(time.Duration(count) * time.Second), true
}

func (s *Supervisor) recordFailure(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCounts[domain]++
	s.lastFailure[domain] = time.Now()
}

// Check runs one reconciliation pass over every website: a dead backend
// is restarted, and buffered log output is flushed to disk.
func (s *Supervisor) Check(ctx context.Context) {
	var domains []string
	s.store.ViewWeb(func(sites map[string]models.Website) {
		for domain := range sites {
			domains = append(domains, domain)
		}
	})

	for _, domain := range domains {
		s.checkOne(ctx, domain)
		s.flushLogs(domain)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, domain string) {
	var site models.Website
	found := false
	s.store.ViewWeb(func(sites map[string]models.Website) {
		if w, ok := sites[domain]; ok {
			site = w
			found = true
		}
	})
	if !found || site.Status != models.StatusRunning {
		return
	}

	alive := s.backendAlive(ctx, site)
	s.mu.Lock()
	s.watcher[domain] = false
	s.mu.Unlock()

	if alive {
		return
	}

	s.logger.Warn("website backend found dead, restarting", "domain", domain)
	s.stopBackend(ctx, domain)
	s.mu.Lock()
	s.active[domain] = false
	s.mu.Unlock()

	if err := s.Start(ctx, domain); err != nil {
		s.logger.Error("failed to restart website", "domain", domain, "error", err)
	}
}

func (s *Supervisor) backendAlive(ctx context.Context, site models.Website) bool {
	switch site.Backend {
	case models.BackendContainer:
		running, err := s.engine.IsRunning(ctx, containerNameFor(site.Domain))
		return err == nil && running
	default:
		return site.BackendPID != nil && processIsAlive(*site.BackendPID)
	}
}

// Delete stops domain's backend, removes its DNS records and TLS cache
// entry, deletes its document root, and drops it from the Config Store.
func (s *Supervisor) Delete(ctx context.Context, domain string) error {
	s.stopBackend(ctx, domain)

	s.mu.Lock()
	delete(s.active, domain)
	delete(s.errorCounts, domain)
	delete(s.lastFailure, domain)
	delete(s.watcher, domain)
	delete(s.logs, domain)
	s.mu.Unlock()

	if isServable(domain) {
		if err := s.dns.Remove(domain); err != nil {
			s.logger.Warn("failed to remove dns records", "domain", domain, "error", err)
		}
	}
	s.proxy.InvalidateCert(domain)

	var docRoot string
	s.store.ViewWeb(func(sites map[string]models.Website) {
		if w, ok := sites[domain]; ok {
			docRoot = w.DocumentRoot
		}
	})
	if docRoot != "" {
		if err := os.RemoveAll(docRoot); err != nil {
			s.logger.Warn("failed to remove document root", "domain", domain, "error", err)
		}
	}

	logPath := filepath.Join(s.logRoot, domain+".log")
	_ = os.Remove(logPath)

	s.store.Web(func(sites map[string]models.Website) {
		delete(sites, domain)
	})
	return nil
}
