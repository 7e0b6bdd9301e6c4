/*
Package website is the Website Supervisor: it owns a domain's full
lifecycle from creation through deletion, reconciling each website's
backend process or container against the Config Store's "web" module
once a second.
*/
package website

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odacrun/odac/internal/acme"
	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/containerengine"
	"github.com/odacrun/odac/internal/dnsrecorder"
	"github.com/odacrun/odac/internal/mailnotifier"
	"github.com/odacrun/odac/internal/models"
	"github.com/odacrun/odac/internal/process"
)

// ProgressFunc reports an in-progress stage of a long-running operation
// back to the caller, e.g. the Control IPC's out-of-band progress frame.
type ProgressFunc func(stage, status, message string)

func noopProgress(string, string, string) {}

// CertIssuer is the subset of acme.Issuer the supervisor depends on.
type CertIssuer interface {
	Issue(domain string) (models.CertDescriptor, error)
	Renew(domain string) (models.CertDescriptor, error)
}

// DNSRecorder is the subset of dnsrecorder.Recorder the supervisor
// depends on.
type DNSRecorder interface {
	Install(domain string, records dnsrecorder.Records) error
	Remove(domain string) error
}

// CertCacheInvalidator lets the supervisor drop a stale TLS context
// after a renewal or delete without importing the proxy package
// directly (proxy already imports config/models; website importing
// proxy too would not cycle, but the narrower interface keeps the
// dependency explicit and easy to fake in tests).
type CertCacheInvalidator interface {
	InvalidateCert(domain string)
}

var _ CertIssuer = (*acme.Issuer)(nil)

// Supervisor owns every website's lifecycle.
type Supervisor struct {
	store    *config.Store
	logger   *slog.Logger
	process  *process.Adapter
	engine   *containerengine.Engine
	dns      DNSRecorder
	certs    CertIssuer
	proxy    CertCacheInvalidator
	mail     mailnotifier.Notifier
	serveRoot string
	logRoot   string
	publicIP  string

	mu          sync.Mutex
	active      map[string]bool
	errorCounts map[string]int
	lastFailure map[string]time.Time
	watcher     map[string]bool
	logs        map[string]*logBuffer
}

// New constructs a Supervisor. Collaborators are injected explicitly;
// there is no ambient singleton anywhere in this package.
func New(
	store *config.Store,
	logger *slog.Logger,
	proc *process.Adapter,
	engine *containerengine.Engine,
	dns DNSRecorder,
	certs CertIssuer,
	proxy CertCacheInvalidator,
	mail mailnotifier.Notifier,
	serveRoot, logRoot, publicIP string,
) *Supervisor {
	return &Supervisor{
		store:       store,
		logger:      logger,
		process:     proc,
		engine:      engine,
		dns:         dns,
		certs:       certs,
		proxy:       proxy,
		mail:        mail,
		serveRoot:   serveRoot,
		logRoot:     logRoot,
		publicIP:    publicIP,
		active:      make(map[string]bool),
		errorCounts: make(map[string]int),
		lastFailure: make(map[string]time.Time),
		watcher:     make(map[string]bool),
		logs:        make(map[string]*logBuffer),
	}
}

// StopAll terminates every active website's backend. Used during
// shutdown and before a self-update handover.
func (s *Supervisor) StopAll(ctx context.Context) {
	var domains []string
	s.store.ViewWeb(func(sites map[string]models.Website) {
		for domain := range sites {
			domains = append(domains, domain)
		}
	})

	for _, domain := range domains {
		s.stopBackend(ctx, domain)
	}

	s.mu.Lock()
	s.active = make(map[string]bool)
	s.mu.Unlock()
}

func (s *Supervisor) stopBackend(ctx context.Context, domain string) {
	var site models.Website
	found := false
	s.store.ViewWeb(func(sites map[string]models.Website) {
		if w, ok := sites[domain]; ok {
			site = w
			found = true
		}
	})
	if !found {
		return
	}

	switch site.Backend {
	case models.BackendProcess:
		if site.BackendPID != nil {
			s.process.Stop(*site.BackendPID, "")
		}
	case models.BackendContainer:
		containerName := containerNameFor(domain)
		if err := s.engine.Stop(ctx, containerName); err != nil {
			s.logger.Warn("failed to stop website container", "domain", domain, "error", err)
		}
	}

	s.store.Web(func(sites map[string]models.Website) {
		if w, ok := sites[domain]; ok {
			w.BackendPID = nil
			w.Status = models.StatusStopped
			w.LastUpdatedEpochMs = nowMs()
			sites[domain] = w
		}
	})
}

func containerNameFor(domain string) string {
	return "odac-site-" + sanitizeForContainerName(domain)
}

func sanitizeForContainerName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+32)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

var errNotFound = fmt.Errorf("website: not found")
