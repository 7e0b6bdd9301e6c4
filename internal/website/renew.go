package website

import (
	"fmt"

	"github.com/odacrun/odac/internal/models"
)

// Renew re-issues a domain's TLS certificate, persists the new
// descriptor, and invalidates the proxy's cached TLS context so the
// very next SNI handshake reads the new cert files instead of the one
// still held in memory.
func (s *Supervisor) Renew(domain string) error {
	var exists bool
	s.store.ViewWeb(func(sites map[string]models.Website) {
		_, exists = sites[domain]
	})
	if !exists {
		return fmt.Errorf("website: %q not found", domain)
	}

	cert, err := s.certs.Renew(domain)
	if err != nil {
		return fmt.Errorf("website: renew %q: %w", domain, err)
	}

	s.store.Web(func(sites map[string]models.Website) {
		if site, ok := sites[domain]; ok {
			site.Cert = cert
			site.LastUpdatedEpochMs = nowMs()
			sites[domain] = site
		}
	})

	if s.proxy != nil {
		s.proxy.InvalidateCert(domain)
	}
	return nil
}
