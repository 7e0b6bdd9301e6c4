package website

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/odacrun/odac/internal/dnsrecorder"
	"github.com/odacrun/odac/internal/models"
	"github.com/odacrun/odac/internal/portpool"
)

const minDomainLength = 4

// Create validates domain, provisions its document root, installs DNS
// records and requests a certificate for it (skipped for "localhost";
// an IP literal is rejected by validation), and registers it in the
// Config Store. progress is
// called at each stage; pass noopProgress via nil to ignore it.
func (s *Supervisor) Create(domain string, progress ProgressFunc) error {
	if progress == nil {
		progress = noopProgress
	}

	domain = stripSchemePrefix(domain)

	if err := validateDomain(domain); err != nil {
		progress("domain", "error", err.Error())
		return err
	}

	var exists bool
	s.store.ViewWeb(func(sites map[string]models.Website) {
		_, exists = sites[domain]
	})
	if exists {
		err := fmt.Errorf("website: %q already exists", domain)
		progress("domain", "error", err.Error())
		return err
	}
	progress("domain", "ok", "domain validated")

	port, err := portpool.Next(s.store, portpool.DefaultWebsiteMin)
	if err != nil {
		progress("port", "error", err.Error())
		return err
	}
	progress("port", "ok", fmt.Sprintf("allocated port %d", port))

	docRoot := filepath.Join(s.serveRoot, domain)
	if err := initSkeleton(docRoot); err != nil {
		progress("filesystem", "error", err.Error())
		return err
	}
	progress("filesystem", "ok", "document root created")

	site := models.Website{
		Domain:           domain,
		DocumentRoot:     docRoot,
		Port:             port,
		Backend:          models.BackendProcess,
		Subdomains:       []string{"www"},
		Status:           models.StatusStopped,
		CreatedAtEpochMs: nowMs(),
	}

	if isServable(domain) {
		if err := s.installDNS(domain); err != nil {
			s.logger.Warn("dns install failed, continuing without it", "domain", domain, "error", err)
			progress("dns", "error", err.Error())
		} else {
			progress("dns", "ok", "dns records installed")
		}

		if cert, err := s.certs.Issue(domain); err != nil {
			s.logger.Warn("certificate issuance failed, falling back to default cert", "domain", domain, "error", err)
			progress("ssl", "error", err.Error())
		} else {
			site.Cert = cert
			progress("ssl", "ok", "certificate issued")
		}
	} else {
		progress("dns", "skipped", "not applicable for localhost/ip")
		progress("ssl", "skipped", "not applicable for localhost/ip")
	}

	site.LastUpdatedEpochMs = nowMs()
	s.store.Web(func(sites map[string]models.Website) {
		sites[domain] = site
	})

	progress("register", "ok", fmt.Sprintf("website %s created.", domain))
	return nil
}

func stripSchemePrefix(domain string) string {
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}

func validateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("website: domain must not be empty")
	}
	if domain == "localhost" {
		return nil
	}
	if len(domain) < minDomainLength {
		return fmt.Errorf("website: domain %q is too short", domain)
	}
	if net.ParseIP(domain) != nil {
		return fmt.Errorf("website: domain %q is an ip literal, which is not allowed", domain)
	}
	return nil
}

// isServable reports whether domain is eligible for real DNS/TLS
// provisioning, as opposed to a local-only development entry.
func isServable(domain string) bool {
	return domain != "localhost" && net.ParseIP(domain) == nil
}

func (s *Supervisor) installDNS(domain string) error {
	return s.dns.Install(domain, dnsrecorder.Records{
		IPv4: s.publicIP,
		MX:   "mail." + domain,
		SPF:  "v=spf1 mx ~all",
	})
}

func initSkeleton(docRoot string) error {
	if err := os.MkdirAll(docRoot, 0o755); err != nil {
		return fmt.Errorf("website: create document root %q: %w", docRoot, err)
	}
	indexPath := filepath.Join(docRoot, "index.html")
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	}
	const skeleton = "<!doctype html>\n<html><body><h1>It works.</h1></body></html>\n"
	if err := os.WriteFile(indexPath, []byte(skeleton), 0o644); err != nil {
		return fmt.Errorf("website: write skeleton index %q: %w", indexPath, err)
	}
	return nil
}
