/*
Package proxy is the daemon's reverse proxy: an HTTP:80 listener that
redirects to HTTPS (or serves a default page for unknown hosts), and an
HTTPS:443 listener that negotiates HTTP/1.1 or HTTP/2 via ALPN, selects a
TLS context per SNI hostname, and forwards requests to the backend port
resolved from the matching Website's record.
*/
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/firewall"
	"github.com/odacrun/odac/internal/models"
)

// Proxy owns both listeners and the TLS context cache.
type Proxy struct {
	store  *config.Store
	guard  *firewall.Guard
	logger *slog.Logger

	certs *certCache

	challengeMu sync.Mutex
	challenges  map[string]string // token -> key authorization

	httpServer  *http.Server
	httpsServer *http.Server
}

// New constructs a Proxy. Listeners are not started until Start is
// called, so tests can exercise the handlers directly via httptest
// without binding real sockets.
func New(store *config.Store, guard *firewall.Guard, logger *slog.Logger) *Proxy {
	p := &Proxy{
		store:      store,
		guard:      guard,
		logger:     logger,
		certs:      newCertCache(),
		challenges: make(map[string]string),
	}

	p.httpServer = &http.Server{
		Handler:      http.HandlerFunc(p.serveHTTP),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // no write deadline; this listener only redirects or answers directly
		IdleTimeout:  60 * time.Second,
	}
	p.httpsServer = &http.Server{
		Handler: http.HandlerFunc(p.serveHTTPS),
		TLSConfig: &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CipherSuites:     secureCipherSuites,
			GetCertificate:   p.getCertificateForSNI,
			NextProtos:       []string{"h2", "http/1.1"},
		},
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return p
}

// secureCipherSuites restricts TLS 1.2 negotiation to forward-secret,
// AEAD suites; TLS 1.3's fixed suite list is always secure and is not
// affected by this field.
var secureCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// Start binds both listeners and serves until ctx is canceled.
func (p *Proxy) Start(ctx context.Context, httpAddr, httpsAddr string) error {
	p.httpServer.Addr = httpAddr
	p.httpsServer.Addr = httpsAddr

	errCh := make(chan error, 2)

	go func() {
		p.logger.Info("reverse proxy http listener starting", "addr", httpAddr)
		if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy: http listener: %w", err)
		}
	}()

	go func() {
		p.logger.Info("reverse proxy https listener starting", "addr", httpsAddr)
		// certificates are supplied per-connection via GetCertificate, so
		// ListenAndServeTLS is called with empty cert/key paths.
		if err := p.httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy: https listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return p.shutdown()
	case err := <-errCh:
		_ = p.shutdown()
		return err
	}
}

func (p *Proxy) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpErr := p.httpServer.Shutdown(shutdownCtx)
	httpsErr := p.httpsServer.Shutdown(shutdownCtx)
	if httpErr != nil {
		return httpErr
	}
	return httpsErr
}

// RegisterACMEChallenge publishes the HTTP-01 key authorization for
// token so the port-80 listener can answer the CA's validation request.
// Consumed by the acme package's challenge provider.
func (p *Proxy) RegisterACMEChallenge(token, keyAuth string) {
	p.challengeMu.Lock()
	defer p.challengeMu.Unlock()
	p.challenges[token] = keyAuth
}

// UnregisterACMEChallenge withdraws a previously published challenge
// response once the CA has validated it or the attempt is abandoned.
func (p *Proxy) UnregisterACMEChallenge(token string) {
	p.challengeMu.Lock()
	defer p.challengeMu.Unlock()
	delete(p.challenges, token)
}

func (p *Proxy) acmeKeyAuth(token string) (string, bool) {
	p.challengeMu.Lock()
	defer p.challengeMu.Unlock()
	keyAuth, ok := p.challenges[token]
	return keyAuth, ok
}

// InvalidateCert drops domain's cached TLS context. Called by the
// Website Supervisor after a certificate renewal or on delete.
func (p *Proxy) InvalidateCert(domain string) {
	p.certs.invalidate(domain)
}

// getCertificateForSNI implements the SNI callback: normalize the
// requested name, resolve it to the longest-matching website key, and
// build (or reuse a cached) TLS certificate for it. Requests for a host
// with no certificate fall back to the default server certificate held
// in the Config Store's ssl module.
func (p *Proxy) getCertificateForSNI(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := normalizeSNIName(hello.ServerName)

	domain := p.resolveWebsiteKey(name)
	if domain == "" {
		return p.defaultCertificate()
	}

	if cached, ok := p.certs.get(domain); ok {
		return cached, nil
	}

	var descriptor models.CertDescriptor
	found := false
	p.store.ViewWeb(func(sites map[string]models.Website) {
		if site, ok := sites[domain]; ok {
			descriptor = site.Cert
			found = true
		}
	})
	if !found || descriptor.CertPath == "" || descriptor.KeyPath == "" {
		return p.defaultCertificate()
	}

	cert, err := tls.LoadX509KeyPair(descriptor.CertPath, descriptor.KeyPath)
	if err != nil {
		p.logger.Warn("failed to load certificate, falling back to default", "domain", domain, "error", err)
		return p.defaultCertificate()
	}

	p.certs.put(domain, &cert)
	return &cert, nil
}

func (p *Proxy) defaultCertificate() (*tls.Certificate, error) {
	if cached, ok := p.certs.get("*default*"); ok {
		return cached, nil
	}

	var descriptor models.CertDescriptor
	p.store.ViewSSL(func(c models.CertDescriptor) { descriptor = c })
	if descriptor.CertPath == "" || descriptor.KeyPath == "" {
		return nil, fmt.Errorf("proxy: no default certificate configured")
	}

	cert, err := tls.LoadX509KeyPair(descriptor.CertPath, descriptor.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("proxy: load default certificate: %w", err)
	}
	p.certs.put("*default*", &cert)
	return &cert, nil
}

// resolveWebsiteKey finds the owning website for hostname by
// successively dropping the leftmost label until a registered domain
// key (or one of its listed subdomains) matches, so "blog.example.com"
// resolves to "example.com" whether or not "blog" is listed as a
// subdomain, without requiring a duplicate config entry.
func (p *Proxy) resolveWebsiteKey(hostname string) string {
	labels := strings.Split(hostname, ".")
	var match string
	p.store.ViewWeb(func(sites map[string]models.Website) {
		for i := 0; i < len(labels); i++ {
			candidate := strings.Join(labels[i:], ".")
			if _, ok := sites[candidate]; ok {
				match = candidate
				return
			}
			if site, ok := findBySubdomain(sites, candidate); ok {
				match = site
				return
			}
		}
	})
	return match
}

func findBySubdomain(sites map[string]models.Website, candidate string) (string, bool) {
	for domain, site := range sites {
		for _, sub := range site.Subdomains {
			if sub+"."+domain == candidate {
				return domain, true
			}
		}
	}
	return "", false
}

func normalizeSNIName(name string) string {
	host := name
	if h, _, err := net.SplitHostPort(name); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
