package acme

import (
	"fmt"
	"os"
	"path/filepath"
)

// certRoot is the directory certificates are written to, one
// subdirectory per domain. It defaults to an absolute path outside the
// daemon's home directory; SetCertRoot replaces it.
var certRoot = "/var/lib/odac/certs"

// SetCertRoot overrides where issued certificates are written. The
// daemon's startup wiring does not call it, so certificates are written
// under the default certRoot.
func SetCertRoot(dir string) {
	certRoot = dir
}

// writeCertificateFiles persists a PEM-encoded key and certificate bundle
// for domain under certRoot, naming files so a human browsing the
// directory can tell which domain they belong to without opening them.
func writeCertificateFiles(domain string, keyPEM, certPEM []byte) (keyPath, certPath string, err error) {
	dir := filepath.Join(certRoot, domain)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("acme: create cert directory for %q: %w", domain, err)
	}

	keyPath = filepath.Join(dir, "privkey.pem")
	certPath = filepath.Join(dir, "fullchain.pem")

	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("acme: write private key for %q: %w", domain, err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("acme: write certificate for %q: %w", domain, err)
	}

	return keyPath, certPath, nil
}
