/*
Package acme is the daemon-side half of the CertIssuer collaborator: it
talks to a real ACME certificate authority (Let's Encrypt by default)
over the HTTP-01 challenge type, serving the challenge response through
a hook the reverse proxy's port-80 listener calls into. No certificate
authority runs inside this repository; acme only implements the client
side of the protocol.
*/
package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/odacrun/odac/internal/models"
)

// acmeUser satisfies lego's registration.User interface: an ACME
// account is identified by a keypair and an optional contact email, not
// by a username/password pair.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource  { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey         { return u.key }

// Issuer requests and renews certificates against an ACME CA. Renewal
// for a given domain is serialized through a per-domain lock: a second
// renewal requested for a domain that already has one in flight waits
// for it to finish rather than racing it for the same HTTP-01
// challenge-response slot. The in-flight attempt is not cancelled and
// its result is still returned to its own caller, and calls waiting on
// the lock are not guaranteed to acquire it in the order they arrived.
type Issuer struct {
	logger   *slog.Logger
	client   *lego.Client
	provider *http01Provider

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ChallengeRegistrar is implemented by the reverse proxy: it exposes the
// hook acme uses to publish (and later withdraw) the HTTP-01
// key-authorization response the CA will fetch over plain HTTP.
type ChallengeRegistrar interface {
	RegisterACMEChallenge(token, keyAuth string)
	UnregisterACMEChallenge(token string)
}

// New constructs an Issuer registered against directoryURL (the
// Let's Encrypt staging or production directory, or a compatible CA).
func New(logger *slog.Logger, directoryURL, accountEmail string, proxy ChallengeRegistrar) (*Issuer, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: generate account key: %w", err)
	}

	user := &acmeUser{email: accountEmail, key: privateKey}

	cfg := lego.NewConfig(user)
	cfg.CADirURL = directoryURL
	cfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("acme: create lego client: %w", err)
	}

	provider := newHTTP01Provider(proxy)
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("acme: set http-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("acme: register account: %w", err)
	}
	user.registration = reg

	return &Issuer{
		logger:   logger,
		client:   client,
		provider: provider,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Issue requests a new certificate for domain. It is the same code path
// as Renew; a fresh domain simply has no prior certificate to replace.
func (i *Issuer) Issue(domain string) (models.CertDescriptor, error) {
	return i.obtain(domain)
}

// Renew requests a replacement certificate for domain. If a renewal for
// the same domain is already in flight, this call blocks until it
// finishes before starting its own, so the two never race each other.
func (i *Issuer) Renew(domain string) (models.CertDescriptor, error) {
	return i.obtain(domain)
}

func (i *Issuer) obtain(domain string) (models.CertDescriptor, error) {
	lock := i.domainLock(domain)
	if !lock.TryLock() {
		i.logger.Info("waiting for in-flight renewal to finish before starting", "domain", domain)
		lock.Lock()
	}
	defer lock.Unlock()

	request := certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	}

	resp, err := i.client.Certificate.Obtain(request)
	if err != nil {
		return models.CertDescriptor{}, fmt.Errorf("acme: obtain certificate for %q: %w", domain, err)
	}

	keyPath, certPath, err := writeCertificateFiles(domain, resp.PrivateKey, resp.Certificate)
	if err != nil {
		return models.CertDescriptor{}, err
	}

	return models.CertDescriptor{
		KeyPath:         keyPath,
		CertPath:        certPath,
		SubjectAltNames: []string{domain},
	}, nil
}

// domainLock returns the mutex serializing every Issue/Renew call for
// domain, creating it on first use.
func (i *Issuer) domainLock(domain string) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()
	lock, ok := i.locks[domain]
	if !ok {
		lock = &sync.Mutex{}
		i.locks[domain] = lock
	}
	return lock
}
