package acme

import (
	"fmt"
	"sync"
)

// http01Provider implements lego's challenge.Provider interface by
// publishing the key authorization through the reverse proxy rather
// than opening its own listener: the proxy's existing port-80 listener
// is already the thing an ACME CA will connect to.
type http01Provider struct {
	proxy ChallengeRegistrar

	mu         sync.Mutex
	keyAuthFor map[string]string // token -> key authorization
}

func newHTTP01Provider(proxy ChallengeRegistrar) *http01Provider {
	return &http01Provider{
		proxy:      proxy,
		keyAuthFor: make(map[string]string),
	}
}

// Present is called by lego once it has computed the key authorization
// for a domain's HTTP-01 challenge; it registers the response with the
// proxy so a GET to /.well-known/acme-challenge/<token> on port 80
// returns it.
func (h *http01Provider) Present(domain, token, keyAuth string) error {
	h.mu.Lock()
	h.keyAuthFor[token] = keyAuth
	h.mu.Unlock()

	h.proxy.RegisterACMEChallenge(token, keyAuth)
	return nil
}

// CleanUp withdraws the challenge response once the CA has validated it
// (or given up), whichever comes first.
func (h *http01Provider) CleanUp(domain, token, keyAuth string) error {
	h.mu.Lock()
	delete(h.keyAuthFor, token)
	h.mu.Unlock()

	h.proxy.UnregisterACMEChallenge(token)
	return nil
}

// GetKeyAuth is a convenience accessor the proxy itself never needs
// (it holds the key authorization already), kept for tests that want to
// assert a challenge was registered without reaching into the proxy.
func (h *http01Provider) GetKeyAuth(token string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	keyAuth, ok := h.keyAuthFor[token]
	if !ok {
		return "", fmt.Errorf("acme: no challenge registered for token %q", token)
	}
	return keyAuth, nil
}
