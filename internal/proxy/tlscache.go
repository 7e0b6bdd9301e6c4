package proxy

import (
	"container/list"
	"crypto/tls"
	"sync"
)

// certCacheCapacity bounds the TLS context cache. Every renewal or
// delete calls Invalidate explicitly, so the cap exists purely to bound
// memory for a daemon serving far more hostnames than is realistic
// rather than as the primary eviction mechanism.
const certCacheCapacity = 4096

type certCacheEntry struct {
	domain string
	cert   *tls.Certificate
}

// certCache is a small hand-rolled LRU keyed by hostname. None of the
// pack examples carry a generic LRU library (groupcache/lru-style
// packages never surface in any go.mod in the retrieval set), and a
// bounded map + doubly linked list is little enough code that reaching
// outside the standard library would not simplify anything here.
type certCache struct {
	mu       sync.Mutex
	order    *list.List
	elements map[string]*list.Element
}

func newCertCache() *certCache {
	return &certCache{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (c *certCache) get(domain string) (*tls.Certificate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[domain]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*certCacheEntry).cert, true
}

func (c *certCache) put(domain string, cert *tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[domain]; ok {
		el.Value.(*certCacheEntry).cert = cert
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&certCacheEntry{domain: domain, cert: cert})
	c.elements[domain] = el

	for c.order.Len() > certCacheCapacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.elements, oldest.Value.(*certCacheEntry).domain)
	}
}

// invalidate drops domain's cached TLS context, forcing the next
// handshake to rebuild it from the Config Store's current certificate
// descriptor. Called on renewal and on website delete.
func (c *certCache) invalidate(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[domain]; ok {
		c.order.Remove(el)
		delete(c.elements, domain)
	}
}
