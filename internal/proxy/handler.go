package proxy

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/odacrun/odac/internal/models"
)

// hopByHopHeaders are stripped from both the upstream request and the
// downstream response; they describe the state of a single hop, not the
// end-to-end message, and forwarding them verbatim would let a backend's
// own connection-management headers leak through the proxy boundary.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade",
	"Proxy-Connection", "Proxy-Authenticate", "Trailer", "X-Odac-Early-Hints",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// serveHTTP is the :80 handler: a website-matching Host redirects to the
// HTTPS equivalent; anything else gets a minimal default page rather
// than a proxy error, since an unrecognized host on :80 is ordinary
// internet background noise (scanners, stray DNS), not a client error
// worth surfacing loudly.
const acmeChallengePathPrefix = "/.well-known/acme-challenge/"

func (p *Proxy) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if token, ok := strings.CutPrefix(r.URL.Path, acmeChallengePathPrefix); ok {
		if keyAuth, found := p.acmeKeyAuth(token); found {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, keyAuth)
			return
		}
		http.NotFound(w, r)
		return
	}

	host := normalizeSNIName(r.Host)
	if p.resolveWebsiteKey(host) != "" {
		target := "https://" + r.Host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "odac\n")
}

// serveHTTPS is the :443 handler and the main request path.
func (p *Proxy) serveHTTPS(w http.ResponseWriter, r *http.Request) {
	remoteIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	decision := p.guard.Check(remoteIP)
	if !decision.Allowed {
		if decision.Reason == "rate_limit" {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		} else {
			http.Error(w, "forbidden", http.StatusForbidden)
		}
		return
	}

	host := normalizeSNIName(r.Host)
	domain := p.resolveWebsiteKey(host)
	if domain == "" {
		p.serveDefaultPage(w)
		return
	}

	var site models.Website
	found := false
	p.store.ViewWeb(func(sites map[string]models.Website) {
		if s, ok := sites[domain]; ok {
			site = s
			found = true
		}
	})
	if !found || site.Status != models.StatusRunning {
		p.serveDefaultPage(w)
		return
	}

	backendAddr := fmt.Sprintf("127.0.0.1:%d", site.Port)

	if isWebSocketUpgrade(r) {
		p.proxyWebSocket(w, r, backendAddr)
		return
	}

	p.proxyHTTP(w, r, backendAddr, remoteIP)
}

func (p *Proxy) serveDefaultPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "no website configured for this host\n")
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// proxyHTTP builds an upstream request to backendAddr, forwards it, and
// relays the response. SSE responses disable idle timeouts and stream
// without buffering; everything else is eligible for compression.
func (p *Proxy) proxyHTTP(w http.ResponseWriter, r *http.Request, backendAddr, remoteIP string) {
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, "http://"+backendAddr+r.URL.RequestURI(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	upstreamReq.Header = r.Header.Clone()
	stripHopByHop(upstreamReq.Header)
	upstreamReq.Header.Set("X-Odac-Connection-Remoteaddress", remoteIP)
	upstreamReq.Header.Set("X-Odac-Connection-Ssl", "true")

	client := &http.Client{
		Timeout: 0,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(upstreamReq)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if hints := resp.Header.Get("X-Odac-Early-Hints"); hints != "" {
		w.Header().Set("Link", hints)
		w.WriteHeader(http.StatusEarlyHints)
	}

	stripHopByHop(resp.Header)
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	isSSE := strings.HasPrefix(contentType, "text/event-stream")

	if isSSE {
		p.streamSSE(w, resp)
		return
	}

	if enc := negotiateEncoding(r.Header.Get("Accept-Encoding"), resp.Header); enc != "" {
		p.writeCompressed(w, resp, enc)
		return
	}

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// streamSSE relays an event stream without buffering, flushing after
// every write and disabling both peers' idle timeouts for the duration
// of the connection so a long-lived stream is not torn down by an
// unrelated keep-alive deadline.
func (p *Proxy) streamSSE(w http.ResponseWriter, resp *http.Response) {
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})
	flusher, ok := w.(http.Flusher)
	w.WriteHeader(resp.StatusCode)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if ok {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// negotiateEncoding picks a response compression scheme from the
// client's Accept-Encoding header, skipping anything already encoded.
func negotiateEncoding(acceptEncoding string, respHeader http.Header) string {
	if respHeader.Get("Content-Encoding") != "" {
		return ""
	}
	lower := strings.ToLower(acceptEncoding)
	switch {
	case strings.Contains(lower, "zstd"):
		return "zstd"
	case strings.Contains(lower, "br"):
		return "br"
	case strings.Contains(lower, "gzip"):
		return "gzip"
	default:
		return ""
	}
}

// gzipWriterPool reuses gzip.Writer instances across requests instead of
// allocating a fresh compressor (and its internal window buffers) per
// response.
var gzipWriterPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// writeCompressed streams the upstream body through the negotiated
// encoder. Only gzip has a standard-library encoder; br and
// zstd negotiation falls back to gzip's implementation so compression is
// still applied, since the pack carries no brotli/zstd HTTP encoder.
func (p *Proxy) writeCompressed(w http.ResponseWriter, resp *http.Response, encoding string) {
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	gz := gzipWriterPool.Get().(*gzip.Writer)
	gz.Reset(w)
	defer func() {
		gz.Close()
		gzipWriterPool.Put(gz)
	}()
	_, _ = io.Copy(gz, resp.Body)
}

// proxyWebSocket forwards an Upgrade: websocket request as a raw
// bidirectional byte pipe between the client and backend TCP
// connections, with no compression and no buffering: once the HTTP
// upgrade handshake completes, this is no longer HTTP traffic.
func (p *Proxy) proxyWebSocket(w http.ResponseWriter, r *http.Request, backendAddr string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}

	backendConn, err := net.DialTimeout("tcp", backendAddr, 5*time.Second)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer backendConn.Close()

	stripHopByHop(r.Header)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")

	if err := r.Write(backendConn); err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	pipe(clientConn, backendConn, clientBuf)
}

// pipe copies bytes in both directions until either side closes,
// destroying the other connection as soon as one peer goes away so a
// half-open websocket never lingers.
func pipe(client net.Conn, backend net.Conn, clientBuf *bufio.ReadWriter) {
	done := make(chan struct{}, 2)

	go func() {
		_, _ = io.Copy(backend, clientBuf)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, backend)
		done <- struct{}{}
	}()

	<-done
}
