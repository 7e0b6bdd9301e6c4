package dnsrecorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"
)

// queryRateLimit bounds how many queries per second this authoritative
// responder answers in total. A plain UDP DNS server is a classic
// reflection/amplification target; a token bucket smooths a burst from
// one misbehaving resolver without needing per-source state.
const queryRateLimit = 200

// DefaultListenAddr matches the convention a container-network-local
// resolver uses (Docker's own embedded DNS listens on 127.0.0.11:53);
// odac listens on the equivalent loopback address for domains it is
// authoritative for.
const DefaultListenAddr = "127.0.0.1:8053"

// Recorder installs and serves DNS records for domains odac manages. It
// implements the Website Supervisor's DnsRecorder collaborator.
type Recorder struct {
	logger     *slog.Logger
	zone       *Zone
	listenAddr string
	limiter    *rate.Limiter

	mu        sync.Mutex
	dnsServer *dns.Server
	running   bool
}

// New constructs a Recorder. The server is not started until Start is
// called.
func New(logger *slog.Logger, listenAddr string) *Recorder {
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}
	return &Recorder{
		logger:     logger,
		zone:       newZone(),
		listenAddr: listenAddr,
		limiter:    rate.NewLimiter(rate.Limit(queryRateLimit), queryRateLimit*2),
	}
}

// Start binds the UDP listener and serves until ctx is canceled.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("dnsrecorder: already running")
	}
	r.running = true

	mux := dns.NewServeMux()
	mux.HandleFunc(".", r.handleQuery)
	r.dnsServer = &dns.Server{Addr: r.listenAddr, Net: "udp", Handler: mux}
	r.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("dns recorder listening", "addr", r.listenAddr)
		if err := r.dnsServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("dnsrecorder: listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return r.Stop()
	case err := <-errCh:
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}
}

// Stop shuts the DNS listener down gracefully.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false
	if r.dnsServer == nil {
		return nil
	}
	if err := r.dnsServer.Shutdown(); err != nil {
		return fmt.Errorf("dnsrecorder: shutdown: %w", err)
	}
	return nil
}

// Install publishes domain's A/AAAA/CNAME "www"/MX/SPF TXT/DMARC TXT
// record set, making this server authoritative for queries about it.
func (r *Recorder) Install(domain string, records Records) error {
	if domain == "" {
		return fmt.Errorf("dnsrecorder: domain must not be empty")
	}
	r.zone.set(domain, records)
	r.logger.Info("dns records installed", "domain", domain)
	return nil
}

// Remove withdraws domain's record set; queries for it then fall
// through to NXDOMAIN since this server answers authoritatively only
// for domains it has been told about.
func (r *Recorder) Remove(domain string) error {
	r.zone.delete(domain)
	r.logger.Info("dns records removed", "domain", domain)
	return nil
}

func (r *Recorder) handleQuery(w dns.ResponseWriter, req *dns.Msg) {
	if !r.limiter.Allow() {
		msg := &dns.Msg{}
		msg.SetRcode(req, dns.RcodeRefused)
		if err := w.WriteMsg(msg); err != nil {
			r.logger.Warn("failed to write dns refusal", "error", err)
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(req)
	msg.Authoritative = true

	for _, q := range req.Question {
		answers := r.answer(q)
		if answers == nil {
			msg.Rcode = dns.RcodeNameError
			continue
		}
		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		r.logger.Warn("failed to write dns response", "error", err)
	}
}

func (r *Recorder) answer(q dns.Question) []dns.RR {
	name := trimTrailingDot(q.Name)
	domain, records, ok := r.zoneFor(name)
	if !ok {
		return nil
	}

	switch q.Qtype {
	case dns.TypeA:
		if records.IPv4 == "" {
			return nil
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN A %s", q.Name, records.IPv4))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	case dns.TypeAAAA:
		if records.IPv6 == "" {
			return nil
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN AAAA %s", q.Name, records.IPv6))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	case dns.TypeCNAME:
		if name != "www."+domain || records.IPv4 == "" {
			return nil
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN CNAME %s.", q.Name, domain))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	case dns.TypeMX:
		if records.MX == "" {
			return nil
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN MX 10 %s.", q.Name, records.MX))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	case dns.TypeTXT:
		return r.txtAnswers(q, domain, records)

	default:
		return nil
	}
}

func (r *Recorder) txtAnswers(q dns.Question, domain string, records Records) []dns.RR {
	name := trimTrailingDot(q.Name)

	switch {
	case name == domain && records.SPF != "":
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN TXT %q", q.Name, records.SPF))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	case name == "_dmarc."+domain:
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN TXT %q", q.Name, r.zone.dmarcValue(domain)))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	case records.DKIM != nil && name == dkimSelectorName(records.DKIM)+"._domainkey."+domain:
		rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN TXT %q", q.Name, records.DKIM.PublicKey))
		if err != nil {
			return nil
		}
		return []dns.RR{rr}

	default:
		return nil
	}
}

func dkimSelectorName(d *DKIMRecord) string {
	if d.Selector == "" {
		return "odac"
	}
	return d.Selector
}

// zoneFor finds the installed domain that owns name, trying the name
// itself and then each suffix after dropping leftmost labels, so a
// query for "www.example.com" finds the zone installed under
// "example.com".
func (r *Recorder) zoneFor(name string) (string, Records, bool) {
	labels := splitLabels(name)
	for i := 0; i < len(labels); i++ {
		candidate := joinLabels(labels[i:])
		if records, ok := r.zone.lookup(candidate); ok {
			return candidate, records, true
		}
	}
	return "", Records{}, false
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	labels = append(labels, name[start:])
	return labels
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}
