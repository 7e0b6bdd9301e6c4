package dnsrecorder

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testRecorder(t *testing.T) *Recorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, "")
}

type fakeResponseWriter struct {
	msgs []*dns.Msg
}

func (f *fakeResponseWriter) LocalAddr() net.Addr  { return &net.UDPAddr{} }
func (f *fakeResponseWriter) RemoteAddr() net.Addr { return &net.UDPAddr{} }

func (f *fakeResponseWriter) WriteMsg(m *dns.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeResponseWriter) Write([]byte) (int, error) { return 0, nil }
func (f *fakeResponseWriter) Close() error              { return nil }
func (f *fakeResponseWriter) TsigStatus() error         { return nil }
func (f *fakeResponseWriter) TsigTimersOnly(bool)       {}
func (f *fakeResponseWriter) Hijack()                   {}

func aQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func TestInstallAnswersA(t *testing.T) {
	r := testRecorder(t)
	require.NoError(t, r.Install("example.com", Records{IPv4: "203.0.113.10"}))

	w := &fakeResponseWriter{}
	r.handleQuery(w, aQuery("example.com"))

	require.Len(t, w.msgs, 1)
	require.Len(t, w.msgs[0].Answer, 1)
	a, ok := w.msgs[0].Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "203.0.113.10", a.A.String())
}

func TestUnknownDomainReturnsNameError(t *testing.T) {
	r := testRecorder(t)

	w := &fakeResponseWriter{}
	r.handleQuery(w, aQuery("nowhere.invalid"))

	require.Len(t, w.msgs, 1)
	require.Equal(t, dns.RcodeNameError, w.msgs[0].Rcode)
}

func TestRemoveWithdrawsRecords(t *testing.T) {
	r := testRecorder(t)
	require.NoError(t, r.Install("example.com", Records{IPv4: "203.0.113.10"}))
	require.NoError(t, r.Remove("example.com"))

	w := &fakeResponseWriter{}
	r.handleQuery(w, aQuery("example.com"))

	require.Equal(t, dns.RcodeNameError, w.msgs[0].Rcode)
}

func TestHandleQueryRefusesOverBudgetQueries(t *testing.T) {
	r := testRecorder(t)
	require.NoError(t, r.Install("example.com", Records{IPv4: "203.0.113.10"}))
	r.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	w := &fakeResponseWriter{}
	r.handleQuery(w, aQuery("example.com"))
	require.Len(t, w.msgs, 1)
	require.Equal(t, dns.RcodeSuccess, w.msgs[0].Rcode)

	r.handleQuery(w, aQuery("example.com"))
	require.Len(t, w.msgs, 2)
	require.Equal(t, dns.RcodeRefused, w.msgs[1].Rcode)
}
