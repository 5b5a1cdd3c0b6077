package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guozi058/tlmc/internal/stats"
)

// captureTransport records the outbound request and answers 200 without any
// network I/O.
type captureTransport struct {
	lastURLHost string
	lastHostHdr string
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.lastURLHost = req.URL.Host
	t.lastHostHdr = req.Host
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func newTestServer(t *testing.T, transport http.RoundTripper) (*Server, *stats.Collector) {
	t.Helper()

	collector := stats.NewCollector()
	s, err := New(Config{
		ListenAddr:   ":0",
		Suffix:       "tlmc.isp.example",
		FallbackHost: "origin.example",
		Collector:    collector,
		Logger:       zap.NewNop(),
		Transport:    transport,
	})
	require.NoError(t, err)
	return s, collector
}

// TestNew_RequiresConfig verifies that a missing suffix or fallback host
// prevents the server from being created.
func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Config{FallbackHost: "origin.example"})
	assert.Error(t, err)

	_, err = New(Config{Suffix: "tlmc.isp.example"})
	assert.Error(t, err)
}

// TestServer_ForwardsToHashedHost checks the full handler path: the outbound
// request targets {hash}.{suffix} while the Host header keeps the logical
// resource host.
func TestServer_ForwardsToHashedHost(t *testing.T) {
	transport := &captureTransport{}
	s, collector := newTestServer(t, transport)

	req := httptest.NewRequest("GET", "http://www.example/hello/world", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "627da9c298545b23.tlmc.isp.example", transport.lastURLHost)
	assert.Equal(t, "www.example", transport.lastHostHdr)
	assert.Equal(t, int64(1), collector.RemapCount())
	assert.Equal(t, int64(0), collector.FallbackCount())
}

// TestServer_SameResourceSameNode verifies cache affinity: repeated requests
// for one resource always resolve to the same node, different resources can
// differ.
func TestServer_SameResourceSameNode(t *testing.T) {
	transport := &captureTransport{}
	s, _ := newTestServer(t, transport)

	serve := func(target string) string {
		req := httptest.NewRequest("GET", target, nil)
		s.Handler().ServeHTTP(httptest.NewRecorder(), req)
		return transport.lastURLHost
	}

	first := serve("http://www.example/hello/world")
	second := serve("http://www.example/hello/world")
	other := serve("http://www.example/other/object")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

// TestServer_FallbackOnNoRemap checks that a request that cannot be remapped
// routes to the static fallback destination unmodified.
func TestServer_FallbackOnNoRemap(t *testing.T) {
	transport := &captureTransport{}
	s, collector := newTestServer(t, transport)

	// A closed rule refuses every remap; the proxy must degrade to the
	// fallback destination rather than fail the request.
	s.Close()

	req := httptest.NewRequest("GET", "http://www.example/hello/world", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "origin.example", transport.lastURLHost)
	assert.Equal(t, int64(0), collector.RemapCount())
	assert.Equal(t, int64(1), collector.FallbackCount())
}

// TestServer_RewriteUsesHostHeader verifies a server-style inbound request
// (empty URL host, Host header set) still remaps correctly.
func TestServer_RewriteUsesHostHeader(t *testing.T) {
	s, _ := newTestServer(t, nil)

	in := httptest.NewRequest("GET", "/hello/world", nil)
	in.Host = "www.example"
	out := in.Clone(in.Context())

	s.rewrite(&httputil.ProxyRequest{In: in, Out: out})

	assert.Equal(t, "627da9c298545b23.tlmc.isp.example", out.URL.Host)
	assert.Equal(t, "http", out.URL.Scheme)
}
