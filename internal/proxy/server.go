package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"time"

	"go.uber.org/zap"

	"github.com/guozi058/tlmc/internal/remap"
	"github.com/guozi058/tlmc/internal/stats"
)

// Config holds the proxy server configuration.
type Config struct {
	ListenAddr      string
	Suffix          string // Routing suffix for the remap rule (required)
	FallbackHost    string // Static destination when remap signals NoRemap (required)
	ShutdownTimeout time.Duration
	Collector       *stats.Collector
	Logger          *zap.Logger

	// Transport overrides the outbound round tripper. Nil means
	// http.DefaultTransport. Used by tests to capture forwarded requests.
	Transport http.RoundTripper
}

// Server is a reverse proxy that rewrites each request host to
// {hash}.{suffix} for cache affinity, forwarding to the static fallback
// destination whenever the request cannot be remapped.
type Server struct {
	rule            *remap.Rule
	fallbackHost    string
	collector       *stats.Collector
	log             *zap.Logger
	handler         http.Handler
	httpSrv         *http.Server
	shutdownTimeout time.Duration
}

// New creates the proxy server. The routing suffix is required; a missing
// suffix is a configuration error and the server never starts.
func New(cfg Config) (*Server, error) {
	rule, err := remap.New(cfg.Suffix)
	if err != nil {
		return nil, fmt.Errorf("remap rule: %w", err)
	}
	if cfg.FallbackHost == "" {
		return nil, fmt.Errorf("fallback host must not be empty")
	}
	if cfg.Collector == nil {
		cfg.Collector = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		rule:            rule,
		fallbackHost:    cfg.FallbackHost,
		collector:       cfg.Collector,
		log:             cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	rp := &httputil.ReverseProxy{
		Rewrite:   s.rewrite,
		Transport: cfg.Transport,
		ErrorLog:  zap.NewStdLog(cfg.Logger),
	}
	s.handler = rp

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           rp,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// rewrite is the per-request routing decision: remap the outbound host to
// {hash}.{suffix}, or point it at the static fallback destination. The
// original Host header is preserved either way so the cache node sees the
// logical resource host.
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	out := pr.Out
	out.URL.Scheme = "http"
	if out.URL.Host == "" {
		out.URL.Host = pr.In.Host
	}

	start := time.Now()
	res := s.rule.Remap(remap.WrapHTTP(out))
	duration := time.Since(start)

	if res.Status == remap.Remapped {
		s.collector.RecordRemap(duration)
		s.log.Debug("host remapped",
			zap.String("from", pr.In.Host),
			zap.ByteString("to", res.Host),
			zap.String("path", pr.In.URL.Path))
		return
	}

	// Not remapped: the request stays unmodified and routes to the rule's
	// statically configured destination.
	out.URL.Host = s.fallbackHost
	s.collector.RecordFallback()
	s.log.Debug("falling back to static destination",
		zap.String("host", pr.In.Host),
		zap.String("fallback", s.fallbackHost),
		zap.Error(res.Err))
}

// Handler returns the proxy handler, for serving through an external mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	s.log.Info("proxy listening",
		zap.String("addr", s.httpSrv.Addr),
		zap.String("suffix", s.rule.Suffix()),
		zap.String("fallback", s.fallbackHost))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases the remap rule. Safe to call more than once.
func (s *Server) Close() {
	s.rule.Close()
}
