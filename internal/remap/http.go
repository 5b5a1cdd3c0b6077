package remap

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// HTTPRequest adapts a *net/http.Request to the Request contract.
// Host is the URL hostname without any port; Path is the escaped URL path
// without its leading slash, matching the bytes an upstream verifier hashes.
type HTTPRequest struct {
	req *http.Request
}

// WrapHTTP wraps req for remapping. The wrapper mutates req.URL.Host on a
// successful remap and touches nothing else.
func WrapHTTP(req *http.Request) *HTTPRequest {
	if req == nil {
		return nil
	}
	return &HTTPRequest{req: req}
}

// Host returns the request hostname bytes, which may be empty.
// Nil-receiver safe: a nil wrapper reads as an empty host.
func (h *HTTPRequest) Host() []byte {
	if h == nil || h.req == nil {
		return nil
	}
	host := h.req.URL.Host
	if host == "" {
		host = h.req.Host
	}
	return []byte(stripPort(host))
}

// Path returns the request path bytes without the leading slash.
func (h *HTTPRequest) Path() []byte {
	if h == nil || h.req == nil {
		return nil
	}
	p := h.req.URL.EscapedPath()
	p = strings.TrimPrefix(p, "/")
	return []byte(p)
}

// SetHost applies the new hostname to the request URL. Hostnames containing
// bytes outside the DNS label alphabet are rejected and the request is left
// unmodified. A nil wrapper rejects every mutation, so a remap against it
// degrades to NoRemap instead of panicking.
func (h *HTTPRequest) SetHost(host []byte) error {
	if h == nil || h.req == nil {
		return fmt.Errorf("no request to mutate")
	}
	if len(host) == 0 {
		return fmt.Errorf("empty hostname")
	}
	for _, c := range host {
		if !isHostByte(c) {
			return fmt.Errorf("invalid hostname byte %q", c)
		}
	}

	h.req.URL.Host = string(host)
	return nil
}

// stripPort removes a trailing :port from host:port. Best-effort split, works
// for both IPv4 and bracketed IPv6.
func stripPort(host string) string {
	if strings.Contains(host, ":") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
	}
	return host
}

func isHostByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c == '.' || c == '-':
		return true
	}
	return false
}
