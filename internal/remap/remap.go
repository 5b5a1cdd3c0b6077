package remap

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/guozi058/tlmc/internal/hasher"
)

var (
	// ErrMissingSuffix is returned by New when the required routing suffix is
	// absent. This is a configuration error: the route must not become active.
	ErrMissingSuffix = errors.New("routing suffix must not be empty")

	// ErrNilRequest marks a remap attempt against a nil rule or request.
	ErrNilRequest = errors.New("nil rule or request")

	// ErrScratchOverflow marks a formatted hostname that exceeded the
	// precomputed scratch capacity. The capacity bounds any possible output,
	// so hitting this means a sizing defect.
	ErrScratchOverflow = errors.New("formatted hostname exceeds scratch capacity")

	// ErrHostRejected wraps a host mutation refused by the request object.
	ErrHostRejected = errors.New("request rejected new host")
)

// Request is the contract a request object must satisfy to be remapped.
// Host and Path return the current raw bytes and may be empty. Path carries
// no leading slash, so host and path concatenate with no separator
// ("www.example" + "hello/world"). SetHost either applies the new hostname
// or returns an error leaving the request unmodified.
type Request interface {
	Host() []byte
	Path() []byte
	SetHost(host []byte) error
}

// Status is the outcome signal of one remap attempt.
type Status int

const (
	// NoRemap means the request was left untouched; the caller routes to its
	// statically configured destination instead.
	NoRemap Status = iota

	// Remapped means the request hostname was rewritten to {hash}.{suffix}.
	Remapped
)

// Result is the outcome of processing one request. Host is the rewritten
// hostname when Status is Remapped. Err carries the cause of a NoRemap for
// logging; the routing decision itself is the Status alone.
type Result struct {
	Status Status
	Host   []byte
	Err    error
}

// hex digits of a uint64
const maxHexDigits = 2 * 8

// Rule holds the remap configuration for one route: the routing suffix
// appended after the hash. Immutable after New; safe for concurrent use by
// many in-flight requests.
type Rule struct {
	suffix     []byte
	suffixLen  int
	scratchCap int
}

// New creates the rule for one route. The suffix is the routing domain
// appended after the hash (e.g. "tlmc.isp.example") and is required.
func New(suffix string) (*Rule, error) {
	if suffix == "" {
		return nil, ErrMissingSuffix
	}

	s := []byte(suffix)
	return &Rule{
		suffix:     s,
		suffixLen:  len(s),
		scratchCap: maxHexDigits + 1 + len(s),
	}, nil
}

// Suffix returns the configured routing suffix.
func (r *Rule) Suffix() string {
	if r == nil {
		return ""
	}
	return string(r.suffix)
}

// Close releases the rule. Safe on a nil rule and safe to call twice;
// a closed rule answers every Remap with NoRemap.
func (r *Rule) Close() {
	if r == nil {
		return
	}
	r.suffix = nil
	r.suffixLen = 0
}

// Remap converts one inbound request into an optional rewritten hostname:
// hash the host, continue the hash over the path, format {hex}.{suffix} and
// apply it. Every failure degrades to NoRemap with the original request
// untouched; the caller falls back to its static destination.
func (r *Rule) Remap(req Request) Result {
	if r == nil || req == nil {
		return Result{Status: NoRemap, Err: ErrNilRequest}
	}
	if r.suffixLen == 0 {
		return Result{Status: NoRemap, Err: ErrMissingSuffix}
	}

	// Host and path hash as one continuous stream, no separator between
	// them. External verification tools hash the concatenated literal, so
	// this must not be "fixed" with a '/'.
	h := hasher.Sum(req.Host())
	h = hasher.Continue(req.Path(), h)

	// Scratch is per call, never shared across in-flight requests.
	scratch := make([]byte, 0, r.scratchCap)
	scratch = strconv.AppendUint(scratch, h, 16)
	scratch = append(scratch, '.')
	scratch = append(scratch, r.suffix...)

	if len(scratch) > r.scratchCap {
		// Capacity bounds any uint64 plus the suffix; exceeding it means the
		// sizing is corrupt. Fail closed, never forward a truncated host.
		return Result{Status: NoRemap, Err: ErrScratchOverflow}
	}

	if err := req.SetHost(scratch); err != nil {
		return Result{Status: NoRemap, Err: fmt.Errorf("%w: %v", ErrHostRejected, err)}
	}

	return Result{Status: Remapped, Host: scratch}
}
