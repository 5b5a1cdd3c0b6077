package hasher

const (
	// FNV-1 64-bit constants
	offset64 = 0xcbf29ce484222325
	prime64  = 0x100000001b3
)

// Sum computes the FNV-1 64-bit hash of b, starting from the offset basis.
// FNV-1: multiply then XOR. The wraparound multiplication is intentional and
// must stay bit-for-bit stable; downstream caches recompute and compare
// these values independently.
func Sum(b []byte) uint64 {
	return Continue(b, offset64)
}

// SumString computes the FNV-1 64-bit hash of s. Avoids a []byte conversion
// when the input is already a string.
func SumString(s string) uint64 {
	return ContinueString(s, offset64)
}

// Continue folds b into an existing accumulator h. Continuing with b after
// hashing a produces the same value as hashing the concatenation of a and b,
// so multi-segment inputs never need to be copied into one buffer.
// An empty b returns h unchanged.
func Continue(b []byte, h uint64) uint64 {
	for _, c := range b {
		h *= prime64
		h ^= uint64(c)
	}
	return h
}

// ContinueString is Continue for string input.
func ContinueString(s string, h uint64) uint64 {
	for i := 0; i < len(s); i++ {
		h *= prime64
		h ^= uint64(s[i])
	}
	return h
}

// Affinity maps hostnames to worker IDs consistently.
// The same hostname will always map to the same worker, so replay traffic
// for one host is always processed by one worker.
type Affinity struct {
	numWorkers int
}

// NewAffinity creates an Affinity over the given number of workers.
func NewAffinity(numWorkers int) *Affinity {
	if numWorkers < 1 {
		numWorkers = 1
	}

	return &Affinity{
		numWorkers: numWorkers,
	}
}

// WorkerID returns the worker ID for a given hostname.
// The result is deterministic: the same hostname always returns the same ID.
func (a *Affinity) WorkerID(hostname string) int {
	return int(SumString(hostname) % uint64(a.numWorkers))
}

// WorkerIDBytes returns the worker ID for a hostname as bytes.
// Avoids string allocation when working with []byte directly.
func (a *Affinity) WorkerIDBytes(hostname []byte) int {
	return int(Sum(hostname) % uint64(a.numWorkers))
}

// NumWorkers returns the number of workers in the hash ring.
func (a *Affinity) NumWorkers() int {
	return a.numWorkers
}
