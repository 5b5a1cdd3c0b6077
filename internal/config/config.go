package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// ProxyConfig holds all configuration options for the proxy daemon.
type ProxyConfig struct {
	// Listen settings
	ListenAddr string

	// Remap settings
	Suffix       string // Routing suffix appended after the hash (required)
	FallbackHost string // Static destination when remap signals NoRemap (required)

	// Lifecycle settings
	ShutdownTimeout time.Duration

	// Output settings
	Verbose bool
}

// ReplayConfig holds all configuration options for the replay tool.
type ReplayConfig struct {
	// Remap settings
	Suffix string // Routing suffix appended after the hash (required)

	// Worker settings
	NumWorkers int
	QueueDepth int

	// Input settings
	InputFile string
	UseStdin  bool

	// Output settings
	Print   bool // Emit host,path -> rewritten hostname per record
	Verbose bool

	// Profiling settings
	CPUProfile string
	MemProfile string
}

// DefaultProxyConfig returns a ProxyConfig with defaults.
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		ListenAddr:      getEnv("TLMC_LISTEN", ":8080"),
		Suffix:          getEnv("TLMC_SUFFIX", ""),
		FallbackHost:    getEnv("TLMC_FALLBACK_HOST", ""),
		ShutdownTimeout: 10 * time.Second,
		Verbose:         false,
	}
}

// DefaultReplayConfig returns a ReplayConfig with defaults.
func DefaultReplayConfig() *ReplayConfig {
	return &ReplayConfig{
		Suffix:     getEnv("TLMC_SUFFIX", ""),
		NumWorkers: getEnvInt("TLMC_WORKERS", runtime.NumCPU()),
		QueueDepth: getEnvInt("TLMC_QUEUE_DEPTH", 1000),
	}
}

// ParseProxyFlags parses command line flags for the proxy daemon.
func ParseProxyFlags() (*ProxyConfig, error) {
	cfg := DefaultProxyConfig()

	flag.Usage = printProxyUsage

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address (env: TLMC_LISTEN)")
	flag.StringVar(&cfg.Suffix, "suffix", cfg.Suffix, "Routing suffix appended after the hash (env: TLMC_SUFFIX)")
	flag.StringVar(&cfg.FallbackHost, "fallback-host", cfg.FallbackHost, "Destination host when a request cannot be remapped (env: TLMC_FALLBACK_HOST)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable debug logging")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseReplayFlags parses command line flags for the replay tool.
func ParseReplayFlags() (*ReplayConfig, error) {
	cfg := DefaultReplayConfig()

	flag.Usage = printReplayUsage

	flag.StringVar(&cfg.Suffix, "suffix", cfg.Suffix, "Routing suffix appended after the hash (env: TLMC_SUFFIX)")
	flag.StringVar(&cfg.InputFile, "file", "", "CSV file with host,path records (reads from stdin if not specified)")
	flag.IntVar(&cfg.NumWorkers, "workers", cfg.NumWorkers, "Number of concurrent workers (default: number of CPUs)")
	flag.IntVar(&cfg.QueueDepth, "queue-depth", cfg.QueueDepth, "Queue depth per worker (memory vs backpressure tradeoff)")
	flag.BoolVar(&cfg.Print, "print", cfg.Print, "Print each rewritten hostname (for external hash verification)")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable debug logging")
	flag.StringVar(&cfg.CPUProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&cfg.MemProfile, "memprofile", "", "Write memory profile to file")

	flag.Parse()

	cfg.UseStdin = cfg.InputFile == ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the proxy configuration and normalizes hostnames.
func (c *ProxyConfig) Validate() error {
	suffix, err := normalizeHostname(c.Suffix)
	if err != nil {
		return fmt.Errorf("invalid suffix: %w", err)
	}
	c.Suffix = suffix

	fallback, err := normalizeHostname(c.FallbackHost)
	if err != nil {
		return fmt.Errorf("invalid fallback host: %w", err)
	}
	c.FallbackHost = fallback

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}

// Validate checks the replay configuration and normalizes the suffix.
func (c *ReplayConfig) Validate() error {
	suffix, err := normalizeHostname(c.Suffix)
	if err != nil {
		return fmt.Errorf("invalid suffix: %w", err)
	}
	c.Suffix = suffix

	if err := validateWorkerConfig(c.NumWorkers, c.QueueDepth); err != nil {
		return err
	}
	return validateInputFile(c.UseStdin, c.InputFile)
}

// normalizeHostname validates a configured hostname and converts it to its
// canonical ASCII form: lowercased, trailing dot dropped, IDN labels in
// punycode. Runs once at startup, never per request.
func normalizeHostname(host string) (string, error) {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("hostname must not be empty")
	}

	// ASCII-only host: lowercase in place and skip IDNA.
	if isASCII(host) {
		b := []byte(host)
		for i := 0; i < len(b); i++ {
			c := b[i]
			if c >= 'A' && c <= 'Z' {
				b[i] = c + 32
			}
		}
		return string(b), nil
	}

	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(asciiHost), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// validateWorkerConfig validates worker pool configuration
func validateWorkerConfig(numWorkers, queueDepth int) error {
	if numWorkers < 1 || numWorkers > 100 {
		return fmt.Errorf("number of workers must be between 1 and 100, got %d", numWorkers)
	}
	if queueDepth < 1 {
		return fmt.Errorf("queue depth must be at least 1, got %d", queueDepth)
	}
	return nil
}

// validateInputFile validates input file configuration
func validateInputFile(useStdin bool, inputFile string) error {
	if !useStdin && inputFile != "" {
		if _, err := os.Stat(inputFile); os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", inputFile)
		}
	}
	return nil
}

// printProxyUsage prints a user-friendly help message for the proxy daemon
func printProxyUsage() {
	fmt.Fprintf(os.Stderr, `TLMC Hash-Remap Proxy
=====================

Reverse proxy that rewrites each request host to {fnv64(host+path)}.{suffix},
so requests for the same resource always route to the same cache node.
Requests that cannot be remapped fall back to a static destination.

USAGE
    tlmcproxyd --suffix tlmc.isp.example --fallback-host origin.example

OPTIONS
    -listen string
          Listen address (default: %s, env: TLMC_LISTEN)

    -suffix string
          Routing suffix appended after the hash (required, env: TLMC_SUFFIX)

    -fallback-host string
          Destination host when a request cannot be remapped
          (required, env: TLMC_FALLBACK_HOST)

    -shutdown-timeout duration
          Graceful shutdown timeout (default: %s)

    -verbose
          Enable debug logging

EXAMPLE
    A request for http://www.example/hello/world is forwarded to
    http://627da9c298545b23.%s/hello/world
`,
		":8080",
		10*time.Second,
		getEnv("TLMC_SUFFIX", "{suffix}"),
	)
}

// printReplayUsage prints a user-friendly help message for the replay tool
func printReplayUsage() {
	fmt.Fprintf(os.Stderr, `TLMC Remap Replay Tool
======================

Replays host,path records through the hash-remap engine with concurrent
workers, reports remap latency statistics, and optionally prints each
rewritten hostname for external hash verification.

USAGE
    remapreplay --suffix tlmc.isp.example --file requests.csv

    Read from stdin:
        cat requests.csv | remapreplay --suffix tlmc.isp.example

    Verify hashes:
        echo "www.example,hello/world" | remapreplay --suffix tlmc.isp.example --print

REQUIRED CSV FORMAT
    host,path
    www.example,hello/world
    cdn.example,assets/logo.png

OPTIONS
    -suffix string
          Routing suffix appended after the hash (required, env: TLMC_SUFFIX)

    -file string
          CSV file with host,path records (reads from stdin if not specified)

    -workers int
          Number of concurrent workers (default: %d)

    -queue-depth int
          Queue depth per worker (default: %d)
          Higher values handle bursts better but use more memory

    -print
          Print each rewritten hostname (host,path -> newhost)

    -verbose
          Enable debug logging

    -cpuprofile string
          Write CPU profile to file

    -memprofile string
          Write memory profile to file
`,
		runtime.NumCPU(),
		1000,
	)
}

// getEnv returns environment variable or default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid integer for %s=%q, using default %d\n", key, value, defaultValue)
		return defaultValue
	}
	return result
}
