package csvreplay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// Record represents a single replay request specification
type Record struct {
	Host    string // Request hostname
	Path    string // Request path, without its leading slash
	LineNum int    // Line number for error reporting
}

// ParseError represents an error encountered while parsing
type ParseError struct {
	LineNum int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", e.LineNum, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d: %s", e.LineNum, e.Message)
}

// Reader reads replay CSV line by line and parses each line individually
type Reader struct {
	file       *os.File
	scanner    *bufio.Scanner
	lineNum    int
	headerRead bool
}

// NewReader creates a new replay reader
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	// Set a larger buffer for lines (default is 64KB)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024) // Allow up to 1MB lines

	return &Reader{
		scanner: scanner,
	}
}

// NewReaderFromFile creates a reader from a file path
func NewReaderFromFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader := NewReader(f)
	reader.file = f
	return reader, nil
}

// Close closes the underlying file if opened by this reader
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Read reads and parses the next line, returns io.EOF when done
func (r *Reader) Read() (*Record, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := r.scanner.Bytes()

		// Skip empty lines
		if len(line) == 0 {
			continue
		}

		// Trim \r if present
		if line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		// Skip header
		if !r.headerRead {
			r.headerRead = true
			if isHeaderLine(line) {
				continue
			}
		}

		record, err := r.parseLine(line)
		if err != nil {
			return nil, err
		}

		return record, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	return nil, io.EOF
}

// parseLine parses a single replay line.
// Expected format: host,path — the split is on the first comma only, so
// paths containing commas survive intact.
func (r *Reader) parseLine(line []byte) (*Record, error) {
	comma := bytes.IndexByte(line, ',')
	if comma < 0 {
		return nil, r.newParseError("expected 2 fields (host,path), got 1")
	}

	host := line[:comma]
	path := line[comma+1:]

	if err := r.validateHost(host); err != nil {
		return nil, err
	}

	// The hash treats the path without its leading slash; accept either form
	// in the input.
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}

	return &Record{
		Host:    string(host),
		Path:    string(path),
		LineNum: r.lineNum,
	}, nil
}

// validateHost ensures the host is not empty and contains no whitespace
func (r *Reader) validateHost(host []byte) error {
	if len(host) == 0 {
		return r.newParseError("empty host")
	}
	if bytes.ContainsAny(host, " \t") {
		return r.newParseError(fmt.Sprintf("host contains whitespace: %q", string(host)))
	}
	return nil
}

// newParseError creates a ParseError with the current line number
func (r *Reader) newParseError(message string) *ParseError {
	return &ParseError{
		LineNum: r.lineNum,
		Message: message,
	}
}

// isHeaderLine checks if a line is the CSV header
func isHeaderLine(line []byte) bool {
	// Exact match prevents matching data rows that contain these strings
	return bytes.Equal(line, []byte("host,path"))
}
