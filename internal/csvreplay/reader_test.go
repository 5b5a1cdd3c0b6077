package csvreplay

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReader_BasicParsing verifies header skipping and field extraction.
func TestReader_BasicParsing(t *testing.T) {
	input := `host,path
www.example,hello/world
cdn.example,assets/logo.png`

	r := NewReader(strings.NewReader(input))

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "www.example", rec.Host)
	assert.Equal(t, "hello/world", rec.Path)
	assert.Equal(t, 2, rec.LineNum)

	rec, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "cdn.example", rec.Host)
	assert.Equal(t, "assets/logo.png", rec.Path)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

// TestReader_NoHeader checks that a file without the header line parses from
// the first row.
func TestReader_NoHeader(t *testing.T) {
	r := NewReader(strings.NewReader("www.example,hello/world\n"))

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "www.example", rec.Host)
	assert.Equal(t, 1, rec.LineNum)
}

// TestReader_LeadingSlashStripped verifies that a path given with a leading
// slash is normalized to the slash-free form the hash consumes.
func TestReader_LeadingSlashStripped(t *testing.T) {
	r := NewReader(strings.NewReader("www.example,/hello/world\n"))

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello/world", rec.Path)
}

// TestReader_EmptyPath checks that a root request (empty path) is valid.
func TestReader_EmptyPath(t *testing.T) {
	r := NewReader(strings.NewReader("www.example,\n"))

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "www.example", rec.Host)
	assert.Empty(t, rec.Path)
}

// TestReader_PathWithCommas verifies the split happens on the first comma
// only, so commas in the path survive.
func TestReader_PathWithCommas(t *testing.T) {
	r := NewReader(strings.NewReader("www.example,a,b,c\n"))

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", rec.Path)
}

// TestReader_ParseErrors checks typed errors with line numbers for malformed
// rows.
func TestReader_ParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"missing comma", "www.example\n", "expected 2 fields"},
		{"empty host", ",hello\n", "empty host"},
		{"whitespace host", "www example,hello\n", "whitespace"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tc.input))
			_, err := r.Read()
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Contains(t, parseErr.Message, tc.want)
			assert.Equal(t, 1, parseErr.LineNum)
		})
	}
}

// TestReader_SkipsEmptyLinesAndCR verifies blank lines are skipped and
// trailing \r is trimmed.
func TestReader_SkipsEmptyLinesAndCR(t *testing.T) {
	r := NewReader(strings.NewReader("host,path\r\n\nwww.example,x\r\n"))

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "www.example", rec.Host)
	assert.Equal(t, "x", rec.Path)
}

// TestReaderFromFile_Missing ensures a missing file surfaces the open error.
func TestReaderFromFile_Missing(t *testing.T) {
	_, err := NewReaderFromFile("/nonexistent/replay.csv")
	assert.Error(t, err)
}
