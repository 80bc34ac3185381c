//go:build linux

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed mimics the read path: append chunk to buf, scan only the new tail.
func feed(buf []byte, chunk string) ([]byte, []byte, bool) {
	buf = append(buf, chunk...)
	line, done := completeLine(buf, len(chunk))
	return buf, line, done
}

func TestCompleteLineSingleRead(t *testing.T) {
	buf := make([]byte, 0, 64)
	_, line, done := feed(buf, "GET /plan?stop=1 HTTP/1.0\r\n")
	require.True(t, done)
	assert.Equal(t, "GET /plan?stop=1 HTTP/1.0", string(line))
}

func TestCompleteLineSplitAcrossReads(t *testing.T) {
	buf := make([]byte, 0, 64)

	buf, _, done := feed(buf, "GET /plan?")
	require.False(t, done)

	buf, line, done := feed(buf, "foo=bar\n")
	require.True(t, done)
	assert.Equal(t, "GET /plan?foo=bar", string(line))

	// Identical to the same bytes arriving in one read.
	one := make([]byte, 0, 64)
	_, oneLine, oneDone := feed(one, "GET /plan?foo=bar\n")
	require.True(t, oneDone)
	assert.Equal(t, string(oneLine), string(line))
	_ = buf
}

func TestCompleteLineByteAtATime(t *testing.T) {
	buf := make([]byte, 0, 64)
	request := "GET /a?b=c\r"
	var line []byte
	var done bool
	for _, b := range []byte(request) {
		buf, line, done = feed(buf, string(b))
	}
	require.True(t, done)
	assert.Equal(t, "GET /a?b=c", string(line))
}

func TestCompleteLineAcceptsCROrLF(t *testing.T) {
	for _, term := range []string{"\r", "\n", "\r\n"} {
		buf := make([]byte, 0, 64)
		_, line, done := feed(buf, "GET /p?q=1"+term+"ignored")
		require.True(t, done, "terminator %q", term)
		assert.Equal(t, "GET /p?q=1", string(line))
	}
}

func TestCompleteLineNeedsTerminator(t *testing.T) {
	buf := make([]byte, 0, 16)
	buf, _, done := feed(buf, "GET /p?q=1")
	require.False(t, done)
	assert.False(t, len(buf) == cap(buf), "request still fits")

	// Fill the buffer without ever sending a terminator.
	buf, _, done = feed(buf, "aaaaaa")
	require.False(t, done)
	assert.Equal(t, cap(buf), len(buf), "full buffer with no terminator is the too-long condition")
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		query   string
		wantErr error
	}{
		{name: "plain", line: "GET /plan?stop=1", query: "stop=1"},
		{name: "with version", line: "GET /plan?from=A&to=B HTTP/1.0", query: "from=A&to=B"},
		{name: "query only char", line: "GET /?x", query: "x"},
		{name: "post", line: "POST /plan?x=1", wantErr: errBadMethod},
		{name: "lowercase get", line: "get /plan?x=1", wantErr: errBadMethod},
		{name: "empty line", line: "", wantErr: errBadMethod},
		{name: "verb only", line: "GET", wantErr: errNoResource},
		{name: "verb with space", line: "GET ", wantErr: errNoResource},
		{name: "no query separator", line: "GET /plan", wantErr: errNoQuery},
		{name: "empty query", line: "GET /plan?", wantErr: errNoQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := parseRequestLine(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.query, query)
		})
	}
}
