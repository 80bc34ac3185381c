//go:build linux

package gateway

import (
	"errors"
	"strings"
)

// completeLine reports whether the newly appended tail of buf finished a
// request line. Only the last appended bytes are scanned; earlier bytes
// were scanned when they arrived. On success the returned line excludes
// the terminator and everything after it.
func completeLine(buf []byte, appended int) ([]byte, bool) {
	start := len(buf) - appended
	if start < 0 {
		start = 0
	}
	for i := start; i < len(buf); i++ {
		if buf[i] == '\n' || buf[i] == '\r' {
			return buf[:i], true
		}
	}
	return nil, false
}

var (
	errBadMethod  = errors.New("request verb is not GET")
	errNoResource = errors.New("request contains no resource")
	errNoQuery    = errors.New("request contains no query string")
)

// parseRequestLine extracts the query string from a complete request
// line. Tokens are separated by single spaces; anything after the
// resource (the protocol version, typically) is ignored. The request is
// malformed unless the verb is exactly GET and the resource carries a
// non-empty query string.
func parseRequestLine(line string) (string, error) {
	method, rest, _ := strings.Cut(line, " ")
	if method != "GET" {
		return "", errBadMethod
	}
	resource, _, _ := strings.Cut(rest, " ")
	if resource == "" {
		return "", errNoResource
	}
	_, query, found := strings.Cut(resource, "?")
	if !found || query == "" {
		return "", errNoQuery
	}
	return query, nil
}
