// Package porter implements the front-door listener that reads the
// first request line of an incoming connection, picks the backend
// registered for the requested path, and hands the open socket to it
// over a Unix control socket.
package porter

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// RequestIDParam carries the porter-assigned request id into backend
// query strings.
const RequestIDParam = "FLUREQID"

// requestIDBytes is the entropy of a request id; rendered as hex it
// doubles in length.
const requestIDBytes = 32

// Dialect is the wire protocol spoken on the public listener.
type Dialect string

const (
	DialectHTTP Dialect = "http"
	DialectRTSP Dialect = "rtsp"
)

// scheme returns the URI scheme implied by the dialect.
func (d Dialect) scheme() string {
	if d == DialectRTSP {
		return "rtsp"
	}
	return "http"
}

// versionPrefix validates the third token of a request line.
func (d Dialect) versionPrefix() string {
	if d == DialectRTSP {
		return "RTSP/"
	}
	return "HTTP/"
}

// RequestLine is the parsed first line of a request.
type RequestLine struct {
	Method  string
	URI     string
	Version string
}

// String renders the line back into wire form, without the terminator.
func (rl RequestLine) String() string {
	return rl.Method + " " + rl.URI + " " + rl.Version
}

// Path returns the routing path of the request URI: the bare path
// without query, with absolute URIs reduced to their path component.
func (rl RequestLine) Path() string {
	uri := rl.URI
	if uri == "*" {
		return "*"
	}
	if u, err := url.ParseRequestURI(uri); err == nil {
		if u.Path != "" {
			return u.Path
		}
		return "/"
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// ParseRequestLine splits and validates a request line for the dialect.
func ParseRequestLine(line string, dialect Dialect) (RequestLine, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return RequestLine{}, fmt.Errorf("malformed request line %q", line)
	}
	if !strings.HasPrefix(parts[2], dialect.versionPrefix()) {
		return RequestLine{}, fmt.Errorf("request version %q does not match dialect %s", parts[2], dialect)
	}
	return RequestLine{Method: parts[0], URI: parts[1], Version: parts[2]}, nil
}

// NewRequestID returns a fresh random request id in hex.
func NewRequestID() string {
	buf := make([]byte, requestIDBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random request id: %v", err))
	}
	return hex.EncodeToString(buf)
}

// InjectRequestID appends the request id to the URI's query string so
// backends can correlate their logs with the porter's. The URI "*" is
// left alone.
func InjectRequestID(uri, id string) string {
	if uri == "*" {
		return uri
	}
	sep := "?"
	if strings.ContainsRune(uri, '?') {
		sep = "&"
	}
	return uri + sep + RequestIDParam + "=" + id
}

// errorResponse renders a minimal terminal response in the dialect.
func errorResponse(d Dialect, code int, text string) string {
	if d == DialectRTSP {
		return fmt.Sprintf("RTSP/1.0 %d %s\r\n\r\n", code, text)
	}
	body := fmt.Sprintf("<html><head><title>%d %s</title></head>"+
		"<body><h2>%d %s</h2></body></html>\n", code, text, code, text)
	return fmt.Sprintf("HTTP/1.0 %d %s\r\n"+
		"Content-Type: text/html\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", code, text, len(body), body)
}
