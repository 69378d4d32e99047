package porter

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		dialect Dialect
		want    RequestLine
		wantErr bool
	}{
		{
			name:    "plain http get",
			line:    "GET /live/stream.m3u8 HTTP/1.1",
			dialect: DialectHTTP,
			want:    RequestLine{Method: "GET", URI: "/live/stream.m3u8", Version: "HTTP/1.1"},
		},
		{
			name:    "rtsp describe",
			line:    "DESCRIBE rtsp://example.com/live RTSP/1.0",
			dialect: DialectRTSP,
			want:    RequestLine{Method: "DESCRIBE", URI: "rtsp://example.com/live", Version: "RTSP/1.0"},
		},
		{
			name:    "wrong dialect",
			line:    "GET /live HTTP/1.1",
			dialect: DialectRTSP,
			wantErr: true,
		},
		{
			name:    "missing version",
			line:    "GET /live",
			dialect: DialectHTTP,
			wantErr: true,
		},
		{
			name:    "too many fields",
			line:    "GET /live extra HTTP/1.1",
			dialect: DialectHTTP,
			wantErr: true,
		},
		{
			name:    "empty",
			line:    "",
			dialect: DialectHTTP,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequestLine(tt.line, tt.dialect)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.line, got.String())
		})
	}
}

func TestRequestLinePath(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"/live/stream.m3u8", "/live/stream.m3u8"},
		{"/live/stream.m3u8?token=x", "/live/stream.m3u8"},
		{"rtsp://example.com/live/cam1", "/live/cam1"},
		{"http://example.com", "/"},
		{"*", "*"},
	}
	for _, tt := range tests {
		rl := RequestLine{Method: "GET", URI: tt.uri, Version: "HTTP/1.1"}
		assert.Equal(t, tt.want, rl.Path(), tt.uri)
	}
}

func TestInjectRequestID(t *testing.T) {
	id := NewRequestID()
	assert.Len(t, id, 64)
	assert.NotEqual(t, id, NewRequestID())

	assert.Equal(t, "/live?FLUREQID="+id, InjectRequestID("/live", id))
	assert.Equal(t, "/live?a=1&FLUREQID="+id, InjectRequestID("/live?a=1", id))
	assert.Equal(t, "*", InjectRequestID("*", id))
}

func TestErrorResponseDialects(t *testing.T) {
	httpResp := errorResponse(DialectHTTP, 404, "Not Found")
	assert.True(t, strings.HasPrefix(httpResp, "HTTP/1.0 404 Not Found\r\n"))
	assert.Contains(t, httpResp, "<html>")

	rtspResp := errorResponse(DialectRTSP, 503, "Service Unavailable")
	assert.Equal(t, "RTSP/1.0 503 Service Unavailable\r\n\r\n", rtspResp)
}

func TestReadFirstLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		leftover string
	}{
		{"crlf", "GET / HTTP/1.1\r\nHost: x\r\n", "GET / HTTP/1.1", "Host: x\r\n"},
		{"bare lf", "GET / HTTP/1.1\nHost: x\n", "GET / HTTP/1.1", "Host: x\n"},
		{"bare cr", "GET / HTTP/1.1\rHost: x", "GET / HTTP/1.1", "Host: x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			line, err := readFirstLine(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, line)

			rest := make([]byte, 64)
			n, _ := r.Read(rest)
			assert.Equal(t, tt.leftover, string(rest[:n]))
		})
	}
}

func TestReadFirstLineTooLong(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(strings.Repeat("a", maxFirstLine+10)))
	_, err := readFirstLine(r)
	assert.ErrorIs(t, err, errLineTooLong)
}

func TestPorterExactBeatsPrefix(t *testing.T) {
	p := New(nil)
	exact := &Avatar{id: "exact"}
	prefix := &Avatar{id: "prefix"}
	p.RegisterPrefix(prefix, "/live")
	p.RegisterPath(exact, "/live/special")

	got, err := p.Lookup("/live/special")
	require.NoError(t, err)
	assert.Same(t, exact, got)

	got, err = p.Lookup("/live/other")
	require.NoError(t, err)
	assert.Same(t, prefix, got)
}

func TestPorterLongestPrefixWins(t *testing.T) {
	p := New(nil)
	short := &Avatar{id: "short"}
	long := &Avatar{id: "long"}
	p.RegisterPrefix(short, "/live")
	p.RegisterPrefix(long, "/live/hd")

	got, err := p.Lookup("/live/hd/stream.m3u8")
	require.NoError(t, err)
	assert.Same(t, long, got)

	got, err = p.Lookup("/live/sd/stream.m3u8")
	require.NoError(t, err)
	assert.Same(t, short, got)
}

func TestPorterPrefixIsPlainStringPrefix(t *testing.T) {
	p := New(nil)
	a := &Avatar{id: "a"}
	p.RegisterPrefix(a, "/live")

	// Prefix matching is on the raw string, not path segments.
	got, err := p.Lookup("/liveness")
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = p.Lookup("/live")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = p.Lookup("/vod/live")
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestPorterNoDestination(t *testing.T) {
	p := New(nil)
	_, err := p.Lookup("/anything")
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestPorterDeregisterOwnership(t *testing.T) {
	p := New(nil)
	owner := &Avatar{id: "owner"}
	thief := &Avatar{id: "thief"}
	p.RegisterPath(owner, "/live")
	p.RegisterPrefix(owner, "/vod")

	assert.ErrorIs(t, p.DeregisterPath(thief, "/live"), ErrNotRegistrant)
	assert.ErrorIs(t, p.DeregisterPrefix(thief, "/vod"), ErrNotRegistrant)
	assert.Equal(t, 2, p.Registrations())

	require.NoError(t, p.DeregisterPath(owner, "/live"))
	require.NoError(t, p.DeregisterPrefix(owner, "/vod"))
	assert.Equal(t, 0, p.Registrations())

	// Deregistering something never registered is a no-op.
	assert.NoError(t, p.DeregisterPath(owner, "/gone"))
}

func TestPorterRemoveAvatar(t *testing.T) {
	p := New(nil)
	a := &Avatar{id: "a"}
	b := &Avatar{id: "b"}
	p.RegisterPath(a, "/a")
	p.RegisterPrefix(a, "/a-prefix")
	p.RegisterPath(b, "/b")

	p.RemoveAvatar(a)
	assert.Equal(t, 1, p.Registrations())
	_, err := p.Lookup("/a")
	assert.ErrorIs(t, err, ErrNoDestination)
	got, err := p.Lookup("/b")
	require.NoError(t, err)
	assert.Same(t, b, got)
}
