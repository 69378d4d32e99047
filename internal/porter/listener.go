package porter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/streamgate/streamgate/internal/metrics"
)

const (
	// maxFirstLine caps how many bytes a client may send before
	// terminating its first request line.
	maxFirstLine = 4096

	// firstLineTimeout is how long a client gets to produce the first
	// line before the connection is dropped.
	firstLineTimeout = 30 * time.Second
)

var errLineTooLong = errors.New("first request line too long")

// Listener accepts public client connections, reads the first request
// line, and hands each socket to the backend registered for its path.
type Listener struct {
	addr    string
	dialect Dialect
	porter  *Porter
	log     *slog.Logger
	met     *metrics.Metrics

	ln net.Listener
}

// NewListener prepares the public listener in front of the routing
// table.
func NewListener(addr string, dialect Dialect, porter *Porter, log *slog.Logger, met *metrics.Metrics) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		addr:    addr,
		dialect: dialect,
		porter:  porter,
		log:     log.With(slog.String("component", "porter-listener")),
		met:     met,
	}
}

// Listen binds the public address.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("binding public listener: %w", err)
	}
	l.ln = ln
	l.log.Info("public listener up",
		slog.String("addr", ln.Addr().String()),
		slog.String("dialect", string(l.dialect)))
	return nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts clients until the context is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting client: %w", err)
		}
		go l.handleConn(conn)
	}
}

// Close releases the public listener.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// handleConn reads and routes one client connection. On success the
// socket now belongs to the backend and only the porter's references
// are closed; on failure a terminal response is written here.
func (l *Listener) handleConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(firstLineTimeout))

	reader := bufio.NewReaderSize(conn, maxFirstLine)
	line, err := readFirstLine(reader)
	if err != nil {
		l.reject(conn, http.StatusNotFound, "Not Found", err.Error())
		return
	}

	request, err := ParseRequestLine(line, l.dialect)
	if err != nil {
		l.reject(conn, http.StatusNotFound, "Not Found", err.Error())
		return
	}

	avatar, err := l.porter.Lookup(request.Path())
	if err != nil {
		l.reject(conn, http.StatusNotFound, "Not Found",
			fmt.Sprintf("no destination for %s", request.Path()))
		return
	}

	requestID := NewRequestID()
	request.URI = InjectRequestID(request.URI, requestID)

	// Everything consumed past the first line is replayed to the backend
	// alongside the rewritten line.
	buffered := make([]byte, reader.Buffered())
	if _, err := reader.Read(buffered); err != nil && len(buffered) > 0 {
		l.reject(conn, http.StatusServiceUnavailable, "Service Unavailable", err.Error())
		return
	}

	if err := l.handoff(conn, avatar, request, buffered); err != nil {
		l.log.Warn("handoff failed",
			slog.String("path", request.Path()),
			slog.String("avatar", avatar.id),
			slog.String("error", err.Error()))
		l.reject(conn, http.StatusServiceUnavailable, "Service Unavailable", err.Error())
		return
	}

	if l.met != nil {
		l.met.IncPorterHandoffs()
	}
	l.log.Debug("connection handed off",
		slog.String("path", request.Path()),
		slog.String("avatar", avatar.id),
		slog.String("request_id", requestID))

	// The backend holds its own descriptor now; closing ours must not
	// shut the socket down.
	conn.Close()
}

// handoff duplicates the client descriptor and ships it with the
// replayed bytes to the avatar's control connection.
func (l *Listener) handoff(conn net.Conn, avatar *Avatar, request RequestLine, buffered []byte) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("cannot extract descriptor from %T", conn)
	}
	file, err := tcp.File()
	if err != nil {
		return fmt.Errorf("duplicating client descriptor: %w", err)
	}
	defer file.Close()

	payload, err := encodeMessage(controlMessage{
		Verb:        verbTakeConnection,
		RequestLine: request.String(),
		Buffered:    buffered,
	})
	if err != nil {
		return err
	}
	return avatar.send(payload, int(file.Fd()))
}

// reject writes a terminal dialect response and closes the client.
func (l *Listener) reject(conn net.Conn, code int, text, reason string) {
	if l.met != nil {
		l.met.IncPorterRejects()
	}
	l.log.Debug("rejecting client",
		slog.Int("code", code),
		slog.String("reason", reason))
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.Write([]byte(errorResponse(l.dialect, code, text)))
	conn.Close()
}

// readFirstLine consumes bytes up to the first CR, LF, or CRLF. A bare
// CR followed by more data still terminates the line; the follow-up
// byte stays buffered for the backend.
func readFirstLine(r *bufio.Reader) (string, error) {
	line := make([]byte, 0, 128)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch b {
		case '\n':
			return string(line), nil
		case '\r':
			if next, err := r.Peek(1); err == nil && next[0] == '\n' {
				r.ReadByte()
			}
			return string(line), nil
		}
		line = append(line, b)
		if len(line) > maxFirstLine {
			return "", errLineTooLong
		}
	}
}
