package porter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/fdpass"
)

// ErrClientClosed is returned by Accept and requests after Close.
var ErrClientClosed = errors.New("porter client closed")

// Client is the backend side of the control socket: it logs in,
// registers the paths this streamer serves, and accepts the client
// sockets the porter hands over.
type Client struct {
	log  *slog.Logger
	conn *net.UnixConn

	// reqMu serializes request/reply exchanges; replies are routed back
	// through pending by the read loop.
	reqMu   sync.Mutex
	pending chan controlMessage

	incoming chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the porter's control socket and logs in.
func Dial(cfg config.PorterClientConfig, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	addr := &net.UnixAddr{Name: cfg.SocketPath, Net: "unix"}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing porter control socket: %w", err)
	}

	c := &Client{
		log:      log.With(slog.String("component", "porter-client")),
		conn:     conn,
		pending:  make(chan controlMessage, 1),
		incoming: make(chan net.Conn, 16),
		closed:   make(chan struct{}),
	}

	// Login is exchanged before the read loop starts so no takeConnection
	// can interleave.
	payload, err := encodeMessage(controlMessage{
		Verb:     verbLogin,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := fdpass.SendMessage(conn, payload, fdpass.NoFD); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending login: %w", err)
	}
	reply, fd, err := fdpass.ReceiveMessage(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading login reply: %w", err)
	}
	fdpass.Close(fd)
	msg, err := decodeMessage(reply)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !msg.OK {
		conn.Close()
		return nil, fmt.Errorf("porter login refused: %s", msg.Error)
	}

	go c.readLoop()
	return c, nil
}

// RegisterPath routes an exact path to this backend.
func (c *Client) RegisterPath(path string) error {
	return c.roundTrip(controlMessage{Verb: verbRegisterPath, Path: path})
}

// DeregisterPath removes an exact path registration.
func (c *Client) DeregisterPath(path string) error {
	return c.roundTrip(controlMessage{Verb: verbDeregisterPath, Path: path})
}

// RegisterPrefix routes every path under prefix to this backend.
func (c *Client) RegisterPrefix(prefix string) error {
	return c.roundTrip(controlMessage{Verb: verbRegisterPrefix, Path: prefix})
}

// DeregisterPrefix removes a prefix registration.
func (c *Client) DeregisterPrefix(prefix string) error {
	return c.roundTrip(controlMessage{Verb: verbDeregisterPrefix, Path: prefix})
}

// Port asks which public port the porter serves.
func (c *Client) Port() (int, error) {
	reply, err := c.call(controlMessage{Verb: verbGetPort})
	if err != nil {
		return 0, err
	}
	return reply.Port, nil
}

// Close drops the control connection. Conns already accepted stay open.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

// Listener adapts handed-off connections to net.Listener so a standard
// HTTP server can serve them.
func (c *Client) Listener() net.Listener {
	return &handoffListener{client: c}
}

func (c *Client) roundTrip(msg controlMessage) error {
	reply, err := c.call(msg)
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("porter refused %s: %s", msg.Verb, reply.Error)
	}
	return nil
}

func (c *Client) call(msg controlMessage) (controlMessage, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	payload, err := encodeMessage(msg)
	if err != nil {
		return controlMessage{}, err
	}
	if err := fdpass.SendMessage(c.conn, payload, fdpass.NoFD); err != nil {
		return controlMessage{}, fmt.Errorf("sending %s: %w", msg.Verb, err)
	}
	select {
	case reply := <-c.pending:
		return reply, nil
	case <-c.closed:
		return controlMessage{}, ErrClientClosed
	}
}

// readLoop routes incoming frames: replies to the pending request,
// takeConnection frames to the accept queue.
func (c *Client) readLoop() {
	defer c.Close()
	for {
		payload, fd, err := fdpass.ReceiveMessage(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warn("control connection lost", slog.String("error", err.Error()))
			}
			return
		}
		msg, err := decodeMessage(payload)
		if err != nil {
			fdpass.Close(fd)
			c.log.Warn("undecodable porter message", slog.String("error", err.Error()))
			return
		}

		switch msg.Verb {
		case verbTakeConnection:
			c.takeConnection(msg, fd)
		case verbReply:
			fdpass.Close(fd)
			select {
			case c.pending <- msg:
			case <-c.closed:
				return
			}
		default:
			fdpass.Close(fd)
			c.log.Warn("unexpected porter verb", slog.String("verb", msg.Verb))
		}
	}
}

// takeConnection re-materializes the handed-off socket, with the bytes
// the porter consumed replayed ahead of the live stream.
func (c *Client) takeConnection(msg controlMessage, fd int) {
	if fd == fdpass.NoFD {
		c.log.Warn("takeConnection without descriptor")
		return
	}
	file := os.NewFile(uintptr(fd), "porter-client-conn")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		c.log.Warn("rebuilding handed-off connection", slog.String("error", err.Error()))
		return
	}

	replay := append([]byte(msg.RequestLine), '\r', '\n')
	replay = append(replay, msg.Buffered...)

	select {
	case c.incoming <- newReplayConn(conn, replay):
	case <-c.closed:
		conn.Close()
	}
}

// replayConn serves buffered bytes before reading from the socket.
type replayConn struct {
	net.Conn
	reader io.Reader
}

func newReplayConn(conn net.Conn, replay []byte) *replayConn {
	return &replayConn{
		Conn:   conn,
		reader: io.MultiReader(newByteReader(replay), conn),
	}
}

func (rc *replayConn) Read(p []byte) (int, error) {
	return rc.reader.Read(p)
}

// byteReader is a minimal reader over a byte slice that frees the slice
// when drained.
type byteReader struct {
	buf []byte
}

func newByteReader(buf []byte) *byteReader { return &byteReader{buf: buf} }

func (b *byteReader) Read(p []byte) (int, error) {
	if len(b.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// handoffListener exposes handed-off sockets as a net.Listener.
type handoffListener struct {
	client *Client
}

func (hl *handoffListener) Accept() (net.Conn, error) {
	select {
	case conn := <-hl.client.incoming:
		return conn, nil
	case <-hl.client.closed:
		return nil, ErrClientClosed
	}
}

func (hl *handoffListener) Close() error { return hl.client.Close() }

func (hl *handoffListener) Addr() net.Addr {
	return hl.client.conn.LocalAddr()
}
