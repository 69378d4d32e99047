package porter

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/fdpass"
)

// ControlServer owns the Unix control socket backends log into. Each
// accepted connection becomes an avatar once its login checks out; its
// registrations are torn down when the connection drops.
type ControlServer struct {
	cfg    config.PorterConfig
	porter *Porter
	log    *slog.Logger

	listener *net.UnixListener
}

// NewControlServer prepares the control socket server. Credentials and
// socket path must already be resolved in the config.
func NewControlServer(cfg config.PorterConfig, porter *Porter, log *slog.Logger) *ControlServer {
	if log == nil {
		log = slog.Default()
	}
	return &ControlServer{
		cfg:    cfg,
		porter: porter,
		log:    log.With(slog.String("component", "porter-control")),
	}
}

// Listen binds the control socket, replacing a stale one from a
// previous run.
func (s *ControlServer) Listen() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale control socket: %w", err)
	}
	addr := &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, os.FileMode(s.cfg.SocketMode)); err != nil {
		listener.Close()
		return fmt.Errorf("setting control socket mode: %w", err)
	}
	s.listener = listener
	s.log.Info("control socket listening", slog.String("path", s.cfg.SocketPath))
	return nil
}

// Serve accepts backend connections until the context is cancelled.
func (s *ControlServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}
		go s.handle(conn)
	}
}

// Close releases the control socket.
func (s *ControlServer) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.cfg.SocketPath)
	return err
}

// handle runs one backend connection: login first, then registration
// requests until it disconnects.
func (s *ControlServer) handle(conn *net.UnixConn) {
	defer conn.Close()

	avatar, err := s.login(conn)
	if err != nil {
		s.log.Warn("control login failed", slog.String("error", err.Error()))
		return
	}
	defer s.porter.RemoveAvatar(avatar)

	log := s.log.With(slog.String("avatar", avatar.id))
	log.Info("backend logged in")

	for {
		payload, fd, err := fdpass.ReceiveMessage(conn)
		if err != nil {
			log.Info("backend disconnected", slog.String("reason", err.Error()))
			return
		}
		if fd != fdpass.NoFD {
			// Backends never send descriptors.
			fdpass.Close(fd)
		}
		msg, err := decodeMessage(payload)
		if err != nil {
			log.Warn("dropping undecodable control message", slog.String("error", err.Error()))
			return
		}
		if err := s.dispatch(avatar, msg); err != nil {
			log.Warn("control request failed",
				slog.String("verb", msg.Verb),
				slog.String("error", err.Error()))
			return
		}
	}
}

// login reads and checks the mandatory first message.
func (s *ControlServer) login(conn *net.UnixConn) (*Avatar, error) {
	payload, fd, err := fdpass.ReceiveMessage(conn)
	if err != nil {
		return nil, err
	}
	if fd != fdpass.NoFD {
		fdpass.Close(fd)
	}
	msg, err := decodeMessage(payload)
	if err != nil {
		return nil, err
	}
	if msg.Verb != verbLogin {
		s.reply(conn, controlMessage{Verb: verbReply, Error: "login required"})
		return nil, fmt.Errorf("first message was %q, not login", msg.Verb)
	}
	if !s.credentialsOK(msg.Username, msg.Password) {
		s.reply(conn, controlMessage{Verb: verbReply, Error: "bad credentials"})
		return nil, fmt.Errorf("bad credentials for %q", msg.Username)
	}
	if err := s.reply(conn, controlMessage{Verb: verbReply, OK: true}); err != nil {
		return nil, err
	}
	return &Avatar{id: msg.Username + "/" + uuid.NewString(), conn: conn}, nil
}

func (s *ControlServer) credentialsOK(username, password string) bool {
	if !s.cfg.RequirePassword {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
	return userOK && passOK
}

func (s *ControlServer) dispatch(avatar *Avatar, msg controlMessage) error {
	reply := controlMessage{Verb: verbReply, OK: true}
	switch msg.Verb {
	case verbRegisterPath:
		s.porter.RegisterPath(avatar, msg.Path)
	case verbDeregisterPath:
		if err := s.porter.DeregisterPath(avatar, msg.Path); err != nil {
			reply = controlMessage{Verb: verbReply, Error: err.Error()}
		}
	case verbRegisterPrefix:
		s.porter.RegisterPrefix(avatar, msg.Path)
	case verbDeregisterPrefix:
		if err := s.porter.DeregisterPrefix(avatar, msg.Path); err != nil {
			reply = controlMessage{Verb: verbReply, Error: err.Error()}
		}
	case verbGetPort:
		reply.Port = s.cfg.Port
	default:
		reply = controlMessage{Verb: verbReply, Error: fmt.Sprintf("unknown verb %q", msg.Verb)}
	}
	payload, err := encodeMessage(reply)
	if err != nil {
		return err
	}
	return avatar.send(payload, fdpass.NoFD)
}

// reply writes directly during login, before an avatar exists; handoffs
// cannot race it because the porter has no registration yet.
func (s *ControlServer) reply(conn *net.UnixConn, msg controlMessage) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return fdpass.SendMessage(conn, payload, fdpass.NoFD)
}
