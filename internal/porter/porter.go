package porter

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/streamgate/streamgate/internal/fdpass"
)

// Routing errors.
var (
	ErrNoDestination = errors.New("no destination for path")
	ErrNotRegistrant = errors.New("registration owned by another avatar")
)

// Avatar is one logged-in backend on the control socket, identified by
// its connection. Its registrations die with it.
type Avatar struct {
	id   string
	conn *net.UnixConn

	// wmu serializes frame writes: control replies and connection
	// handoffs reach the same socket from different goroutines, and a
	// short write must not let two frames interleave.
	wmu sync.Mutex
}

// ID returns the avatar's login identity.
func (a *Avatar) ID() string { return a.id }

// send writes one frame to the backend, with at most one writer on the
// socket at a time.
func (a *Avatar) send(payload []byte, fd int) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	return fdpass.SendMessage(a.conn, payload, fd)
}

// Porter is the routing table mapping request paths to backend avatars.
// Exact paths win over prefixes; among prefixes the longest match wins.
type Porter struct {
	log *slog.Logger

	mu       sync.RWMutex
	paths    map[string]*Avatar
	prefixes map[string]*Avatar
}

// New creates an empty routing table.
func New(log *slog.Logger) *Porter {
	if log == nil {
		log = slog.Default()
	}
	return &Porter{
		log:      log.With(slog.String("component", "porter")),
		paths:    make(map[string]*Avatar),
		prefixes: make(map[string]*Avatar),
	}
}

// RegisterPath routes an exact path to the avatar. Re-registering a
// path steals it from the previous owner, with a warning.
func (p *Porter) RegisterPath(a *Avatar, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.paths[path]; ok && prev != a {
		p.log.Warn("path re-registered by another avatar",
			slog.String("path", path),
			slog.String("previous", prev.id),
			slog.String("avatar", a.id))
	}
	p.paths[path] = a
}

// DeregisterPath removes an exact path registration. Only the owning
// avatar may remove it.
func (p *Porter) DeregisterPath(a *Avatar, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	owner, ok := p.paths[path]
	if !ok {
		return nil
	}
	if owner != a {
		return ErrNotRegistrant
	}
	delete(p.paths, path)
	return nil
}

// RegisterPrefix routes every path beginning with prefix to the avatar.
func (p *Porter) RegisterPrefix(a *Avatar, prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.prefixes[prefix]; ok && prev != a {
		p.log.Warn("prefix re-registered by another avatar",
			slog.String("prefix", prefix),
			slog.String("previous", prev.id),
			slog.String("avatar", a.id))
	}
	p.prefixes[prefix] = a
}

// DeregisterPrefix removes a prefix registration. Only the owning
// avatar may remove it.
func (p *Porter) DeregisterPrefix(a *Avatar, prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	owner, ok := p.prefixes[prefix]
	if !ok {
		return nil
	}
	if owner != a {
		return ErrNotRegistrant
	}
	delete(p.prefixes, prefix)
	return nil
}

// Lookup resolves the destination avatar for a request path.
func (p *Porter) Lookup(path string) (*Avatar, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if a, ok := p.paths[path]; ok {
		return a, nil
	}

	var best *Avatar
	bestLen := -1
	for prefix, a := range p.prefixes {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best = a
			bestLen = len(prefix)
		}
	}
	if best == nil {
		return nil, ErrNoDestination
	}
	return best, nil
}

// RemoveAvatar drops every registration owned by the avatar.
func (p *Porter) RemoveAvatar(a *Avatar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, owner := range p.paths {
		if owner == a {
			delete(p.paths, path)
		}
	}
	for prefix, owner := range p.prefixes {
		if owner == a {
			delete(p.prefixes, prefix)
		}
	}
}

// Registrations returns the number of routed paths and prefixes.
func (p *Porter) Registrations() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.paths) + len(p.prefixes)
}

