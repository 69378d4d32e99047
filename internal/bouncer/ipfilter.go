package bouncer

import (
	"fmt"
	"net/netip"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
)

// ipFilterLogic decides on the client address alone, from two routing
// tables. With deny_default an address is accepted iff an allow network
// matches and no deny network does; without it, iff an allow network
// matches or no deny network does.
type ipFilterLogic struct {
	allow       []netip.Prefix
	deny        []netip.Prefix
	denyDefault bool
}

func newIPFilter(cfg config.BouncerConfig) (*ipFilterLogic, error) {
	if len(cfg.Allow) == 0 && len(cfg.Deny) == 0 {
		return nil, fmt.Errorf("ip bouncer requires allow or deny networks")
	}
	l := &ipFilterLogic{denyDefault: cfg.DenyDefault}
	for _, s := range cfg.Allow {
		p, err := parsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("allow network %q: %w", s, err)
		}
		l.allow = append(l.allow, p)
	}
	for _, s := range cfg.Deny {
		p, err := parsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("deny network %q: %w", s, err)
		}
		l.deny = append(l.deny, p)
	}
	return l, nil
}

// parsePrefix requires CIDR notation; a bare address is a configuration
// error.
func parsePrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return p.Masked(), nil
}

func (l *ipFilterLogic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	addr, err := netip.ParseAddr(keycard.Address)
	if err != nil {
		keycard.State = auth.Refused
		return keycard, nil
	}
	addr = addr.Unmap()

	if l.allowed(addr) {
		keycard.State = auth.Authenticated
	} else {
		keycard.State = auth.Refused
	}
	return keycard, nil
}

func (l *ipFilterLogic) allowed(addr netip.Addr) bool {
	allowed := routes(l.allow, addr)
	denied := routes(l.deny, addr)
	if l.denyDefault {
		return allowed && !denied
	}
	return allowed || !denied
}

func routes(table []netip.Prefix, addr netip.Addr) bool {
	for _, p := range table {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
