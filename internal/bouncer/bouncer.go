// Package bouncer implements the authentication deciders behind the
// keycard exchange: credential files, address filters, calendar windows,
// shared tokens, and boolean combinations of those.
package bouncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/metrics"
)

// expireInterval is the cadence of the keycard TTL sweep.
const expireInterval = 2 * time.Minute

// logic is one authentication decision strategy. It sets the keycard
// state and may return a Requesting keycard with challenge fields to ask
// for another round. It never tracks keycards; the Bouncer wrapper does.
type logic interface {
	authenticate(keycard *auth.Keycard) (*auth.Keycard, error)
}

// Bouncer wraps a decision strategy with keycard tracking, TTL expiry,
// and keep-alive handling. It implements auth.Authenticator.
type Bouncer struct {
	name  string
	logic logic
	log   *slog.Logger
	met   *metrics.Metrics

	cron *cron.Cron

	mu        sync.Mutex
	keycards  map[string]*auth.Keycard
	deadlines map[string]time.Time
	onExpire  func(ids []string)
	enabled   bool
}

// New builds the configured bouncer kind. Kind "none" returns nil,
// meaning no authentication at all.
func New(cfg config.BouncerConfig, log *slog.Logger, met *metrics.Metrics) (*Bouncer, error) {
	if cfg.Kind == "" || cfg.Kind == "none" {
		return nil, nil
	}
	lg, err := newLogic(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bouncer{
		name:      cfg.Kind,
		logic:     lg,
		log:       log.With(slog.String("component", "bouncer"), slog.String("kind", cfg.Kind)),
		met:       met,
		keycards:  make(map[string]*auth.Keycard),
		deadlines: make(map[string]time.Time),
		enabled:   true,
	}, nil
}

func newLogic(cfg config.BouncerConfig) (logic, error) {
	switch cfg.Kind {
	case "htpasswd":
		return newHtpasswd(cfg)
	case "saltsha256":
		return newSaltSha256(cfg)
	case "ip":
		return newIPFilter(cfg)
	case "ical":
		return newICal(cfg)
	case "token":
		return newTokenTest(cfg)
	case "multi":
		return newMulti(cfg)
	}
	return nil, fmt.Errorf("unknown bouncer kind %q", cfg.Kind)
}

// OnExpire registers the callback receiving ids of keycards whose TTL
// ran out.
func (b *Bouncer) OnExpire(fn func(ids []string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExpire = fn
}

// Start begins the periodic TTL sweep.
func (b *Bouncer) Start() {
	b.cron = cron.New()
	b.cron.Schedule(cron.Every(expireInterval), cron.FuncJob(b.sweep))
	b.cron.Start()
}

// Stop halts the TTL sweep. Tracked keycards stay until removed.
func (b *Bouncer) Stop() {
	if b.cron != nil {
		b.cron.Stop()
	}
}

// SetEnabled toggles the bouncer. Disabling expires every tracked
// keycard; while disabled every authentication is refused.
func (b *Bouncer) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	var ids []string
	if !enabled {
		for id := range b.keycards {
			ids = append(ids, id)
			delete(b.keycards, id)
			delete(b.deadlines, id)
		}
	}
	fn := b.onExpire
	b.mu.Unlock()

	if len(ids) > 0 && fn != nil {
		fn(ids)
	}
}

// Authenticate runs the decision strategy and tracks granted keycards.
func (b *Bouncer) Authenticate(ctx context.Context, keycard *auth.Keycard) (*auth.Keycard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		b.decision("refused")
		keycard.State = auth.Refused
		return keycard, nil
	}

	result, err := b.logic.authenticate(keycard)
	if err != nil {
		b.decision("error")
		return nil, err
	}
	if result == nil {
		b.decision("refused")
		keycard.State = auth.Refused
		return keycard, nil
	}

	switch result.State {
	case auth.Authenticated:
		if !b.track(result) {
			// A keycard id can only be granted once; a second grant
			// under the same id is a replay.
			b.decision("refused")
			result.State = auth.Refused
			return result, nil
		}
		b.decision("authenticated")
	case auth.Requesting:
		b.decision("challenge")
	default:
		b.decision("refused")
	}
	return result, nil
}

// KeepAlive resets the TTL of every keycard issued under issuerName.
func (b *Bouncer) KeepAlive(issuerName string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(ttl)
	n := 0
	for id, kc := range b.keycards {
		if kc.IssuerName != issuerName {
			continue
		}
		kc.TTL = ttl
		b.deadlines[id] = deadline
		n++
	}
	b.log.Debug("keep-alive", slog.String("issuer", issuerName), slog.Int("keycards", n))
	return nil
}

// RemoveKeycardID drops a tracked keycard. Unknown ids are ignored.
func (b *Bouncer) RemoveKeycardID(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keycards, id)
	delete(b.deadlines, id)
	return nil
}

// Tracked returns the number of granted keycards currently held.
func (b *Bouncer) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keycards)
}

func (b *Bouncer) track(keycard *auth.Keycard) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.keycards[keycard.ID]; dup {
		return false
	}
	b.keycards[keycard.ID] = keycard
	if keycard.TTL > 0 {
		b.deadlines[keycard.ID] = time.Now().Add(keycard.TTL)
	}
	return true
}

// sweep expires keycards whose deadline passed and notifies the
// expiry callback.
func (b *Bouncer) sweep() {
	now := time.Now()

	b.mu.Lock()
	var expired []string
	for id, deadline := range b.deadlines {
		if deadline.Before(now) {
			expired = append(expired, id)
			delete(b.keycards, id)
			delete(b.deadlines, id)
		}
	}
	fn := b.onExpire
	b.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	b.log.Info("expiring keycards", slog.Int("count", len(expired)))
	if fn != nil {
		fn(expired)
	}
}

func (b *Bouncer) decision(outcome string) {
	if b.met != nil {
		b.met.IncBouncerDecision(outcome)
	}
}
