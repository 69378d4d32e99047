package auth

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// HTTPAuthConfig configures the per-streamer auth front end.
type HTTPAuthConfig struct {
	// RequesterID identifies this streamer on issued keycards. It doubles
	// as the issuer name keycards are grouped under for keep-alive.
	RequesterID string

	// Domain is the auth realm; empty disables the WWW-Authenticate
	// challenge header.
	Domain string

	// DefaultDuration bounds granted sessions when the bouncer does not
	// set its own duration. 0 means unlimited.
	DefaultDuration time.Duration

	// KeepaliveInterval is how often tracked keycard TTLs are refreshed;
	// KeepaliveRetry is the cadence after a refresh failure.
	KeepaliveInterval time.Duration
	KeepaliveRetry    time.Duration
}

// HTTPAuth runs request authentication for one streamer: it issues
// keycards, consults the bouncer, tracks granted keycards per client,
// enforces duration limits, and keeps keycard TTLs refreshed.
type HTTPAuth struct {
	cfg     HTTPAuthConfig
	issuer  Issuer
	bouncer Authenticator
	log     *slog.Logger

	cron *cron.Cron

	mu       sync.Mutex
	byClient map[int64]*Keycard
	byID     map[string]int64
	timers   map[int64]*time.Timer

	// pendingRemovals holds keycard ids whose removal failed; they are
	// retried before the next removal.
	pendingRemovals []string

	retryTimer *time.Timer
	onExpire   func(clientID int64)
	closed     bool
}

// NewHTTPAuth wires an issuer and an optional bouncer. A nil bouncer
// grants every request.
func NewHTTPAuth(cfg HTTPAuthConfig, issuer Issuer, bouncer Authenticator, log *slog.Logger) *HTTPAuth {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 20 * time.Minute
	}
	if cfg.KeepaliveRetry <= 0 {
		cfg.KeepaliveRetry = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPAuth{
		cfg:      cfg,
		issuer:   issuer,
		bouncer:  bouncer,
		log:      log.With(slog.String("component", "httpauth")),
		byClient: make(map[int64]*Keycard),
		byID:     make(map[string]int64),
		timers:   make(map[int64]*time.Timer),
	}
}

// OnExpire registers the callback invoked when a client's keycard
// duration elapses or the bouncer revokes it.
func (h *HTTPAuth) OnExpire(fn func(clientID int64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExpire = fn
}

// Start begins the periodic keep-alive refresh. No-op without a bouncer.
func (h *HTTPAuth) Start() {
	if h.bouncer == nil {
		return
	}
	h.cron = cron.New()
	h.cron.Schedule(cron.Every(h.cfg.KeepaliveInterval), cron.FuncJob(h.keepAlive))
	h.cron.Start()
}

// Stop halts keep-alive and duration timers. Tracked keycards are left
// for the bouncer's own TTL expiry.
func (h *HTTPAuth) Stop() {
	if h.cron != nil {
		h.cron.Stop()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
}

// Authenticate runs the full exchange for one client request. On grant
// the keycard is tracked under clientID until ClientDone or expiry.
//
// ErrNotAuthenticated means the client must be challenged or refused;
// other errors are setup failures the caller maps to a 500.
func (h *HTTPAuth) Authenticate(ctx context.Context, r *http.Request, clientID int64, clientIP string) (*Keycard, error) {
	if h.bouncer == nil {
		return &Keycard{State: Authenticated, Address: clientIP}, nil
	}

	keycard, err := h.issuer.Issue(r, clientIP)
	if err != nil {
		return nil, err
	}
	if keycard == nil {
		return nil, ErrNotAuthenticated
	}
	keycard.Domain = h.cfg.Domain
	keycard.RequesterID = h.cfg.RequesterID
	keycard.IssuerName = h.cfg.RequesterID
	password := keycard.Password

	result, err := h.bouncer.Authenticate(ctx, keycard)
	if err != nil {
		return nil, err
	}

	// One challenge round: prove the password against the announced
	// challenge and salt, keeping the same keycard id so the bouncer can
	// detect a swapped challenge.
	if result != nil && result.State == Requesting && result.Challenge != "" {
		if password == "" {
			return nil, ErrNotAuthenticated
		}
		result.Response = ChallengeResponse(result.Challenge, result.Salt, password)
		result, err = h.bouncer.Authenticate(ctx, result)
		if err != nil {
			return nil, err
		}
	}

	if result == nil || result.State != Authenticated {
		return nil, ErrNotAuthenticated
	}
	if err := h.track(clientID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ClientDone releases the keycard tracked for clientID, notifying the
// bouncer.
func (h *HTTPAuth) ClientDone(clientID int64) {
	h.mu.Lock()
	keycard, ok := h.byClient[clientID]
	if ok {
		delete(h.byClient, clientID)
		delete(h.byID, keycard.ID)
	}
	if t, tok := h.timers[clientID]; tok {
		t.Stop()
		delete(h.timers, clientID)
	}
	h.mu.Unlock()

	if ok {
		h.removeKeycard(keycard.ID)
	}
}

// ExpireKeycardID handles a bouncer-initiated revocation: the client is
// expired without a removal round trip.
func (h *HTTPAuth) ExpireKeycardID(id string) {
	h.mu.Lock()
	clientID, ok := h.byID[id]
	if ok {
		delete(h.byID, id)
		delete(h.byClient, clientID)
		if t, tok := h.timers[clientID]; tok {
			t.Stop()
			delete(h.timers, clientID)
		}
	}
	fn := h.onExpire
	h.mu.Unlock()

	if ok && fn != nil {
		fn(clientID)
	}
}

// Tracked returns the number of clients holding a granted keycard.
func (h *HTTPAuth) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byClient)
}

// track records a granted keycard and arms its duration timer. A
// keycard id already tracked for another client is a replayed grant and
// is refused.
func (h *HTTPAuth) track(clientID int64, keycard *Keycard) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.byID[keycard.ID]; dup {
		h.log.Warn("duplicate keycard id, refusing",
			slog.String("keycard_id", keycard.ID))
		return ErrDuplicateKeycard
	}

	if old, ok := h.byClient[clientID]; ok {
		delete(h.byID, old.ID)
	}
	h.byClient[clientID] = keycard
	h.byID[keycard.ID] = clientID

	duration := keycard.Duration
	if duration == 0 {
		duration = h.cfg.DefaultDuration
	}
	if t, ok := h.timers[clientID]; ok {
		t.Stop()
		delete(h.timers, clientID)
	}
	if duration > 0 {
		h.timers[clientID] = time.AfterFunc(duration, func() {
			h.durationElapsed(clientID)
		})
	}
	return nil
}

func (h *HTTPAuth) durationElapsed(clientID int64) {
	h.mu.Lock()
	keycard, ok := h.byClient[clientID]
	if ok {
		delete(h.byClient, clientID)
		delete(h.byID, keycard.ID)
	}
	delete(h.timers, clientID)
	fn := h.onExpire
	h.mu.Unlock()

	if !ok {
		return
	}
	h.log.Info("keycard duration elapsed",
		slog.Int64("client_id", clientID),
		slog.String("keycard_id", keycard.ID))
	if fn != nil {
		fn(clientID)
	}
	h.removeKeycard(keycard.ID)
}

// removeKeycard notifies the bouncer, queueing the id for a later retry
// when the bouncer is unreachable. Queued ids are flushed first so a
// transient outage does not leak keycards.
func (h *HTTPAuth) removeKeycard(id string) {
	h.mu.Lock()
	pending := h.pendingRemovals
	h.pendingRemovals = nil
	h.mu.Unlock()

	pending = append(pending, id)
	var failed []string
	for _, rid := range pending {
		if err := h.bouncer.RemoveKeycardID(rid); err != nil {
			h.log.Warn("keycard removal failed, queueing",
				slog.String("keycard_id", rid),
				slog.String("error", err.Error()))
			failed = append(failed, rid)
		}
	}
	if len(failed) > 0 {
		h.mu.Lock()
		h.pendingRemovals = append(h.pendingRemovals, failed...)
		h.mu.Unlock()
	}
}

// keepAlive refreshes tracked keycard TTLs; failures reschedule at the
// retry cadence until a refresh succeeds.
func (h *HTTPAuth) keepAlive() {
	ttl := 2 * h.cfg.KeepaliveInterval
	if err := h.bouncer.KeepAlive(h.cfg.RequesterID, ttl); err != nil {
		h.log.Warn("keep-alive failed, scheduling retry",
			slog.Duration("retry", h.cfg.KeepaliveRetry),
			slog.String("error", err.Error()))
		h.mu.Lock()
		if !h.closed {
			if h.retryTimer != nil {
				h.retryTimer.Stop()
			}
			h.retryTimer = time.AfterFunc(h.cfg.KeepaliveRetry, h.keepAlive)
		}
		h.mu.Unlock()
		return
	}
	h.log.Debug("keep-alive refreshed", slog.Duration("ttl", ttl))
}

// Challenge writes the 401 response asking for Basic credentials.
func (h *HTTPAuth) Challenge(w http.ResponseWriter) {
	if h.cfg.Domain != "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+h.cfg.Domain+`"`)
	}
	w.WriteHeader(http.StatusUnauthorized)
}
