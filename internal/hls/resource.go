package hls

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/session"
	"github.com/streamgate/streamgate/internal/version"
)

// pinnedSessionParam lets cookie-less clients (set-top boxes) pin their
// session through the query string instead.
const pinnedSessionParam = "GKID"

// keyResource is the resource name under which encryption keys are
// served; keyParam names the requested key.
const (
	keyResource = "key"
	keyParam    = "key"
)

const keyContentType = "application/octet-stream"

var fragmentContentTypes = map[string]string{
	"webm": "video/webm",
	"ts":   "video/MP2T",
	"mp4":  "video/mp4",
	"m4s":  "video/iso.segment",
}

const errorBodyTemplate = `<html>
<head><title>%d %s</title></head>
<body>
<h2>%d %s</h2>
<p>%s</p>
<hr>
<address>%s</address>
</body>
</html>
`

// ResourceConfig configures the HTTP leaf for one mount point.
type ResourceConfig struct {
	// MountPoint is the URL prefix this resource owns. Normalized to
	// begin and end with "/".
	MountPoint string

	// RedirectOnFull turns the 503 on reaching caps into a 302 to this
	// URL.
	RedirectOnFull string

	// DefaultAuthDuration stamps token expiry when the bouncer grants a
	// keycard without a duration. 0 means authentication never expires.
	DefaultAuthDuration time.Duration

	// RequestTimeout bounds write inactivity per request; a client that
	// stops reading is cut off. 0 disables the deadline.
	RequestTimeout time.Duration
}

// Resource serves one HLS mount: playlists, fragments, and encryption
// keys, gated by cookie sessions and keycard authentication.
type Resource struct {
	cfg        ResourceConfig
	log        *slog.Logger
	met        *metrics.Metrics
	ring       *Ring
	playlister *Playlister
	streamer   *Streamer
	store      *session.Store
	codec      *session.TokenCodec
	authz      *auth.HTTPAuth

	mu       sync.Mutex
	nextID   int64
	bySessID map[string]int64
	byClient map[int64]string
}

// NewResource wires the HLS delivery pipeline behind one mount point.
func NewResource(cfg ResourceConfig, ring *Ring, playlister *Playlister, streamer *Streamer,
	store *session.Store, codec *session.TokenCodec, authz *auth.HTTPAuth,
	log *slog.Logger, met *metrics.Metrics) *Resource {

	cfg.MountPoint = NormalizeMountPoint(cfg.MountPoint)
	if log == nil {
		log = slog.Default()
	}
	r := &Resource{
		cfg:        cfg,
		log:        log.With(slog.String("component", "hls"), slog.String("mount", cfg.MountPoint)),
		met:        met,
		ring:       ring,
		playlister: playlister,
		streamer:   streamer,
		store:      store,
		codec:      codec,
		authz:      authz,
		bySessID:   make(map[string]int64),
		byClient:   make(map[int64]string),
	}
	if authz != nil {
		authz.OnExpire(r.keycardExpired)
	}
	return r
}

// NormalizeMountPoint forces leading and trailing slashes on a mount
// point so request paths split cleanly.
func NormalizeMountPoint(mount string) string {
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	if !strings.HasSuffix(mount, "/") {
		mount += "/"
	}
	return mount
}

// ServeHTTP dispatches a client request to the playlist, key, or
// fragment it names.
func (res *Resource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", version.ServerHeader())

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		res.errorPage(w, r, http.StatusMethodNotAllowed, "Only GET and HEAD are supported.")
		return
	}
	if !res.streamer.Ready() {
		res.errorPage(w, r, http.StatusServiceUnavailable, "The stream is not available yet. Try again shortly.")
		return
	}

	name, ok := res.resourceName(r)
	if !ok {
		res.errorPage(w, r, http.StatusForbidden, "This resource is not served here.")
		return
	}

	sess, done := res.authorize(w, r)
	if done {
		return
	}
	sess.Touch()

	if res.cfg.RequestTimeout > 0 {
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(res.cfg.RequestTimeout)); err != nil {
			res.log.Debug("write deadline unsupported", slog.String("error", err.Error()))
		}
	}

	switch {
	case name == "" || strings.HasSuffix(name, PlaylistExtension):
		if name == "" {
			name = res.playlister.cfg.MainPlaylist
		}
		res.servePlaylist(w, r, name)
	case name == keyResource:
		res.serveKey(w, r)
	default:
		res.serveFragment(w, r, name)
	}

	res.log.Debug("request served",
		slog.String("session_id", sess.ID),
		slog.String("resource", name))
}

// resourceName strips the mount point off the request path. A path
// outside the mount is refused outright.
func (res *Resource) resourceName(r *http.Request) (string, bool) {
	path := r.URL.Path
	if path+"/" == res.cfg.MountPoint {
		return "", true
	}
	if !strings.HasPrefix(path, res.cfg.MountPoint) {
		return "", false
	}
	return strings.TrimPrefix(path, res.cfg.MountPoint), true
}

// authorize resolves the client's session, running the keycard exchange
// when the request carries no valid token. When done is true a response
// has already been written.
func (res *Resource) authorize(w http.ResponseWriter, r *http.Request) (sess *session.Session, done bool) {
	clientIP := requestIP(r)

	// A pinned session id in the query replaces the cookie for clients
	// that cannot hold one.
	pinned := r.URL.Query().Get(pinnedSessionParam)
	if pinned != "" {
		if s, err := res.store.Get(pinned); err == nil && s.ClientIP == clientIP {
			return s, false
		}
	}

	if cookie, err := r.Cookie(session.CookieName); err == nil {
		state, sessionID, _ := res.codec.Verify(cookie.Value, clientIP, pinned)
		switch state {
		case session.TokenValid:
			if s, err := res.store.Get(sessionID); err == nil {
				return s, false
			}
			// A valid token minted by a peer replica, or for a session
			// this process already dropped. The token is proof of
			// admission: materialize the session under its id without
			// another pass through caps or the bouncer.
			return res.materializeSession(sessionID, clientIP), false
		case session.TokenRenewAuth:
			// Authentication lapsed but the session id is genuine: run
			// the exchange again and keep the same session.
			return res.newOrRenewedSession(w, r, clientIP, sessionID)
		}
	}

	return res.newOrRenewedSession(w, r, clientIP, "")
}

// newOrRenewedSession admits a client through caps and authentication,
// creating (or re-binding) its server-side session and setting the
// signed cookie.
func (res *Resource) newOrRenewedSession(w http.ResponseWriter, r *http.Request, clientIP, sessionID string) (*session.Session, bool) {
	renewing := sessionID != ""
	if !renewing && res.streamer.ReachedLimits() {
		if res.cfg.RedirectOnFull != "" {
			http.Redirect(w, r, res.cfg.RedirectOnFull, http.StatusFound)
			return nil, true
		}
		res.errorPage(w, r, http.StatusServiceUnavailable, "The stream is full. Try again later.")
		return nil, true
	}

	clientID := res.allocClientID()
	var keycard *auth.Keycard
	if res.authz != nil {
		var err error
		keycard, err = res.authz.Authenticate(r.Context(), r, clientID, clientIP)
		if errors.Is(err, auth.ErrNotAuthenticated) || errors.Is(err, auth.ErrDuplicateKeycard) {
			res.authz.Challenge(w)
			fmt.Fprintf(w, errorBodyTemplate,
				http.StatusUnauthorized, "Unauthorized",
				http.StatusUnauthorized, "Unauthorized",
				"This stream requires authentication.", version.ServerHeader())
			return nil, true
		}
		if err != nil {
			res.log.Error("authentication error", slog.String("error", err.Error()))
			res.errorPage(w, r, http.StatusInternalServerError, "The authentication backend failed.")
			return nil, true
		}
	}

	if !renewing {
		// A GKID argument pins the new session's id so a follow-up
		// request can land on another replica and continue it.
		sessionID = r.URL.Query().Get(pinnedSessionParam)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
	}
	sess := res.store.New(sessionID, clientIP)
	res.bindSession(sess, clientID)

	authExpiry := int64(0)
	duration := res.cfg.DefaultAuthDuration
	if keycard != nil && keycard.Duration > 0 {
		duration = keycard.Duration
	}
	if duration > 0 {
		authExpiry = time.Now().Add(duration).Unix()
	}

	http.SetCookie(w, &http.Cookie{
		Name:  session.CookieName,
		Value: res.codec.Generate(sessionID, clientIP, authExpiry),
		Path:  res.cfg.MountPoint,
	})

	res.log.Info("session started",
		slog.String("session_id", sessionID),
		slog.String("client_ip", clientIP),
		slog.Bool("renewed", renewing))
	return sess, false
}

// materializeSession recreates a session from a proven token id. The
// client keeps its cookie; no keycard exists locally, so auth-side
// teardown is a no-op for this client id.
func (res *Resource) materializeSession(sessionID, clientIP string) *session.Session {
	sess := res.store.New(sessionID, clientIP)
	res.bindSession(sess, res.allocClientID())
	res.log.Info("session materialized",
		slog.String("session_id", sessionID),
		slog.String("client_ip", clientIP))
	return sess
}

func (res *Resource) allocClientID() int64 {
	res.mu.Lock()
	defer res.mu.Unlock()
	res.nextID++
	return res.nextID
}

// bindSession links a session to its keycard client id so expiry on
// either side tears down the other.
func (res *Resource) bindSession(sess *session.Session, clientID int64) {
	res.mu.Lock()
	if old, ok := res.bySessID[sess.ID]; ok {
		// Renewed authentication: the session changes hands to the new
		// keycard.
		delete(res.byClient, old)
		if res.authz != nil {
			defer res.authz.ClientDone(old)
		}
	} else {
		res.streamer.ClientConnected()
		sess.OnExpire(func() { res.sessionExpired(sess.ID) })
	}
	res.bySessID[sess.ID] = clientID
	res.byClient[clientID] = sess.ID
	res.mu.Unlock()

	res.updateSessionGauge()
}

// sessionExpired runs when a session times out or is revoked.
func (res *Resource) sessionExpired(sessionID string) {
	res.mu.Lock()
	clientID, ok := res.bySessID[sessionID]
	delete(res.bySessID, sessionID)
	delete(res.byClient, clientID)
	res.mu.Unlock()

	if !ok {
		return
	}
	res.streamer.ClientDisconnected()
	if res.authz != nil {
		res.authz.ClientDone(clientID)
	}
	res.updateSessionGauge()
	res.log.Info("session ended", slog.String("session_id", sessionID))
}

// keycardExpired runs when the bouncer revokes a keycard or its
// duration elapses; the session goes with it.
func (res *Resource) keycardExpired(clientID int64) {
	res.mu.Lock()
	sessionID, ok := res.byClient[clientID]
	res.mu.Unlock()
	if !ok {
		return
	}
	if sess, err := res.store.Get(sessionID); err == nil {
		sess.Expire()
	}
}

func (res *Resource) updateSessionGauge() {
	if res.met != nil {
		res.met.SetActiveSessions(res.store.Len())
	}
}

func (res *Resource) servePlaylist(w http.ResponseWriter, r *http.Request, name string) {
	body, err := res.playlister.Render(name, r.URL.Query())
	if err != nil {
		res.errorPage(w, r, http.StatusNotFound, "There is no such playlist.")
		return
	}
	w.Header().Set("Content-Type", M3U8ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodHead {
		return
	}
	n, _ := w.Write([]byte(body))
	res.accountBytes(n)
}

func (res *Resource) serveKey(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get(keyParam)
	key, err := res.ring.GetKey(name)
	if err != nil {
		res.errorPage(w, r, http.StatusNotFound, "There is no such key.")
		return
	}
	w.Header().Set("Content-Type", keyContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(key)))
	if r.Method == http.MethodHead {
		return
	}
	n, _ := w.Write(key)
	res.accountBytes(n)
}

func (res *Resource) serveFragment(w http.ResponseWriter, r *http.Request, name string) {
	body, err := res.ring.Get(name)
	if err != nil {
		// Placeholders and unknown names alike are absent as far as the
		// client is concerned.
		res.errorPage(w, r, http.StatusNotFound, "There is no such fragment.")
		return
	}

	contentType := fragmentContentTypes[res.ring.cfg.FilenameExt]
	if contentType == "" {
		contentType = keyContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Connection", "close")
	if r.Method == http.MethodHead {
		return
	}
	n, _ := w.Write(body)
	res.accountBytes(n)
}

func (res *Resource) accountBytes(n int) {
	res.streamer.AccountBytes(n)
	if res.met != nil {
		res.met.AddBytesSent(n)
	}
}

func (res *Resource) errorPage(w http.ResponseWriter, r *http.Request, code int, detail string) {
	text := http.StatusText(code)
	body := fmt.Sprintf(errorBodyTemplate, code, text, code, text, detail, version.ServerHeader())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		w.Write([]byte(body))
	}
}

// requestIP extracts the client address without the port.
func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
