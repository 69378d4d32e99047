// Package session provides cookie-bound client sessions and the signed
// tokens that bind them to a client IP and mount point.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenState is the outcome of verifying a token.
type TokenState int

const (
	// TokenNotValid means the token is malformed, forged, or bound to a
	// different client or session.
	TokenNotValid TokenState = iota

	// TokenValid means the signature checks out and authentication has
	// not expired.
	TokenValid

	// TokenRenewAuth means the signature checks out but the embedded
	// authentication expiry has passed; the client must re-authenticate
	// while keeping its session id.
	TokenRenewAuth
)

// String returns the state name for logging.
func (s TokenState) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenRenewAuth:
		return "renew-auth"
	default:
		return "not-valid"
	}
}

// TokenCodec generates and verifies signed session tokens.
//
// The token layout follows the original scheme:
//
//	PAYLOAD = SESSION_ID:AUTH_EXPIRY
//	PRIVATE = CLIENT_IP:MOUNT_POINT
//	SIG     = HMAC-SHA256(SECRET, PAYLOAD:PRIVATE)
//	TOKEN   = BASE64(PAYLOAD:SIG)
//
// The token is stateless with respect to server memory; the session
// itself is still stored server side.
type TokenCodec struct {
	secret     []byte
	mountPoint string
	now        func() time.Time
}

// NewTokenCodec creates a codec signing with the process-wide secret,
// scoped to one mount point.
func NewTokenCodec(secret []byte, mountPoint string) *TokenCodec {
	return &TokenCodec{secret: secret, mountPoint: mountPoint, now: time.Now}
}

// Generate returns a signed token for the session. authExpiry is a Unix
// timestamp; 0 means the authentication never expires.
func (c *TokenCodec) Generate(sessionID, clientIP string, authExpiry int64) string {
	payload := sessionID + ":" + strconv.FormatInt(authExpiry, 10)
	token := payload + ":" + c.sign(payload, clientIP)
	return base64.StdEncoding.EncodeToString([]byte(token))
}

// Verify checks a token against the client IP and, when non-empty, an
// expected session id. It returns the token state plus the embedded
// session id and auth expiry when the signature is genuine.
func (c *TokenCodec) Verify(cookie, clientIP, expectedSessionID string) (TokenState, string, int64) {
	raw, err := base64.StdEncoding.DecodeString(cookie)
	if err != nil {
		return TokenNotValid, "", 0
	}

	token := string(raw)
	cut := strings.LastIndex(token, ":")
	if cut < 0 {
		return TokenNotValid, "", 0
	}
	payload, sig := token[:cut], token[cut+1:]

	sessionID, expiryStr, ok := strings.Cut(payload, ":")
	if !ok || sessionID == "" {
		return TokenNotValid, "", 0
	}
	authExpiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return TokenNotValid, "", 0
	}

	if !hmac.Equal([]byte(sig), []byte(c.sign(payload, clientIP))) {
		return TokenNotValid, "", 0
	}
	if expectedSessionID != "" && expectedSessionID != sessionID {
		return TokenNotValid, "", 0
	}
	if authExpiry != 0 && authExpiry < c.now().Unix() {
		return TokenRenewAuth, sessionID, authExpiry
	}
	return TokenValid, sessionID, authExpiry
}

func (c *TokenCodec) sign(payload, clientIP string) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%s:%s", payload, clientIP, c.mountPoint)
	return hex.EncodeToString(mac.Sum(nil))
}
