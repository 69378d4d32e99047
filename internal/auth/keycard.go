// Package auth implements keycard issuance and the per-streamer
// authentication lifecycle: bouncer dispatch, keep-alive upkeep,
// duration timers, and revocation cleanup.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Auth errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrDuplicateKeycard = errors.New("duplicate keycard id")
)

// KeycardState tracks a keycard through its lifecycle.
type KeycardState int

const (
	// Requesting is the state on issue, before a bouncer decision.
	Requesting KeycardState = iota
	// Authenticated marks an accepted keycard.
	Authenticated
	// Refused marks a rejected keycard.
	Refused
)

// String returns the state name for logging.
func (s KeycardState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Refused:
		return "refused"
	default:
		return "requesting"
	}
}

// KeycardMethod is the credential form a keycard carries.
type KeycardMethod int

const (
	// MethodGeneric carries no client credential; bouncers decide on
	// server-side state (time windows, address, ...).
	MethodGeneric KeycardMethod = iota
	// MethodUsernamePassword carries plaintext credentials.
	MethodUsernamePassword
	// MethodUsernameCryptChallenge carries a two-phase
	// challenge/response exchange.
	MethodUsernameCryptChallenge
	// MethodIPAddress authenticates on the client address alone.
	MethodIPAddress
	// MethodToken carries an opaque bearer token.
	MethodToken
)

// Keycard is a portable credential with explicit state and lifetime,
// distinct from an HTTP session.
type Keycard struct {
	// ID uniquely identifies the keycard while it is tracked by a
	// bouncer. Assigned on issue.
	ID string

	State  KeycardState
	Method KeycardMethod

	// RequesterID names the streamer that asked for authentication;
	// IssuerName groups keycards for keep-alive refresh.
	RequesterID string
	IssuerName  string

	// Domain is the auth realm, stamped by HTTPAuth when configured.
	Domain string

	// Address is the client IP the credential arrived from.
	Address string

	Username string
	Password string

	// Challenge exchange fields for MethodUsernameCryptChallenge.
	Challenge string
	Salt      string
	Response  string

	// Token for MethodToken.
	Token string

	// TTL is how long a bouncer keeps the keycard alive without a
	// keep-alive ping. 0 means unlimited.
	TTL time.Duration

	// Duration bounds the client connection lifetime. 0 means the
	// session is unlimited.
	Duration time.Duration
}

// NewKeycardID returns a fresh keycard id.
func NewKeycardID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Authenticator is the uniform bouncer interface. Authenticate returns:
//   - the keycard with State Authenticated or Refused (terminal), or
//   - a keycard still in Requesting with challenge fields set, asking
//     the client for another round, or
//   - nil, which counts as a refusal.
//
// Errors are transport or setup failures, not refusals.
type Authenticator interface {
	Authenticate(ctx context.Context, keycard *Keycard) (*Keycard, error)

	// KeepAlive resets the TTL of every keycard tracked for issuerName.
	KeepAlive(issuerName string, ttl time.Duration) error

	// RemoveKeycardID drops a keycard the caller no longer needs.
	RemoveKeycardID(id string) error
}
