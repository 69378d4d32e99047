package bouncer

import (
	"crypto/hmac"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
)

// credEntry is one stored credential. Either a bcrypt hash or a
// salt/digest pair is set, never both.
type credEntry struct {
	bcryptHash string
	salt       string
	digest     string
}

func (e credEntry) salted() bool { return e.salt != "" }

// credStore holds the parsed credential file.
type credStore struct {
	users map[string]credEntry
}

// loadCredStore parses credentials from a file or inline data. Lines are
// "user:$2…" for bcrypt or "user:salt:hexdigest" for salted SHA-256.
// Blank lines and #-comments are skipped.
func loadCredStore(cfg config.BouncerConfig, saltedOnly bool) (*credStore, error) {
	data := cfg.HtpasswdData
	if cfg.HtpasswdFile != "" {
		raw, err := os.ReadFile(cfg.HtpasswdFile)
		if err != nil {
			return nil, fmt.Errorf("reading credential file: %w", err)
		}
		data = string(raw)
	}
	if data == "" {
		return nil, fmt.Errorf("bouncer %q requires htpasswd_file or htpasswd_data", cfg.Kind)
	}

	store := &credStore{users: make(map[string]credEntry)}
	for n, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, rest, ok := strings.Cut(line, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("credential line %d: missing separator", n+1)
		}
		if salt, digest, isSalted := strings.Cut(rest, ":"); isSalted {
			if salt == "" || digest == "" {
				return nil, fmt.Errorf("credential line %d: empty salt or digest", n+1)
			}
			store.users[user] = credEntry{salt: salt, digest: digest}
			continue
		}
		if saltedOnly {
			return nil, fmt.Errorf("credential line %d: user %q is not in user:salt:digest form", n+1, user)
		}
		if !strings.HasPrefix(rest, "$2") {
			return nil, fmt.Errorf("credential line %d: unsupported hash for user %q", n+1, user)
		}
		store.users[user] = credEntry{bcryptHash: rest}
	}
	return store, nil
}

// issuedChallenge records an outstanding challenge keyed by keycard id.
type issuedChallenge struct {
	username  string
	challenge string
}

// htpasswdLogic authenticates against a credential file. Users with
// bcrypt hashes are verified directly against the plaintext password;
// users with salted entries go through the two-phase challenge exchange
// so the password never has to be compared in this process's request
// path.
type htpasswdLogic struct {
	store *credStore

	mu         sync.Mutex
	challenges map[string]issuedChallenge
}

func newHtpasswd(cfg config.BouncerConfig) (*htpasswdLogic, error) {
	store, err := loadCredStore(cfg, false)
	if err != nil {
		return nil, err
	}
	return &htpasswdLogic{
		store:      store,
		challenges: make(map[string]issuedChallenge),
	}, nil
}

func (l *htpasswdLogic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	switch keycard.Method {
	case auth.MethodUsernamePassword, auth.MethodUsernameCryptChallenge:
	default:
		keycard.State = auth.Refused
		return keycard, nil
	}

	entry, ok := l.store.users[keycard.Username]
	if !ok {
		return l.refuse(keycard), nil
	}

	if !entry.salted() {
		if bcrypt.CompareHashAndPassword([]byte(entry.bcryptHash), []byte(keycard.Password)) != nil {
			return l.refuse(keycard), nil
		}
		keycard.State = auth.Authenticated
		return keycard, nil
	}

	if keycard.Response == "" {
		return l.issueChallenge(keycard, entry), nil
	}
	return l.checkResponse(keycard, entry), nil
}

func (l *htpasswdLogic) issueChallenge(keycard *auth.Keycard, entry credEntry) *auth.Keycard {
	challenge := auth.GenerateChallenge()

	l.mu.Lock()
	l.challenges[keycard.ID] = issuedChallenge{
		username:  keycard.Username,
		challenge: challenge,
	}
	l.mu.Unlock()

	keycard.State = auth.Requesting
	keycard.Challenge = challenge
	keycard.Salt = entry.salt
	return keycard
}

func (l *htpasswdLogic) checkResponse(keycard *auth.Keycard, entry credEntry) *auth.Keycard {
	l.mu.Lock()
	issued, ok := l.challenges[keycard.ID]
	delete(l.challenges, keycard.ID)
	l.mu.Unlock()

	if !ok {
		return l.refuse(keycard)
	}
	// A response against a different challenge or username than the one
	// issued under this keycard id means the exchange was tampered with.
	if issued.challenge != keycard.Challenge || issued.username != keycard.Username {
		return l.refuse(keycard)
	}

	expected := auth.ChallengeResponseSalted(issued.challenge, entry.digest)
	if !hmac.Equal([]byte(expected), []byte(keycard.Response)) {
		return l.refuse(keycard)
	}
	keycard.State = auth.Authenticated
	return keycard
}

func (l *htpasswdLogic) refuse(keycard *auth.Keycard) *auth.Keycard {
	l.mu.Lock()
	delete(l.challenges, keycard.ID)
	l.mu.Unlock()
	keycard.State = auth.Refused
	return keycard
}

// saltSha256Logic verifies plaintext passwords against salted SHA-256
// entries in one round.
type saltSha256Logic struct {
	store *credStore
}

func newSaltSha256(cfg config.BouncerConfig) (*saltSha256Logic, error) {
	store, err := loadCredStore(cfg, true)
	if err != nil {
		return nil, err
	}
	return &saltSha256Logic{store: store}, nil
}

func (l *saltSha256Logic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	if keycard.Method != auth.MethodUsernamePassword {
		keycard.State = auth.Refused
		return keycard, nil
	}
	entry, ok := l.store.users[keycard.Username]
	if !ok || !entry.salted() {
		keycard.State = auth.Refused
		return keycard, nil
	}
	got := auth.SaltedPassword(entry.salt, keycard.Password)
	if !hmac.Equal([]byte(got), []byte(entry.digest)) {
		keycard.State = auth.Refused
		return keycard, nil
	}
	keycard.State = auth.Authenticated
	return keycard, nil
}
