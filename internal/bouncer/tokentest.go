package bouncer

import (
	"crypto/subtle"
	"fmt"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
)

// tokenTestLogic grants keycards carrying the one configured token.
// Intended for smoke tests and simple shared-secret setups.
type tokenTestLogic struct {
	token string
}

func newTokenTest(cfg config.BouncerConfig) (*tokenTestLogic, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token bouncer requires a token")
	}
	return &tokenTestLogic{token: cfg.Token}, nil
}

func (l *tokenTestLogic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	if keycard.Token != "" &&
		subtle.ConstantTimeCompare([]byte(keycard.Token), []byte(l.token)) == 1 {
		keycard.State = auth.Authenticated
	} else {
		keycard.State = auth.Refused
	}
	return keycard, nil
}
