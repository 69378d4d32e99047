package auth

import (
	"fmt"
	"net/http"
)

// Issuer builds a keycard from an incoming request. A nil keycard with
// a nil error means the request carries nothing usable; the caller
// challenges the client.
type Issuer interface {
	Issue(r *http.Request, clientIP string) (*Keycard, error)
	Name() string
}

// NewIssuer returns the named issuer strategy.
func NewIssuer(kind string) (Issuer, error) {
	switch kind {
	case "", "generic":
		return genericIssuer{}, nil
	case "basic":
		return basicAuthIssuer{}, nil
	case "token":
		return tokenIssuer{}, nil
	}
	return nil, fmt.Errorf("unknown issuer %q", kind)
}

// genericIssuer issues a credential-free keycard carrying only the
// client address. Suits bouncers that decide on server-side state.
type genericIssuer struct{}

func (genericIssuer) Name() string { return "generic" }

func (genericIssuer) Issue(r *http.Request, clientIP string) (*Keycard, error) {
	return &Keycard{
		ID:      NewKeycardID(),
		Method:  MethodGeneric,
		Address: clientIP,
	}, nil
}

// basicAuthIssuer extracts HTTP Basic credentials. Requests without an
// Authorization header still get a keycard with empty credentials, so
// bouncers can refuse them and drive the 401 challenge.
type basicAuthIssuer struct{}

func (basicAuthIssuer) Name() string { return "basic" }

func (basicAuthIssuer) Issue(r *http.Request, clientIP string) (*Keycard, error) {
	username, password, _ := r.BasicAuth()
	return &Keycard{
		ID:       NewKeycardID(),
		Method:   MethodUsernamePassword,
		Address:  clientIP,
		Username: username,
		Password: password,
	}, nil
}

// tokenIssuer extracts a bearer token from the "token" query parameter.
type tokenIssuer struct{}

func (tokenIssuer) Name() string { return "token" }

func (tokenIssuer) Issue(r *http.Request, clientIP string) (*Keycard, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, nil
	}
	return &Keycard{
		ID:      NewKeycardID(),
		Method:  MethodToken,
		Address: clientIP,
		Token:   token,
	}, nil
}
