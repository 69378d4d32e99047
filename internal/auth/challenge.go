package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// The challenge exchange never moves the password over the wire. The
// asker sends a random challenge plus the salt of the stored credential;
// the responder proves knowledge of the password by keying an HMAC over
// the challenge with the salted password digest.

// GenerateChallenge returns a random hex challenge string.
func GenerateChallenge() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random challenge: %v", err))
	}
	return hex.EncodeToString(buf)
}

// SaltedPassword derives the stored form of a password.
func SaltedPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// ChallengeResponse computes the proof for a challenge given the
// plaintext password and the salt announced by the asker.
func ChallengeResponse(challenge, salt, password string) string {
	return ChallengeResponseSalted(challenge, SaltedPassword(salt, password))
}

// ChallengeResponseSalted computes the proof from the stored salted
// digest. The asker uses this form so it never needs the plaintext.
func ChallengeResponseSalted(challenge, saltedPassword string) string {
	mac := hmac.New(sha256.New, []byte(saltedPassword))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}
