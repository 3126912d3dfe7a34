package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const tokenBytes = 32

// TokenVerifier derives deletion-token digests with a process-wide pepper.
// Only the digest is persisted; the token itself is returned to the creator
// once and never stored.
type TokenVerifier struct {
	pepper []byte
}

func NewTokenVerifier(pepper []byte) (*TokenVerifier, error) {
	if len(pepper) < 32 {
		return nil, errors.New("token pepper must be at least 32 bytes")
	}
	if len(pepper) > 64 {
		// blake2b key limit
		return nil, errors.New("token pepper must be at most 64 bytes")
	}
	unique := make(map[byte]struct{})
	for _, b := range pepper {
		unique[b] = struct{}{}
	}
	if len(unique) < 16 {
		return nil, errors.New("token pepper has insufficient entropy")
	}
	cp := make([]byte, len(pepper))
	copy(cp, pepper)
	return &TokenVerifier{pepper: cp}, nil
}

// NewDeletionToken returns a fresh 256-bit URL-safe token.
func NewDeletionToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Digest computes the keyed BLAKE2b-256 digest stored alongside metadata.
func (v *TokenVerifier) Digest(token string) (string, error) {
	mac, err := blake2b.New256(v.pepper)
	if err != nil {
		return "", errors.Wrap(err, "blake2b init")
	}
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the digest and compares in constant time.
func (v *TokenVerifier) Verify(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	computed, err := v.Digest(token)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
