package util

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

// Paste ids are 128-bit random values rendered as unpadded URL-safe base64,
// 22 characters, usable directly as a path component.
const idBytes = 16

// GenID draws a fresh id and re-checks it against the authoritative store.
// Collisions are already negligible at 128 bits; the retry loop guards
// against the astronomically unlikely rather than relying on it.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < 5; retry++ {
		buf := make([]byte, idBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		id := base64.RawURLEncoding.EncodeToString(buf)
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.New("id collision after 5 retries")
}
