package persistence

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

// hashToken derives the stored one-way hash of an access token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte("recite-token:" + token))
	return hex.EncodeToString(sum[:])
}

// tokenMatches compares in constant time.
func tokenMatches(token, storedHash string) bool {
	computed := hashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// sealKey derives the AES-256 key for restricted-scope payloads from the
// token itself; without the token the rows are unreadable.
func sealKey(token string) []byte {
	sum := sha256.Sum256([]byte("recite-seal:" + token))
	return sum[:]
}

// seal encrypts plaintext with AES-GCM, nonce prepended, base64 encoded for
// storage in a TEXT column.
func seal(token string, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(sealKey(token))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open reverses seal.
func open(token, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(sealKey(token))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed payload too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
