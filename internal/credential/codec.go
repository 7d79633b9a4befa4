package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 100_000
	keyLength     = 32
)

// keySalt is the application-wide derivation salt. Secrecy lives in the
// master key, which never leaves the keyring.
var keySalt = []byte("mailtriage-credential-v1")

// Codec encrypts and decrypts credential material with AES-GCM under a
// key derived from the master secret.
type Codec struct {
	key []byte
}

// NewCodec derives the encryption key from the given master secret.
func NewCodec(master string) *Codec {
	return &Codec{
		key: pbkdf2.Key([]byte(master), keySalt, keyIterations, keyLength, sha256.New),
	}
}

// LoadCodec builds a codec from the master secret in the system keyring,
// generating and storing a fresh secret on first use.
func LoadCodec() (*Codec, error) {
	master, err := Get(masterKeyKey)
	if err == nil && master != "" {
		return NewCodec(master), nil
	}

	// No stored master key yet; provision one.
	fresh := make([]byte, 32)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	master = hex.EncodeToString(fresh)
	if err := Set(masterKeyKey, master); err != nil {
		return nil, fmt.Errorf("storing master key: %w", err)
	}
	return NewCodec(master), nil
}

// Encode encrypts plaintext and returns an opaque base64 string.
func (c *Codec) Encode(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode. Tampered or foreign ciphertext fails.
func (c *Codec) Decode(encoded string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding credential: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("credential too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting credential: %w", err)
	}
	return string(plaintext), nil
}
