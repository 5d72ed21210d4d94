package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption key must be 32 bytes for AES-256")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
)

// sessionIDBytes is the entropy of a session id; ids double as bearer tokens.
const sessionIDBytes = 32

type CryptoService struct {
	encryptionKey []byte
}

// NewCryptoService creates a new crypto service with the provided encryption key.
// The key must be exactly 32 bytes for AES-256.
func NewCryptoService(encryptionKey string) (*CryptoService, error) {
	key := []byte(encryptionKey)
	if len(key) != 32 {
		return nil, ErrInvalidEncryptionKey
	}

	return &CryptoService{
		encryptionKey: key,
	}, nil
}

// EncryptToken encrypts a token using AES-256-GCM.
// Returns base64-encoded ciphertext with nonce prepended.
func (cs *CryptoService) EncryptToken(plaintext string) (string, error) {
	gcm, err := cs.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (cs *CryptoService) DecryptToken(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := cs.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, cipherbytes := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherbytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (cs *CryptoService) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cs.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateSessionID returns a 256-bit random, URL-safe session id.
func GenerateSessionID() (string, error) {
	idBytes := make([]byte, sessionIDBytes)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(idBytes), nil
}

// GenerateNonceID returns a fresh login nonce record id.
func GenerateNonceID() string {
	return uuid.NewString()
}
