package encryptor

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize
	keySize   = chacha20poly1305.KeySize
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
)

// Encryptor defines the interface for encryption and decryption operations.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// chaCha20Poly1305Encryptor implements Encryptor using ChaCha20-Poly1305.
// It picks one random salt at construction and derives its key once; keys
// for salts found in older ciphertexts are derived on demand and cached.
type chaCha20Poly1305Encryptor struct {
	password string
	salt     []byte

	mu   sync.Mutex
	keys map[string][]byte
}

// NewEncryptor returns the default encryptor for password.
func NewEncryptor(password string) (Encryptor, error) {
	if password == "" {
		return nil, errors.New("empty password")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	e := &chaCha20Poly1305Encryptor{
		password: password,
		salt:     salt,
		keys:     make(map[string][]byte),
	}
	if _, err := e.keyFor(salt); err != nil {
		return nil, err
	}
	return e, nil
}

// deriveKey derives a key from the password and salt using scrypt.
func (e *chaCha20Poly1305Encryptor) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(e.password), salt, scryptN, scryptR, scryptP, keySize)
}

func (e *chaCha20Poly1305Encryptor) keyFor(salt []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if key, ok := e.keys[string(salt)]; ok {
		return key, nil
	}
	key, err := e.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	e.keys[string(salt)] = key
	return key, nil
}

// Encrypt seals plaintext. The returned ciphertext has the salt and nonce
// prepended.
func (e *chaCha20Poly1305Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := e.keyFor(e.salt)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	result := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aead.Overhead())
	result = append(result, e.salt...)
	result = append(result, nonce...)
	return aead.Seal(result, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt with the same password.
func (e *chaCha20Poly1305Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltSize+nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	salt := ciphertext[:saltSize]
	nonce := ciphertext[saltSize : saltSize+nonceSize]
	actualCiphertext := ciphertext[saltSize+nonceSize:]

	key, err := e.keyFor(bytes.Clone(salt))
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
