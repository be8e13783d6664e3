package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Encryptor transforms blobs on their way into and out of a PathStorage.
// Implementations must be safe for concurrent use.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Plaintext is the identity Encryptor, for backends that encrypt at rest
// themselves or for tests.
type Plaintext struct{}

func (Plaintext) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (Plaintext) Decrypt(c []byte) ([]byte, error) { return c, nil }

// AESGCMEncryptor seals blobs with AES-256-GCM. The output layout is
// [12-byte nonce][ciphertext][16-byte tag], a fresh random nonce per call.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

// NewAESGCM derives a 32-byte key from secret via HKDF-SHA256 and returns
// an AESGCMEncryptor. secret can be any length; salt binds the derived key
// to a deployment and may be nil.
func NewAESGCM(secret, salt []byte) (*AESGCMEncryptor, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("storage: empty encryption secret")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, salt, []byte("token-cache-at-rest-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("storage: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("storage: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storage: create GCM: %w", err)
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

func (e *AESGCMEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("storage: generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESGCMEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("storage: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decrypt: %w", err)
	}
	return plaintext, nil
}
