// Package crypto provides the process-wide AES-256-GCM service used to
// encrypt/decrypt stored SSH private keys (§3 "Encrypted-blob record").
// Adapted from the teacher's single-blob AESCryptoService: here the nonce
// and authentication tag are returned as separate fields so they can be
// persisted as the (ciphertext, IV, auth tag) triple the data model calls
// for, instead of one concatenated base64 string.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// Service encrypts/decrypts SSH private key material with AES-256-GCM.
type Service struct {
	aead cipher.AEAD
}

// NewService builds the service from a 32-byte key given as hex (§6
// "EncryptionKey").
func NewService(hexKey string) (*Service, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("crypto: key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: block cipher failure: %w", err)
	}
	defer zero(key)

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: GCM failure: %w", err)
	}

	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext and returns it split into the blob triple.
func (s *Service) Encrypt(plaintext []byte) (domain.EncryptedBlob, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return domain.EncryptedBlob{}, fmt.Errorf("crypto: nonce generation failure: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	tagSize := s.aead.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return domain.EncryptedBlob{
		Ciphertext: ciphertext,
		IV:         nonce,
		AuthTag:    tag,
	}, nil
}

// Decrypt verifies and opens a blob triple. A mismatched tag (tampering) or
// wrong IV length returns an error; callers must treat this as fatal for
// the deployment (§7 "SSH key failure").
func (s *Service) Decrypt(blob domain.EncryptedBlob) ([]byte, error) {
	if len(blob.IV) != s.aead.NonceSize() {
		return nil, errors.New("crypto: invalid IV length")
	}
	sealed := append(append([]byte{}, blob.Ciphertext...), blob.AuthTag...)

	plaintext, err := s.aead.Open(nil, blob.IV, sealed, nil)
	if err != nil {
		return nil, errors.New("crypto: integrity violation - potential tampering detected")
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
