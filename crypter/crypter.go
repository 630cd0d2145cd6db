// Package crypter encrypts notes at rest, either in-process or through an
// external encryption service.
package crypter

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/btcq-org/qswap/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Crypter seals data for a purpose. Data sealed for one purpose cannot be
// opened under another.
type Crypter interface {
	Encrypt(ctx context.Context, data []byte, purpose string) (string, error)
	Decrypt(ctx context.Context, encrypted string, purpose string) ([]byte, error)
}

// MasterKeySize is the size of the local master key.
const MasterKeySize = 32

// Local seals with XChaCha20-Poly1305 under a per-purpose key derived from a
// master key with HKDF-SHA256.
type Local struct {
	master []byte
}

func NewLocal(masterKey []byte) (*Local, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	m := make([]byte, MasterKeySize)
	copy(m, masterKey)
	return &Local{master: m}, nil
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() ([]byte, error) {
	k := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, err
	}
	return k, nil
}

func (l *Local) aead(purpose string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, l.master, nil, []byte("qswap/crypter/"+purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("fail to derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func (l *Local) Encrypt(_ context.Context, data []byte, purpose string) (string, error) {
	aead, err := l.aead(purpose)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("fail to draw nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, data, []byte(purpose))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (l *Local) Decrypt(_ context.Context, encrypted string, purpose string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrapf("ciphertext is not base64: %s", err)
	}
	aead, err := l.aead(purpose)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, common.ErrInvalidRequest.Wrap("ciphertext too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(purpose))
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrapf("fail to open ciphertext: %s", err)
	}
	return plain, nil
}
