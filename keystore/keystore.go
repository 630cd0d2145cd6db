// Package keystore keeps the secp256k1 keys a swap party uses for its Bitcoin
// HTLCs.
package keystore

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

var ErrKeyNotFound = errors.New("keystore: key not found")

type PrivKey struct {
	Body []byte `json:"body"`
}

// ECPrivKey parses the stored scalar.
func (k PrivKey) ECPrivKey() (*btcec.PrivateKey, error) {
	if len(k.Body) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("keystore: key is %d bytes, want %d", len(k.Body), btcec.PrivKeyBytesLen)
	}
	priv, _ := btcec.PrivKeyFromBytes(k.Body)
	return priv, nil
}

type Keystore interface {
	Get(keyName string) (PrivKey, error)
	Put(keyName string, value PrivKey) error
	Delete(keyName string) error
	List() ([]string, error)
}

// GenerateKey creates a new random secp256k1 private key
func GenerateKey() (*PrivKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivKey{Body: priv.Serialize()}, nil
}

// GetOrCreateKey loads keyName, generating and storing it on first use.
func GetOrCreateKey(kstore Keystore, keyName string) (*btcec.PrivateKey, error) {
	privKey, err := kstore.Get(keyName)
	if errors.Is(err, ErrKeyNotFound) {
		newPrivKey, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := kstore.Put(keyName, *newPrivKey); err != nil {
			return nil, err
		}
		return newPrivKey.ECPrivKey()
	}
	if err != nil {
		return nil, err
	}
	return privKey.ECPrivKey()
}
