package kms

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by a KeyProvider when a key id does not
// resolve. Wrapped errors carry the offending id.
var ErrKeyNotFound = errors.New("kms: key not found")

// ErrDecrypt is returned by a Decryptor when an envelope cannot be opened:
// wrong key, corrupted ciphertext, or malformed envelope.
var ErrDecrypt = errors.New("kms: decryption failed")

// KeyProvider resolves a key id to symmetric key material. The same id
// recorded in an envelope at write time must resolve at read time or
// decryption fails.
type KeyProvider interface {
	GetKey(keyID string) ([]byte, error)
}

// Encryptor wraps one record's serialized bytes for storage.
type Encryptor interface {
	Encrypt(plaintext []byte, keyID string) ([]byte, error)
}

// Decryptor unwraps bytes produced by an Encryptor.
type Decryptor interface {
	Decrypt(data []byte) ([]byte, error)
}

// StaticKeyProvider serves keys from a fixed in-memory map.
type StaticKeyProvider struct {
	keys map[string][]byte
}

// NewStaticKeyProvider copies the given key map. Keys must be valid AES key
// lengths (16, 24 or 32 bytes) to be usable with the AES-GCM encryptor.
func NewStaticKeyProvider(keys map[string][]byte) *StaticKeyProvider {
	cp := make(map[string][]byte, len(keys))
	for id, k := range keys {
		cp[id] = append([]byte(nil), k...)
	}
	return &StaticKeyProvider{keys: cp}
}

// GetKey implements KeyProvider.
func (p *StaticKeyProvider) GetKey(keyID string) ([]byte, error) {
	k, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}
	return k, nil
}

// NopEncryptor passes record bytes through unchanged. It stands in for a
// real Encryptor when encryption is disabled, and lets differential tests
// write "encrypted" journals a plain reader can still decode.
type NopEncryptor struct{}

// Encrypt implements Encryptor; the key id is ignored.
func (NopEncryptor) Encrypt(plaintext []byte, _ string) ([]byte, error) {
	return plaintext, nil
}

// Decrypt implements Decryptor.
func (NopEncryptor) Decrypt(data []byte) ([]byte, error) { return data, nil }
