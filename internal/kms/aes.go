package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Envelope format: version byte, then uvarint-length-prefixed key id, IV and
// ciphertext. Produced per record, before block framing.
const envelopeVersion = 1

// Envelope is the decoded form of an encrypted record wrapper.
type Envelope struct {
	KeyID      string
	IV         []byte
	Ciphertext []byte
}

// EncodeEnvelope serializes an envelope.
func EncodeEnvelope(e Envelope) []byte {
	var tmp [binary.MaxVarintLen64]byte
	out := make([]byte, 0, 1+len(e.KeyID)+len(e.IV)+len(e.Ciphertext)+3*binary.MaxVarintLen64)
	out = append(out, envelopeVersion)
	n := binary.PutUvarint(tmp[:], uint64(len(e.KeyID)))
	out = append(out, tmp[:n]...)
	out = append(out, e.KeyID...)
	n = binary.PutUvarint(tmp[:], uint64(len(e.IV)))
	out = append(out, tmp[:n]...)
	out = append(out, e.IV...)
	n = binary.PutUvarint(tmp[:], uint64(len(e.Ciphertext)))
	out = append(out, tmp[:n]...)
	out = append(out, e.Ciphertext...)
	return out
}

// DecodeEnvelope parses an envelope, failing on any framing defect.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < 1 || b[0] != envelopeVersion {
		return Envelope{}, fmt.Errorf("%w: bad envelope version", ErrDecrypt)
	}
	rest := b[1:]
	field := func() ([]byte, error) {
		l, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < l {
			return nil, fmt.Errorf("%w: truncated envelope", ErrDecrypt)
		}
		v := rest[n : n+int(l)]
		rest = rest[n+int(l):]
		return v, nil
	}
	keyID, err := field()
	if err != nil {
		return Envelope{}, err
	}
	iv, err := field()
	if err != nil {
		return Envelope{}, err
	}
	ct, err := field()
	if err != nil {
		return Envelope{}, err
	}
	if len(rest) != 0 {
		return Envelope{}, fmt.Errorf("%w: %d trailing envelope bytes", ErrDecrypt, len(rest))
	}
	return Envelope{KeyID: string(keyID), IV: iv, Ciphertext: ct}, nil
}

// AESGCMEncryptor produces AES-256-GCM envelopes with a fresh random nonce
// per record.
type AESGCMEncryptor struct {
	Keys KeyProvider
}

// NewAESGCMEncryptor builds an encryptor over the given provider.
func NewAESGCMEncryptor(keys KeyProvider) *AESGCMEncryptor {
	return &AESGCMEncryptor{Keys: keys}
}

// Encrypt implements Encryptor.
func (e *AESGCMEncryptor) Encrypt(plaintext []byte, keyID string) ([]byte, error) {
	key, err := e.Keys.GetKey(keyID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("kms: generate iv: %w", err)
	}
	ct := gcm.Seal(nil, iv, plaintext, nil)
	return EncodeEnvelope(Envelope{KeyID: keyID, IV: iv, Ciphertext: ct}), nil
}

// AESGCMDecryptor opens envelopes produced by AESGCMEncryptor, resolving
// the embedded key id through its provider.
type AESGCMDecryptor struct {
	Keys KeyProvider
}

// NewAESGCMDecryptor builds a decryptor over the given provider.
func NewAESGCMDecryptor(keys KeyProvider) *AESGCMDecryptor {
	return &AESGCMDecryptor{Keys: keys}
}

// Decrypt implements Decryptor.
func (d *AESGCMDecryptor) Decrypt(data []byte) ([]byte, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	key, err := d.Keys.GetKey(env.KeyID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(env.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: iv length %d", ErrDecrypt, len(env.IV))
	}
	pt, err := gcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q: %v", ErrDecrypt, env.KeyID, err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm init: %w", err)
	}
	return gcm, nil
}
