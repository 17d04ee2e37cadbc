package kms

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keystoreVersion = 1
	kdfIterations   = 160000
	rootKeyLen      = 32
)

// keystoreFile is the on-disk JSON layout. Each journal key is wrapped with
// AES-GCM under a root key derived from the operator passphrase.
type keystoreFile struct {
	Version    int                     `json:"version"`
	Salt       string                  `json:"salt"`
	Iterations int                     `json:"iterations"`
	Keys       map[string]keystoreItem `json:"keys"`
}

type keystoreItem struct {
	IV      string `json:"iv"`
	Wrapped string `json:"wrapped"`
}

// FileKeyProvider resolves key ids from a passphrase-protected keystore
// file. Unwrapped keys are cached after first resolution.
type FileKeyProvider struct {
	mu    sync.Mutex
	path  string
	root  []byte
	store keystoreFile
	cache map[string][]byte
}

// NewFileKeyProvider loads the keystore at path and derives the root key
// from passphrase. The file must exist; use CreateFileKeystore to make one.
func NewFileKeyProvider(path string, passphrase []byte) (*FileKeyProvider, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kms: read keystore: %w", err)
	}
	var store keystoreFile
	if err := json.Unmarshal(b, &store); err != nil {
		return nil, fmt.Errorf("kms: parse keystore: %w", err)
	}
	if store.Version != keystoreVersion {
		return nil, fmt.Errorf("kms: unsupported keystore version %d", store.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(store.Salt)
	if err != nil {
		return nil, fmt.Errorf("kms: decode salt: %w", err)
	}
	root := pbkdf2.Key(passphrase, salt, store.Iterations, rootKeyLen, sha256.New)
	return &FileKeyProvider{
		path:  path,
		root:  root,
		store: store,
		cache: make(map[string][]byte),
	}, nil
}

// GetKey implements KeyProvider, unwrapping the stored key material.
func (p *FileKeyProvider) GetKey(keyID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if k, ok := p.cache[keyID]; ok {
		return k, nil
	}
	item, ok := p.store.Keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}
	iv, err := base64.StdEncoding.DecodeString(item.IV)
	if err != nil {
		return nil, fmt.Errorf("kms: decode iv for %q: %w", keyID, err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(item.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("kms: decode wrapped key for %q: %w", keyID, err)
	}
	gcm, err := newGCM(p.root)
	if err != nil {
		return nil, err
	}
	key, err := gcm.Open(nil, iv, wrapped, []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap %q: %v", ErrDecrypt, keyID, err)
	}
	p.cache[keyID] = key
	return key, nil
}

// CreateFileKeystore generates a keystore holding one fresh random 256-bit
// key per given id, wrapped under a root key derived from passphrase. The
// parent directory is created as needed; the file is written 0600.
func CreateFileKeystore(path string, passphrase []byte, keyIDs ...string) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("kms: generate salt: %w", err)
	}
	root := pbkdf2.Key(passphrase, salt, kdfIterations, rootKeyLen, sha256.New)
	gcm, err := newGCM(root)
	if err != nil {
		return err
	}

	store := keystoreFile{
		Version:    keystoreVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: kdfIterations,
		Keys:       make(map[string]keystoreItem, len(keyIDs)),
	}
	for _, id := range keyIDs {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return fmt.Errorf("kms: generate key %q: %w", id, err)
		}
		iv := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return fmt.Errorf("kms: generate iv: %w", err)
		}
		store.Keys[id] = keystoreItem{
			IV:      base64.StdEncoding.EncodeToString(iv),
			Wrapped: base64.StdEncoding.EncodeToString(gcm.Seal(nil, iv, key, []byte(id))),
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("kms: create keystore dir: %w", err)
	}
	b, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("kms: encode keystore: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	return nil
}
