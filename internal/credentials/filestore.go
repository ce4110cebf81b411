package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/netwatch-io/netwatch/internal/crypto"
)

// FileStore is a local secret store backed by a single JSON document whose
// credential secrets are encrypted with the store key. Credentials are
// never written to disk in cleartext.
type FileStore struct {
	path    string
	crypto  *crypto.Manager
	mu      sync.Mutex
	entries map[string]encryptedEntry
	loaded  bool
}

type encryptedEntry struct {
	Username   string `json:"username"`
	Secret     string `json:"secret"`               // base64 AES-GCM
	PrivateKey string `json:"privateKey,omitempty"` // base64 AES-GCM
}

// NewFileStore opens (or prepares to create) the credential file at path.
func NewFileStore(path string, cm *crypto.Manager) *FileStore {
	return &FileStore{path: path, crypto: cm}
}

// Lookup implements Store. A missing file or unknown reference is
// ErrNotFound; an unreadable or undecodable file is ErrUnavailable.
func (f *FileStore) Lookup(_ context.Context, ref string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entry, ok := f.entries[ref]
	if !ok {
		return Credentials{}, ErrNotFound
	}

	secret, err := f.crypto.DecryptString(entry.Secret)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: decrypt secret for %s: %v", ErrUnavailable, ref, err)
	}
	creds := Credentials{Username: entry.Username, Secret: secret}
	if entry.PrivateKey != "" {
		key, err := f.crypto.DecryptString(entry.PrivateKey)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: decrypt key for %s: %v", ErrUnavailable, ref, err)
		}
		creds.PrivateKey = key
	}
	return creds, nil
}

// Put stores or replaces a credential record and persists the file with
// owner-only permissions.
func (f *FileStore) Put(ref string, creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil && !os.IsNotExist(err) {
		return err
	}
	if f.entries == nil {
		f.entries = make(map[string]encryptedEntry)
	}

	secret, err := f.crypto.EncryptString(creds.Secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	entry := encryptedEntry{Username: creds.Username, Secret: secret}
	if creds.PrivateKey != "" {
		key, err := f.crypto.EncryptString(creds.PrivateKey)
		if err != nil {
			return fmt.Errorf("encrypt private key: %w", err)
		}
		entry.PrivateKey = key
	}
	f.entries[ref] = entry

	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0600)
}

func (f *FileStore) loadLocked() error {
	if f.loaded {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.entries = make(map[string]encryptedEntry)
			f.loaded = true
			return nil
		}
		return err
	}
	entries := make(map[string]encryptedEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse credential file: %w", err)
	}
	f.entries = entries
	f.loaded = true
	return nil
}
