package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".key")
	m, err := NewManager(keyPath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	plaintext := []byte("downstream_power=-2.5dBmV")
	ciphertext, err := m.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Fatal("ciphertext must differ from plaintext")
	}

	got, err := m.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestKeyPersistsAcrossManagers(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".key")

	m1, err := NewManager(keyPath)
	if err != nil {
		t.Fatalf("first NewManager: %v", err)
	}
	ciphertext, err := m1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	m2, err := NewManager(keyPath)
	if err != nil {
		t.Fatalf("second NewManager: %v", err)
	}
	got, err := m2.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt with reloaded key: %v", err)
	}
	if string(got) != "secret" {
		t.Fatalf("got %q", got)
	}

	fi, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Fatalf("key file mode = %v, want 0600", fi.Mode().Perm())
	}
}

func TestCorruptedKeyFileFails(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".key")
	if err := os.WriteFile(keyPath, []byte("not base64!!"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(keyPath); err == nil {
		t.Fatal("expected error for corrupted key file")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(filepath.Join(dir, "key1"))
	if err != nil {
		t.Fatal(err)
	}
	m2, err := NewManager(filepath.Join(dir, "key2"))
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := m1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m2.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decryption failure with a different key")
	}
}

func TestEncryptStringRoundTrip(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), ".key"))
	if err != nil {
		t.Fatal(err)
	}
	enc, err := m.EncryptString("admin:hunter2")
	if err != nil {
		t.Fatal(err)
	}
	dec, err := m.DecryptString(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec != "admin:hunter2" {
		t.Fatalf("got %q", dec)
	}
}
