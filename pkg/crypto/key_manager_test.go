package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func setKeyEnv(t *testing.T, suffix, plainKey string) {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString([]byte(plainKey))
	name := "MASTER_ENCRYPTION_KEY"
	if suffix != "" {
		name += "_" + suffix
	}
	t.Setenv(name, encoded)
}

func thirtyTwoByteKey(fill byte) string {
	return strings.Repeat(string(fill), KeySize)
}

func TestNewKeyManagerRequiresPrimaryKey(t *testing.T) {
	t.Setenv("MASTER_ENCRYPTION_KEY", "")
	if _, err := NewKeyManager(); err == nil {
		t.Fatal("expected an error when MASTER_ENCRYPTION_KEY is unset")
	}
}

func TestNewKeyManagerLoadsPrimaryAndRotatesToLatestVersion(t *testing.T) {
	setKeyEnv(t, "", thirtyTwoByteKey('a'))
	setKeyEnv(t, "V2", thirtyTwoByteKey('b'))

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	if km.CurrentVersion() != 2 {
		t.Fatalf("CurrentVersion=%d, expected 2 (the latest loaded)", km.CurrentVersion())
	}
	if !km.HasVersion(1) || !km.HasVersion(2) {
		t.Fatal("expected both version 1 and 2 loaded")
	}
}

func TestKeyManagerEncryptDecryptRoundTrip(t *testing.T) {
	setKeyEnv(t, "", thirtyTwoByteKey('a'))
	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	ciphertext, err := km.Encrypt("app-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plain, err := km.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "app-secret" {
		t.Fatalf("plain=%q, expected app-secret", plain)
	}
}

func TestKeyManagerDecryptUsesTheVersionEmbeddedInCiphertext(t *testing.T) {
	setKeyEnv(t, "", thirtyTwoByteKey('a'))
	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	sealed, _ := km.Encrypt("old-secret") // sealed under v1

	setKeyEnv(t, "V2", thirtyTwoByteKey('b'))
	km2, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	plain, err := km2.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "old-secret" {
		t.Fatalf("plain=%q, expected old-secret via the v1 key even though v2 is current", plain)
	}
}

func TestGenerateKeyProducesDecodableBase64(t *testing.T) {
	encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != KeySize {
		t.Fatalf("len=%d, expected %d", len(raw), KeySize)
	}
}
