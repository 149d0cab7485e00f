package crypto

import (
	"crypto/rand"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEncryptThenDecryptRoundTrips(t *testing.T) {
	enc, err := NewEncryptor(testKey(t), 1)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	ciphertext, err := enc.Encrypt("broker-app-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(ciphertext, "ENC[v1]:") {
		t.Fatalf("ciphertext=%q, expected the ENC[v1]: prefix", ciphertext)
	}
	plain, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "broker-app-secret" {
		t.Fatalf("plain=%q, expected broker-app-secret", plain)
	}
}

func TestNewEncryptorRejectsWrongKeySize(t *testing.T) {
	if _, err := NewEncryptor([]byte("too-short"), 1); err != ErrInvalidKey {
		t.Fatalf("err=%v, expected ErrInvalidKey", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t), 1)
	ciphertext, _ := enc.Encrypt("secret")
	tampered := ciphertext[:len(ciphertext)-2] + "zz"

	if _, err := enc.Decrypt(tampered); err == nil {
		t.Fatal("expected decryption to fail on tampered ciphertext")
	}
}

func TestDecryptRejectsMalformedFormat(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t), 1)
	if _, err := enc.Decrypt("not-encrypted-at-all"); err != ErrInvalidCiphertext {
		t.Fatalf("err=%v, expected ErrInvalidCiphertext", err)
	}
}

func TestParseVersionExtractsVersionNumber(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t), 3)
	ciphertext, _ := enc.Encrypt("x")
	if v := ParseVersion(ciphertext); v != 3 {
		t.Fatalf("ParseVersion=%d, expected 3", v)
	}
}

func TestParseVersionReturnsZeroForPlainString(t *testing.T) {
	if v := ParseVersion("BROKER123"); v != 0 {
		t.Fatalf("ParseVersion=%d, expected 0 for an unsealed value", v)
	}
}
