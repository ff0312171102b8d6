package security

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "api-secret-abc123"

	sealed, err := EncryptString(secret)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if sealed == secret {
		t.Fatalf("ciphertext must differ from plaintext")
	}

	opened, err := DecryptString(sealed)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if opened != secret {
		t.Fatalf("round trip mismatch: %q != %q", opened, secret)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	a, err := EncryptString("same")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := EncryptString("same")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if a == b {
		t.Fatalf("nonce reuse: identical ciphertexts for identical plaintexts")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	if _, err := DecryptString("not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	if _, err := DecryptString("QUJD"); err == nil {
		t.Fatalf("expected error for truncated ciphertext")
	}
}
