package secrets

import "testing"

func TestNewRejectsWrongKeyLength(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"valid 32-byte key", make([]byte, 32), false},
		{"short key", make([]byte, 16), true},
		{"long key", make([]byte, 64), true},
		{"empty key", []byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && m == nil {
				t.Fatal("New() returned nil without error")
			}
		})
	}
}

func TestNewFromPassphraseRejectsEmpty(t *testing.T) {
	if _, err := NewFromPassphrase(""); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
	if _, err := NewFromPassphrase("correct horse battery staple"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := NewFromPassphrase("test-passphrase")
	if err != nil {
		t.Fatalf("NewFromPassphrase: %v", err)
	}

	encrypted, err := m.Encrypt([]byte("super-secret-signing-key"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(encrypted) {
		t.Fatalf("expected %q to carry the encrypted prefix", encrypted)
	}

	decrypted, err := m.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != "super-secret-signing-key" {
		t.Fatalf("round trip mismatch: got %q", decrypted)
	}
}

func TestDecryptRejectsPlaintext(t *testing.T) {
	m, err := NewFromPassphrase("test-passphrase")
	if err != nil {
		t.Fatalf("NewFromPassphrase: %v", err)
	}
	if _, err := m.Decrypt("not-encrypted"); err == nil {
		t.Fatal("expected error decrypting a plaintext value")
	}
}

func TestDecryptFailsWithWrongPassphrase(t *testing.T) {
	sender, err := NewFromPassphrase("correct-passphrase")
	if err != nil {
		t.Fatalf("NewFromPassphrase: %v", err)
	}
	encrypted, err := sender.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	wrong, err := NewFromPassphrase("wrong-passphrase")
	if err != nil {
		t.Fatalf("NewFromPassphrase: %v", err)
	}
	if _, err := wrong.Decrypt(encrypted); err == nil {
		t.Fatal("expected decryption with the wrong passphrase to fail")
	}
}

func TestIsEncryptedRejectsShortValues(t *testing.T) {
	if IsEncrypted("enc:") {
		t.Fatal("bare prefix with no payload should not count as encrypted")
	}
	if IsEncrypted("") {
		t.Fatal("empty string should not count as encrypted")
	}
}
