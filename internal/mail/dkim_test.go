package mail

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePEM(t *testing.T, blockType string, der []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dkim.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	return path
}

func TestDKIMSignerRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	signer, err := LoadDKIMSigner(writePEM(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)), "example.com", "")
	if err != nil {
		t.Fatalf("Failed to load signer: %v", err)
	}
	if signer.Selector != DefaultDKIMSelector {
		t.Errorf("Expected selector '%s', got '%s'", DefaultDKIMSelector, signer.Selector)
	}

	m := NewMessage("alice@example.com", "bob@example.com", "Signed", nil)
	m.Attach(NewText("hello", FormatPlain))
	raw, err := m.Bytes()
	if err != nil {
		t.Fatalf("Failed to serialize message: %v", err)
	}

	signed, err := signer.Sign(raw)
	if err != nil {
		t.Fatalf("Failed to sign message: %v", err)
	}

	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Errorf("Expected a leading DKIM-Signature header, got %q", signed[:min(len(signed), 40)])
	}
	for _, tag := range []string{"d=example.com", "s=mail"} {
		if !bytes.Contains(signed, []byte(tag)) {
			t.Errorf("Expected signature tag '%s'", tag)
		}
	}
	if !bytes.HasSuffix(signed, raw) {
		t.Error("Expected the original message after the signature header")
	}
}

func TestDKIMSignerPKCS8Ed25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	signer, err := LoadDKIMSigner(writePEM(t, "PRIVATE KEY", der), "example.com", "s2024")
	if err != nil {
		t.Fatalf("Failed to load signer: %v", err)
	}
	if signer.Selector != "s2024" {
		t.Errorf("Expected selector 's2024', got '%s'", signer.Selector)
	}
	if _, ok := signer.Key.(ed25519.PrivateKey); !ok {
		t.Errorf("Expected an ed25519 key, got %T", signer.Key)
	}
}

func TestLoadDKIMSignerInvalidKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}

	if _, err := LoadDKIMSigner(path, "example.com", "mail"); !errors.Is(err, ErrInvalidDKIMKey) {
		t.Errorf("Expected ErrInvalidDKIMKey for non-PEM data, got %v", err)
	}

	if _, err := LoadDKIMSigner(writePEM(t, "PRIVATE KEY", []byte("junk")), "example.com", "mail"); !errors.Is(err, ErrInvalidDKIMKey) {
		t.Errorf("Expected ErrInvalidDKIMKey for a malformed key, got %v", err)
	}
}
