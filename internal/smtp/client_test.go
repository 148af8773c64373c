package smtp

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OliverSchlueter/mail-sender/internal/mails"
	"github.com/OliverSchlueter/mail-sender/internal/users"
)

const testMessage = "From: oliver@localhost\r\n" +
	"To: peter@localhost\r\n" +
	"Subject: Test Mail\r\n" +
	"\r\n" +
	"This is a test mail.\r\n"

type relay struct {
	srv   *Server
	host  string
	port  int
	users *users.Store
	mails *mails.Store
}

func startRelay(t *testing.T, tlsConfig *tls.Config) *relay {
	t.Helper()

	srv, us, ms := newTestServer(t, tlsConfig)
	return serveRelay(t, srv, us, ms)
}

func serveRelay(t *testing.T, srv *Server, us *users.Store, ms *mails.Store) *relay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	}()

	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Failed to close server: %v", err)
		}
		<-done
	})

	addr := ln.Addr().(*net.TCPAddr)
	return &relay{srv: srv, host: "127.0.0.1", port: addr.Port, users: us, mails: ms}
}

func (r *relay) mailsOf(t *testing.T, name string) []mails.Mail {
	t.Helper()

	u, err := r.users.GetByName(name)
	if err != nil {
		t.Fatalf("Failed to get user %s: %v", name, err)
	}

	stored, err := r.mails.ListByOwner(u.ID)
	if err != nil {
		t.Fatalf("Failed to list mails: %v", err)
	}
	return stored
}

func connect(t *testing.T, r *relay, cfg ClientConfiguration) *Client {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	c := NewClient(cfg)
	if err := c.Connect(context.Background(), r.host, r.port); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestClientSend(t *testing.T) {
	r := startRelay(t, nil)
	c := connect(t, r, ClientConfiguration{})

	if err := c.Authenticate("oliver", "oliver123"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	if err := c.Send("oliver@localhost", []string{"peter@localhost"}, []byte(testMessage)); err != nil {
		t.Fatalf("Failed to send mail: %v", err)
	}

	stored := r.mailsOf(t, "peter")
	if len(stored) != 1 {
		t.Fatalf("Expected 1 mail for peter, got %d", len(stored))
	}
	if stored[0].Subject != "Test Mail" {
		t.Errorf("Expected subject 'Test Mail', got '%s'", stored[0].Subject)
	}
	if stored[0].Body != "This is a test mail.\r\n" {
		t.Errorf("Expected body 'This is a test mail.', got %q", stored[0].Body)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Expected clean QUIT, got %v", err)
	}
}

func TestClientSendContinuesAfterRejectedRecipient(t *testing.T) {
	r := startRelay(t, nil)
	c := connect(t, r, ClientConfiguration{})

	if err := c.Authenticate("oliver@localhost", "oliver123"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	err := c.Send("oliver@localhost", []string{"peter@localhost", "nobody@localhost"}, []byte(testMessage))
	if err == nil || !strings.Contains(err.Error(), "nobody@localhost") {
		t.Fatalf("Expected rejection naming nobody@localhost, got %v", err)
	}

	if stored := r.mailsOf(t, "peter"); len(stored) != 0 {
		t.Fatalf("Expected the rejected transaction to store nothing, got %d", len(stored))
	}

	if err := c.Send("oliver@localhost", []string{"peter@localhost"}, []byte(testMessage)); err != nil {
		t.Fatalf("Expected second transaction to succeed, got %v", err)
	}

	if stored := r.mailsOf(t, "peter"); len(stored) != 1 {
		t.Errorf("Expected 1 mail for peter, got %d", len(stored))
	}
}

func TestClientSendForeignSender(t *testing.T) {
	r := startRelay(t, nil)
	c := connect(t, r, ClientConfiguration{})

	if err := c.Authenticate("oliver", "oliver123"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	if err := c.Send("peter@localhost", []string{"peter@localhost"}, []byte(testMessage)); err == nil {
		t.Error("Expected MAIL FROM with a foreign address to fail")
	}
}

func TestClientAuthenticateWrongPassword(t *testing.T) {
	r := startRelay(t, nil)
	c := connect(t, r, ClientConfiguration{})

	if err := c.Authenticate("oliver", "wrong"); err == nil {
		t.Error("Expected authentication to fail")
	}
}

func TestClientStartTLSUnsupported(t *testing.T) {
	r := startRelay(t, nil)
	c := connect(t, r, ClientConfiguration{})

	if err := c.StartTLS(); !errors.Is(err, ErrStartTLSUnsupported) {
		t.Errorf("Expected ErrStartTLSUnsupported, got %v", err)
	}
}

func TestClientStartTLS(t *testing.T) {
	serverConfig, pool := selfSignedTLS(t)
	r := startRelay(t, serverConfig)
	c := connect(t, r, ClientConfiguration{TLSConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}})

	// the relay refuses AUTH before the upgrade
	if ok, _ := c.conn.Extension("AUTH"); ok {
		t.Error("Expected AUTH not to be offered before STARTTLS")
	}

	if err := c.StartTLS(); err != nil {
		t.Fatalf("Failed to start TLS: %v", err)
	}

	if err := c.Authenticate("oliver", "oliver123"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	if err := c.Send("oliver@localhost", []string{"peter@localhost"}, []byte(testMessage)); err != nil {
		t.Fatalf("Failed to send mail: %v", err)
	}

	if stored := r.mailsOf(t, "peter"); len(stored) != 1 {
		t.Errorf("Expected 1 mail for peter, got %d", len(stored))
	}
}

func TestClientStartTLSWithCertificateFiles(t *testing.T) {
	certFile, keyFile, pool := writeCertFiles(t)

	us, ms := newStores(t)
	srv, err := NewServer(Configuration{
		Hostname: "test.server.com",
		CertFile: certFile,
		KeyFile:  keyFile,
		Users:    us,
		Mails:    ms,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	r := serveRelay(t, srv, us, ms)
	c := connect(t, r, ClientConfiguration{TLSConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}})

	if err := c.Authenticate("oliver", "oliver123"); !errors.Is(err, ErrAuthUnsupported) {
		t.Errorf("Expected AUTH to be withheld before STARTTLS, got %v", err)
	}

	if err := c.StartTLS(); err != nil {
		t.Fatalf("Failed to start TLS: %v", err)
	}
	if err := c.Authenticate("oliver", "oliver123"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	if err := c.Send("oliver@localhost", []string{"peter@localhost"}, []byte(testMessage)); err != nil {
		t.Fatalf("Failed to send mail: %v", err)
	}

	if stored := r.mailsOf(t, "peter"); len(stored) != 1 {
		t.Errorf("Expected 1 mail for peter, got %d", len(stored))
	}
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(ClientConfiguration{Logger: discardLogger()})

	if err := c.StartTLS(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from StartTLS, got %v", err)
	}
	if err := c.Authenticate("a", "b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from Authenticate, got %v", err)
	}
	if err := c.Send("a@b", []string{"c@d"}, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from Send, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected Close without a connection to be a no-op, got %v", err)
	}
}

func TestClientConnectTwice(t *testing.T) {
	r := startRelay(t, nil)
	c := connect(t, r, ClientConfiguration{})

	if err := c.Connect(context.Background(), r.host, r.port); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := NewClient(ClientConfiguration{Logger: discardLogger(), Timeout: time.Second})
	if err := c.Connect(context.Background(), "127.0.0.1", port); err == nil {
		t.Error("Expected connect to a closed port to fail")
	}
}

func TestClientTrace(t *testing.T) {
	r := startRelay(t, nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := connect(t, r, ClientConfiguration{Trace: true, HelloName: "client.test", Logger: logger})

	if err := c.Authenticate("oliver", "oliver123"); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "C: EHLO client.test") {
		t.Errorf("Expected traced EHLO, got %s", out)
	}
	if !strings.Contains(out, "S: 250 ") {
		t.Errorf("Expected traced server reply, got %s", out)
	}
	if strings.Contains(out, "oliver123") {
		t.Error("Expected credentials to be redacted from the trace")
	}
}

func generateCert(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test.server.com"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	return der, key
}

func certPool(t *testing.T, der []byte) *x509.CertPool {
	t.Helper()

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool
}

func selfSignedTLS(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()

	der, key := generateCert(t)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}, certPool(t, der)
}

// writeCertFiles stores a self-signed certificate and its key as PEM files.
func writeCertFiles(t *testing.T) (string, string, *x509.CertPool) {
	t.Helper()

	der, key := generateCert(t)
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("Failed to write certificate: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}

	return certFile, keyFile, certPool(t, der)
}
