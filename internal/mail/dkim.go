package mail

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

const DefaultDKIMSelector = "mail"

var dkimHeaderKeys = []string{
	"from",
	"to",
	"cc",
	"subject",
	"date",
	"message-id",
}

// DKIMSigner adds a DKIM-Signature header to serialized messages. Domain must
// match the domain of the From address.
type DKIMSigner struct {
	Domain   string
	Selector string
	Key      crypto.Signer
}

// LoadDKIMSigner reads a PEM encoded PKCS#1 or PKCS#8 private key.
func LoadDKIMSigner(path, domain, selector string) (*DKIMSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: invalid PEM data", ErrInvalidDKIMKey)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	if selector == "" {
		selector = DefaultDKIMSelector
	}

	return &DKIMSigner{
		Domain:   domain,
		Selector: selector,
		Key:      key,
	}, nil
}

func (s *DKIMSigner) Sign(raw []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:     s.Domain,
		Selector:   s.Selector,
		Signer:     s.Key,
		HeaderKeys: dkimHeaderKeys,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), opts); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	return signed.Bytes(), nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDKIMKey, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidDKIMKey, key)
	}

	return signer, nil
}
