package email

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// DKIMSigner adds DKIM-Signature headers to outgoing messages.
type DKIMSigner struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// NewDKIMSigner builds a signer from a PEM encoded private key (PKCS1 or PKCS8).
// An empty domain means the sender's domain is used at signing time.
func NewDKIMSigner(selector, domain string, pemKey []byte) (*DKIMSigner, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("%w: DKIMSelector is required", ErrInvalidConfig)
	}
	key, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("%w: dkim private key: %v", ErrInvalidConfig, err)
	}
	return &DKIMSigner{
		domain:   strings.TrimSpace(domain),
		selector: strings.TrimSpace(selector),
		key:      key,
		headerKeys: []string{
			"from", "to", "subject", "date", "mime-version", "content-type", "message-id",
		},
	}, nil
}

// DKIMSignerFromConfig returns nil when no DKIM setting is present.
func DKIMSignerFromConfig(cfg Config) (*DKIMSigner, error) {
	if cfg.DKIMSelector == "" && cfg.DKIMPrivateKey == "" && cfg.DKIMKeyPath == "" {
		return nil, nil
	}

	var pemData []byte
	switch {
	case cfg.DKIMPrivateKey != "":
		pemData = []byte(cfg.DKIMPrivateKey)
	case cfg.DKIMKeyPath != "":
		data, err := os.ReadFile(cfg.DKIMKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read dkim key: %v", ErrInvalidConfig, err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("%w: DKIMPrivateKey or DKIMKeyPath is required", ErrInvalidConfig)
	}

	return NewDKIMSigner(cfg.DKIMSelector, cfg.DKIMDomain, pemData)
}

// Sign returns the message with a DKIM-Signature header prepended.
// A nil signer returns the message unchanged.
func (s *DKIMSigner) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("dkim: sign: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return signer, nil
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at == -1 || at == len(address)-1 {
		return ""
	}
	domain := strings.TrimSpace(strings.TrimSuffix(address[at+1:], ">"))
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}
