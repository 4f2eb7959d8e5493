package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// IssuedCertificate is the result of a successful issuance.
type IssuedCertificate struct {
	CertID    string    `json:"certId"`
	CertPEM   string    `json:"cert"`
	KeyPEM    string    `json:"key"`
	CACertPEM string    `json:"caCert"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueCertificate generates a fresh leaf key pair bound to
// (identity, session, role) and signs it with the root key. The
// signed lifetime is day-granular (ceil of the TTL); ExpiresAt carries
// the exact requested TTL, which is what callers enforce against.
// Key and certificate are persisted under sessions/<certId>/.
func (e *Engine) IssueCertificate(identity, sessionID, role string, ttlSeconds int) (*IssuedCertificate, error) {
	if identity == "" || sessionID == "" {
		return nil, fmt.Errorf("identity and sessionID are required")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	if role == "" {
		role = "operator"
	}

	now := time.Now()
	certID := fmt.Sprintf("%s-%s-%d", identity, sessionID, now.UnixMilli())

	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate leaf key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// Signed lifetime rounds the TTL up to whole days
	days := (ttlSeconds + 86399) / 86400
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:         identity,
			Organization:       []string{"C2 Platform"},
			OrganizationalUnit: []string{role},
			SerialNumber:       sessionID,
		},
		NotBefore:   now,
		NotAfter:    now.Add(time.Duration(days) * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, e.caCert, &leafKey.PublicKey, e.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(leafKey),
	})

	certDir := filepath.Join(e.sessionDir, certID)
	if err := os.MkdirAll(certDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(certDir, "key.pem"), keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write leaf key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(certDir, "cert.pem"), certPEM, 0644); err != nil {
		return nil, fmt.Errorf("failed to write leaf cert: %w", err)
	}

	e.logger.Infof("Generated certificate for %s (session: %s, TTL: %ds)", identity, sessionID, ttlSeconds)

	return &IssuedCertificate{
		CertID:    certID,
		CertPEM:   string(certPEM),
		KeyPEM:    string(keyPEM),
		CACertPEM: e.caCertPEM,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(ttlSeconds) * time.Second),
	}, nil
}
