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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	rootKeyBits = 4096
	leafKeyBits = 2048
	rootCAYears = 10
)

// Config holds the CA engine configuration
type Config struct {
	// Dir is the root of the certificate store: ca.key/ca.crt at the
	// top level, one directory per issued leaf under sessions/, and
	// the flat revocation list at crl.txt.
	Dir string
}

// Engine owns the root signing key and the issued-certificate store.
// The in-memory revoked set is authoritative at runtime; every
// revocation is also mirrored to the RevocationStore so the set
// survives a restart.
type Engine struct {
	dir        string
	sessionDir string
	crlPath    string

	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	caCertPEM string

	mu      sync.RWMutex
	revoked map[string]struct{}

	store  RevocationStore
	logger *logrus.Entry
}

// New creates the CA engine, loading the root key/certificate from
// disk or generating them on first start. A bootstrap failure is
// returned as an error; the process must not run without a trust root.
func New(cfg Config, store RevocationStore, logger *logrus.Entry) (*Engine, error) {
	e := &Engine{
		dir:        cfg.Dir,
		sessionDir: filepath.Join(cfg.Dir, "sessions"),
		crlPath:    filepath.Join(cfg.Dir, "crl.txt"),
		revoked:    make(map[string]struct{}),
		store:      store,
		logger:     logger.WithField("component", "ca-engine"),
	}

	if err := os.MkdirAll(e.sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create certificate directories: %w", err)
	}

	if err := e.loadRoot(); err != nil {
		e.logger.Info("No root CA found, generating...")
		if err := e.generateRoot(); err != nil {
			return nil, fmt.Errorf("failed to generate root CA: %w", err)
		}
		if err := e.saveRoot(); err != nil {
			return nil, fmt.Errorf("failed to save root CA: %w", err)
		}
		e.logger.Info("Root CA generated successfully")
	}

	if err := e.loadRevoked(); err != nil {
		return nil, fmt.Errorf("failed to load revoked set: %w", err)
	}

	return e, nil
}

// CACertPEM returns the root certificate in PEM form for relying
// parties that need the chain.
func (e *Engine) CACertPEM() string {
	return e.caCertPEM
}

func (e *Engine) rootKeyPath() string  { return filepath.Join(e.dir, "ca-key.pem") }
func (e *Engine) rootCertPath() string { return filepath.Join(e.dir, "ca-cert.pem") }

// loadRoot loads the root key and certificate from disk
func (e *Engine) loadRoot() error {
	certPEM, err := os.ReadFile(e.rootCertPath())
	if err != nil {
		return fmt.Errorf("failed to read CA cert: %w", err)
	}

	keyPEM, err := os.ReadFile(e.rootKeyPath())
	if err != nil {
		return fmt.Errorf("failed to read CA key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return fmt.Errorf("failed to decode CA cert PEM")
	}
	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("failed to decode CA key PEM")
	}
	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA key: %w", err)
	}

	e.caCert = caCert
	e.caKey = caKey
	e.caCertPEM = string(certPEM)

	return nil
}

// generateRoot generates the self-signed root key and certificate
func (e *Engine) generateRoot() error {
	caKey, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(rootCAYears * 365 * 24 * time.Hour)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:         "C2 Platform Root CA",
			Organization:       []string{"C2 Platform"},
			OrganizationalUnit: []string{"Security"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &caKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	certPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})

	e.caCert = caCert
	e.caKey = caKey
	e.caCertPEM = string(certPEMBytes)

	return nil
}

// saveRoot writes the root key and certificate to disk
func (e *Engine) saveRoot() error {
	keyPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(e.caKey),
	})

	if err := os.WriteFile(e.rootCertPath(), []byte(e.caCertPEM), 0644); err != nil {
		return fmt.Errorf("failed to write CA cert: %w", err)
	}

	// Key file with restricted permissions
	if err := os.WriteFile(e.rootKeyPath(), keyPEMBytes, 0600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}

	return nil
}
