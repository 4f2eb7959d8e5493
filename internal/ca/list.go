package ca

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CertInfo describes one stored leaf certificate.
type CertInfo struct {
	CertID    string    `json:"certId"`
	Revoked   bool      `json:"isRevoked"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ListCertificates enumerates all stored leaf certificates, reading
// each leaf's expiry and cross-referencing the revoked set. Entries
// whose cert file is unreadable are skipped.
func (e *Engine) ListCertificates() ([]CertInfo, error) {
	entries, err := os.ReadDir(e.sessionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	certs := make([]CertInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		certID := entry.Name()
		leaf, err := e.readLeaf(certID)
		if err != nil {
			continue
		}
		certs = append(certs, CertInfo{
			CertID:    certID,
			Revoked:   e.IsRevoked(certID),
			ExpiresAt: leaf.NotAfter,
		})
	}

	return certs, nil
}

// PurgeExpired removes the storage entry of every leaf certificate
// whose NotAfter has passed, independent of revocation. Returns the
// number of purged entries. The sweep enumerates first and deletes
// after, so it never blocks issuance or revocation.
func (e *Engine) PurgeExpired() (int, error) {
	entries, err := os.ReadDir(e.sessionDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read session directory: %w", err)
	}

	now := time.Now()
	purged := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		certID := entry.Name()
		leaf, err := e.readLeaf(certID)
		if err != nil {
			// Unreadable leaf material is junk; remove it too
			if rmErr := os.RemoveAll(filepath.Join(e.sessionDir, certID)); rmErr == nil {
				purged++
				e.logger.Infof("Removed unreadable certificate entry: %s", certID)
			}
			continue
		}
		if now.After(leaf.NotAfter) {
			if err := os.RemoveAll(filepath.Join(e.sessionDir, certID)); err != nil {
				e.logger.Errorf("Failed to remove expired certificate %s: %v", certID, err)
				continue
			}
			purged++
			e.logger.Infof("Removed expired certificate: %s", certID)
		}
	}

	return purged, nil
}

func (e *Engine) readLeaf(certID string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Join(e.sessionDir, certID, "cert.pem"))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode cert PEM for %s", certID)
	}
	return x509.ParseCertificate(block.Bytes)
}
