package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeRevocationStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{entries: make(map[string]string)}
}

func (s *fakeRevocationStore) SaveRevocation(certID, reason string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[certID]; !ok {
		s.entries[certID] = reason
	}
	return nil
}

func (s *fakeRevocationStore) ListRevocations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(logger)
}

func newTestEngine(t *testing.T, store RevocationStore) *Engine {
	t.Helper()
	engine, err := New(Config{Dir: t.TempDir()}, store, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return engine
}

func TestIssueCertificate(t *testing.T) {
	engine := newTestEngine(t, newFakeRevocationStore())

	issued, err := engine.IssueCertificate("agent-7", "s1", "agent", 3600)
	if err != nil {
		t.Fatalf("IssueCertificate() failed: %v", err)
	}

	if !strings.HasPrefix(issued.CertID, "agent-7-s1-") {
		t.Errorf("Unexpected certId: %s", issued.CertID)
	}

	// Parse the leaf and verify the subject encoding
	block, _ := pem.Decode([]byte(issued.CertPEM))
	if block == nil {
		t.Fatal("Failed to decode issued cert PEM")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("Failed to parse issued cert: %v", err)
	}

	if leaf.Subject.CommonName != "agent-7" {
		t.Errorf("Expected CN agent-7, got %s", leaf.Subject.CommonName)
	}
	if len(leaf.Subject.OrganizationalUnit) == 0 || leaf.Subject.OrganizationalUnit[0] != "agent" {
		t.Errorf("Expected OU agent, got %v", leaf.Subject.OrganizationalUnit)
	}
	if leaf.Subject.SerialNumber != "s1" {
		t.Errorf("Expected subject serial number s1, got %s", leaf.Subject.SerialNumber)
	}

	// Leaf must chain to the root
	rootBlock, _ := pem.Decode([]byte(engine.CACertPEM()))
	root, err := x509.ParseCertificate(rootBlock.Bytes)
	if err != nil {
		t.Fatalf("Failed to parse root cert: %v", err)
	}
	if err := leaf.CheckSignatureFrom(root); err != nil {
		t.Errorf("Leaf is not signed by the root: %v", err)
	}

	// Reported expiry follows the requested TTL, signed lifetime is
	// day-granular
	wantExpiry := time.Now().Add(time.Hour)
	if issued.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || issued.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("Unexpected ExpiresAt: %v", issued.ExpiresAt)
	}
	if leaf.NotAfter.Before(time.Now().Add(23 * time.Hour)) {
		t.Errorf("Expected day-granular NotAfter, got %v", leaf.NotAfter)
	}

	// Key and cert persisted under the per-cert directory
	certDir := filepath.Join(engine.sessionDir, issued.CertID)
	for _, name := range []string{"key.pem", "cert.pem"} {
		if _, err := os.Stat(filepath.Join(certDir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}
}

func TestIssueCertificate_MissingIdentity(t *testing.T) {
	engine := newTestEngine(t, newFakeRevocationStore())

	if _, err := engine.IssueCertificate("", "s1", "agent", 3600); err == nil {
		t.Error("IssueCertificate() should fail without identity")
	}
	if _, err := engine.IssueCertificate("agent-7", "", "agent", 3600); err == nil {
		t.Error("IssueCertificate() should fail without sessionID")
	}
}

func TestRevoke_Monotonic(t *testing.T) {
	engine := newTestEngine(t, newFakeRevocationStore())

	issued, err := engine.IssueCertificate("agent-7", "s1", "agent", 3600)
	if err != nil {
		t.Fatalf("IssueCertificate() failed: %v", err)
	}

	if engine.IsRevoked(issued.CertID) {
		t.Error("Fresh certificate should not be revoked")
	}

	if err := engine.Revoke(issued.CertID, "compromised"); err != nil {
		t.Fatalf("Revoke() failed: %v", err)
	}
	if !engine.IsRevoked(issued.CertID) {
		t.Error("IsRevoked() should be true after Revoke()")
	}

	// Redundant revoke still succeeds and the flag stays set
	if err := engine.Revoke(issued.CertID, "again"); err != nil {
		t.Fatalf("Redundant Revoke() failed: %v", err)
	}
	if !engine.IsRevoked(issued.CertID) {
		t.Error("IsRevoked() must stay true after a second Revoke()")
	}

	if !strings.Contains(engine.RevocationList(), issued.CertID) {
		t.Error("RevocationList() should contain the revoked certId")
	}

	// The flat list file is rewritten on revocation
	crl, err := os.ReadFile(engine.crlPath)
	if err != nil {
		t.Fatalf("Failed to read revocation list file: %v", err)
	}
	if !strings.Contains(string(crl), issued.CertID) {
		t.Error("Revocation list file should contain the revoked certId")
	}
}

func TestRevoke_UnknownCertID(t *testing.T) {
	engine := newTestEngine(t, newFakeRevocationStore())

	// Revoking an unknown certId succeeds to keep the blacklist
	// cascade retryable
	if err := engine.Revoke("never-issued", "test"); err != nil {
		t.Fatalf("Revoke() of unknown certId failed: %v", err)
	}
	if !engine.IsRevoked("never-issued") {
		t.Error("Unknown certId should still be marked revoked")
	}
}

func TestRevokedSetSurvivesRestart(t *testing.T) {
	store := newFakeRevocationStore()
	dir := t.TempDir()

	engine, err := New(Config{Dir: dir}, store, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	issued, err := engine.IssueCertificate("agent-7", "s1", "agent", 3600)
	if err != nil {
		t.Fatalf("IssueCertificate() failed: %v", err)
	}
	if err := engine.Revoke(issued.CertID, "compromised"); err != nil {
		t.Fatalf("Revoke() failed: %v", err)
	}

	// Simulate a restart: a new engine over the same dir and store
	restarted, err := New(Config{Dir: dir}, store, testLogger())
	if err != nil {
		t.Fatalf("New() after restart failed: %v", err)
	}

	if !restarted.IsRevoked(issued.CertID) {
		t.Error("Revocation must survive a restart")
	}
	if restarted.CACertPEM() != engine.CACertPEM() {
		t.Error("Restarted engine should load the same root certificate")
	}
}

func TestListCertificates(t *testing.T) {
	engine := newTestEngine(t, newFakeRevocationStore())

	first, err := engine.IssueCertificate("agent-1", "s1", "agent", 3600)
	if err != nil {
		t.Fatalf("IssueCertificate() failed: %v", err)
	}
	second, err := engine.IssueCertificate("agent-2", "s2", "agent", 7200)
	if err != nil {
		t.Fatalf("IssueCertificate() failed: %v", err)
	}
	if err := engine.Revoke(first.CertID, "compromised"); err != nil {
		t.Fatalf("Revoke() failed: %v", err)
	}

	certs, err := engine.ListCertificates()
	if err != nil {
		t.Fatalf("ListCertificates() failed: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("Expected 2 certificates, got %d", len(certs))
	}

	byID := make(map[string]CertInfo)
	for _, c := range certs {
		byID[c.CertID] = c
	}
	if !byID[first.CertID].Revoked {
		t.Error("First certificate should be listed as revoked")
	}
	if byID[second.CertID].Revoked {
		t.Error("Second certificate should not be listed as revoked")
	}
}

func TestPurgeExpired(t *testing.T) {
	engine := newTestEngine(t, newFakeRevocationStore())

	live, err := engine.IssueCertificate("agent-1", "s1", "agent", 3600)
	if err != nil {
		t.Fatalf("IssueCertificate() failed: %v", err)
	}

	// Plant an already-expired leaf directly in the session store
	writeExpiredLeaf(t, engine.sessionDir, "expired-cert")

	purged, err := engine.PurgeExpired()
	if err != nil {
		t.Fatalf("PurgeExpired() failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged certificate, got %d", purged)
	}

	if _, err := os.Stat(filepath.Join(engine.sessionDir, "expired-cert")); !os.IsNotExist(err) {
		t.Error("Expired certificate directory should be removed")
	}
	if _, err := os.Stat(filepath.Join(engine.sessionDir, live.CertID)); err != nil {
		t.Errorf("Live certificate directory should remain: %v", err)
	}
}

// writeExpiredLeaf writes a self-signed certificate with NotAfter in
// the past into the session store under certID.
func writeExpiredLeaf(t *testing.T, sessionDir, certID string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "expired"},
		NotBefore:    time.Now().Add(-48 * time.Hour),
		NotAfter:     time.Now().Add(-24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create expired cert: %v", err)
	}

	dir := filepath.Join(sessionDir, certID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create cert dir: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, "cert.pem"), certPEM, 0644); err != nil {
		t.Fatalf("Failed to write expired cert: %v", err)
	}
}
