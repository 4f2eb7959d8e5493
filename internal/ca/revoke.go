package ca

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Revoke adds certID to the revoked set, rewrites the revocation list
// file and mirrors the entry to the durable store. Revocation is
// monotonic and idempotent: revoking an already-revoked or unknown
// certID still succeeds, so a blacklist cascade can retry freely.
func (e *Engine) Revoke(certID, reason string) error {
	if certID == "" {
		return fmt.Errorf("certID is required")
	}
	if reason == "" {
		reason = "unspecified"
	}

	e.mu.Lock()
	e.revoked[certID] = struct{}{}
	e.mu.Unlock()

	e.logger.Infof("Certificate revoked: %s (reason: %s)", certID, reason)

	// The in-memory set is authoritative at runtime; failures writing
	// the derived list or the durable mirror are logged, not returned.
	if err := e.writeCRL(); err != nil {
		e.logger.Errorf("Failed to update revocation list file: %v", err)
	}
	if err := e.store.SaveRevocation(certID, reason, time.Now()); err != nil {
		e.logger.Errorf("Failed to persist revocation of %s: %v", certID, err)
	}

	return nil
}

// IsRevoked reports whether certID is in the revoked set.
func (e *Engine) IsRevoked(certID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.revoked[certID]
	return ok
}

// RevocationList renders the revoked set as a newline-delimited list
// of certIDs, the same format served from the revocation list file.
func (e *Engine) RevocationList() string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.revoked))
	for id := range e.revoked {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	sort.Strings(ids)
	return strings.Join(ids, "\n")
}

// writeCRL rewrites the flat revocation list file.
func (e *Engine) writeCRL() error {
	return os.WriteFile(e.crlPath, []byte(e.RevocationList()), 0644)
}

// loadRevoked rehydrates the revoked set from the durable store.
func (e *Engine) loadRevoked() error {
	ids, err := e.store.ListRevocations()
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, id := range ids {
		e.revoked[id] = struct{}{}
	}
	n := len(e.revoked)
	e.mu.Unlock()

	if n > 0 {
		e.logger.Infof("Restored %d revoked certificates from store", n)
	}
	return nil
}
