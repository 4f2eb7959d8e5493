package cache

import "fmt"

// Key builds a namespaced Redis key. Tenant-scoped keys are prefixed
// with the tenant id so per-tenant enumeration stays a prefix scan.
// A tenantID of 0 means the key is global.
func Key(category, identifier string, tenantID int) string {
	if tenantID != 0 {
		return fmt.Sprintf("tenant:%d:%s:%s", tenantID, category, identifier)
	}
	return fmt.Sprintf("%s:%s", category, identifier)
}
