package cache

import "testing"

func TestKey_TenantScoped(t *testing.T) {
	key := Key("blacklist:agent", "agent-7", 3)
	if key != "tenant:3:blacklist:agent:agent-7" {
		t.Errorf("Unexpected tenant-scoped key: %s", key)
	}
}

func TestKey_Global(t *testing.T) {
	key := Key("blacklist:fingerprint", "abcd1234", 0)
	if key != "blacklist:fingerprint:abcd1234" {
		t.Errorf("Unexpected global key: %s", key)
	}
}
