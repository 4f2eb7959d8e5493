package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/test")
	os.Setenv("JWT_SECRET", "test-secret")
	defer func() {
		os.Unsetenv("MYSQL_DSN")
		os.Unsetenv("JWT_SECRET")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.MySQL.DSN == "" {
		t.Error("MySQL DSN should not be empty")
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}

	if cfg.Blacklist.DefaultTTLSec != 7*24*3600 {
		t.Errorf("Expected default blacklist TTL of 7 days, got %d", cfg.Blacklist.DefaultTTLSec)
	}

	if !cfg.Blacklist.FailOpen {
		t.Error("Blacklist check should fail open by default")
	}

	if cfg.Queue.VisibilitySec != 3600 {
		t.Errorf("Expected default visibility window 3600s, got %d", cfg.Queue.VisibilitySec)
	}

	if cfg.Queue.RequeueEnabled {
		t.Error("Requeue sweeper should be disabled by default")
	}
}

func TestLoad_MissingMySQLDSN(t *testing.T) {
	// Ensure MYSQL_DSN is not set
	os.Unsetenv("MYSQL_DSN")
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when MYSQL_DSN is missing")
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/test")
	os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("MYSQL_DSN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("MYSQL_DSN", "custom:dsn@tcp(localhost:3306)/custom")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("REDIS_ADDR", "redis.example.com:6379")
	os.Setenv("BLACKLIST_FAIL_OPEN", "0")
	os.Setenv("BLACKLIST_FINGERPRINT_REVOCATION", "1")
	os.Setenv("QUEUE_REQUEUE_ENABLED", "1")
	os.Setenv("CA_DIR", "/tmp/test-certs")

	defer func() {
		os.Unsetenv("MYSQL_DSN")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("BLACKLIST_FAIL_OPEN")
		os.Unsetenv("BLACKLIST_FINGERPRINT_REVOCATION")
		os.Unsetenv("QUEUE_REQUEUE_ENABLED")
		os.Unsetenv("CA_DIR")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Addr != "redis.example.com:6379" {
		t.Errorf("Expected custom Redis addr, got %s", cfg.Redis.Addr)
	}

	if cfg.Blacklist.FailOpen {
		t.Error("Expected fail-open disabled")
	}

	if !cfg.Blacklist.FingerprintRevocation {
		t.Error("Expected fingerprint revocation enabled")
	}

	if !cfg.Queue.RequeueEnabled {
		t.Error("Expected requeue sweeper enabled")
	}

	if cfg.CA.Dir != "/tmp/test-certs" {
		t.Errorf("Expected custom CA dir, got %s", cfg.CA.Dir)
	}
}
