package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL     MySQLConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CA        CAConfig
	Blacklist BlacklistConfig
	Queue     QueueConfig
	Migrate   bool
	HTTPAddr  string
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// CAConfig holds certificate authority configuration
type CAConfig struct {
	Dir              string
	LeafTTLSec       int
	PurgeEnabled     bool
	PurgeIntervalSec int
}

// BlacklistConfig holds revocation engine configuration
type BlacklistConfig struct {
	DefaultTTLSec         int
	FailOpen              bool
	FingerprintRevocation bool
}

// QueueConfig holds work queue configuration
type QueueConfig struct {
	VisibilitySec      int
	RequeueEnabled     bool
	RequeueIntervalSec int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "c2core"),
		},
		CA: CAConfig{
			Dir:              getEnv("CA_DIR", "/certs"),
			LeafTTLSec:       getEnvInt("CA_LEAF_TTL_SEC", 3600),
			PurgeEnabled:     getEnv("CA_PURGE_ENABLED", "1") == "1",
			PurgeIntervalSec: getEnvInt("CA_PURGE_INTERVAL_SEC", 3600),
		},
		Blacklist: BlacklistConfig{
			DefaultTTLSec:         getEnvInt("BLACKLIST_DEFAULT_TTL_SEC", 7*24*3600),
			FailOpen:              getEnv("BLACKLIST_FAIL_OPEN", "1") == "1",
			FingerprintRevocation: getEnv("BLACKLIST_FINGERPRINT_REVOCATION", "0") == "1",
		},
		Queue: QueueConfig{
			VisibilitySec:      getEnvInt("QUEUE_VISIBILITY_SEC", 3600),
			RequeueEnabled:     getEnv("QUEUE_REQUEUE_ENABLED", "0") == "1",
			RequeueIntervalSec: getEnvInt("QUEUE_REQUEUE_INTERVAL_SEC", 60),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_seconds", 86400) / 60,
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "c2core"),
		},
		CA: CAConfig{
			Dir:              getValue("CA_DIR", "ca", "dir", "/certs"),
			LeafTTLSec:       getValueInt("CA_LEAF_TTL_SEC", "ca", "leaf_ttl_sec", 3600),
			PurgeEnabled:     getValueBool("CA_PURGE_ENABLED", "ca", "purge_enabled", true),
			PurgeIntervalSec: getValueInt("CA_PURGE_INTERVAL_SEC", "ca", "purge_interval_sec", 3600),
		},
		Blacklist: BlacklistConfig{
			DefaultTTLSec:         getValueInt("BLACKLIST_DEFAULT_TTL_SEC", "blacklist", "default_ttl_sec", 7*24*3600),
			FailOpen:              getValueBool("BLACKLIST_FAIL_OPEN", "blacklist", "fail_open", true),
			FingerprintRevocation: getValueBool("BLACKLIST_FINGERPRINT_REVOCATION", "blacklist", "fingerprint_revocation", false),
		},
		Queue: QueueConfig{
			VisibilitySec:      getValueInt("QUEUE_VISIBILITY_SEC", "queue", "visibility_sec", 3600),
			RequeueEnabled:     getValueBool("QUEUE_REQUEUE_ENABLED", "queue", "requeue_enabled", false),
			RequeueIntervalSec: getValueInt("QUEUE_REQUEUE_INTERVAL_SEC", "queue", "requeue_interval_sec", 60),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}
