// Package config loads environment-driven settings for the OMS process:
// HTTP port, database path, broker credentials, admin auth secret, and
// the path to the YAML risk/regime/strategy-budget overlay. Ported from
// the teacher's pkg/config/config.go getEnv* idiom.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sehyungp92/k-stock-trader-oms/pkg/crypto"
)

// Config holds environment-driven settings for the OMS.
type Config struct {
	Port string

	// Broker credentials (consumed by the concrete broker client; the
	// OMS core itself only depends on internal/broker.RawClient).
	BrokerAppKey    string
	BrokerAppSecret string
	BrokerAccountNo string
	BrokerBaseURL   string

	// DryRun runs the bundled synthetic broker client instead of a real
	// broker connection, for local development and tests.
	DryRun       bool
	DryRunDBPath string

	// Database
	DBPath string

	// Auth / licensing
	JWTSecret     string
	LicenseServer string
	LicenseToken  string

	// Risk config overlay (YAML); empty means DefaultConfig() only.
	RiskConfigPath string

	// Symbol -> sector map overlay (YAML); empty means unknown-sector
	// policy applies to every symbol.
	SectorMapPath string

	// Localization-free: this OMS has no i18n layer (out of scope).
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/oms.db")
	}

	appKey, err := decryptIfSealed(os.Getenv("BROKER_APP_KEY"))
	if err != nil {
		return nil, fmt.Errorf("decrypt BROKER_APP_KEY: %w", err)
	}
	appSecret, err := decryptIfSealed(os.Getenv("BROKER_APP_SECRET"))
	if err != nil {
		return nil, fmt.Errorf("decrypt BROKER_APP_SECRET: %w", err)
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		BrokerAppKey:    appKey,
		BrokerAppSecret: appSecret,
		BrokerAccountNo: os.Getenv("BROKER_ACCOUNT_NO"),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", ""),
		DryRun:          getEnvBool("DRY_RUN", true),
		DryRunDBPath:    getEnv("DRY_RUN_DB_PATH", "./data/oms_dry.db"),
		DBPath:          dbPath,
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		LicenseServer:   getEnv("LICENSE_SERVER", ""),
		LicenseToken:    os.Getenv("LICENSE_TOKEN"),
		RiskConfigPath:  getEnv("RISK_CONFIG_PATH", "./config/risk.yaml"),
		SectorMapPath:   getEnv("SECTOR_MAP_PATH", "./config/sectors.yaml"),
	}, nil
}

// decryptIfSealed passes plain values through untouched. Broker
// credentials wrapped by crypto.Encryptor (ENC[vN]:...) are only
// decrypted when a MASTER_ENCRYPTION_KEY is configured, so an operator
// can keep sealed credentials in .env/deploy secrets instead of plain
// text and only needs the master key present on the box that runs live.
func decryptIfSealed(value string) (string, error) {
	if value == "" || crypto.ParseVersion(value) == 0 {
		return value, nil
	}
	km, err := crypto.NewKeyManager()
	if err != nil {
		return "", fmt.Errorf("load encryption key: %w", err)
	}
	return km.Decrypt(value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.ToLower(v) == "true"
}

