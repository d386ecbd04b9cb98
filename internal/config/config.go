// Package config loads the controller's environment-driven configuration,
// mirroring the teacher's Config/Load() shape with .env support via
// godotenv, generalised to the deployment engine's ambient settings (§6).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every setting the composition root reads from the
// environment. MinFreeDiskBytes and KeepLastN are parsed here, but
// services.Orchestrator uses its own MinFreeDiskBytes and KeepLastN
// constants instead of these values.
type Config struct {
	Port              string
	AllowedOrigins    []string
	DeploymentsPath   string
	EncryptionKeyHex  string
	SSHTempDir        string
	MinFreeDiskBytes  uint64
	KeepLastN         int
	WebhookRateLimit  float64
	DatabaseURL       string
}

// Load reads a ".env" file if present (missing is not an error, matching
// the teacher's audit tool), then resolves every setting from the process
// environment with sensible fallbacks.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		DeploymentsPath:  getEnv("DEPLOYMENTS_PATH", defaultDeploymentsPath()),
		EncryptionKeyHex: os.Getenv("ENCRYPTION_KEY"),
		SSHTempDir:       getEnv("SSH_TEMP_DIR", defaultSSHTempDir()),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
	}

	minFree, err := getEnvUint(MinFreeDiskBytesEnv, defaultMinFreeDiskBytes)
	if err != nil {
		return nil, err
	}
	cfg.MinFreeDiskBytes = minFree

	keepLast, err := getEnvInt("KEEP_LAST_N", defaultKeepLastN)
	if err != nil {
		return nil, err
	}
	cfg.KeepLastN = keepLast

	rate, err := getEnvFloat("WEBHOOK_RATE_LIMIT_RPS", defaultWebhookRateLimit)
	if err != nil {
		return nil, err
	}
	cfg.WebhookRateLimit = rate

	if cfg.EncryptionKeyHex == "" {
		return nil, fmt.Errorf("config: ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

const (
	// MinFreeDiskBytesEnv names the variable parsed into
	// Config.MinFreeDiskBytes; services.Orchestrator does not read it.
	MinFreeDiskBytesEnv     = "MIN_FREE_DISK_BYTES"
	defaultMinFreeDiskBytes = 5 * 1024 * 1024 * 1024
	defaultKeepLastN        = 5
	defaultWebhookRateLimit = 5.0
)

func defaultDeploymentsPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "deployments"
	}
	return cwd + "/deployments"
}

func defaultSSHTempDir() string {
	return os.TempDir() + "/deploy-center-ssh-runtime"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) (uint64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, trimSpace(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
