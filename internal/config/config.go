// Package config loads runtime settings from the environment (with .env
// support) and device/rule definitions from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/netwatch-io/netwatch/internal/collectors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/netwatch-io/netwatch/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir string

	// Storage
	DatabasePath       string
	EncryptionKeyPath  string
	BatchSize          int
	MaxDBSizeMB        int
	EnableEncryption   bool
	EnableCompression  bool
	CompressBackups    bool
	BackupDir          string
	RetentionOverrides map[models.MetricFamily]storage.RetentionPolicy

	// Collection
	MaxWorkers         int
	CollectionInterval time.Duration
	FlushInterval      time.Duration

	// Alerting
	EvaluationTick   time.Duration
	BaselineInterval time.Duration
	Sensitivity      float64

	// Notifications
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Files
	DevicesFile     string
	RulesFile       string
	CredentialsFile string
	ScrapeFile      string

	// Logging
	LogLevel  string
	LogFormat string

	// HTTP listener for the alert stream
	ListenAddr string
}

// Load reads .env (when present) and the NETWATCH_* environment, applying
// defaults for everything unset.
func Load() (*Config, error) {
	dataDir := os.Getenv("NETWATCH_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/netwatch"
	}

	// A .env alongside the data dir wins over the working directory one.
	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err == nil {
		log.Info().Str("path", filepath.Join(dataDir, ".env")).Msg("Loaded environment file")
	} else if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded .env from working directory")
	}

	cfg := &Config{
		DataDir:            dataDir,
		DatabasePath:       filepath.Join(dataDir, "metrics.db"),
		EncryptionKeyPath:  filepath.Join(dataDir, ".storage_key"),
		BatchSize:          envInt("NETWATCH_BATCH_SIZE", 1000),
		MaxDBSizeMB:        envInt("NETWATCH_MAX_DB_SIZE_MB", 1024),
		EnableEncryption:   envBool("NETWATCH_ENCRYPTION", true),
		EnableCompression:  envBool("NETWATCH_COMPRESSION", true),
		CompressBackups:    envBool("NETWATCH_COMPRESS_BACKUPS", true),
		BackupDir:          envOr("NETWATCH_BACKUP_DIR", filepath.Join(dataDir, "backups")),
		RetentionOverrides: make(map[models.MetricFamily]storage.RetentionPolicy),

		MaxWorkers:         envInt("NETWATCH_MAX_WORKERS", 10),
		CollectionInterval: envSeconds("NETWATCH_COLLECTION_INTERVAL_SECONDS", 30),
		FlushInterval:      envSeconds("NETWATCH_FLUSH_INTERVAL_SECONDS", 30),

		EvaluationTick:   envSeconds("NETWATCH_EVALUATION_TICK_SECONDS", 30),
		BaselineInterval: time.Duration(envInt("NETWATCH_BASELINE_REBUILD_HOURS", 1)) * time.Hour,
		Sensitivity:      envFloat("NETWATCH_SENSITIVITY", 2.0),

		RateLimitMax:    envInt("NETWATCH_RATE_LIMIT_MAX", 10),
		RateLimitWindow: envSeconds("NETWATCH_RATE_LIMIT_WINDOW_SECONDS", 3600),

		DevicesFile:     envOr("NETWATCH_DEVICES_FILE", filepath.Join(dataDir, "devices.json")),
		RulesFile:       envOr("NETWATCH_RULES_FILE", filepath.Join(dataDir, "rules.json")),
		CredentialsFile: envOr("NETWATCH_CREDENTIALS_FILE", filepath.Join(dataDir, "credentials.json")),
		ScrapeFile:      envOr("NETWATCH_SCRAPE_FILE", filepath.Join(dataDir, "scrape.json")),

		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogFormat:  envOr("LOG_FORMAT", ""),
		ListenAddr: envOr("NETWATCH_LISTEN", ":7744"),
	}

	if raw := os.Getenv("NETWATCH_DATABASE_PATH"); raw != "" {
		cfg.DatabasePath = raw
	}
	if raw := os.Getenv("NETWATCH_ENCRYPTION_KEY_PATH"); raw != "" {
		cfg.EncryptionKeyPath = raw
	}

	// NETWATCH_RETENTION=security:archive,bandwidth:long
	if raw := os.Getenv("NETWATCH_RETENTION"); raw != "" {
		overrides, err := parseRetention(raw)
		if err != nil {
			return nil, err
		}
		cfg.RetentionOverrides = overrides
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate catches settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.CollectionInterval < time.Second {
		return fmt.Errorf("collection interval must be >= 1s, got %s", c.CollectionInterval)
	}
	if c.Sensitivity <= 0 {
		return fmt.Errorf("sensitivity must be positive, got %g", c.Sensitivity)
	}
	return nil
}

func parseRetention(raw string) (map[models.MetricFamily]storage.RetentionPolicy, error) {
	out := make(map[models.MetricFamily]storage.RetentionPolicy)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad retention override %q, want family:policy", pair)
		}
		family := models.MetricFamily(strings.TrimSpace(parts[0]))
		policy := storage.RetentionPolicy(strings.TrimSpace(parts[1]))
		if _, ok := policy.Horizon(); !ok && policy != storage.RetentionPermanent {
			return nil, fmt.Errorf("unknown retention policy %q", parts[1])
		}
		out[family] = policy
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-integer environment value")
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-numeric environment value")
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := strings.ToLower(os.Getenv(key))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-boolean environment value")
	return fallback
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}

// deviceFile is the on-disk shape of one monitored device.
type deviceFile struct {
	Devices []deviceEntry `json:"devices"`
}

type deviceEntry struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Kind                string   `json:"kind"`
	Address             string   `json:"address"`
	CredentialRef       string   `json:"credentialRef,omitempty"`
	PollIntervalSeconds int      `json:"pollIntervalSeconds,omitempty"`
	Families            []string `json:"families,omitempty"`
}

// LoadDevices parses the devices JSON file. A missing file is an empty
// fleet, not an error.
func LoadDevices(path string) ([]models.Device, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}

	var file deviceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse devices file %s: %w", path, err)
	}

	devices := make([]models.Device, 0, len(file.Devices))
	for _, entry := range file.Devices {
		d := models.Device{
			ID:            entry.ID,
			Name:          entry.Name,
			Kind:          models.DeviceKind(entry.Kind),
			Address:       entry.Address,
			CredentialRef: entry.CredentialRef,
		}
		if entry.PollIntervalSeconds > 0 {
			d.PollInterval = time.Duration(entry.PollIntervalSeconds) * time.Second
		}
		if len(entry.Families) > 0 {
			d.Families = make(map[models.MetricFamily]bool, len(entry.Families))
			for _, f := range entry.Families {
				d.Families[models.MetricFamily(f)] = true
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// LoadScrapeConfig parses the scrape-pattern overrides file. A missing file
// leaves every field zero so the vendor defaults apply; a firmware update
// that moves a field means editing this file, not rebuilding.
func LoadScrapeConfig(path string) (collectors.ScrapeConfig, error) {
	var sc collectors.ScrapeConfig
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sc, nil
	}
	if err != nil {
		return sc, fmt.Errorf("read scrape config: %w", err)
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse scrape config %s: %w", path, err)
	}
	return sc, nil
}
