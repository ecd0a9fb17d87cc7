// Package config loads pipeline configuration from environment, .env files,
// and an optional YAML config file, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the reconciliation pipeline.
type Config struct {
	Mode     string         `yaml:"mode"` // "single-process" (default) or "worker"
	Storage  StorageConfig  `yaml:"storage"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Cache    CacheConfig    `yaml:"cache"`
	Sync     SyncConfig     `yaml:"sync"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// StorageConfig describes the spatial store and the local archive cache.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ArchiveCache  string `yaml:"archive_cache"`   // sqlite manifest of downloaded/transformed archives
	DownloadsDir  string `yaml:"downloads_dir"`   // downloads/<council>_<YYYY-MM>.zip
	GeoJSONDir    string `yaml:"geojson_dir"`     // geojson/<council>_<YYYY-MM>.geojson
	AnalysisDir   string `yaml:"analysis_dir"`    // analysis/<timestamp>_<run-key>/
	LogsDir       string `yaml:"logs_dir"`
	RemoteBackup  string `yaml:"remote_backup"`   // optional off-host backup destination
}

// UpstreamConfig describes the two external Land Registry datasets.
type UpstreamConfig struct {
	InspireIndexURL    string `yaml:"inspire_index_url"`
	OwnershipCatalogue string `yaml:"ownership_catalogue_url"`
	APIKey             string `yaml:"api_key"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
}

// GeocoderConfig is optional; an empty APIKey disables the Moved tag.
type GeocoderConfig struct {
	ProviderURL string `yaml:"provider_url"`
	APIKey      string `yaml:"api_key"`
}

// CacheConfig is optional; an empty URL disables geocode-response caching.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// SyncConfig configures operator notification.
type SyncConfig struct {
	ChatWebhookURL string `yaml:"chat_webhook_url"`
}

// PipelineConfig tunes the reconciliation pipeline itself.
type PipelineConfig struct {
	ChunkSize                 int     `yaml:"chunk_size"`                   // bulk DB round-trip size, default 10000
	IngestWorkers             int     `yaml:"ingest_workers"`               // concurrent GeoJSON feature workers
	MaxConsecutiveStalls      int     `yaml:"max_consecutive_stalls"`       // §4.3.3 retry discipline, default 3
	EnableMergeSegmentCascade bool    `yaml:"enable_merge_segment_cascade"` // §4.3.1 gated tags
	MinCouncilFeatureCount    int     `yaml:"min_council_feature_count"`    // sanity check, default 100
	CoordinatePrecision       int     `yaml:"coordinate_precision"`         // decimal places, default 7
}

// HTTPConfig carries the shared secret consumed by the external query surface (§6).
type HTTPConfig struct {
	SharedSecret string `yaml:"shared_secret"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Mode: "single-process",
		Storage: StorageConfig{
			ArchiveCache: filepath.Join(".inspire-pipeline", "archive-cache.db"),
			DownloadsDir: "downloads",
			GeoJSONDir:   "geojson",
			AnalysisDir:  "analysis",
			LogsDir:      "logs",
		},
		Upstream: UpstreamConfig{
			RateLimitPerSecond: 2,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			ChunkSize:              10000,
			IngestWorkers:          20,
			MaxConsecutiveStalls:   3,
			MinCouncilFeatureCount: 100,
			CoordinatePrecision:    7,
		},
	}
}

// Load loads configuration from file, layering env vars and .env files on top.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("upstream", cfg.Upstream)
	v.SetDefault("geocoder", cfg.Geocoder)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("pipeline", cfg.Pipeline)

	v.SetEnvPrefix("INSPIRE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".inspire-pipeline")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence, highest first.
// godotenv.Load never overwrites a variable that is already set, so the
// process environment wins over every file, and earlier files win over later.
func loadEnvFiles() {
	envFiles := []string{".env.local", ".env", ".env.example"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
}

// applyEnvOverrides applies explicit environment variable overrides, which
// take precedence over both the config file and the OS keychain.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("INSPIRE_INDEX_URL"); v != "" {
		cfg.Upstream.InspireIndexURL = v
	}
	if v := os.Getenv("OWNERSHIP_CATALOGUE_URL"); v != "" {
		cfg.Upstream.OwnershipCatalogue = v
	}
	if v := os.Getenv("UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	} else {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if key, err := km.GetUpstreamAPIKey(); err == nil && key != "" {
				cfg.Upstream.APIKey = key
			}
		}
	}
	if v := os.Getenv("GEOCODER_PROVIDER_URL"); v != "" {
		cfg.Geocoder.ProviderURL = v
	}
	if v := os.Getenv("GEOCODER_API_KEY"); v != "" {
		cfg.Geocoder.APIKey = v
	} else {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if key, err := km.GetGeocoderAPIKey(); err == nil && key != "" {
				cfg.Geocoder.APIKey = key
			}
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("CHAT_WEBHOOK_URL"); v != "" {
		cfg.Sync.ChatWebhookURL = v
	}
	if v := os.Getenv("HTTP_SHARED_SECRET"); v != "" {
		cfg.HTTP.SharedSecret = v
	} else {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if key, err := km.GetSharedSecret(); err == nil && key != "" {
				cfg.HTTP.SharedSecret = key
			}
		}
	}
	if v := os.Getenv("REMOTE_BACKUP_DESTINATION"); v != "" {
		cfg.Storage.RemoteBackup = v
	}
	if v := os.Getenv("PIPELINE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ChunkSize = n
		}
	}
	if v := os.Getenv("PIPELINE_MAX_STALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxConsecutiveStalls = n
		}
	}
	if v := os.Getenv("PIPELINE_ENABLE_MERGE_SEGMENT"); v != "" {
		cfg.Pipeline.EnableMergeSegmentCascade = v == "true"
	}
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("storage", c.Storage)
	v.Set("upstream", c.Upstream)
	v.Set("geocoder", c.Geocoder)
	v.Set("cache", c.Cache)
	v.Set("sync", c.Sync)
	v.Set("pipeline", c.Pipeline)
	v.Set("http", c.HTTP)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
