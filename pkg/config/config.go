// Package config loads remedy.yaml, layers it over built-in defaults
// and validates the result. Secrets and deployment wiring (database
// DSN parts, broker selection, tool API keys) stay in the environment;
// the YAML holds behavior.
package config

import (
	"os"
	"time"
)

// Config is the root of remedy.yaml.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Packs         PacksConfig         `yaml:"packs"`
	Workers       WorkersConfig       `yaml:"workers"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Safety        SafetyConfig        `yaml:"safety"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Notifications NotificationsConfig `yaml:"notifications"`

	// Tenants the alert monitor sweeps. Exceptions of unlisted tenants
	// still flow through the pipeline; they just are not monitored.
	Tenants []string `yaml:"tenants"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PacksConfig points at the pack bundle directory.
type PacksConfig struct {
	Dir string `yaml:"dir"`
}

// WorkersConfig tunes the consumer stages.
type WorkersConfig struct {
	// Lease is how long a claimed ledger row stays reserved.
	Lease time.Duration `yaml:"lease"`
	// MaxAttempts bounds redeliveries before an event is parked.
	MaxAttempts int `yaml:"max_attempts"`
	// ReapInterval is how often expired leases are reclaimed.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// AlertsConfig tunes the built-in alert rules.
type AlertsConfig struct {
	VolumeThreshold     int           `yaml:"volume_threshold"`
	VolumeWindow        time.Duration `yaml:"volume_window"`
	RecurrenceThreshold int           `yaml:"recurrence_threshold"`
	RecurrenceWindow    time.Duration `yaml:"recurrence_window"`
	ApprovalMaxAge      time.Duration `yaml:"approval_max_age"`
	EvalInterval        time.Duration `yaml:"eval_interval"`
}

// SafetyConfig tunes violation persistence and incident promotion.
type SafetyConfig struct {
	ViolationsDir     string        `yaml:"violations_dir"`
	IncidentThreshold int           `yaml:"incident_threshold"`
	IncidentWindow    time.Duration `yaml:"incident_window"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider            string  `yaml:"provider"` // openai or hash
	Model               string  `yaml:"model"`
	Endpoint            string  `yaml:"endpoint"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	Dimensions          int     `yaml:"dimensions"`
	CacheDir            string  `yaml:"cache_dir"`
	CacheSize           int     `yaml:"cache_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// NotificationsConfig holds cross-channel notification settings. The
// channels themselves live in the tenant policy packs.
type NotificationsConfig struct {
	DashboardURL string `yaml:"dashboard_url"`
}

// Default returns the built-in configuration remedy.yaml is merged over.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Packs: PacksConfig{
			Dir: "packs",
		},
		Workers: WorkersConfig{
			Lease:        2 * time.Minute,
			MaxAttempts:  5,
			ReapInterval: 30 * time.Second,
		},
		Alerts: AlertsConfig{
			VolumeThreshold:     50,
			VolumeWindow:        15 * time.Minute,
			RecurrenceThreshold: 3,
			RecurrenceWindow:    time.Hour,
			ApprovalMaxAge:      30 * time.Minute,
			EvalInterval:        time.Minute,
		},
		Safety: SafetyConfig{
			ViolationsDir:     "data/violations",
			IncidentThreshold: 3,
			IncidentWindow:    time.Hour,
		},
		Embedding: EmbeddingConfig{
			Provider:            "hash",
			Dimensions:          256,
			CacheSize:           4096,
			SimilarityThreshold: 0.9,
		},
		Notifications: NotificationsConfig{
			DashboardURL: "http://localhost:5173",
		},
	}
}

// Broker selection stays in the environment so deployments can switch
// transports without editing YAML.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// BrokerFromEnv reads REMEDY_BROKER (memory or redis) and REDIS_ADDR.
func BrokerFromEnv() (kind, redisAddr string) {
	kind = os.Getenv("REMEDY_BROKER")
	if kind == "" {
		kind = BrokerMemory
	}
	redisAddr = os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	return kind, redisAddr
}
