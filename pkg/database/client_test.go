package database

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.example.com",
		Port:     5433,
		User:     "remedy",
		Password: "s3cret",
		Database: "remedy",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.example.com port=5433 user=remedy password=s3cret dbname=remedy sslmode=require",
		cfg.DSN())
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Host:         "localhost",
		Port:         5432,
		User:         "remedy",
		Password:     "pw",
		Database:     "remedy",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing password", func(c *Config) { c.Password = "" }, "DB_PASSWORD is required"},
		{"zero max open conns", func(c *Config) { c.MaxOpenConns = 0 }, "must be positive"},
		{"negative idle conns", func(c *Config) { c.MaxIdleConns = -1 }, "must not be negative"},
		{"idle exceeds open", func(c *Config) { c.MaxIdleConns = 20 }, "must not exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	envKeys := []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	}
	clearEnv := func() {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
	}

	tests := []struct {
		name        string
		envVars     map[string]string
		wantErr     string
		check       func(t *testing.T, cfg Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{"DB_PASSWORD": "test"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 5432, cfg.Port)
				assert.Equal(t, "remedy", cfg.User)
				assert.Equal(t, "remedy", cfg.Database)
				assert.Equal(t, 25, cfg.MaxOpenConns)
				assert.Equal(t, 10, cfg.MaxIdleConns)
				assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
			},
		},
		{
			name: "custom values",
			envVars: map[string]string{
				"DB_HOST":               "db.example.com",
				"DB_PORT":               "5433",
				"DB_USER":               "admin",
				"DB_PASSWORD":           "secret",
				"DB_NAME":               "production",
				"DB_SSLMODE":            "require",
				"DB_MAX_OPEN_CONNS":     "50",
				"DB_MAX_IDLE_CONNS":     "20",
				"DB_CONN_MAX_LIFETIME":  "1h",
				"DB_CONN_MAX_IDLE_TIME": "10m",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "db.example.com", cfg.Host)
				assert.Equal(t, 5433, cfg.Port)
				assert.Equal(t, 50, cfg.MaxOpenConns)
				assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
			},
		},
		{
			name:    "invalid port",
			envVars: map[string]string{"DB_PORT": "nope", "DB_PASSWORD": "test"},
			wantErr: "invalid DB_PORT",
		},
		{
			name:    "invalid max open conns",
			envVars: map[string]string{"DB_MAX_OPEN_CONNS": "many", "DB_PASSWORD": "test"},
			wantErr: "invalid DB_MAX_OPEN_CONNS",
		},
		{
			name:    "invalid lifetime",
			envVars: map[string]string{"DB_CONN_MAX_LIFETIME": "forever", "DB_PASSWORD": "test"},
			wantErr: "invalid DB_CONN_MAX_LIFETIME",
		},
		{
			name:    "missing password",
			envVars: map[string]string{},
			wantErr: "DB_PASSWORD is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			t.Cleanup(clearEnv)
			for key, val := range tt.envVars {
				os.Setenv(key, val)
			}

			cfg, err := LoadConfigFromEnv()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	has, err := hasEmbeddedMigrations()
	require.NoError(t, err)
	assert.True(t, has, "binary must embed at least one .sql migration")
}
