package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBPath    string
	Workers   int
	MediaDir  string
	Retention time.Duration

	BaseURL   string
	CSRFToken string
	Endpoints Endpoints

	Poll  Poll
	Retry Retry

	LogLevel  string
	LogFormat string
}

// Endpoints overrides discovery when set.
type Endpoints struct {
	ImportStart    string
	ImportProgress string
	RepairStart    string
	RepairProgress string
}

type Poll struct {
	Initial time.Duration
	Idle    time.Duration
	Active  time.Duration
}

type Retry struct {
	Initial     time.Duration
	Max         time.Duration
	MaxFailures int
}

type fileConfig struct {
	Port      string   `toml:"port"`
	DBPath    string   `toml:"db_path"`
	Workers   int      `toml:"workers"`
	MediaDir  string   `toml:"media_dir"`
	Retention duration `toml:"retention"`

	BaseURL   string `toml:"base_url"`
	CSRFToken string `toml:"csrf_token"`

	Endpoints struct {
		ImportStart    string `toml:"import_start"`
		ImportProgress string `toml:"import_progress"`
		RepairStart    string `toml:"repair_start"`
		RepairProgress string `toml:"repair_progress"`
	} `toml:"endpoints"`

	Poll struct {
		Initial duration `toml:"initial"`
		Idle    duration `toml:"idle"`
		Active  duration `toml:"active"`
	} `toml:"poll"`

	Retry struct {
		Initial     duration `toml:"initial"`
		Max         duration `toml:"max"`
		MaxFailures int      `toml:"max_failures"`
	} `toml:"retry"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaults() Config {
	return Config{
		Port:      "8080",
		DBPath:    "diadict.db",
		Workers:   2,
		MediaDir:  "media",
		Retention: 7 * 24 * time.Hour,
		BaseURL:   "http://localhost:8080",
		Poll:      Poll{Initial: 3 * time.Second, Idle: 5 * time.Second, Active: time.Second},
		Retry:     Retry{Initial: time.Second, Max: 30 * time.Second},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the configuration from defaults, then the TOML file at tomlPath,
// then the .env file at envFile, then the process environment. Empty paths and
// missing files are skipped.
func Load(envFile, tomlPath string) (Config, error) {
	cfg := defaults()

	if tomlPath != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(tomlPath, &fc); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to load config file: %w", err)
			}
		} else {
			cfg.merge(fc)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.Workers = getEnvInt("WORKERS", cfg.Workers)
	cfg.MediaDir = getEnv("MEDIA_DIR", cfg.MediaDir)
	cfg.Retention = getEnvDuration("RETENTION", cfg.Retention)
	cfg.BaseURL = getEnv("DIADICT_BASE_URL", cfg.BaseURL)
	cfg.CSRFToken = getEnv("DIADICT_CSRF_TOKEN", cfg.CSRFToken)
	cfg.Endpoints.ImportStart = getEnv("DIADICT_IMPORT_START", cfg.Endpoints.ImportStart)
	cfg.Endpoints.ImportProgress = getEnv("DIADICT_IMPORT_PROGRESS", cfg.Endpoints.ImportProgress)
	cfg.Endpoints.RepairStart = getEnv("DIADICT_REPAIR_START", cfg.Endpoints.RepairStart)
	cfg.Endpoints.RepairProgress = getEnv("DIADICT_REPAIR_PROGRESS", cfg.Endpoints.RepairProgress)
	cfg.Poll.Initial = getEnvDuration("POLL_INITIAL", cfg.Poll.Initial)
	cfg.Poll.Idle = getEnvDuration("POLL_IDLE", cfg.Poll.Idle)
	cfg.Poll.Active = getEnvDuration("POLL_ACTIVE", cfg.Poll.Active)
	cfg.Retry.Initial = getEnvDuration("RETRY_INITIAL", cfg.Retry.Initial)
	cfg.Retry.Max = getEnvDuration("RETRY_MAX", cfg.Retry.Max)
	cfg.Retry.MaxFailures = getEnvInt("RETRY_MAX_FAILURES", cfg.Retry.MaxFailures)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if cfg.Workers < 1 {
		return Config{}, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	return cfg, nil
}

func (c *Config) merge(fc fileConfig) {
	setString(&c.Port, fc.Port)
	setString(&c.DBPath, fc.DBPath)
	if fc.Workers != 0 {
		c.Workers = fc.Workers
	}
	setString(&c.MediaDir, fc.MediaDir)
	setDuration(&c.Retention, fc.Retention)
	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.CSRFToken, fc.CSRFToken)
	setString(&c.Endpoints.ImportStart, fc.Endpoints.ImportStart)
	setString(&c.Endpoints.ImportProgress, fc.Endpoints.ImportProgress)
	setString(&c.Endpoints.RepairStart, fc.Endpoints.RepairStart)
	setString(&c.Endpoints.RepairProgress, fc.Endpoints.RepairProgress)
	setDuration(&c.Poll.Initial, fc.Poll.Initial)
	setDuration(&c.Poll.Idle, fc.Poll.Idle)
	setDuration(&c.Poll.Active, fc.Poll.Active)
	setDuration(&c.Retry.Initial, fc.Retry.Initial)
	setDuration(&c.Retry.Max, fc.Retry.Max)
	if fc.Retry.MaxFailures != 0 {
		c.Retry.MaxFailures = fc.Retry.MaxFailures
	}
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
