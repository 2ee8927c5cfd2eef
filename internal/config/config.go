package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string
	StaticDir  string

	DatabaseDriver          string // "sqlite3" or "postgres"
	DatabaseDSN             string
	DatabaseMaxOpenConns    int
	DatabaseMaxIdleConns    int
	DatabaseConnMaxLifetime time.Duration

	ChartDir          string
	ChartWarmStations []string

	ForumFile string

	CacheBackend string // "in_memory" or "memcached"
	CacheTTL     time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port      string `yaml:"port"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"server"`

	Database struct {
		Driver          string `yaml:"driver"`
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	Charts struct {
		Dir          string   `yaml:"dir"`
		WarmStations []string `yaml:"warm_stations"`
	} `yaml:"charts"`

	Forum struct {
		File string `yaml:"file"`
	} `yaml:"forum"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

// envOverrides are applied after the YAML file. Empty values leave the file value in place.
type envOverrides struct {
	Port           string `env:"PORT"`
	DatabaseDriver string `env:"DB_DRIVER"`
	DatabaseDSN    string `env:"DB_DSN"`
	StaticDir      string `env:"STATIC_DIR"`
	ChartDir       string `env:"CHART_DIR"`
	ForumFile      string `env:"FORUM_FILE"`
	CacheBackend   string `env:"CACHE_BACKEND"`
	MemcachedAddrs string `env:"MEMCACHED_ADDRS"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) relative to the
// working directory, then applies environment overrides. A missing file means defaults.
func Load() (*Config, error) {
	name := os.Getenv("ENV_NAME")
	if name == "" {
		name = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", name+".yaml")

	var fc fileConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	cfg := fromFile(fc)
	applyOverrides(cfg, ov)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromFile builds a Config from the parsed YAML, filling defaults for unset values.
func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = orDefault(fc.Server.Port, "8080")
	cfg.StaticDir = orDefault(fc.Server.StaticDir, "client")

	cfg.DatabaseDriver = strings.ToLower(orDefault(fc.Database.Driver, "sqlite3"))
	cfg.DatabaseDSN = orDefault(fc.Database.DSN, "DB_Temp.sqlite")
	cfg.DatabaseMaxOpenConns = fc.Database.MaxOpenConns
	if cfg.DatabaseMaxOpenConns <= 0 {
		cfg.DatabaseMaxOpenConns = 4
	}
	cfg.DatabaseMaxIdleConns = fc.Database.MaxIdleConns
	if cfg.DatabaseMaxIdleConns <= 0 {
		cfg.DatabaseMaxIdleConns = 2
	}
	cfg.DatabaseConnMaxLifetime = parseDurationOrZero(fc.Database.ConnMaxLifetime, 0)

	cfg.ChartDir = strings.TrimSpace(fc.Charts.Dir)
	cfg.ChartWarmStations = fc.Charts.WarmStations

	cfg.ForumFile = orDefault(fc.Forum.File, "forum.json")

	cfg.CacheBackend = strings.ToLower(orDefault(fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.MemcachedAddrs = orDefault(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)
	return cfg
}

func applyOverrides(cfg *Config, ov envOverrides) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ServerPort, ov.Port)
	set(&cfg.DatabaseDriver, strings.ToLower(ov.DatabaseDriver))
	set(&cfg.DatabaseDSN, ov.DatabaseDSN)
	set(&cfg.StaticDir, ov.StaticDir)
	set(&cfg.ChartDir, ov.ChartDir)
	set(&cfg.ForumFile, ov.ForumFile)
	set(&cfg.CacheBackend, strings.ToLower(ov.CacheBackend))
	set(&cfg.MemcachedAddrs, ov.MemcachedAddrs)

	// Charts live under the static root by default so the legacy route can
	// return a root-relative image path.
	if cfg.ChartDir == "" {
		cfg.ChartDir = filepath.Join(cfg.StaticDir, "courbes")
	}
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", cfg.DatabaseDriver)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "none":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or none, got %q", cfg.CacheBackend)
	}
	if cfg.StaticDir == "" {
		return fmt.Errorf("server.static_dir is required")
	}
	return nil
}
