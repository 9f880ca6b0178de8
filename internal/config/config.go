// Package config loads server configuration.
//
// LOAD ORDER (later wins):
//  1. Defaults()
//  2. The YAML file (path from ECHOSHOCK_CONFIG, default "config.yaml");
//     a missing file is not an error
//  3. A .env file in the working directory, if present, exported into the
//     process environment without overriding variables already set
//  4. Environment variables
//
// Validate runs last and rejects configurations the server cannot start with.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Backend   BackendConfig   `yaml:"backend"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	UploadDir     string `yaml:"upload_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	SecureCookies bool   `yaml:"secure_cookies"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// BackendConfig selects where principals and blobs live. "local" uses the
// embedded database and the upload directory; "remote" talks to a hosted
// auth/storage service with an elevated service key.
type BackendConfig struct {
	Mode       string `yaml:"mode"`
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
	Bucket     string `yaml:"bucket"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
	Grace    time.Duration `yaml:"grace"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			UploadDir:   "data/uploads",
			MaxUploadMB: 10,
		},
		Database: DatabaseConfig{Path: "data/echoshock.db"},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
			BcryptCost: 12,
		},
		Backend:   BackendConfig{Mode: BackendLocal, Bucket: "game-images"},
		Cache:     CacheConfig{TTL: time.Minute},
		AMQP:      AMQPConfig{Exchange: "echoshock.events"},
		RateLimit: RateLimitConfig{RPS: 1, Burst: 5},
		Reconcile: ReconcileConfig{Interval: 5 * time.Minute, Grace: 10 * time.Minute},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads configuration following the package load order.
func Load() (*Config, error) {
	path := os.Getenv("ECHOSHOCK_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	return LoadFile(path)
}

// LoadFile applies defaults, the YAML file at path (if it exists) and the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults + env only
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}

	str("DB_PATH", &c.Database.Path)
	str("UPLOAD_DIR", &c.Server.UploadDir)
	str("PUBLIC_BASE_URL", &c.Server.PublicBaseURL)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("BACKEND_MODE", &c.Backend.Mode)
	str("BACKEND_URL", &c.Backend.URL)
	str("BACKEND_SERVICE_KEY", &c.Backend.ServiceKey)
	str("BACKEND_BUCKET", &c.Backend.Bucket)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("AMQP_URL", &c.AMQP.URL)
	str("AMQP_EXCHANGE", &c.AMQP.Exchange)
	str("LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("SECURE_COOKIES"); v != "" {
		c.Server.SecureCookies = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RATELIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RATELIMIT_RPS: %w", err)
		}
		c.RateLimit.RPS = f
	}

	for key, dst := range map[string]*int{
		"PORT":            &c.Server.Port,
		"MAX_UPLOAD_MB":   &c.Server.MaxUploadMB,
		"BCRYPT_COST":     &c.Auth.BcryptCost,
		"REDIS_DB":        &c.Redis.DB,
		"RATELIMIT_BURST": &c.RateLimit.Burst,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*time.Duration{
		"SESSION_TTL":        &c.Auth.SessionTTL,
		"CACHE_TTL":          &c.Cache.TTL,
		"RECONCILE_INTERVAL": &c.Reconcile.Interval,
		"RECONCILE_GRACE":    &c.Reconcile.Grace,
	} {
		if err := duration(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Backend.Mode {
	case BackendLocal:
	case BackendRemote:
		if c.Backend.URL == "" || c.Backend.ServiceKey == "" {
			errs = append(errs, errors.New("backend.url and backend.service_key are required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.mode %q must be %q or %q", c.Backend.Mode, BackendLocal, BackendRemote))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("reconcile.interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
