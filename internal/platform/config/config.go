// Package config loads service configuration: built-in defaults, then an
// optional TOML file, then a .env file, then FACEAUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration lets TOML carry human durations ("60s", "1h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Env        string           `toml:"env"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Auth       AuthConfig       `toml:"auth"`
	Match      MatchConfig      `toml:"match"`
	Liveness   LivenessConfig   `toml:"liveness"`
	Lockout    LockoutConfig    `toml:"lockout"`
	Quality    QualityConfig    `toml:"quality"`
	Extractor  ExtractorConfig  `toml:"extractor"`
	Storage    StorageConfig    `toml:"storage"`
	Redis      RedisConfig      `toml:"redis"`
	Audit      AuditConfig      `toml:"audit"`
	Archive    ArchiveConfig    `toml:"archive"`
	Enrollment EnrollmentConfig `toml:"enrollment"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxUploadBytes  int64    `toml:"max_upload_bytes"`
	// TrustedProxies lists addresses or CIDRs whose forwarding headers are
	// honoured. Empty means the socket peer is always the client.
	TrustedProxies []string `toml:"trusted_proxies"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type AuthConfig struct {
	Secret   string   `toml:"secret"`
	Issuer   string   `toml:"issuer"`
	TokenTTL Duration `toml:"token_ttl"`
}

type MatchConfig struct {
	Threshold float64 `toml:"threshold"`
}

type LivenessConfig struct {
	MotionThreshold float64 `toml:"motion_threshold"`
	CanonicalSize   int     `toml:"canonical_size"`
}

type LockoutConfig struct {
	MaxFails int      `toml:"max_fails"`
	Window   Duration `toml:"window"`
	Backend  string   `toml:"backend"`
}

type QualityConfig struct {
	MinSharpness  float64 `toml:"min_sharpness"`
	MinBrightness float64 `toml:"min_brightness"`
	MaxBrightness float64 `toml:"max_brightness"`
	MaxPixels     int     `toml:"max_pixels"`
}

type ExtractorConfig struct {
	URL              string   `toml:"url"`
	Timeout          Duration `toml:"timeout"`
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         Duration `toml:"cooldown"`
}

type StorageConfig struct {
	Backend     string `toml:"backend"`
	DatabaseURL string `toml:"database_url"`
}

type RedisConfig struct {
	URL          string   `toml:"url"`
	PoolSize     int      `toml:"pool_size"`
	MinIdleConns int      `toml:"min_idle_conns"`
	Timeout      Duration `toml:"timeout"`
}

type AuditConfig struct {
	BufferSize   int      `toml:"buffer_size"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
}

type ArchiveConfig struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

type EnrollmentConfig struct {
	ReenrollPolicy string `toml:"reenroll_policy"`
}

const devSecret = "dev-secret-change-me"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env: "dev",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{10 * time.Second},
			MaxUploadBytes:  10 << 20,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Auth:     AuthConfig{Secret: devSecret, Issuer: "faceauth", TokenTTL: Duration{time.Hour}},
		Match:    MatchConfig{Threshold: 0.35},
		Liveness: LivenessConfig{MotionThreshold: 0.03, CanonicalSize: 256},
		Lockout:  LockoutConfig{MaxFails: 5, Window: Duration{60 * time.Second}, Backend: "memory"},
		Quality:  QualityConfig{MinSharpness: 45, MinBrightness: 40, MaxBrightness: 220, MaxPixels: 4096 * 4096},
		Extractor: ExtractorConfig{
			URL:              "http://127.0.0.1:9090/embed",
			Timeout:          Duration{5 * time.Second},
			FailureThreshold: 5,
			Cooldown:         Duration{30 * time.Second},
		},
		Storage: StorageConfig{Backend: "memory"},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			Timeout:      Duration{3 * time.Second},
		},
		Audit:      AuditConfig{BufferSize: 1024, KafkaTopic: "faceauth.audit"},
		Archive:    ArchiveConfig{Region: "us-east-1"},
		Enrollment: EnrollmentConfig{ReenrollPolicy: "keep_existing"},
	}
}

// Load builds the configuration from defaults, FACEAUTH_CONFIG (TOML), an
// optional .env file and the environment, then validates it.
func Load() (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if path := os.Getenv("FACEAUTH_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("FACEAUTH_ENV", &cfg.Env)
	str("FACEAUTH_ADDR", &cfg.Server.Addr)
	str("FACEAUTH_LOG_LEVEL", &cfg.Log.Level)
	str("FACEAUTH_LOG_FORMAT", &cfg.Log.Format)
	str("FACEAUTH_SECRET", &cfg.Auth.Secret)
	str("FACEAUTH_ISSUER", &cfg.Auth.Issuer)
	dur("FACEAUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)
	float("FACEAUTH_MATCH_THRESHOLD", &cfg.Match.Threshold)
	float("FACEAUTH_MOTION_THRESHOLD", &cfg.Liveness.MotionThreshold)
	num("FACEAUTH_CANONICAL_SIZE", &cfg.Liveness.CanonicalSize)
	num("FACEAUTH_MAX_FAILS", &cfg.Lockout.MaxFails)
	dur("FACEAUTH_LOCKOUT_WINDOW", &cfg.Lockout.Window)
	str("FACEAUTH_LOCKOUT_BACKEND", &cfg.Lockout.Backend)
	float("FACEAUTH_MIN_SHARPNESS", &cfg.Quality.MinSharpness)
	float("FACEAUTH_MIN_BRIGHTNESS", &cfg.Quality.MinBrightness)
	float("FACEAUTH_MAX_BRIGHTNESS", &cfg.Quality.MaxBrightness)
	num("FACEAUTH_MAX_PIXELS", &cfg.Quality.MaxPixels)
	if v, ok := lookup("FACEAUTH_TRUSTED_PROXIES"); ok && v != "" {
		cfg.Server.TrustedProxies = splitList(v)
	}
	str("FACEAUTH_EXTRACTOR_URL", &cfg.Extractor.URL)
	dur("FACEAUTH_EXTRACTOR_TIMEOUT", &cfg.Extractor.Timeout)
	str("FACEAUTH_STORAGE", &cfg.Storage.Backend)
	str("DATABASE_URL", &cfg.Storage.DatabaseURL)
	str("REDIS_URL", &cfg.Redis.URL)
	num("FACEAUTH_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	num("FACEAUTH_AUDIT_BUFFER", &cfg.Audit.BufferSize)
	str("FACEAUTH_AUDIT_TOPIC", &cfg.Audit.KafkaTopic)
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Audit.KafkaBrokers = splitList(v)
	}
	str("FACEAUTH_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	str("FACEAUTH_ARCHIVE_REGION", &cfg.Archive.Region)
	str("FACEAUTH_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	str("FACEAUTH_ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKey)
	str("FACEAUTH_ARCHIVE_SECRET_KEY", &cfg.Archive.SecretKey)
	str("FACEAUTH_REENROLL_POLICY", &cfg.Enrollment.ReenrollPolicy)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the service cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Env != "dev" && c.Auth.Secret == devSecret {
		errs = append(errs, errors.New("auth.secret must be overridden outside dev"))
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Match.Threshold <= 0 || c.Match.Threshold > 2 {
		errs = append(errs, errors.New("match.threshold must be in (0, 2]"))
	}
	if c.Liveness.MotionThreshold < 0 || c.Liveness.MotionThreshold > 1 {
		errs = append(errs, errors.New("liveness.motion_threshold must be in [0, 1]"))
	}
	if c.Liveness.CanonicalSize <= 0 {
		errs = append(errs, errors.New("liveness.canonical_size must be positive"))
	}
	if c.Lockout.MaxFails <= 0 {
		errs = append(errs, errors.New("lockout.max_fails must be positive"))
	}
	if c.Lockout.Window.Duration <= 0 {
		errs = append(errs, errors.New("lockout.window must be positive"))
	}
	if c.Quality.MaxPixels <= 0 {
		errs = append(errs, errors.New("quality.max_pixels must be positive"))
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an address or CIDR", p))
		}
	}
	if c.Quality.MinBrightness >= c.Quality.MaxBrightness {
		errs = append(errs, errors.New("quality.min_brightness must be below quality.max_brightness"))
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	switch c.Lockout.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres lockout backend requires storage.database_url"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis lockout backend requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lockout backend %q", c.Lockout.Backend))
	}
	switch c.Enrollment.ReenrollPolicy {
	case "keep_existing", "reset_to_default":
	default:
		errs = append(errs, fmt.Errorf("unknown reenroll policy %q", c.Enrollment.ReenrollPolicy))
	}
	return errors.Join(errs...)
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
