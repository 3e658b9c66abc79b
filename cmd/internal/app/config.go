package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Export backends selectable with PAIRGATE_EXPORT_BACKEND.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"PAIRGATE_HTTP_ADDR" envDefault:"0.0.0.0:3000"`
	LogLevel  string `env:"PAIRGATE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PAIRGATE_LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"PAIRGATE_LOG_COLOR" envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"PAIRGATE_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"PAIRGATE_HTTP_READ_TIMEOUT" envDefault:"15s"`
	// WriteTimeout must exceed PollMax or long-polls get cut off.
	WriteTimeout    time.Duration `env:"PAIRGATE_HTTP_WRITE_TIMEOUT" envDefault:"150s"`
	IdleTimeout     time.Duration `env:"PAIRGATE_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes  int           `env:"PAIRGATE_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"PAIRGATE_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	CORSAllowedOrigins   []string `env:"PAIRGATE_CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	CORSAllowCredentials bool     `env:"PAIRGATE_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"PAIRGATE_CORS_MAX_AGE_SECONDS" envDefault:"600"`

	TrustProxy       bool          `env:"PAIRGATE_TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes     int64         `env:"PAIRGATE_MAX_BODY_BYTES" envDefault:"16384"`
	CreateRateLimit  int           `env:"PAIRGATE_CREATE_RATE_LIMIT" envDefault:"10"`
	CreateRateWindow time.Duration `env:"PAIRGATE_CREATE_RATE_WINDOW" envDefault:"1m"`
	PollDefault      time.Duration `env:"PAIRGATE_POLL_TIMEOUT" envDefault:"60s"`
	PollMax          time.Duration `env:"PAIRGATE_POLL_TIMEOUT_MAX" envDefault:"120s"`
	PollInterval     time.Duration `env:"PAIRGATE_POLL_INTERVAL" envDefault:"1s"`

	SessionNamePrefix string        `env:"PAIRGATE_SESSION_NAME_PREFIX" envDefault:"PAIR_"`
	SessionRetention  time.Duration `env:"PAIRGATE_SESSION_RETENTION" envDefault:"10m"`
	ReapInterval      time.Duration `env:"PAIRGATE_REAP_INTERVAL" envDefault:"60s"`

	SettleDelay        time.Duration `env:"PAIRGATE_SETTLE_DELAY" envDefault:"3s"`
	PairingWindow      time.Duration `env:"PAIRGATE_PAIRING_WINDOW" envDefault:"3m"`
	MaxRestarts        int           `env:"PAIRGATE_MAX_RESTARTS" envDefault:"3"`
	RestartBackoff     time.Duration `env:"PAIRGATE_RESTART_BACKOFF" envDefault:"2s"`
	FlushDelay         time.Duration `env:"PAIRGATE_FLUSH_DELAY" envDefault:"3s"`
	CodeRequestTimeout time.Duration `env:"PAIRGATE_CODE_REQUEST_TIMEOUT" envDefault:"30s"`
	LibraryVersion     string        `env:"PAIRGATE_LIBRARY_VERSION"`
	Browser            []string      `env:"PAIRGATE_BROWSER" envSeparator:"," envDefault:"Ubuntu,Chrome,20.04"`

	BridgeURL          string        `env:"PAIRGATE_BRIDGE_URL" envDefault:"ws://127.0.0.1:7001/bridge"`
	BridgeDialTimeout  time.Duration `env:"PAIRGATE_BRIDGE_DIAL_TIMEOUT" envDefault:"10s"`
	BridgeWriteTimeout time.Duration `env:"PAIRGATE_BRIDGE_WRITE_TIMEOUT" envDefault:"5s"`
	ScopeDir           string        `env:"PAIRGATE_SCOPE_DIR" envDefault:"auth_info"`

	ExportBackend string `env:"PAIRGATE_EXPORT_BACKEND" envDefault:"file"`
	ExportDir     string `env:"PAIRGATE_EXPORT_DIR" envDefault:"sessions"`

	DatabaseURL string `env:"PAIRGATE_DATABASE_URL"`
	DBSchema    string `env:"PAIRGATE_DB_SCHEMA" envDefault:"pairgate"`
	DBMaxConns  int32  `env:"PAIRGATE_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"PAIRGATE_DB_MIN_CONNS" envDefault:"0"`

	SQLitePath string `env:"PAIRGATE_SQLITE_PATH" envDefault:"pairgate.db"`

	RedisAddr     string        `env:"PAIRGATE_REDIS_ADDR"`
	RedisPassword string        `env:"PAIRGATE_REDIS_PASSWORD"`
	RedisDB       int           `env:"PAIRGATE_REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"PAIRGATE_REDIS_TTL" envDefault:"0s"`

	// If true:
	// - /readyz returns 503 unless the Postgres backend is configured and reachable.
	ReadinessRequireDB bool `env:"PAIRGATE_READINESS_REQUIRE_DB" envDefault:"false"`

	// Security policy:
	// If true, PAIRGATE_EXPORT_KEY MUST be set (>= 32 bytes) and exports are sealed at rest.
	RequireExportKey bool `env:"PAIRGATE_REQUIRE_EXPORT_KEY" envDefault:"false"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.ExportBackend = strings.ToLower(strings.TrimSpace(cfg.ExportBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the runtime cannot serve.
func (c Config) Validate() error {
	switch c.ExportBackend {
	case BackendFile:
		if strings.TrimSpace(c.ExportDir) == "" {
			return errors.New("config: PAIRGATE_EXPORT_DIR is required for the file backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: PAIRGATE_DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("config: PAIRGATE_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("config: PAIRGATE_REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown export backend %q", c.ExportBackend)
	}

	if strings.TrimSpace(c.BridgeURL) == "" {
		return errors.New("config: PAIRGATE_BRIDGE_URL is required")
	}
	if strings.TrimSpace(c.ScopeDir) == "" {
		return errors.New("config: PAIRGATE_SCOPE_DIR is required")
	}
	if len(c.Browser) != 3 {
		return errors.New("config: PAIRGATE_BROWSER must have three comma-separated parts")
	}
	if c.PollDefault > c.PollMax {
		return errors.New("config: PAIRGATE_POLL_TIMEOUT exceeds PAIRGATE_POLL_TIMEOUT_MAX")
	}
	if c.WriteTimeout > 0 && c.WriteTimeout <= c.PollMax {
		return errors.New("config: PAIRGATE_HTTP_WRITE_TIMEOUT must exceed PAIRGATE_POLL_TIMEOUT_MAX")
	}
	if c.SessionRetention <= 0 || c.ReapInterval <= 0 {
		return errors.New("config: session retention and reap interval must be positive")
	}
	return nil
}
