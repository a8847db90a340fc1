package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Secrets that must never reach a non-development deployment.
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"change-me":                            true,
	"secret":                               true,
	"":                                     true,
}

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	JWT       JWTConfig       `koanf:"jwt"`
	Settings  SettingsConfig  `koanf:"settings"`
	Provision ProvisionConfig `koanf:"provision"`
	Sweep     SweepConfig     `koanf:"sweep"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Mode            string        `koanf:"mode"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects the local store. Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
}

type JWTConfig struct {
	SecretKey string        `koanf:"secret_key"`
	Expire    time.Duration `koanf:"expire"`
	Issuer    string        `koanf:"issuer"`
}

// SettingsConfig points at the admin-editable integration settings file.
type SettingsConfig struct {
	Path string `koanf:"path"`
}

type ProvisionConfig struct {
	// FallbackRemoteUserID is used for create-server when no remote account
	// could be created or found for the buyer.
	FallbackRemoteUserID int64         `koanf:"fallback_remote_user_id"`
	DiscoveryTimeout     time.Duration `koanf:"discovery_timeout"`
	MutationTimeout      time.Duration `koanf:"mutation_timeout"`
	RenewMinAge          time.Duration `koanf:"renew_min_age"`
}

type SweepConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowCredentials bool     `koanf:"allow_credentials"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// 日志脱敏: 不记录敏感配置
	slog.Info("config loaded",
		"environment", cfg.App.Environment,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"settings", cfg.Settings.Path,
		"sweep_interval", cfg.Sweep.Interval,
	)

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "panel-service",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8005,
		"server.mode":             "release",
		"server.read_timeout":     "30s",
		"server.write_timeout":    "60s",
		"server.shutdown_timeout": "15s",

		"database.driver":         "sqlite",
		"database.dsn":            "data/panel.db",
		"database.max_open_conns": 10,
		"database.max_idle_conns": 5,

		"jwt.secret_key": "",
		"jwt.expire":     "24h",
		"jwt.issuer":     "panel-service",

		"settings.path": "config/config.json",

		"provision.fallback_remote_user_id": 1,
		"provision.discovery_timeout":       "8s",
		"provision.mutation_timeout":        "30s",
		"provision.renew_min_age":           "360h",

		"sweep.enabled":  true,
		"sweep.interval": "5m",

		"rate_limit.requests": 30,
		"rate_limit.window":   "1m",
		"rate_limit.burst":    30,

		"cors.allowed_origins":    []string{"http://localhost:3000"},
		"cors.allow_credentials": true,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "panel-service",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"SERVER_PORT":                 "server.port",
	"GIN_MODE":                    "server.mode",
	"DB_DRIVER":                   "database.driver",
	"DATABASE_URL":                "database.dsn",
	"JWT_SECRET_KEY":              "jwt.secret_key",
	"JWT_EXPIRE":                  "jwt.expire",
	"SETTINGS_PATH":               "settings.path",
	"FALLBACK_REMOTE_USER_ID":     "provision.fallback_remote_user_id",
	"SWEEP_ENABLED":               "sweep.enabled",
	"SWEEP_INTERVAL":              "sweep.interval",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !c.IsDevelopment() {
		if insecureDefaults[c.JWT.SecretKey] {
			return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
		}
		if len(c.JWT.SecretKey) < 32 {
			return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
		}
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				return fmt.Errorf("CORS wildcard '*' cannot be used with allow_credentials")
			}
		}
	}

	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	if c.Provision.DiscoveryTimeout <= 0 || c.Provision.MutationTimeout <= 0 {
		return fmt.Errorf("provision timeouts must be positive")
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// SigningKey returns the JWT secret, substituting a fixed key in development
// when none is configured.
func (c *Config) SigningKey() string {
	if c.JWT.SecretKey == "" && c.IsDevelopment() {
		return "development-only-signing-key-not-for-production"
	}
	return c.JWT.SecretKey
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
