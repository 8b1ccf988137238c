package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CORKBOARD"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = DatabaseDriverSQLite
	defaultDatabasePath     = "corkboard.db"
	defaultLogLevel         = "info"
	defaultAuthIssuer       = "corkboard"
	defaultCookieName       = "corkboard_session"
	defaultTokenTTLMinutes  = 60
	defaultAuthTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 64
	defaultBroadcastBackend = "local"
	defaultBroadcastChannel = "corkboard.broadcast"
	defaultDispatchInterval = time.Minute
	defaultTickTimeout      = 30 * time.Second
	defaultEditMaxAttempts  = 3

	// DatabaseDriverSQLite stores everything in a local file.
	DatabaseDriverSQLite = "sqlite"
	// DatabaseDriverPostgres connects with database.dsn.
	DatabaseDriverPostgres = "postgres"

	// dispatcher.interval must stay below the shortest notification lead.
	maxDispatchInterval = 24 * time.Hour
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	AllowedOrigins  []string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	SigningSecret   string
	AuthIssuer      string
	CookieName      string
	TokenTTL        time.Duration
	AuthTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	Broadcast       BroadcastConfig
	DispatchEvery   time.Duration
	TickTimeout     time.Duration
	EditMaxAttempts int
}

// BroadcastConfig selects the cross-process relay for room events.
type BroadcastConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	NATSURL       string
	Channel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("realtime.auth_timeout", defaultAuthTimeout)
	configViper.SetDefault("realtime.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("broadcast.backend", defaultBroadcastBackend)
	configViper.SetDefault("broadcast.redis_addr", "")
	configViper.SetDefault("broadcast.redis_password", "")
	configViper.SetDefault("broadcast.nats_url", "")
	configViper.SetDefault("broadcast.channel", defaultBroadcastChannel)
	configViper.SetDefault("dispatcher.interval", defaultDispatchInterval)
	configViper.SetDefault("dispatcher.tick_timeout", defaultTickTimeout)
	configViper.SetDefault("edits.max_attempts", defaultEditMaxAttempts)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:     configViper.GetString("auth.issuer"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AuthTimeout:    configViper.GetDuration("realtime.auth_timeout"),
		WriteTimeout:   configViper.GetDuration("realtime.write_timeout"),
		SendBuffer:     configViper.GetInt("realtime.send_buffer"),
		Broadcast: BroadcastConfig{
			Backend:       strings.ToLower(strings.TrimSpace(configViper.GetString("broadcast.backend"))),
			RedisAddr:     configViper.GetString("broadcast.redis_addr"),
			RedisPassword: configViper.GetString("broadcast.redis_password"),
			NATSURL:       configViper.GetString("broadcast.nats_url"),
			Channel:       configViper.GetString("broadcast.channel"),
		},
		DispatchEvery:   configViper.GetDuration("dispatcher.interval"),
		TickTimeout:     configViper.GetDuration("dispatcher.tick_timeout"),
		EditMaxAttempts: configViper.GetInt("edits.max_attempts"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.Broadcast.Backend {
	case "local":
	case "redis":
		if strings.TrimSpace(c.Broadcast.RedisAddr) == "" {
			return fmt.Errorf("broadcast.redis_addr is required for the redis backend")
		}
	case "nats":
		if strings.TrimSpace(c.Broadcast.NATSURL) == "" {
			return fmt.Errorf("broadcast.nats_url is required for the nats backend")
		}
	default:
		return fmt.Errorf("broadcast.backend %q is not supported", c.Broadcast.Backend)
	}
	if c.AuthTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("realtime timeouts must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.DispatchEvery <= 0 || c.DispatchEvery >= maxDispatchInterval {
		return fmt.Errorf("dispatcher.interval must be between 0 and %s", maxDispatchInterval)
	}
	if c.TickTimeout <= 0 {
		return fmt.Errorf("dispatcher.tick_timeout must be positive")
	}
	if c.EditMaxAttempts <= 0 {
		return fmt.Errorf("edits.max_attempts must be positive")
	}
	return nil
}
