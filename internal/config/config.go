package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "SOMNIA"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "somnia.db"
	defaultLogLevel     = "info"
	defaultBackend      = BackendSQLite
	defaultSessionTTL   = 24 * time.Hour
)

// Supported table backends.
const (
	BackendSQLite   = "sqlite"
	BackendSupabase = "supabase"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	SessionTTL     time.Duration
	LoginLatency   time.Duration
	Backend        string
	SupabaseURL    string
	SupabaseKey    string
	GeminiAPIKey   string
	GeminiEndpoint string
	SeedDemoData   bool
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("backend.kind", defaultBackend)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("login.latency", time.Duration(0))
	configViper.SetDefault("seed.demo_data", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("session.signing_secret"),
		SessionTTL:     configViper.GetDuration("session.ttl"),
		LoginLatency:   configViper.GetDuration("login.latency"),
		Backend:        strings.ToLower(configViper.GetString("backend.kind")),
		SupabaseURL:    configViper.GetString("supabase.url"),
		SupabaseKey:    configViper.GetString("supabase.key"),
		GeminiAPIKey:   configViper.GetString("gemini.api_key"),
		GeminiEndpoint: configViper.GetString("gemini.endpoint"),
		SeedDemoData:   configViper.GetBool("seed.demo_data"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	switch c.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case BackendSupabase:
		if strings.TrimSpace(c.SupabaseURL) == "" {
			return fmt.Errorf("supabase.url is required")
		}
		if strings.TrimSpace(c.SupabaseKey) == "" {
			return fmt.Errorf("supabase.key is required")
		}
	default:
		return fmt.Errorf("backend.kind must be %q or %q", BackendSQLite, BackendSupabase)
	}
	return nil
}
