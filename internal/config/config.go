package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "TRAVELMAPS"
	defaultHTTPAddress        = "127.0.0.1:8080"
	defaultDatabasePath       = "travelmaps.db"
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultSessionIssuer      = "tauth"
	defaultSharesTimeoutSecs  = 10
	defaultSharesMaxRetries   = 3
	defaultSaveDelayMillis    = 500
	defaultRestrictedCategory = "Shabbat Dinners"
	defaultLoneSoldierDinners = "Lone Soldier Shabbat Dinners"
)

// AppConfig captures runtime configuration for the companion service and CLI.
type AppConfig struct {
	HTTPAddress          string
	AllowedOrigins       []string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	// SharesBaseURL is optional; sharing and friends are disabled when empty.
	SharesBaseURL        string
	SharesTimeout        time.Duration
	SharesMaxRetries     uint64
	SaveDelay            time.Duration
	RestrictedCategories []string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("shares.timeout_seconds", defaultSharesTimeoutSecs)
	configViper.SetDefault("shares.max_retries", defaultSharesMaxRetries)
	configViper.SetDefault("store.save_delay_ms", defaultSaveDelayMillis)
	configViper.SetDefault("categories.restricted", []string{defaultRestrictedCategory, defaultLoneSoldierDinners})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("auth.signing_secret"),
		SessionCookieName:    configViper.GetString("auth.cookie_name"),
		SessionIssuer:        configViper.GetString("auth.issuer"),
		SharesBaseURL:        strings.TrimSpace(configViper.GetString("shares.base_url")),
		SharesTimeout:        time.Duration(configViper.GetInt("shares.timeout_seconds")) * time.Second,
		SharesMaxRetries:     uint64(max(configViper.GetInt("shares.max_retries"), 0)),
		SaveDelay:            time.Duration(configViper.GetInt("store.save_delay_ms")) * time.Millisecond,
		RestrictedCategories: configViper.GetStringSlice("categories.restricted"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStorage parses only the settings the offline CLI commands need.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SaveDelay:            time.Duration(configViper.GetInt("store.save_delay_ms")) * time.Millisecond,
		RestrictedCategories: configViper.GetStringSlice("categories.restricted"),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return AppConfig{}, fmt.Errorf("database.path is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.SaveDelay <= 0 {
		return fmt.Errorf("store.save_delay_ms must be positive")
	}
	if c.SharesBaseURL != "" && c.SharesTimeout <= 0 {
		return fmt.Errorf("shares.timeout_seconds must be positive")
	}
	return nil
}
