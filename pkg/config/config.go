package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signonhq/signon/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Identity provider and auth flow configuration
	Auth AuthConfig `yaml:"auth"`

	// Directory (relational store) configuration
	Directory DirectoryConfig `yaml:"directory"`

	// Session store configuration
	Session SessionConfig `yaml:"session"`

	// Email notification configuration
	Notify NotifyConfig `yaml:"notify"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// AuthConfig holds the OpenID Connect relying-party configuration.
// All required fields are validated eagerly at startup; nothing is
// resolved lazily per request.
type AuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Authority is the issuer URL used for OIDC discovery,
	// e.g. https://login.microsoftonline.com/<tenant>/v2.0
	Authority string `yaml:"authority"`

	// RedirectDomain is the externally visible origin of this service,
	// e.g. https://app.example.com. It must match the redirect URI
	// registered with the identity provider.
	RedirectDomain string `yaml:"redirect_domain"`

	// PrimaryTenantID and PrimaryTenantName identify the home tenant.
	// The tenant row is ensured at startup.
	PrimaryTenantID   string `yaml:"primary_tenant_id"`
	PrimaryTenantName string `yaml:"primary_tenant_name"`

	// Scopes requested on the authorization request.
	Scopes []string `yaml:"scopes"`

	// RestrictTenants limits logins to tenants that are registered and
	// active in the directory. When false, previously unseen tenants
	// are recorded on first login.
	RestrictTenants bool `yaml:"restrict_tenants"`

	AppName string `yaml:"app_name"`

	// URL paths, relative to the server root.
	LoginPath    string `yaml:"login_path"`
	LandingPath  string `yaml:"landing_path"`
	LogoutPath   string `yaml:"logout_path"`
	RedirectPath string `yaml:"redirect_path"`

	// RedirectFieldName is the query parameter carrying the post-login
	// target, e.g. /login?next=/reports
	RedirectFieldName string `yaml:"redirect_field_name"`

	// ProviderLogout controls whether local logout also ends the
	// provider session via ProviderLogoutURL.
	ProviderLogout    bool   `yaml:"provider_logout"`
	ProviderLogoutURL string `yaml:"provider_logout_url"`

	// DirectoryEndpoint is the provider's user directory API, used by
	// the account linker to backfill unlinked accounts.
	DirectoryEndpoint string `yaml:"directory_endpoint"`
}

// AbsoluteRedirectURL returns the callback URL registered with the provider.
func (a AuthConfig) AbsoluteRedirectURL() string {
	return strings.TrimSuffix(a.RedirectDomain, "/") + "/" + strings.TrimPrefix(a.RedirectPath, "/")
}

// AbsoluteLogoutURL returns the post-logout URL registered with the provider.
func (a AuthConfig) AbsoluteLogoutURL() string {
	return strings.TrimSuffix(a.RedirectDomain, "/") + "/" + strings.TrimPrefix(a.LogoutPath, "/")
}

// DirectoryConfig holds relational store configuration
type DirectoryConfig struct {
	// Driver is "postgres" or "sqlite3" (development only)
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig holds browser session store configuration
type SessionConfig struct {
	// Backend is "redis" or "memory" (single-instance only)
	Backend string `yaml:"backend"`

	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// TTL bounds the lifetime of a browser session and everything
	// stored under it, including pending authentication state.
	TTL time.Duration `yaml:"ttl"`

	// CookieName carries the session ID in the browser.
	CookieName   string `yaml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure"`
}

// NotifyConfig holds email notification configuration
type NotifyConfig struct {
	// Enabled turns on new-account emails. Failures never block
	// authentication regardless of this setting.
	Enabled bool `yaml:"enabled"`

	// Provider is "ses" or "log"
	Provider    string   `yaml:"provider"`
	FromAddress string   `yaml:"from_address"`
	AdminEmails []string `yaml:"admin_emails"`
	SESRegion   string   `yaml:"ses_region"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel `yaml:"-"`

	// LogLevelName is the textual form used in YAML overlays.
	LogLevelName string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Load reads configuration from environment variables, optionally overlaid
// with a YAML file, and validates it. A missing required setting is a
// startup error, never a per-request one.
func Load(file string) (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Auth:          loadAuthConfig(),
		Directory:     loadDirectoryConfig(),
		Session:       loadSessionConfig(),
		Notify:        loadNotifyConfig(),
		Observability: loadObservabilityConfig(),
	}

	if file != "" {
		if err := cfg.overlayFile(file); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", file, err)
		}
	}

	if cfg.Observability.LogLevelName != "" {
		cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// overlayFile applies YAML settings on top of environment values.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SIGNON_HOST", "0.0.0.0"),
		Port:            getEnv("SIGNON_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SIGNON_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SIGNON_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SIGNON_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SIGNON_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SIGNON_HEALTH_PORT", "9090"),
	}
}

func loadAuthConfig() AuthConfig {
	cfg := AuthConfig{
		ClientID:          getEnv("SIGNON_CLIENT_ID", ""),
		ClientSecret:      getEnv("SIGNON_CLIENT_SECRET", ""),
		Authority:         getEnv("SIGNON_AUTHORITY", ""),
		RedirectDomain:    getEnv("SIGNON_REDIRECT_DOMAIN", ""),
		PrimaryTenantID:   getEnv("SIGNON_PRIMARY_TENANT_ID", ""),
		PrimaryTenantName: getEnv("SIGNON_PRIMARY_TENANT_NAME", ""),
		RestrictTenants:   getEnvBool("SIGNON_RESTRICT_TENANTS", true),
		AppName:           getEnv("SIGNON_APP_NAME", "signon"),
		LoginPath:         getEnv("SIGNON_LOGIN_PATH", "login"),
		LandingPath:       getEnv("SIGNON_LANDING_PATH", "landing"),
		LogoutPath:        getEnv("SIGNON_LOGOUT_PATH", "logout"),
		RedirectPath:      getEnv("SIGNON_REDIRECT_PATH", "authorize"),
		RedirectFieldName: getEnv("SIGNON_REDIRECT_FIELD_NAME", "next"),
		ProviderLogout:    getEnvBool("SIGNON_PROVIDER_LOGOUT", false),
		ProviderLogoutURL: getEnv("SIGNON_PROVIDER_LOGOUT_URL", ""),
		DirectoryEndpoint: getEnv("SIGNON_DIRECTORY_ENDPOINT", ""),
	}

	if scopes := getEnv("SIGNON_SCOPES", ""); scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Scopes = append(cfg.Scopes, s)
			}
		}
	} else {
		cfg.Scopes = []string{"openid", "profile", "email"}
	}

	// Single-tenant authority derived from the primary tenant unless
	// explicitly configured.
	if cfg.Authority == "" && cfg.PrimaryTenantID != "" {
		cfg.Authority = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", cfg.PrimaryTenantID)
	}

	return cfg
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Driver:          getEnv("SIGNON_DB_DRIVER", "postgres"),
		DSN:             getEnv("SIGNON_DB_DSN", ""),
		MaxOpenConns:    getEnvInt("SIGNON_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("SIGNON_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("SIGNON_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:       getEnv("SIGNON_SESSION_BACKEND", "redis"),
		RedisURL:      getEnv("SIGNON_SESSION_REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("SIGNON_SESSION_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SIGNON_SESSION_REDIS_DB", 0),
		TTL:           getEnvDuration("SIGNON_SESSION_TTL", 24*time.Hour),
		CookieName:    getEnv("SIGNON_SESSION_COOKIE_NAME", "signon_session"),
		CookieSecure:  getEnvBool("SIGNON_SESSION_COOKIE_SECURE", true),
	}
}

func loadNotifyConfig() NotifyConfig {
	cfg := NotifyConfig{
		Enabled:     getEnvBool("SIGNON_NOTIFY_ENABLED", false),
		Provider:    getEnv("SIGNON_NOTIFY_PROVIDER", "log"),
		FromAddress: getEnv("SIGNON_NOTIFY_FROM", ""),
		SESRegion:   getEnv("SIGNON_NOTIFY_SES_REGION", ""),
	}

	if admins := getEnv("SIGNON_NOTIFY_ADMIN_EMAILS", ""); admins != "" {
		for _, a := range strings.Split(admins, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.AdminEmails = append(cfg.AdminEmails, a)
			}
		}
	}

	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("SIGNON_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SIGNON_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SIGNON_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SIGNON_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SIGNON_OTEL_SERVICE_NAME", "signon"),
		OTelServiceVersion: getEnv("SIGNON_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SIGNON_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.ClientID == "" {
		return fmt.Errorf("SIGNON_CLIENT_ID is a required setting")
	}
	if c.Auth.ClientSecret == "" {
		return fmt.Errorf("SIGNON_CLIENT_SECRET is a required setting")
	}
	if c.Auth.RedirectDomain == "" {
		return fmt.Errorf("SIGNON_REDIRECT_DOMAIN is a required setting")
	}
	if c.Auth.PrimaryTenantID == "" {
		return fmt.Errorf("SIGNON_PRIMARY_TENANT_ID is a required setting")
	}
	if c.Auth.PrimaryTenantName == "" {
		return fmt.Errorf("SIGNON_PRIMARY_TENANT_NAME is a required setting")
	}
	if c.Auth.Authority == "" {
		return fmt.Errorf("authority URL is required")
	}
	if u, err := url.Parse(c.Auth.Authority); err != nil || u.Scheme != "https" {
		return fmt.Errorf("authority must be an https URL, got %q", c.Auth.Authority)
	}
	if u, err := url.Parse(c.Auth.RedirectDomain); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("redirect domain must be an absolute URL, got %q", c.Auth.RedirectDomain)
	}
	if len(c.Auth.Scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	if c.Auth.ProviderLogout && c.Auth.ProviderLogoutURL == "" {
		return fmt.Errorf("provider logout URL is required when provider logout is enabled")
	}

	switch c.Directory.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid directory driver: %s (must be postgres or sqlite3)", c.Directory.Driver)
	}
	if c.Directory.DSN == "" {
		return fmt.Errorf("directory DSN is required")
	}

	switch c.Session.Backend {
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis session backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid session backend: %s (must be redis or memory)", c.Session.Backend)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Notify.Enabled {
		if c.Notify.FromAddress == "" {
			return fmt.Errorf("notify from address is required when notifications are enabled")
		}
		if len(c.Notify.AdminEmails) == 0 {
			return fmt.Errorf("at least one admin email is required when notifications are enabled")
		}
		switch c.Notify.Provider {
		case "ses", "log":
		default:
			return fmt.Errorf("invalid notify provider: %s (must be ses or log)", c.Notify.Provider)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
