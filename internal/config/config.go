package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names. They double as route segments and cache key prefixes.
const (
	ProviderAirtable = "airtable"
	ProviderHubSpot  = "hubspot"
	ProviderNotion   = "notion"
)

// Config holds application configuration
type Config struct {
	Port              int
	Environment       string
	LogLevel          string
	ServiceName       string
	CORSOrigins       []string
	HTTPClientTimeout time.Duration
	RateLimit         RateLimitConfig
	Redis             RedisConfig
	Providers         map[string]*ProviderConfig
}

// RateLimitConfig holds per-IP limits for the OAuth endpoints
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// TrustProxyHeaders keys limits on X-Forwarded-For / X-Real-IP instead of
	// the socket address. Only enable behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// RedisConfig holds the cache service location
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
	UseTLS   bool
}

// ProviderConfig holds the OAuth client registration for one provider
type ProviderConfig struct {
	Name         string
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

const (
	defaultRedisHost = "localhost"
	defaultRedisPort = 6379
	maxRedisDB       = 15
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "development")

	redisCfg, err := loadRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}

	cfg := &Config{
		Port:              getEnvInt("PORT", 8000),
		Environment:       env,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "integration-broker"),
		CORSOrigins:       loadCORSOrigins(),
		HTTPClientTimeout: getEnvDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 20),
			TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
		},
		Redis: redisCfg,
		Providers: map[string]*ProviderConfig{
			ProviderAirtable: loadProviderConfig(ProviderAirtable),
			ProviderHubSpot:  loadProviderConfig(ProviderHubSpot),
			ProviderNotion:   loadProviderConfig(ProviderNotion),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}

	if c.HTTPClientTimeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive")
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.Redis.DB < 0 || c.Redis.DB > maxRedisDB {
		return fmt.Errorf("REDIS_DB must be between 0 and %d", maxRedisDB)
	}

	for name, p := range c.Providers {
		if p == nil || !p.Enabled {
			continue
		}
		if p.RedirectURI == "" {
			return fmt.Errorf("%s_REDIRECT_URI is required when %s is enabled", strings.ToUpper(name), name)
		}
		if _, err := url.ParseRequestURI(p.RedirectURI); err != nil {
			return fmt.Errorf("%s_REDIRECT_URI is not a valid URL: %w", strings.ToUpper(name), err)
		}
	}

	return nil
}

// EnabledProviders returns the provider configurations that have client credentials
func (c *Config) EnabledProviders() []*ProviderConfig {
	var out []*ProviderConfig
	for _, name := range []string{ProviderAirtable, ProviderHubSpot, ProviderNotion} {
		if p := c.Providers[name]; p != nil && p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Addr returns the formatted Redis address
func (r RedisConfig) Addr() string {
	host := r.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, r.Port)
}

func loadRedisConfig() (RedisConfig, error) {
	cfg := RedisConfig{
		Host:     getEnv("REDIS_HOST", defaultRedisHost),
		Port:     getEnvInt("REDIS_PORT", defaultRedisPort),
		DB:       getEnvInt("REDIS_DB", 0),
		Password: os.Getenv("REDIS_PASSWORD"),
		UseTLS:   getEnvBool("REDIS_USE_TLS", false),
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return cfg, nil
	}

	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return cfg, fmt.Errorf("invalid Redis URL: %w", err)
	}

	if parsedURL.Scheme == "rediss" {
		cfg.UseTLS = true
	}

	if host := parsedURL.Hostname(); host != "" {
		cfg.Host = host
	}

	if port := parsedURL.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return cfg, fmt.Errorf("invalid port in Redis URL: %w", err)
		}
		cfg.Port = p
	}

	if password, ok := parsedURL.User.Password(); ok {
		cfg.Password = password
	}

	if path := strings.TrimPrefix(parsedURL.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil {
			return cfg, fmt.Errorf("invalid database number in Redis URL: %w", err)
		}
		cfg.DB = db
	}

	return cfg, nil
}

func loadCORSOrigins() []string {
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		return splitAndTrim(origins, ",")
	}
	if appURL := getAppURL(); appURL != "" {
		return []string{appURL}
	}
	return []string{"http://localhost:3000"}
}

func loadProviderConfig(name string) *ProviderConfig {
	prefix := strings.ToUpper(name) + "_"

	cfg := &ProviderConfig{
		Name:         name,
		ClientID:     os.Getenv(prefix + "CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
		RedirectURI:  os.Getenv(prefix + "REDIRECT_URI"),
	}

	// HubSpot scopes are space-delimited, matching how the app registration lists them
	if scopes := os.Getenv(prefix + "SCOPES"); scopes != "" {
		cfg.Scopes = strings.Fields(scopes)
	}

	if cfg.RedirectURI == "" {
		if appURL := getAPIURL(); appURL != "" {
			cfg.RedirectURI = appURL + "/integrations/" + name + "/oauth2callback"
		}
	}

	cfg.Enabled = cfg.ClientID != "" && cfg.ClientSecret != ""
	return cfg
}

func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getAppURL() string {
	return strings.TrimRight(os.Getenv("APP_URL"), "/")
}

func getAPIURL() string {
	return strings.TrimRight(os.Getenv("API_URL"), "/")
}
