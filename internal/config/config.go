package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	AI        AI        `mapstructure:"ai"`
	News      News      `mapstructure:"news"`
	Feed      Feed      `mapstructure:"feed"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Auth      Auth      `mapstructure:"auth"`
	Client    Client    `mapstructure:"client"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORS          `mapstructure:"cors"`
}

// CORS holds cross-origin configuration for browser clients
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Database holds persistence configuration
type Database struct {
	Driver     string `mapstructure:"driver"`      // "sqlite" or "postgres"
	URL        string `mapstructure:"url"`         // Postgres primary (writes)
	ReadURL    string `mapstructure:"read_url"`    // Postgres replica for reads; may lag the primary
	SQLitePath string `mapstructure:"sqlite_path"` // SQLite database file
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float32       `mapstructure:"temperature"`
}

// News holds search provider configuration
type News struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PageSize          int           `mapstructure:"page_size"`
	Language          string        `mapstructure:"language"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RSSFeeds          []string      `mapstructure:"rss_feeds"`
}

// Feed holds feed computation configuration
type Feed struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MaxEnriched    int           `mapstructure:"max_enriched"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenWindow    time.Duration `mapstructure:"token_window"`
}

// RateLimit holds the shared daily AI quota
type RateLimit struct {
	DailyLimit int `mapstructure:"daily_limit"`
}

// Auth holds identity and token signing configuration
type Auth struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	Issuer            string `mapstructure:"issuer"`
	Audience          string `mapstructure:"audience"`
	ConsistencySecret string `mapstructure:"consistency_secret"`
}

// Client holds configuration for the CLI's API client
type Client struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryMinWait  time.Duration `mapstructure:"retry_min_wait"`
	RetryMaxWait  time.Duration `mapstructure:"retry_max_wait"`
}

// Telemetry holds OpenTelemetry configuration
type Telemetry struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".newsfeed")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	dataDir := filepath.Join(xdg.DataHome, "newsfeed")

	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", dataDir)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.sqlite_path", filepath.Join(dataDir, "newsfeed.db"))

	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.timeout", "30s")
	viper.SetDefault("ai.gemini.temperature", 0.2)

	viper.SetDefault("news.provider", "newsapi")
	viper.SetDefault("news.base_url", "https://newsapi.org")
	viper.SetDefault("news.timeout", "15s")
	viper.SetDefault("news.page_size", 100)
	viper.SetDefault("news.language", "en")
	viper.SetDefault("news.requests_per_second", 2.0)

	viper.SetDefault("feed.cache_ttl", "1h")
	viper.SetDefault("feed.max_enriched", 20)
	viper.SetDefault("feed.request_timeout", "90s")
	viper.SetDefault("feed.token_window", "60s")

	viper.SetDefault("rate_limit.daily_limit", 100)

	viper.SetDefault("client.base_url", "http://localhost:5000")
	viper.SetDefault("client.timeout", "100s")
	viper.SetDefault("client.retry_attempts", 3)
	viper.SetDefault("client.retry_min_wait", "1s")
	viper.SetDefault("client.retry_max_wait", "2s")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "newsfeed")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("news.api_key", []string{
		"NEWS_API_KEY",
		"NEWSAPI_KEY",
	})

	bindEnvKeys("database.url", []string{
		"DATABASE_URL",
	})

	bindEnvKeys("database.read_url", []string{
		"DATABASE_READ_URL",
		"DATABASE_REPLICA_URL",
	})

	bindEnvKeys("auth.jwt_secret", []string{
		"JWT_SECRET",
		"AUTH_JWT_SECRET",
	})

	bindEnvKeys("auth.consistency_secret", []string{
		"CONSISTENCY_SECRET",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})

	bindEnvKeys("client.base_url", []string{
		"NEWSFEED_URL",
	})

	bindEnvKeys("client.token", []string{
		"NEWSFEED_TOKEN",
	})

	bindEnvKeys("telemetry.endpoint", []string{
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"NEWSFEED_OTEL_ENDPOINT",
	})

	bindEnvKeys("logging.level", []string{
		"LOG_LEVEL",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"NEWSFEED_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Database.SQLitePath != "" {
		config.Database.SQLitePath = expandPath(config.Database.SQLitePath)
	}

	config.Database.Driver = strings.ToLower(strings.TrimSpace(config.Database.Driver))
	config.News.Provider = strings.ToLower(strings.TrimSpace(config.News.Provider))

	// Reads go to the primary unless a replica is configured.
	if config.Database.ReadURL == "" {
		config.Database.ReadURL = config.Database.URL
	}

	// The consistency token has its own key when provided; otherwise it shares
	// the identity secret.
	if config.Auth.ConsistencySecret == "" {
		config.Auth.ConsistencySecret = config.Auth.JWTSecret
	}

	durations := map[string]time.Duration{
		"server.read_timeout":  config.Server.ReadTimeout,
		"server.write_timeout": config.Server.WriteTimeout,
		"ai.gemini.timeout":    config.AI.Gemini.Timeout,
		"news.timeout":         config.News.Timeout,
		"feed.cache_ttl":       config.Feed.CacheTTL,
		"feed.request_timeout": config.Feed.RequestTimeout,
		"feed.token_window":    config.Feed.TokenWindow,
	}

	for key, duration := range durations {
		if duration <= 0 {
			return fmt.Errorf("invalid duration for %s: %s", key, duration)
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the configuration is internally consistent
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.SQLitePath == "" {
			errors = append(errors, "SQLite requires database.sqlite_path")
		}
	case "postgres":
		// URL is checked by ValidateServe; migrate and client commands may run without it.
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: sqlite, postgres", config.Database.Driver))
	}

	switch config.News.Provider {
	case "newsapi", "rss", "mock":
	default:
		errors = append(errors, fmt.Sprintf("Unknown news provider: %s. Supported: newsapi, rss, mock", config.News.Provider))
	}

	if config.Feed.MaxEnriched <= 0 || config.Feed.MaxEnriched > 20 {
		errors = append(errors, fmt.Sprintf("feed.max_enriched must be between 1 and 20, got %d", config.Feed.MaxEnriched))
	}

	if config.RateLimit.DailyLimit <= 0 {
		errors = append(errors, fmt.Sprintf("rate_limit.daily_limit must be positive, got %d", config.RateLimit.DailyLimit))
	}

	if config.News.PageSize <= 0 || config.News.PageSize > 100 {
		errors = append(errors, fmt.Sprintf("news.page_size must be between 1 and 100, got %d", config.News.PageSize))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateServe checks the settings the HTTP server cannot start without.
func (c *Config) ValidateServe() error {
	var errors []string

	if c.AI.Gemini.APIKey == "" {
		errors = append(errors, "Gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.\nGet your API key from: https://aistudio.google.com/app/apikey")
	}

	if c.News.Provider == "newsapi" && !isValidAPIKey(c.News.APIKey) {
		errors = append(errors, "NewsAPI requires an API key. Set NEWS_API_KEY environment variable")
	}
	if c.News.Provider == "rss" && len(c.News.RSSFeeds) == 0 {
		errors = append(errors, "RSS provider requires at least one entry in news.rss_feeds")
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		errors = append(errors, "Postgres requires a connection string. Set DATABASE_URL or database.url")
	}

	if len(c.Auth.JWTSecret) < 16 {
		errors = append(errors, "auth.jwt_secret must be at least 16 bytes. Set JWT_SECRET environment variable")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Convenience getters for commonly used configuration values
func GetServer() Server       { return Get().Server }
func GetDatabase() Database   { return Get().Database }
func GetNews() News           { return Get().News }
func GetFeed() Feed           { return Get().Feed }
func GetClient() Client       { return Get().Client }
func GetLogging() Logging     { return Get().Logging }
func GetTelemetry() Telemetry { return Get().Telemetry }
func IsDebugMode() bool       { return Get().App.Debug }

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-newsapi-key", "your-gemini-key",
		"YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
