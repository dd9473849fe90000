// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Logging    LoggingConfig    `koanf:"logging"`
	Auth       AuthConfig       `koanf:"auth"`
	Feed       FeedConfig       `koanf:"feed"`
	Completion CompletionConfig `koanf:"completion"`
	Metadata   MetadataConfig   `koanf:"metadata"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// GenerateRateLimit caps generate requests per user per minute. 0 disables.
	GenerateRateLimit int `koanf:"generate_rate_limit"`
	// BrowserIdleTTL is how long an unused per-user browser is kept in
	// memory. 0 keeps them for the life of the process.
	BrowserIdleTTL time.Duration `koanf:"browser_idle_ttl"`
}

type DatabaseConfig struct {
	Type           string `koanf:"type"`
	SQLitePath     string `koanf:"sqlite_path"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	User           string `koanf:"user"`
	Password       string `koanf:"password"`
	Name           string `koanf:"name"`
	MigrationsPath string `koanf:"migrations_path"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens from the auth provider.
	// Empty means the X-User-ID header is trusted (development only).
	JWTSecret string `koanf:"jwt_secret"`
}

type FeedConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type CompletionConfig struct {
	Provider     string        `koanf:"provider"`
	OpenAIAPIKey string        `koanf:"openai_api_key"`
	OpenAIURL    string        `koanf:"openai_url"`
	OpenAIModel  string        `koanf:"openai_model"`
	GeminiAPIKey string        `koanf:"gemini_api_key"`
	GeminiURL    string        `koanf:"gemini_url"`
	GeminiModel  string        `koanf:"gemini_model"`
	MaxTokens    int           `koanf:"max_tokens"`
	SystemPrompt string        `koanf:"system_prompt"`
	Instruction  string        `koanf:"instruction"`
	Timeout      time.Duration `koanf:"timeout"`
}

type MetadataConfig struct {
	Provider   string        `koanf:"provider"`
	OMDbAPIKey string        `koanf:"omdb_api_key"`
	OMDbURL    string        `koanf:"omdb_url"`
	TMDbAPIKey string        `koanf:"tmdb_api_key"`
	TMDbURL    string        `koanf:"tmdb_url"`
	Timeout    time.Duration `koanf:"timeout"`
	// RatePerSecond bounds outbound lookups. 0 disables limiting.
	RatePerSecond float64 `koanf:"rate_per_second"`
	// ResolveTimeout bounds one shared poster resolution, cache reads included.
	ResolveTimeout time.Duration `koanf:"resolve_timeout"`
}

// DefaultInstruction asks the model for the array shape the extractor expects.
const DefaultInstruction = "Based on these film ratings, recommend 10 films I have not logged yet. " +
	"Respond with a JSON array of objects with \"title\" and \"reason\" fields."

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			ShutdownTimeout:   10 * time.Second,
			GenerateRateLimit: 10,
			BrowserIdleTTL:    30 * time.Minute,
		},
		Database: DatabaseConfig{
			Type:           "sqlite",
			SQLitePath:     "./cinesuggest.db",
			Host:           "localhost",
			Port:           5432,
			User:           "cinesuggest",
			Password:       "cinesuggest_dev",
			Name:           "cinesuggest",
			MigrationsPath: "./migrations",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Feed: FeedConfig{
			BaseURL: "https://letterboxd.com",
			Timeout: 15 * time.Second,
		},
		Completion: CompletionConfig{
			Provider:     "openai",
			OpenAIURL:    "https://api.openai.com",
			OpenAIModel:  "gpt-4",
			GeminiURL:    "https://generativelanguage.googleapis.com",
			GeminiModel:  "gemini-pro",
			MaxTokens:    1024,
			SystemPrompt: "You are a movie recommendation engine.",
			Instruction:  DefaultInstruction,
			Timeout:      60 * time.Second,
		},
		Metadata: MetadataConfig{
			Provider:       "omdb",
			OMDbURL:        "https://www.omdbapi.com",
			TMDbURL:        "https://api.themoviedb.org",
			Timeout:        10 * time.Second,
			RatePerSecond:  5,
			ResolveTimeout: 30 * time.Second,
		},
	}
}

var envMappings = map[string]string{
	"port":                  "server.port",
	"shutdown_timeout":      "server.shutdown_timeout",
	"generate_rate_limit":   "server.generate_rate_limit",
	"browser_idle_ttl":      "server.browser_idle_ttl",
	"db_type":               "database.type",
	"db_path":               "database.sqlite_path",
	"db_host":               "database.host",
	"db_port":               "database.port",
	"db_user":               "database.user",
	"db_password":           "database.password",
	"db_name":               "database.name",
	"migrations_path":       "database.migrations_path",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
	"jwt_secret":            "auth.jwt_secret",
	"supabase_jwt_secret":   "auth.jwt_secret",
	"letterboxd_url":        "feed.base_url",
	"feed_timeout":          "feed.timeout",
	"completion_provider":   "completion.provider",
	"openai_api_key":        "completion.openai_api_key",
	"openai_url":            "completion.openai_url",
	"openai_model":          "completion.openai_model",
	"gemini_api_key":        "completion.gemini_api_key",
	"gemini_url":            "completion.gemini_url",
	"gemini_model":          "completion.gemini_model",
	"completion_max_tokens": "completion.max_tokens",
	"completion_timeout":    "completion.timeout",
	"recommend_instruction": "completion.instruction",
	"metadata_provider":     "metadata.provider",
	"omdb_api_key":          "metadata.omdb_api_key",
	"omdb_url":              "metadata.omdb_url",
	"tmdb_api_key":          "metadata.tmdb_api_key",
	"tmdb_url":              "metadata.tmdb_url",
	"metadata_timeout":      "metadata.timeout",
	"metadata_rate":         "metadata.rate_per_second",
	"poster_timeout":        "metadata.resolve_timeout",
}

// envTransformFunc maps plain environment names (OPENAI_API_KEY) onto config
// paths. Unknown variables map to "" and are ignored by the provider.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load builds the configuration: defaults, then the YAML file, then env.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for sqlite"))
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database type: %q", c.Database.Type))
	}

	switch c.Completion.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unsupported completion provider: %q", c.Completion.Provider))
	}

	switch c.Metadata.Provider {
	case "omdb", "tmdb":
	default:
		errs = append(errs, fmt.Errorf("unsupported metadata provider: %q", c.Metadata.Provider))
	}

	if c.Completion.Timeout <= 0 || c.Metadata.Timeout <= 0 || c.Feed.Timeout <= 0 {
		errs = append(errs, errors.New("outbound timeouts must be positive"))
	}

	return errors.Join(errs...)
}

// CompletionKey returns the credential of the selected completion provider.
func (c CompletionConfig) CompletionKey() string {
	if c.Provider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}
