// ABOUTME: Configuration loading and parsing for passkeyd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete passkeyd configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	RP         RPConfig         `yaml:"rp"`
	Database   DatabaseConfig   `yaml:"database"`
	Challenges ChallengesConfig `yaml:"challenges"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BaseURL is the external URL clients reach the service on. Relying
	// party id and origins are derived from it when not set explicitly.
	BaseURL string `yaml:"base_url"`
}

// RPConfig holds the WebAuthn relying-party identity. All fields are
// optional; unset fields fall back to values derived from server.base_url.
type RPConfig struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Origins     []string `yaml:"origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChallengesConfig bounds the lifetime of pending ceremonies
type ChallengesConfig struct {
	TTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if cfg.Challenges.TTLRaw != "" {
		cfg.Challenges.TTL, err = time.ParseDuration(cfg.Challenges.TTLRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing challenges.ttl %q: %w", cfg.Challenges.TTLRaw, err)
		}
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Challenges.TTL < 0 {
		return fmt.Errorf("challenges.ttl must not be negative")
	}

	return nil
}

// ResolveRP returns the relying-party id, display name, and allowed origins,
// deriving unset values from server.base_url. Defaults target localhost
// development when no base URL is configured either.
func (c *Config) ResolveRP() (rpID, displayName string, origins []string) {
	rpID = c.RP.ID
	displayName = c.RP.DisplayName
	origins = c.RP.Origins

	if displayName == "" {
		displayName = "passkeyd"
	}

	if rpID != "" && len(origins) > 0 {
		return rpID, displayName, origins
	}

	derivedID, derivedOrigins := deriveFromBaseURL(c.Server.BaseURL)
	if rpID == "" {
		rpID = derivedID
	}
	if len(origins) == 0 {
		origins = derivedOrigins
	}
	return rpID, displayName, origins
}

// deriveFromBaseURL extracts rpID and origins from a base URL.
// Returns localhost defaults if the URL is empty or invalid.
func deriveFromBaseURL(baseURL string) (rpID string, origins []string) {
	rpID = "localhost"
	origins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, origins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, origins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, origins
	}

	rpID = host
	origins = []string{baseURL}
	// Also allow the other scheme variant
	if parsed.Scheme == "https" {
		origins = append(origins, "http://"+parsed.Host)
	} else {
		origins = append(origins, "https://"+parsed.Host)
	}
	return rpID, origins
}
