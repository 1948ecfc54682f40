// Package config provides velune configuration.
// Values come from defaults, then an optional YAML or TOML file, then env vars.
// All fields have safe defaults so both the relay and the chat client run
// locally without any setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the relay server and the chat client.
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Relay  RelayConfig  `yaml:"relay" toml:"relay"`
	Client ClientConfig `yaml:"client" toml:"client"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// ServerConfig controls the HTTP listener of the relay.
type ServerConfig struct {
	Host              string        `yaml:"host" toml:"host"`                               // VELUNE_HOST default "127.0.0.1"
	Port              int           `yaml:"port" toml:"port"`                               // VELUNE_PORT default 8000
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" toml:"read_header_timeout"` // default: 10s
	ReadTimeout       time.Duration `yaml:"read_timeout" toml:"read_timeout"`               // default: 30s
	// WriteTimeout is zero by default: a token stream has no upper bound.
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`         // default: 120s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"` // default: 10s
}

// RelayConfig controls request validation and the upstream engine.
type RelayConfig struct {
	Model          string        `yaml:"model" toml:"model"`                     // VELUNE_MODEL default "chain"
	UpstreamModel  string        `yaml:"upstream_model" toml:"upstream_model"`   // VELUNE_UPSTREAM_MODEL default Model
	OllamaBaseURL  string        `yaml:"ollama_base_url" toml:"ollama_base_url"` // OLLAMA_BASE_URL default "http://localhost:11434"
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout"` // VELUNE_CONNECT_TIMEOUT default 30s
	TokenHeader    string        `yaml:"token_header" toml:"token_header"`       // default: "X-Local-Token"
	// AccessToken enables the token gate when non-empty (LOCAL_API_TOKEN).
	AccessToken string `yaml:"access_token" toml:"access_token"`
	// AccessTokenHash is a bcrypt hash of the token (VELUNE_TOKEN_HASH); wins over AccessToken.
	AccessTokenHash string `yaml:"access_token_hash" toml:"access_token_hash"`
	SystemPrompt    string `yaml:"system_prompt" toml:"system_prompt"`         // VELUNE_SYSTEM_PROMPT
	MaxRequestBytes int64  `yaml:"max_request_bytes" toml:"max_request_bytes"` // default: 1 MiB
}

// ClientConfig controls the interactive chat client.
type ClientConfig struct {
	RelayURL       string `yaml:"relay_url" toml:"relay_url"`             // VELUNE_RELAY_URL default "http://127.0.0.1:8000"
	Token          string `yaml:"token" toml:"token"`                     // VELUNE_CLIENT_TOKEN default LOCAL_API_TOKEN
	DBPath         string `yaml:"db_path" toml:"db_path"`                 // VELUNE_DB_PATH default "velune.sqlite"
	ConversationID string `yaml:"conversation_id" toml:"conversation_id"` // VELUNE_CONVERSATION default "default"
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // VELUNE_LOG_LEVEL default "info"
	Format string `yaml:"format" toml:"format"` // VELUNE_LOG_FORMAT "auto" | "console" | "json"
}

const (
	envKeyHost           = "VELUNE_HOST"
	envKeyPort           = "VELUNE_PORT"
	envKeyModel          = "VELUNE_MODEL"
	envKeyUpstreamModel  = "VELUNE_UPSTREAM_MODEL"
	envKeyOllamaBaseURL  = "OLLAMA_BASE_URL"
	envKeyConnectTimeout = "VELUNE_CONNECT_TIMEOUT"
	envKeyTokenHeader    = "VELUNE_TOKEN_HEADER"
	envKeyAccessToken    = "LOCAL_API_TOKEN"
	envKeyTokenHash      = "VELUNE_TOKEN_HASH"
	envKeySystemPrompt   = "VELUNE_SYSTEM_PROMPT"
	envKeyRelayURL       = "VELUNE_RELAY_URL"
	envKeyClientToken    = "VELUNE_CLIENT_TOKEN"
	envKeyDBPath         = "VELUNE_DB_PATH"
	envKeyConversation   = "VELUNE_CONVERSATION"
	envKeyLogLevel       = "VELUNE_LOG_LEVEL"
	envKeyLogFormat      = "VELUNE_LOG_FORMAT"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8000,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Relay: RelayConfig{
			Model:           "chain",
			OllamaBaseURL:   "http://localhost:11434",
			ConnectTimeout:  30 * time.Second,
			TokenHeader:     "X-Local-Token",
			MaxRequestBytes: 1 << 20,
		},
		Client: ClientConfig{
			RelayURL:       "http://127.0.0.1:8000",
			DBPath:         "velune.sqlite",
			ConversationID: "default",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration: defaults, then path (when non-empty), then env vars.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes path into cfg; the extension selects YAML or TOML.
// Keys missing from the file keep their current values.
func LoadFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Relay.Model) == "":
		return errors.New("config: relay.model must not be empty")
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	case c.Relay.ConnectTimeout <= 0:
		return fmt.Errorf("config: relay.connect_timeout must be positive, got %s", c.Relay.ConnectTimeout)
	case c.Relay.TokenHeader == "":
		return errors.New("config: relay.token_header must not be empty")
	case c.Relay.MaxRequestBytes <= 0:
		return fmt.Errorf("config: relay.max_request_bytes must be positive, got %d", c.Relay.MaxRequestBytes)
	}
	return nil
}

// Addr returns the host:port pair the relay listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// fillDerived resolves settings that default to other settings.
func (c *Config) fillDerived() {
	if c.Relay.UpstreamModel == "" {
		c.Relay.UpstreamModel = c.Relay.Model
	}
	if c.Client.Token == "" {
		c.Client.Token = c.Relay.AccessToken
	}
}

func applyEnv(c *Config) error {
	c.Server.Host = envOr(envKeyHost, c.Server.Host)
	c.Relay.Model = envOr(envKeyModel, c.Relay.Model)
	c.Relay.UpstreamModel = envOr(envKeyUpstreamModel, c.Relay.UpstreamModel)
	c.Relay.OllamaBaseURL = envOr(envKeyOllamaBaseURL, c.Relay.OllamaBaseURL)
	c.Relay.TokenHeader = envOr(envKeyTokenHeader, c.Relay.TokenHeader)
	c.Relay.AccessToken = envOr(envKeyAccessToken, c.Relay.AccessToken)
	c.Relay.AccessTokenHash = envOr(envKeyTokenHash, c.Relay.AccessTokenHash)
	c.Relay.SystemPrompt = envOr(envKeySystemPrompt, c.Relay.SystemPrompt)
	c.Client.RelayURL = envOr(envKeyRelayURL, c.Client.RelayURL)
	c.Client.Token = envOr(envKeyClientToken, c.Client.Token)
	c.Client.DBPath = envOr(envKeyDBPath, c.Client.DBPath)
	c.Client.ConversationID = envOr(envKeyConversation, c.Client.ConversationID)
	c.Log.Level = envOr(envKeyLogLevel, c.Log.Level)
	c.Log.Format = envOr(envKeyLogFormat, c.Log.Format)

	port, err := envIntOr(envKeyPort, c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port

	timeout, err := envDurationOr(envKeyConnectTimeout, c.Relay.ConnectTimeout)
	if err != nil {
		return err
	}
	c.Relay.ConnectTimeout = timeout
	return nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envDurationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
