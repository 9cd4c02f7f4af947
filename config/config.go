// Package config loads rfm server and client settings from a YAML file with
// RFM_* environment overrides, and validates them.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults shared by server and client.
const (
	DefaultServerHost    = "0.0.0.0"
	DefaultClientHost    = "localhost"
	DefaultPort          = 4453
	DefaultUsername      = "admin"
	DefaultCompressLevel = 5
	DefaultRoot          = "server_root"
	DefaultTokenTTL      = time.Hour
	DefaultDialTimeout   = 10 * time.Second

	// MaxCompressLevel bounds CompressLevel; 0 stores without compression.
	MaxCompressLevel = 7
)

var (
	// ErrInvalidHost indicates a host that is neither IPv4 nor "localhost".
	ErrInvalidHost = errors.New("host must be an IPv4 address or localhost")
	// ErrInvalidPort indicates a port outside 1..65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrInvalidCompressLevel indicates a level outside 0..MaxCompressLevel.
	ErrInvalidCompressLevel = errors.New("compress level must be between 0 and 7")
	// ErrMissingSecret indicates auth is enabled without a JWT secret.
	ErrMissingSecret = errors.New("jwt_secret is required when auth is enabled")
	// ErrMissingRoot indicates an empty server root.
	ErrMissingRoot = errors.New("root is required")
	// ErrNegativeTimeout indicates an idle or write timeout below zero.
	ErrNegativeTimeout = errors.New("timeouts must not be negative")
)

// User is a statically configured account.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// AuthConfig controls authentication on the server.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// DatabaseURL selects the PostgreSQL credential store; when empty the
	// Users list is used.
	DatabaseURL string `yaml:"database_url"`
	Users       []User `yaml:"users"`
}

// SecureConfig controls the Noise secure channel.
type SecureConfig struct {
	Enabled bool `yaml:"enabled"`
	// KeyFile holds the static private key (server, optional on the client).
	KeyFile string `yaml:"key_file"`
	// ServerKey pins the server's public key on the client (hex).
	ServerKey string `yaml:"server_key"`
}

// LogConfig selects the logrus level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds every server setting.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Root           string        `yaml:"root"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	CompressLevel  int           `yaml:"compress_level"`
	Auth           AuthConfig    `yaml:"auth"`
	Secure         SecureConfig  `yaml:"secure"`
	Log            LogConfig     `yaml:"log"`
}

// ClientConfig holds every client setting.
type ClientConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Username      string        `yaml:"username"`
	CompressLevel int           `yaml:"compress_level"`
	DownloadDir   string        `yaml:"download_dir"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	Secure        SecureConfig  `yaml:"secure"`
	Log           LogConfig     `yaml:"log"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          DefaultServerHost,
		Port:          DefaultPort,
		Root:          DefaultRoot,
		CompressLevel: DefaultCompressLevel,
		Auth:          AuthConfig{TokenTTL: DefaultTokenTTL},
		Secure: SecureConfig{
			KeyFile: "server.key",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:          DefaultClientHost,
		Port:          DefaultPort,
		Username:      DefaultUsername,
		CompressLevel: DefaultCompressLevel,
		DownloadDir:   ".",
		DialTimeout:   DefaultDialTimeout,
		Log:           LogConfig{Level: "warn", Format: "text"},
	}
}

// LoadServer reads path (if non-empty and present), applies environment
// overrides and validates the result.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	cfg.Host = envOr("RFM_HOST", cfg.Host)
	cfg.Port = envInt("RFM_PORT", cfg.Port)
	cfg.Root = envOr("RFM_ROOT", cfg.Root)
	cfg.MaxConnections = envInt("RFM_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.IdleTimeout = envDuration("RFM_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.WriteTimeout = envDuration("RFM_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.MetricsAddr = envOr("RFM_METRICS_ADDR", cfg.MetricsAddr)
	cfg.CompressLevel = envInt("RFM_COMPRESS_LEVEL", cfg.CompressLevel)
	cfg.Auth.Enabled = envBool("RFM_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = envOr("RFM_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenTTL = envDuration("RFM_TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.DatabaseURL = envOr("RFM_DATABASE_URL", cfg.Auth.DatabaseURL)
	cfg.Secure.Enabled = envBool("RFM_SECURE", cfg.Secure.Enabled)
	cfg.Secure.KeyFile = envOr("RFM_KEY_FILE", cfg.Secure.KeyFile)
	cfg.Log.Level = envOr("RFM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("RFM_LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads path (if non-empty and present), applies environment
// overrides and validates the result.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	cfg.Host = envOr("RFM_HOST", cfg.Host)
	cfg.Port = envInt("RFM_PORT", cfg.Port)
	cfg.Username = envOr("RFM_USERNAME", cfg.Username)
	cfg.CompressLevel = envInt("RFM_COMPRESS_LEVEL", cfg.CompressLevel)
	cfg.DownloadDir = envOr("RFM_DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.DialTimeout = envDuration("RFM_DIAL_TIMEOUT", cfg.DialTimeout)
	cfg.Secure.Enabled = envBool("RFM_SECURE", cfg.Secure.Enabled)
	cfg.Secure.KeyFile = envOr("RFM_KEY_FILE", cfg.Secure.KeyFile)
	cfg.Secure.ServerKey = envOr("RFM_SERVER_KEY", cfg.Secure.ServerKey)
	cfg.Log.Level = envOr("RFM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("RFM_LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the server settings.
func (c *ServerConfig) Validate() error {
	if err := ValidateHost(c.Host, true); err != nil {
		return err
	}
	if err := ValidatePort(c.Port); err != nil {
		return err
	}
	if strings.TrimSpace(c.Root) == "" {
		return ErrMissingRoot
	}
	if err := ValidateCompressLevel(c.CompressLevel); err != nil {
		return err
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative, got %d", c.MaxConnections)
	}
	if c.IdleTimeout < 0 || c.WriteTimeout < 0 {
		return ErrNegativeTimeout
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return ErrMissingSecret
	}
	for _, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("user entries need username and password_hash")
		}
	}
	return nil
}

// Validate checks the client settings.
func (c *ClientConfig) Validate() error {
	if err := ValidateHost(c.Host, false); err != nil {
		return err
	}
	if err := ValidatePort(c.Port); err != nil {
		return err
	}
	return ValidateCompressLevel(c.CompressLevel)
}

// Addr returns host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns host:port.
func (c *ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Save writes the client settings back to path, for example after the user
// changed the server address.
func (c *ClientConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ValidateHost accepts IPv4 addresses and "localhost". A server may also use
// the unspecified address to listen on every interface.
func ValidateHost(host string, allowAny bool) error {
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil || !strings.Contains(host, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	if ip.IsUnspecified() && !allowAny {
		return fmt.Errorf("%w: cannot connect to %q", ErrInvalidHost, host)
	}
	return nil
}

// ValidatePort accepts 1..65535.
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}

// ValidateCompressLevel accepts 0..MaxCompressLevel.
func ValidateCompressLevel(level int) error {
	if level < 0 || level > MaxCompressLevel {
		return fmt.Errorf("%w: %d", ErrInvalidCompressLevel, level)
	}
	return nil
}

func readYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
