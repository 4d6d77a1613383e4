package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/spa"
)

// EnvPrefix is prepended to every environment override, e.g. PORTFOLIO_SERVER_PORT
const EnvPrefix = "PORTFOLIO"

// DefaultConfigPath is where the config file lives unless --config says otherwise
const DefaultConfigPath = "~/.config/portfolio/config.json"

// Redirect modes
const (
	ModeServer = "server"
	ModeClient = "client"
)

// Session backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Ntfy     NtfyConfig     `json:"ntfy"`
	Site     SiteConfig     `json:"site"`
	Session  SessionConfig  `json:"session"`
	TLS      TLSConfig      `json:"tls"`
	Log      LogConfig      `json:"log"`
}

type ServerConfig struct {
	Port   string `json:"port" envconfig:"PORT"`
	Domain string `json:"domain" envconfig:"DOMAIN"`
	Env    string `json:"env" envconfig:"ENV"`
}

type DatabaseConfig struct {
	Path string `json:"path" envconfig:"PATH"`
}

type AuthConfig struct {
	Username     string `json:"username" envconfig:"USERNAME"`
	PasswordHash string `json:"password_hash" envconfig:"PASSWORD_HASH"`
}

type NtfyConfig struct {
	URL   string `json:"url" envconfig:"URL"`
	Topic string `json:"topic" envconfig:"TOPIC"`
}

// SiteConfig controls how the deployed export is served
type SiteConfig struct {
	Name string `json:"name" envconfig:"NAME"`
	// RedirectMode is "server" (handlers run the redirect protocol) or
	// "client" (the browser script does)
	RedirectMode string `json:"redirect_mode" envconfig:"REDIRECT_MODE"`
	SlashPolicy  string `json:"slash_policy" envconfig:"SLASH_POLICY"`
	RestoreGuard bool   `json:"restore_guard" envconfig:"RESTORE_GUARD"`
	// MaxUploadMB caps a deployment archive
	MaxUploadMB int `json:"max_upload_mb" envconfig:"MAX_UPLOAD_MB"`
	// TrackVisits records hashed page views
	TrackVisits bool `json:"track_visits" envconfig:"TRACK_VISITS"`
}

type SessionConfig struct {
	Backend  string `json:"backend" envconfig:"BACKEND"`
	TTL      string `json:"ttl" envconfig:"TTL"`
	RedisURL string `json:"redis_url" envconfig:"REDIS_URL"`
}

type TLSConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Email   string `json:"email" envconfig:"EMAIL"`
	// Staging uses the ACME staging CA
	Staging bool `json:"staging" envconfig:"STAGING"`
}

type LogConfig struct {
	Level string `json:"level" envconfig:"LEVEL"`
}

// CLIFlags holds command line overrides
type CLIFlags struct {
	ConfigPath string
	EnvFile    string
	Env        string
	DBPath     string
	Port       string
	Mode       string
	Username   string
	Password   string
	Verbose    bool
	Quiet      bool
}

// ParseFlags parses the server's command line
func ParseFlags() *CLIFlags {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) *CLIFlags {
	f := &CLIFlags{}
	fs.StringVar(&f.ConfigPath, "config", DefaultConfigPath, "Path to config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Dotenv file with PORTFOLIO_* overrides")
	fs.StringVar(&f.Env, "env", "", "Environment (development/production)")
	fs.StringVar(&f.DBPath, "db", "", "Database file path (overrides config)")
	fs.StringVar(&f.Port, "port", "", "Server port (overrides config)")
	fs.StringVar(&f.Mode, "mode", "", "Redirect mode: server or client (overrides config)")
	fs.StringVar(&f.Username, "username", "", "Set admin username")
	fs.StringVar(&f.Password, "password", "", "Set admin password")
	fs.BoolVar(&f.Verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&f.Quiet, "quiet", false, "Errors only")
	_ = fs.Parse(args)
	return f
}

// Load builds the configuration from, in increasing precedence: defaults, the
// config file, the dotenv file, the environment and CLI flags.
func Load(flags *CLIFlags) (*Config, error) {
	if flags == nil {
		flags = &CLIFlags{ConfigPath: DefaultConfigPath}
	}

	cfg := CreateDefaultConfig()
	path := ExpandPath(flags.ConfigPath)
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		switch {
		case err == nil:
			cfg = fileCfg
		case errors.Is(err, os.ErrNotExist):
			zap.L().Info("Config file not found, using defaults", zap.String("path", path))
		default:
			return nil, err
		}
	}

	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", flags.EnvFile, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyFlags(cfg, flags)
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with any PORTFOLIO_* variables that are set
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

func applyFlags(cfg *Config, flags *CLIFlags) {
	if flags.Env != "" {
		cfg.Server.Env = flags.Env
	}
	if flags.DBPath != "" {
		cfg.Database.Path = flags.DBPath
	}
	if flags.Port != "" {
		cfg.Server.Port = flags.Port
	}
	if flags.Mode != "" {
		cfg.Site.RedirectMode = flags.Mode
	}
	if flags.Verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Quiet {
		cfg.Log.Level = "error"
	}
}

// LoadFromFile reads a JSON config file, filling unset fields with defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := CreateDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes cfg as JSON, readable by the owner only
func SaveToFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(path, 0600)
}

// CreateDefaultConfig returns the configuration used when no file exists.
// Credentials are empty until set with --username/--password.
func CreateDefaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "4698", Domain: "http://localhost", Env: "development"},
		Database: DatabaseConfig{Path: "~/.config/portfolio/portfolio.db"},
		Ntfy:     NtfyConfig{URL: "https://ntfy.sh"},
		Site: SiteConfig{
			Name:         "portfolio",
			RedirectMode: ModeServer,
			SlashPolicy:  string(spa.SlashDirectoryIndex),
			MaxUploadMB:  50,
			TrackVisits:  true,
		},
		Session: SessionConfig{Backend: BackendMemory, TTL: "30m"},
		Log:     LogConfig{Level: "info"},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Server.Port)
	}

	if c.Server.Env != "development" && c.Server.Env != "production" {
		return fmt.Errorf("invalid environment %q (must be development or production)", c.Server.Env)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Site.RedirectMode != ModeServer && c.Site.RedirectMode != ModeClient {
		return fmt.Errorf("invalid redirect mode %q (must be %s or %s)", c.Site.RedirectMode, ModeServer, ModeClient)
	}

	if _, err := spa.ParseSlashPolicy(c.Site.SlashPolicy); err != nil {
		return err
	}

	if c.Site.Name == "" || strings.ContainsAny(c.Site.Name, "/\\ ") {
		return fmt.Errorf("invalid site name %q", c.Site.Name)
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid session backend %q (must be %s or %s)", c.Session.Backend, BackendMemory, BackendRedis)
	}

	if c.Session.TTL != "" {
		if ttl, err := time.ParseDuration(c.Session.TTL); err != nil || ttl <= 0 {
			return fmt.Errorf("invalid session ttl %q", c.Session.TTL)
		}
	}

	if c.TLS.Enabled && c.Domain() == "localhost" {
		return fmt.Errorf("tls requires a public server domain")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// HasAuth reports whether admin credentials are configured
func (c *Config) HasAuth() bool {
	return c.Auth.Username != "" && c.Auth.PasswordHash != ""
}

// Domain returns the bare host name of Server.Domain
func (c *Config) Domain() string {
	d := c.Server.Domain
	if i := strings.Index(d, "://"); i != -1 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, ":/"); i != -1 {
		d = d[:i]
	}
	return d
}

// SessionTTL returns the parsed session idle timeout
func (c *Config) SessionTTL() time.Duration {
	ttl, err := time.ParseDuration(c.Session.TTL)
	if err != nil || ttl <= 0 {
		return 30 * time.Minute
	}
	return ttl
}

// SlashPolicy returns the parsed trailing-slash policy
func (c *Config) SlashPolicy() spa.SlashPolicy {
	p, err := spa.ParseSlashPolicy(c.Site.SlashPolicy)
	if err != nil {
		return spa.SlashDirectoryIndex
	}
	return p
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
