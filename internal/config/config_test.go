package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jikku/portfolio/internal/spa"
)

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"home prefix", "~/test/path", filepath.Join(homeDir, "test/path")},
		{"absolute path", "/etc/config", "/etc/config"},
		{"relative path", "relative/path", "relative/path"},
		{"empty string", "", ""},
		{"just tilde", "~", "~"}, // Only ~/... is expanded
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExpandPath(tt.input)
			if result != tt.expected {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{
			name:   "production client mode",
			mutate: func(c *Config) { c.Server.Env = "production"; c.Site.RedirectMode = ModeClient },
		},
		{
			name:   "redis backend with url",
			mutate: func(c *Config) { c.Session.Backend = BackendRedis; c.Session.RedisURL = "redis://localhost:6379/0" },
		},
		{
			name:    "invalid port - not a number",
			mutate:  func(c *Config) { c.Server.Port = "abc" },
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Server.Port = "70000" },
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name:    "invalid port - zero",
			mutate:  func(c *Config) { c.Server.Port = "0" },
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name:    "invalid environment",
			mutate:  func(c *Config) { c.Server.Env = "staging" },
			wantErr: true,
			errMsg:  "invalid environment",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
			errMsg:  "database path cannot be empty",
		},
		{
			name:    "unknown redirect mode",
			mutate:  func(c *Config) { c.Site.RedirectMode = "both" },
			wantErr: true,
			errMsg:  "invalid redirect mode",
		},
		{
			name:    "unknown slash policy",
			mutate:  func(c *Config) { c.Site.SlashPolicy = "strip" },
			wantErr: true,
			errMsg:  "invalid slash policy",
		},
		{
			name:    "site name with slash",
			mutate:  func(c *Config) { c.Site.Name = "a/b" },
			wantErr: true,
			errMsg:  "invalid site name",
		},
		{
			name:    "redis backend without url",
			mutate:  func(c *Config) { c.Session.Backend = BackendRedis },
			wantErr: true,
			errMsg:  "redis_url",
		},
		{
			name:    "unknown session backend",
			mutate:  func(c *Config) { c.Session.Backend = "memcached" },
			wantErr: true,
			errMsg:  "invalid session backend",
		},
		{
			name:    "bad ttl",
			mutate:  func(c *Config) { c.Session.TTL = "soon" },
			wantErr: true,
			errMsg:  "invalid session ttl",
		},
		{
			name:    "tls on localhost",
			mutate:  func(c *Config) { c.TLS.Enabled = true },
			wantErr: true,
			errMsg:  "tls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CreateDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfigEnvironmentMethods(t *testing.T) {
	devConfig := &Config{Server: ServerConfig{Env: "development"}}
	prodConfig := &Config{Server: ServerConfig{Env: "production"}}

	if !devConfig.IsDevelopment() || devConfig.IsProduction() {
		t.Error("development config misreported")
	}
	if prodConfig.IsDevelopment() || !prodConfig.IsProduction() {
		t.Error("production config misreported")
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	cfg := CreateDefaultConfig()

	if cfg.Server.Port != "4698" {
		t.Errorf("Default port should be 4698, got %s", cfg.Server.Port)
	}
	if cfg.Site.RedirectMode != ModeServer {
		t.Errorf("Default redirect mode should be server, got %s", cfg.Site.RedirectMode)
	}
	if cfg.SlashPolicy() != spa.SlashDirectoryIndex {
		t.Errorf("Default slash policy should be directory-index, got %s", cfg.SlashPolicy())
	}
	if cfg.Site.RestoreGuard {
		t.Error("Restore guard should be off by default")
	}
	if cfg.SessionTTL() != 30*time.Minute {
		t.Errorf("Default session ttl should be 30m, got %s", cfg.SessionTTL())
	}
	if cfg.HasAuth() {
		t.Error("Default config should have no credentials")
	}
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"https://example.com":      "example.com",
		"http://localhost:4698":    "localhost",
		"example.com":              "example.com",
		"https://example.com/path": "example.com",
	}
	for in, want := range tests {
		cfg := &Config{Server: ServerConfig{Domain: in}}
		if got := cfg.Domain(); got != want {
			t.Errorf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configJSON := `{
		"server": {"port": "8080", "domain": "https://test.com", "env": "development"},
		"database": {"path": "/tmp/test.db"},
		"auth": {"username": "testuser", "password_hash": "testhash"},
		"site": {"redirect_mode": "client", "slash_policy": "as-is", "restore_guard": true}
	}`

	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.Username != "testuser" {
		t.Errorf("Username = %s, want testuser", cfg.Auth.Username)
	}
	if cfg.Site.RedirectMode != ModeClient || cfg.SlashPolicy() != spa.SlashAsIs || !cfg.Site.RestoreGuard {
		t.Errorf("Site = %+v", cfg.Site)
	}
	// Sections absent from the file keep their defaults
	if cfg.Session.Backend != BackendMemory {
		t.Errorf("Session.Backend = %s, want memory", cfg.Session.Backend)
	}
	if cfg.Site.Name != "portfolio" {
		t.Errorf("Site.Name = %s, want portfolio", cfg.Site.Name)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.json")
	if err == nil {
		t.Error("LoadFromFile() should error for non-existent file")
	}

	tmpDir := t.TempDir()
	badPath := filepath.Join(tmpDir, "bad.json")
	os.WriteFile(badPath, []byte("not valid json"), 0644)

	_, err = LoadFromFile(badPath)
	if err == nil {
		t.Error("LoadFromFile() should error for invalid JSON")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.json")

	cfg := CreateDefaultConfig()
	cfg.Server.Port = "9999"
	cfg.Auth = AuthConfig{Username: "saveuser", PasswordHash: "savehash"}

	if err := SaveToFile(cfg, configPath); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Failed to stat config file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Config file permissions = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Server.Port != "9999" {
		t.Errorf("Loaded port = %s, want 9999", loaded.Server.Port)
	}
	if loaded.Auth.Username != "saveuser" {
		t.Errorf("Loaded username = %s, want saveuser", loaded.Auth.Username)
	}
}

func TestLoad_Precedence(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	dbPath := filepath.Join(tmpDir, "file.db")

	cfg := CreateDefaultConfig()
	cfg.Server.Port = "5000"
	cfg.Database.Path = dbPath
	if err := SaveToFile(cfg, configPath); err != nil {
		t.Fatal(err)
	}

	envFile := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envFile, []byte("PORTFOLIO_SITE_SLASH_POLICY=as-is\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTFOLIO_SITE_SLASH_POLICY", "")
	os.Unsetenv("PORTFOLIO_SITE_SLASH_POLICY")
	t.Setenv("PORTFOLIO_SERVER_PORT", "6000")
	t.Setenv("PORTFOLIO_SITE_RESTORE_GUARD", "true")

	loaded, err := Load(&CLIFlags{ConfigPath: configPath, EnvFile: envFile, Mode: ModeClient})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loaded.Server.Port != "6000" {
		t.Errorf("env should override file port, got %s", loaded.Server.Port)
	}
	if loaded.Database.Path != dbPath {
		t.Errorf("Database.Path = %s, want %s", loaded.Database.Path, dbPath)
	}
	if loaded.SlashPolicy() != spa.SlashAsIs {
		t.Errorf("dotenv should set slash policy, got %s", loaded.SlashPolicy())
	}
	if !loaded.Site.RestoreGuard {
		t.Error("env should enable the restore guard")
	}
	if loaded.Site.RedirectMode != ModeClient {
		t.Errorf("flag should set redirect mode, got %s", loaded.Site.RedirectMode)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("PORTFOLIO_SITE_RESTORE_GUARD", "maybe")
	_, err := Load(&CLIFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.json")})
	if err == nil {
		t.Error("Load() should fail on an unparsable bool")
	}
}

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := parseFlags(fs, []string{"--port", "8081", "--mode", "client", "--verbose"})

	if f.Port != "8081" || f.Mode != "client" || !f.Verbose {
		t.Errorf("parseFlags() = %+v", f)
	}
	if f.ConfigPath != DefaultConfigPath {
		t.Errorf("ConfigPath = %s, want default", f.ConfigPath)
	}
}
