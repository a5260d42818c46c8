package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	Server    ServerConfig      `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig    `mapstructure:"database" yaml:"database"`
	NATS      NATSConfig        `mapstructure:"nats" yaml:"nats"`
	Google    OAuthClientConfig `mapstructure:"google" yaml:"google"`
	Microsoft OAuthClientConfig `mapstructure:"microsoft" yaml:"microsoft"`
	AI        AIConfig          `mapstructure:"ai" yaml:"ai"`
	CRM       CRMConfig         `mapstructure:"crm" yaml:"crm"`
	Secrets   SecretsConfig     `mapstructure:"secrets" yaml:"secrets"`
}

type ServerConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type NATSConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// OAuthClientConfig holds one provider's OAuth app registration
type OAuthClientConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" yaml:"redirect_url"`
	TenantID     string `mapstructure:"tenant_id" yaml:"tenant_id"`
}

// Configured reports whether client credentials are provisioned
func (c OAuthClientConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type AIConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
}

type CRMConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

type SecretsConfig struct {
	// Backend selects the keyring backend: "auto" or "file"
	Backend      string `mapstructure:"backend" yaml:"backend"`
	FileDir      string `mapstructure:"file_dir" yaml:"file_dir"`
	FilePassword string `mapstructure:"file_password" yaml:"file_password"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/mailsync.db",
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Microsoft: OAuthClientConfig{
			TenantID: "common",
		},
		AI: AIConfig{
			Endpoint: "https://generativelanguage.googleapis.com/v1beta/models",
			Model:    "gemini-2.5-flash",
		},
		Secrets: SecretsConfig{
			Backend: "auto",
			FileDir: "data/secrets",
		},
	}
}

// Load reads the config file at path (or MAILSYNC_CONFIG, or ./config.yaml),
// layering MAILSYNC_* environment variables on top. A missing file is not an
// error; defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("MAILSYNC_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a starter config file if none exists at path
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

// Redact masks credentials for startup logging
func Redact(cfg Config) Config {
	masked := cfg
	if masked.Server.APIKey != "" {
		masked.Server.APIKey = "****"
	}
	if masked.Google.ClientSecret != "" {
		masked.Google.ClientSecret = "****"
	}
	if masked.Microsoft.ClientSecret != "" {
		masked.Microsoft.ClientSecret = "****"
	}
	if masked.AI.APIKey != "" {
		masked.AI.APIKey = "****"
	}
	if masked.CRM.APIKey != "" {
		masked.CRM.APIKey = "****"
	}
	if masked.Secrets.FilePassword != "" {
		masked.Secrets.FilePassword = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("nats.url", cfg.NATS.URL)
	v.SetDefault("microsoft.tenant_id", cfg.Microsoft.TenantID)
	v.SetDefault("ai.endpoint", cfg.AI.Endpoint)
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("secrets.backend", cfg.Secrets.Backend)
	v.SetDefault("secrets.file_dir", cfg.Secrets.FileDir)
}

// Validate checks fields the service cannot start without
func Validate(cfg Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.Secrets.Backend != "auto" && cfg.Secrets.Backend != "file" {
		return fmt.Errorf("secrets.backend must be auto or file, got %q", cfg.Secrets.Backend)
	}
	return nil
}
