// Package config loads process configuration from environment variables and
// an optional .env overlay. Provider secrets are validated at startup: a
// missing secret for an enabled provider is fatal, never a degraded per-call
// failure later.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the sync service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// SyncConfig configures engine-wide sync behavior.
type SyncConfig struct {
	// RefreshInterval is how often the background loop checks for tokens
	// nearing expiry.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// CatalogPath optionally points at a YAML file overriding per-provider
	// sync policy.
	CatalogPath string `mapstructure:"catalog_path"`
}

// ProvidersConfig carries each provider's application-level secrets.
type ProvidersConfig struct {
	Steam       SteamConfig `mapstructure:"steam"`
	PlayStation PSNConfig   `mapstructure:"playstation"`
	Xbox        XboxConfig  `mapstructure:"xbox"`
	Epic        EpicConfig  `mapstructure:"epic"`
	Riot        RiotConfig  `mapstructure:"riot"`
}

type SteamConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

type PSNConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type XboxConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

type EpicConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type RiotConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load reads configuration from the environment, overlaying a .env file
// when one exists at the given path.
func Load(path string) (*Config, error) {
	envPath := ".env"
	if path != "" && path != "." {
		envPath = path + "/.env"
	}
	// Missing .env is fine (production reads the real environment).
	_ = godotenv.Overload(envPath)

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("QUESTLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "questlog.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sync.refresh_interval", 15*time.Minute)
	v.SetDefault("sync.catalog_path", "")
	v.SetDefault("providers.steam.enabled", false)
	v.SetDefault("providers.playstation.enabled", false)
	v.SetDefault("providers.xbox.enabled", false)
	v.SetDefault("providers.epic.enabled", false)
	v.SetDefault("providers.riot.enabled", false)
}

// Validate fails fast on missing secrets for enabled providers.
func (c *Config) Validate() error {
	var missing []string
	if c.Providers.Steam.Enabled && c.Providers.Steam.APIKey == "" {
		missing = append(missing, "providers.steam.api_key")
	}
	if c.Providers.Xbox.Enabled {
		if c.Providers.Xbox.ClientID == "" {
			missing = append(missing, "providers.xbox.client_id")
		}
		if c.Providers.Xbox.ClientSecret == "" {
			missing = append(missing, "providers.xbox.client_secret")
		}
	}
	if c.Providers.Epic.Enabled {
		if c.Providers.Epic.ClientID == "" {
			missing = append(missing, "providers.epic.client_id")
		}
		if c.Providers.Epic.ClientSecret == "" {
			missing = append(missing, "providers.epic.client_secret")
		}
	}
	if c.Providers.Riot.Enabled && c.Providers.Riot.APIKey == "" {
		missing = append(missing, "providers.riot.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
