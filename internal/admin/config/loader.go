package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from YAML files and environment variables.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load reads configuration from the search paths, then lets environment
// variables (XUI_CENTRAL_*) override.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/xui-central")
	l.v.AddConfigPath("$HOME/.xui-central")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("XUI_CENTRAL")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")
	l.v.SetDefault("log.component", "xui-central")
	l.v.SetDefault("log.time_format", "2006-01-02T15:04:05Z07:00")

	l.v.SetDefault("database.path", "./data/central.db")

	l.v.SetDefault("admin_api.address", ":8080")
	l.v.SetDefault("admin_api.cors_origins", []string{"*"})

	l.v.SetDefault("subscription.address", ":8081")
	l.v.SetDefault("subscription.public_url", "http://localhost:8081")

	l.v.SetDefault("panel.request_timeout", "15s")
	l.v.SetDefault("panel.session_ttl", "10m")
	l.v.SetDefault("panel.insecure_tls", true)

	l.v.SetDefault("sync.node_timeout", "30s")
	l.v.SetDefault("sync.max_concurrent_nodes", 8)

	l.v.SetDefault("sheets.csv_url", "")
	l.v.SetDefault("sheets.request_timeout", "30s")
}

// LoadWithPath reads configuration from a specific file.
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	return loader.Load()
}
