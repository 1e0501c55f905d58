// Package config loads and validates the service configuration.
package config

import (
	"fmt"

	"github.com/gorillaerror/xui-central/internal/admin/panel"
	"github.com/gorillaerror/xui-central/internal/admin/sheets"
	"github.com/gorillaerror/xui-central/internal/admin/sync"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Config is the full configuration tree for both services.
type Config struct {
	Log          logger.Config      `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	AdminAPI     HTTPConfig         `mapstructure:"admin_api"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Panel        panel.Config       `mapstructure:"panel"`
	Sync         sync.Config        `mapstructure:"sync"`
	Sheets       sheets.Config      `mapstructure:"sheets"`
}

// DatabaseConfig points at the sqlite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig configures the admin HTTP listener.
type HTTPConfig struct {
	Address     string   `mapstructure:"address"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// SubscriptionConfig configures the subscription HTTP listener.
type SubscriptionConfig struct {
	Address string `mapstructure:"address"`
	// PublicURL is the externally reachable base of the subscription
	// service, used when handing out subscription links.
	PublicURL string `mapstructure:"public_url"`
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", errors.ErrInvalidConfig)
	}
	if c.AdminAPI.Address == "" {
		return fmt.Errorf("%w: admin_api.address is required", errors.ErrInvalidConfig)
	}
	if c.Subscription.Address == "" {
		return fmt.Errorf("%w: subscription.address is required", errors.ErrInvalidConfig)
	}
	if c.AdminAPI.Address == c.Subscription.Address {
		return fmt.Errorf("%w: admin and subscription servers cannot share an address", errors.ErrInvalidConfig)
	}
	if c.Sync.NodeTimeout <= 0 {
		return fmt.Errorf("%w: sync.node_timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.Sync.MaxConcurrentNodes <= 0 {
		return fmt.Errorf("%w: sync.max_concurrent_nodes must be positive", errors.ErrInvalidConfig)
	}
	if c.Panel.RequestTimeout <= 0 {
		return fmt.Errorf("%w: panel.request_timeout must be positive", errors.ErrInvalidConfig)
	}
	return nil
}
