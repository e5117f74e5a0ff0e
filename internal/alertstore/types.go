package alertstore

import (
	"fmt"
	"strings"
	"time"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// TenantConfig is one guild's delivery wiring.
type TenantConfig struct {
	AlertChannelID string `json:"alert_channel_id"`
	LogChannelID   string `json:"log_channel_id,omitempty"`
}

// Store persists the delivered-alert set and the tenant registry.
// Implementations must tolerate partial or corrupt state on load and never
// lose previously committed identifiers on save.
type Store interface {
	LoadDelivered() (map[string]struct{}, error)
	SaveDelivered(ids map[string]struct{}) error

	LoadTenants() (map[string]TenantConfig, error)
	SaveTenants(tenants map[string]TenantConfig) error

	Close() error
}

// Options selects and configures a storage driver.
type Options struct {
	Driver        string // "file" (default) or "sqlite"
	DeliveredPath string
	TenantsPath   string
	SQLitePath    string
	BusyTimeout   time.Duration
}

// Open returns a Store for the configured driver.
func Open(opts Options, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", "file":
		return NewFileStore(opts.DeliveredPath, opts.TenantsPath, log), nil
	case "sqlite":
		return openSQLite(opts, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
