package tenant

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/alertstore"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// Tenant is one registered guild with its delivery wiring.
type Tenant struct {
	GuildID string
	alertstore.TenantConfig
}

// Registry is the in-memory tenant registry. Mutations persist through the
// store immediately; reads are served from memory.
type Registry struct {
	store alertstore.Store
	log   logx.Logger

	mu      sync.RWMutex
	tenants map[string]alertstore.TenantConfig
}

func NewRegistry(store alertstore.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:   store,
		log:     log,
		tenants: make(map[string]alertstore.TenantConfig),
	}
}

// Load replaces the in-memory registry with the store's current contents.
func (r *Registry) Load() error {
	tenants, err := r.store.LoadTenants()
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	r.mu.Lock()
	r.tenants = tenants
	r.mu.Unlock()
	r.log.Info("tenant registry loaded", logx.Int("tenants", len(tenants)))
	return nil
}

// Set registers or updates a tenant and persists the registry.
func (r *Registry) Set(guildID string, cfg alertstore.TenantConfig) error {
	if strings.TrimSpace(guildID) == "" {
		return fmt.Errorf("guild id is empty")
	}
	if strings.TrimSpace(cfg.AlertChannelID) == "" {
		return fmt.Errorf("alert channel id is empty")
	}

	r.mu.Lock()
	prev, existed := r.tenants[guildID]
	r.tenants[guildID] = cfg
	snapshot := r.copyLocked()
	r.mu.Unlock()

	if err := r.store.SaveTenants(snapshot); err != nil {
		// Roll back so memory and disk stay in agreement.
		r.mu.Lock()
		if existed {
			r.tenants[guildID] = prev
		} else {
			delete(r.tenants, guildID)
		}
		r.mu.Unlock()
		return fmt.Errorf("persist tenants: %w", err)
	}
	return nil
}

// Get returns the tenant config for a guild.
func (r *Registry) Get(guildID string) (alertstore.TenantConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tenants[guildID]
	return cfg, ok
}

// Snapshot returns all tenants sorted by guild ID. The slice is a copy;
// callers may not observe later mutations.
func (r *Registry) Snapshot() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tenant, 0, len(r.tenants))
	for guildID, cfg := range r.tenants {
		out = append(out, Tenant{GuildID: guildID, TenantConfig: cfg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

func (r *Registry) copyLocked() map[string]alertstore.TenantConfig {
	out := make(map[string]alertstore.TenantConfig, len(r.tenants))
	for k, v := range r.tenants {
		out[k] = v
	}
	return out
}
