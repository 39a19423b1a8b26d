// Package tier holds the static membership tier catalog: each tier maps
// to a monthly credit quota and a price. The catalog is configuration,
// never persisted, and every credit mutation resolves quotas through it.
package tier

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tier is a named subscription level.
type Tier struct {
	ID                string `mapstructure:"id"`
	Name              string `mapstructure:"name"`
	MonthlyCredits    int64  `mapstructure:"monthlyCredits"`
	MonthlyPriceCents int64  `mapstructure:"monthlyPriceCents"`
}

const (
	TierFree       = "FREE"
	TierPro        = "PRO"
	TierEnterprise = "ENTERPRISE"
)

func DefaultTiers() []Tier {
	return []Tier{
		{ID: "tier_free", Name: TierFree, MonthlyCredits: 0, MonthlyPriceCents: 0},
		{ID: "tier_pro", Name: TierPro, MonthlyCredits: 400, MonthlyPriceCents: 2500},
		{ID: "tier_enterprise", Name: TierEnterprise, MonthlyCredits: 1200, MonthlyPriceCents: 10000},
	}
}

// Catalog exposes read-only tier lookups over a hot-reloadable config.
type Catalog struct {
	current atomic.Value // holds []Tier
}

// NewCatalog loads tiers.yml when present and falls back to the
// compiled-in defaults. Config changes are picked up without restart.
func NewCatalog() (*Catalog, error) {
	v := viper.New()

	v.SetConfigName("tiers")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/apploom/config")
	v.AddConfigPath("/etc/apploom")
	v.AddConfigPath(".")

	v.SetEnvPrefix("APPLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("tiers", DefaultTiers())
	}

	var tiers []Tier
	if err := v.UnmarshalKey("tiers", &tiers); err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if err := validateTiers(tiers); err != nil {
		return nil, err
	}

	catalog := &Catalog{}
	catalog.current.Store(tiers)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated []Tier
		if err := v.UnmarshalKey("tiers", &updated); err != nil {
			log.Printf("[tier-catalog] reload failed: %v", err)
			return
		}
		if err := validateTiers(updated); err != nil {
			log.Printf("[tier-catalog] invalid config ignored: %v", err)
			return
		}
		catalog.current.Store(updated)
		log.Printf("[tier-catalog] reloaded from %s", e.Name)
	})

	return catalog, nil
}

// NewStaticCatalog builds a catalog from a fixed tier list. Used in tests.
func NewStaticCatalog(tiers []Tier) (*Catalog, error) {
	if err := validateTiers(tiers); err != nil {
		return nil, err
	}
	catalog := &Catalog{}
	catalog.current.Store(tiers)
	return catalog, nil
}

// ByID returns the tier for a tier identifier, or false when unknown.
// Callers must fail closed on a miss: never substitute a quota.
func (c *Catalog) ByID(tierID string) (Tier, bool) {
	tierID = strings.TrimSpace(tierID)
	if tierID == "" {
		return Tier{}, false
	}
	for _, t := range c.tiers() {
		if t.ID == tierID {
			return t, true
		}
	}
	return Tier{}, false
}

// ByName returns the tier for a membership name (FREE, PRO, ENTERPRISE).
func (c *Catalog) ByName(name string) (Tier, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return Tier{}, false
	}
	for _, t := range c.tiers() {
		if strings.ToUpper(t.Name) == name {
			return t, true
		}
	}
	return Tier{}, false
}

func (c *Catalog) tiers() []Tier {
	return c.current.Load().([]Tier)
}

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return errors.New("tier catalog cannot be empty")
	}
	seen := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		if strings.TrimSpace(t.ID) == "" {
			return errors.New("tier id cannot be empty")
		}
		if strings.TrimSpace(t.Name) == "" {
			return errors.New("tier name cannot be empty")
		}
		if t.MonthlyCredits < 0 {
			return errors.New("tier monthlyCredits cannot be negative")
		}
		if seen[t.ID] {
			return errors.New("duplicate tier id: " + t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}
