package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/redemption-engine/generic"
	"gopkg.in/yaml.v3"
)

// CatalogFile is a YAML seed of tiers, rewards and users, one block per tenant.
type CatalogFile struct {
	Tenants []TenantSeed `yaml:"tenants"`
}

// TenantSeed is one tenant's catalog.
type TenantSeed struct {
	ClientID string       `yaml:"client_id"`
	Tiers    []TierSeed   `yaml:"tiers"`
	Rewards  []RewardSeed `yaml:"rewards"`
	Users    []UserSeed   `yaml:"users"`
}

type TierSeed struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Order          int    `yaml:"order"`
	CommissionRate string `yaml:"commission_rate"`
}

type RewardSeed struct {
	ID              string         `yaml:"id"`
	Type            RewardType     `yaml:"type"`
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	ValueData       map[string]any `yaml:"value_data"`
	Tier            string         `yaml:"tier"`
	PreviewFromTier string         `yaml:"preview_from_tier"`
	Source          Source         `yaml:"source"`
	Frequency       Frequency      `yaml:"frequency"`
	Quantity        *int           `yaml:"quantity"`
	DisplayOrder    int            `yaml:"display_order"`
	Enabled         *bool          `yaml:"enabled"`
}

type UserSeed struct {
	ID             string `yaml:"id"`
	Handle         string `yaml:"handle"`
	Tier           string `yaml:"tier"`
	TierAchievedAt string `yaml:"tier_achieved_at"` // YYYY-MM-DD or RFC 3339
	TotalSales     string `yaml:"total_sales"`
}

// LoadCatalog reads and validates a catalog seed file.
func LoadCatalog(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*CatalogFile, error) {
	var c CatalogFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(c.Tenants) == 0 {
		return nil, fmt.Errorf("catalog has no tenants defined")
	}
	for i, t := range c.Tenants {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("tenant %d: %w", i, err)
		}
	}
	return &c, nil
}

func (t TenantSeed) validate() error {
	if t.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	tiers := make(map[string]bool, len(t.Tiers))
	for _, tier := range t.Tiers {
		if tier.ID == "" || tier.Order < 1 {
			return fmt.Errorf("tier %q: id and a positive order are required", tier.ID)
		}
		if tier.CommissionRate != "" {
			if _, err := decimal.NewFromString(tier.CommissionRate); err != nil {
				return fmt.Errorf("tier %q: commission_rate: %w", tier.ID, err)
			}
		}
		tiers[tier.ID] = true
	}
	for _, r := range t.Rewards {
		if r.ID == "" {
			return fmt.Errorf("reward id is required")
		}
		if !r.Type.Valid() {
			return fmt.Errorf("reward %q: unknown type %q", r.ID, r.Type)
		}
		if !tiers[r.Tier] {
			return fmt.Errorf("reward %q: unknown tier %q", r.ID, r.Tier)
		}
		if r.PreviewFromTier != "" && !tiers[r.PreviewFromTier] {
			return fmt.Errorf("reward %q: unknown preview_from_tier %q", r.ID, r.PreviewFromTier)
		}
		if r.Quantity != nil && *r.Quantity < 1 {
			return fmt.Errorf("reward %q: quantity must be positive", r.ID)
		}
	}
	for _, u := range t.Users {
		if u.ID == "" || !tiers[u.Tier] {
			return fmt.Errorf("user %q: id and a known tier are required", u.ID)
		}
		if u.TotalSales != "" {
			if _, err := decimal.NewFromString(u.TotalSales); err != nil {
				return fmt.Errorf("user %q: total_sales: %w", u.ID, err)
			}
		}
	}
	return nil
}

// CatalogSeeder is the write side Seed needs.
type CatalogSeeder interface {
	SaveTier(ctx context.Context, tier Tier) error
	SaveReward(ctx context.Context, reward Reward) error
	SaveUser(ctx context.Context, user User) error
}

// SeedStats counts what Seed wrote.
type SeedStats struct {
	Tenants int
	Tiers   int
	Rewards int
	Users   int
}

// Seed upserts every tenant's tiers, rewards and users. now stamps rows
// without an explicit date.
func (c *CatalogFile) Seed(ctx context.Context, store CatalogSeeder, now time.Time) (SeedStats, error) {
	var stats SeedStats
	for _, t := range c.Tenants {
		for _, ts := range t.Tiers {
			if err := store.SaveTier(ctx, ts.tier(t.ClientID)); err != nil {
				return stats, fmt.Errorf("save tier %s/%s: %w", t.ClientID, ts.ID, err)
			}
			stats.Tiers++
		}
		for _, rs := range t.Rewards {
			r, err := rs.reward(t.ClientID, now)
			if err != nil {
				return stats, err
			}
			if err := store.SaveReward(ctx, r); err != nil {
				return stats, fmt.Errorf("save reward %s/%s: %w", t.ClientID, rs.ID, err)
			}
			stats.Rewards++
		}
		for _, us := range t.Users {
			u, err := us.user(t.ClientID, now)
			if err != nil {
				return stats, err
			}
			if err := store.SaveUser(ctx, u); err != nil {
				return stats, fmt.Errorf("save user %s/%s: %w", t.ClientID, us.ID, err)
			}
			stats.Users++
		}
		stats.Tenants++
	}
	return stats, nil
}

func (ts TierSeed) tier(clientID string) Tier {
	name := ts.Name
	if name == "" {
		name = ts.ID
	}
	rate := decimal.Zero
	if ts.CommissionRate != "" {
		rate = decimal.RequireFromString(ts.CommissionRate)
	}
	return Tier{ClientID: clientID, ID: ts.ID, Name: name, Order: ts.Order, CommissionRate: rate}
}

func (rs RewardSeed) reward(clientID string, now time.Time) (Reward, error) {
	value := "{}"
	if len(rs.ValueData) > 0 {
		b, err := json.Marshal(rs.ValueData)
		if err != nil {
			return Reward{}, fmt.Errorf("reward %s/%s: value_data: %w", clientID, rs.ID, err)
		}
		value = string(b)
	}

	r := Reward{
		ClientID:        clientID,
		ID:              rs.ID,
		Type:            rs.Type,
		Name:            rs.Name,
		Description:     rs.Description,
		ValueData:       ValueData(value),
		TierEligibility: rs.Tier,
		PreviewFromTier: rs.PreviewFromTier,
		Source:          rs.Source,
		RedemptionType:  redemptionTypeOf(rs.Type),
		Frequency:       rs.Frequency,
		Quantity:        rs.Quantity,
		DisplayOrder:    rs.DisplayOrder,
		Enabled:         rs.Enabled == nil || *rs.Enabled,
		CreatedAt:       now,
	}
	if r.Source == "" {
		r.Source = SourceVIPTier
	}
	if r.Frequency == "" {
		r.Frequency = FrequencyOneTime
		if r.Quantity == nil {
			r.Frequency = FrequencyUnlimited
		}
	}
	return r, nil
}

func (us UserSeed) user(clientID string, now time.Time) (User, error) {
	achieved := now
	if us.TierAchievedAt != "" {
		t, err := generic.ParseDate(us.TierAchievedAt)
		if err != nil {
			t, err = generic.ParseTimestamp(us.TierAchievedAt)
		}
		if err != nil {
			return User{}, fmt.Errorf("user %s/%s: tier_achieved_at: %w", clientID, us.ID, err)
		}
		achieved = t
	}
	u := User{
		ClientID:       clientID,
		ID:             us.ID,
		Handle:         us.Handle,
		CurrentTier:    us.Tier,
		TierAchievedAt: achieved,
	}
	if us.TotalSales != "" {
		u.TotalSales = generic.DecimalPtr(decimal.RequireFromString(us.TotalSales))
	}
	return u, nil
}
