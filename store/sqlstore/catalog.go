package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/rewards"
)

// =============================================================================
// TIERS
// =============================================================================

type tierRow struct {
	ClientID       string `db:"client_id"`
	ID             string `db:"id"`
	Name           string `db:"name"`
	Order          int    `db:"tier_order"`
	CommissionRate string `db:"commission_rate"`
}

func (r tierRow) tier() rewards.Tier {
	return rewards.Tier{
		ClientID:       r.ClientID,
		ID:             r.ID,
		Name:           r.Name,
		Order:          r.Order,
		CommissionRate: parseDec(r.CommissionRate),
	}
}

// SaveTier inserts or updates a tier.
func (s *Store) SaveTier(ctx context.Context, t rewards.Tier) error {
	query := s.rebind(`
		INSERT INTO tiers (client_id, id, name, tier_order, commission_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id, id) DO UPDATE SET
			name = excluded.name,
			tier_order = excluded.tier_order,
			commission_rate = excluded.commission_rate
	`)
	if _, err := s.db.ExecContext(ctx, query, t.ClientID, t.ID, t.Name, t.Order, t.CommissionRate.String()); err != nil {
		return fmt.Errorf("save tier: %w", err)
	}
	return nil
}

// GetTier returns one tier of a tenant.
func (s *Store) GetTier(ctx context.Context, clientID, tierID string) (*rewards.Tier, error) {
	var row tierRow
	err := s.db.GetContext(ctx, &row, s.rebind(`
		SELECT client_id, id, name, tier_order, commission_rate
		FROM tiers WHERE client_id = ? AND id = ?
	`), clientID, tierID)
	if err != nil {
		return nil, notFound(err, "tier")
	}
	t := row.tier()
	return &t, nil
}

// ListTiers returns a tenant's tiers, lowest first.
func (s *Store) ListTiers(ctx context.Context, clientID string) ([]rewards.Tier, error) {
	var rows []tierRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT client_id, id, name, tier_order, commission_rate
		FROM tiers WHERE client_id = ?
		ORDER BY tier_order ASC
	`), clientID)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	tiers := make([]rewards.Tier, len(rows))
	for i, r := range rows {
		tiers[i] = r.tier()
	}
	return tiers, nil
}

// =============================================================================
// REWARDS
// =============================================================================

const rewardColumns = `client_id, id, type, name, description, value_data, tier_eligibility,
	preview_from_tier, reward_source, redemption_type, redemption_frequency,
	redemption_quantity, display_order, enabled, created_at`

type rewardRow struct {
	ClientID        string         `db:"client_id"`
	ID              string         `db:"id"`
	Type            string         `db:"type"`
	Name            string         `db:"name"`
	Description     string         `db:"description"`
	ValueData       string         `db:"value_data"`
	TierEligibility string         `db:"tier_eligibility"`
	PreviewFromTier sql.NullString `db:"preview_from_tier"`
	Source          string         `db:"reward_source"`
	RedemptionType  string         `db:"redemption_type"`
	Frequency       string         `db:"redemption_frequency"`
	Quantity        sql.NullInt64  `db:"redemption_quantity"`
	DisplayOrder    int            `db:"display_order"`
	Enabled         bool           `db:"enabled"`
	CreatedAt       string         `db:"created_at"`
}

func (r rewardRow) reward() rewards.Reward {
	return rewards.Reward{
		ClientID:        r.ClientID,
		ID:              r.ID,
		Type:            rewards.RewardType(r.Type),
		Name:            r.Name,
		Description:     r.Description,
		ValueData:       rewards.ValueData(r.ValueData),
		TierEligibility: r.TierEligibility,
		PreviewFromTier: r.PreviewFromTier.String,
		Source:          rewards.Source(r.Source),
		RedemptionType:  rewards.RedemptionType(r.RedemptionType),
		Frequency:       rewards.Frequency(r.Frequency),
		Quantity:        parseNullInt(r.Quantity),
		DisplayOrder:    r.DisplayOrder,
		Enabled:         r.Enabled,
		CreatedAt:       parseTS(r.CreatedAt),
	}
}

// SaveReward inserts or updates a catalog entry.
func (s *Store) SaveReward(ctx context.Context, r rewards.Reward) error {
	value := string(r.ValueData)
	if value == "" {
		value = "{}"
	}
	query := s.rebind(`
		INSERT INTO rewards (` + rewardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			description = excluded.description,
			value_data = excluded.value_data,
			tier_eligibility = excluded.tier_eligibility,
			preview_from_tier = excluded.preview_from_tier,
			reward_source = excluded.reward_source,
			redemption_type = excluded.redemption_type,
			redemption_frequency = excluded.redemption_frequency,
			redemption_quantity = excluded.redemption_quantity,
			display_order = excluded.display_order,
			enabled = excluded.enabled
	`)
	_, err := s.db.ExecContext(ctx, query,
		r.ClientID, r.ID, string(r.Type), r.Name, r.Description, value, r.TierEligibility,
		nullString(r.PreviewFromTier), string(r.Source), string(r.RedemptionType), string(r.Frequency),
		nullInt(r.Quantity), r.DisplayOrder, r.Enabled, ts(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save reward: %w", err)
	}
	return nil
}

// GetReward returns one reward of a tenant, enabled or not.
func (s *Store) GetReward(ctx context.Context, clientID, rewardID string) (*rewards.Reward, error) {
	var row rewardRow
	err := s.db.GetContext(ctx, &row, s.rebind(`
		SELECT `+rewardColumns+` FROM rewards WHERE client_id = ? AND id = ?
	`), clientID, rewardID)
	if err != nil {
		return nil, notFound(err, "reward")
	}
	r := row.reward()
	return &r, nil
}

// ListRewards returns a tenant's whole catalog in display order.
func (s *Store) ListRewards(ctx context.Context, clientID string) ([]rewards.Reward, error) {
	var rows []rewardRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT `+rewardColumns+` FROM rewards WHERE client_id = ?
		ORDER BY display_order ASC, id ASC
	`), clientID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	out := make([]rewards.Reward, len(rows))
	for i, r := range rows {
		out[i] = r.reward()
	}
	return out, nil
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `client_id, id, handle, current_tier, tier_achieved_at, total_sales,
	default_payment_method, default_payment_account`

type userRow struct {
	ClientID              string         `db:"client_id"`
	ID                    string         `db:"id"`
	Handle                string         `db:"handle"`
	CurrentTier           string         `db:"current_tier"`
	TierAchievedAt        string         `db:"tier_achieved_at"`
	TotalSales            sql.NullString `db:"total_sales"`
	DefaultPaymentMethod  string         `db:"default_payment_method"`
	DefaultPaymentAccount string         `db:"default_payment_account"`
}

func (r userRow) user() rewards.User {
	return rewards.User{
		ClientID:              r.ClientID,
		ID:                    r.ID,
		Handle:                r.Handle,
		CurrentTier:           r.CurrentTier,
		TierAchievedAt:        parseTS(r.TierAchievedAt),
		TotalSales:            parseNullDec(r.TotalSales),
		DefaultPaymentMethod:  rewards.PaymentMethod(r.DefaultPaymentMethod),
		DefaultPaymentAccount: r.DefaultPaymentAccount,
	}
}

// SaveUser inserts or updates a creator. A stored default payout destination
// is kept when u carries none.
func (s *Store) SaveUser(ctx context.Context, u rewards.User) error {
	query := s.rebind(`
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, id) DO UPDATE SET
			handle = excluded.handle,
			current_tier = excluded.current_tier,
			tier_achieved_at = excluded.tier_achieved_at,
			total_sales = excluded.total_sales,
			default_payment_method = CASE WHEN excluded.default_payment_method = ''
				THEN users.default_payment_method ELSE excluded.default_payment_method END,
			default_payment_account = CASE WHEN excluded.default_payment_account = ''
				THEN users.default_payment_account ELSE excluded.default_payment_account END
	`)
	_, err := s.db.ExecContext(ctx, query,
		u.ClientID, u.ID, u.Handle, u.CurrentTier, ts(u.TierAchievedAt), nullDec(u.TotalSales),
		string(u.DefaultPaymentMethod), u.DefaultPaymentAccount,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser returns one creator of a tenant.
func (s *Store) GetUser(ctx context.Context, clientID, userID string) (*rewards.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.rebind(`
		SELECT `+userColumns+` FROM users WHERE client_id = ? AND id = ?
	`), clientID, userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	u := row.user()
	return &u, nil
}

// UpdateUserTier moves a creator to a tier and starts a new tier tenure.
func (s *Store) UpdateUserTier(ctx context.Context, clientID, userID, tierID string, achievedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE users SET current_tier = ?, tier_achieved_at = ?
		WHERE client_id = ? AND id = ?
	`), tierID, ts(achievedAt), clientID, userID)
	if err != nil {
		return fmt.Errorf("update user tier: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user: %w", generic.ErrNotFound)
	}
	return nil
}

// SaveDefaultPayment stores the creator's default payout destination.
// sealedAccount must already be encrypted.
func (s *Store) SaveDefaultPayment(ctx context.Context, clientID, userID string, method rewards.PaymentMethod, sealedAccount string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE users SET default_payment_method = ?, default_payment_account = ?
		WHERE client_id = ? AND id = ?
	`), string(method), sealedAccount, clientID, userID)
	if err != nil {
		return fmt.Errorf("save default payment: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user: %w", generic.ErrNotFound)
	}
	return nil
}
