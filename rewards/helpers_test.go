package rewards_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/rewards"
	"github.com/warp/redemption-engine/store/sqlstore"
	"github.com/warp/redemption-engine/vault"
)

const (
	tenant      = "acme"
	otherTenant = "globex"
	testKey     = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// Monday 2025-06-02 12:00 UTC, 08:00 in New York.
var monday = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

const catalogYAML = `
tenants:
  - client_id: acme
    tiers:
      - {id: tier_1, name: Bronze, order: 1, commission_rate: "10"}
      - {id: tier_2, name: Silver, order: 2, commission_rate: "11"}
      - {id: tier_3, name: Gold, order: 3, commission_rate: "12"}
      - {id: tier_4, name: Platinum, order: 4, commission_rate: "15"}
    rewards:
      - id: gc-t3
        type: gift_card
        tier: tier_3
        quantity: 2
        frequency: monthly
        display_order: 1
        value_data: {amount: 50}
      - id: boost-t3
        type: commission_boost
        tier: tier_3
        quantity: 1
        display_order: 2
        value_data: {percent: 5, duration_days: 30}
      - id: disc-t3
        type: discount
        tier: tier_3
        quantity: 1
        display_order: 3
        value_data: {percent: 10, durationMinutes: 1440, couponCode: GOLD10}
      - id: gift-t3
        type: physical_gift
        tier: tier_3
        quantity: 1
        description: Hoodie
        display_order: 4
        value_data:
          requires_size: true
          size_category: clothing
          size_options: [S, M, L]
      - id: exp-t3
        type: experience
        tier: tier_3
        description: Studio day
        display_order: 5
      - id: spark-t3
        type: spark_ads
        tier: tier_3
        quantity: 1
        display_order: 6
        value_data: {amount: 100}
      - id: gc-t4
        type: gift_card
        tier: tier_4
        preview_from_tier: tier_3
        quantity: 5
        display_order: 7
        value_data: {amount: 200}
      - id: exp-t4
        type: experience
        tier: tier_4
        description: Launch party
        display_order: 8
      - id: mission-t3
        type: gift_card
        tier: tier_3
        source: mission
        value_data: {amount: 25}
      - id: mission-t4
        type: gift_card
        tier: tier_4
        source: mission
        value_data: {amount: 25}
      - id: disabled-t3
        type: gift_card
        tier: tier_3
        enabled: false
        value_data: {amount: 10}
    users:
      - {id: user-1, handle: "@gold", tier: tier_3, tier_achieved_at: "2025-01-01", total_sales: "5000"}
      - {id: user-2, handle: "@other", tier: tier_3, tier_achieved_at: "2025-01-01", total_sales: "100"}
      - {id: user-4, handle: "@plat", tier: tier_4, tier_achieved_at: "2025-01-01", total_sales: "9000"}
      - {id: user-new, handle: "@new", tier: tier_3, tier_achieved_at: "2025-01-01"}
  - client_id: globex
    tiers:
      - {id: tier_3, name: Gold, order: 3}
    rewards:
      - id: gc-t3
        type: gift_card
        tier: tier_3
        quantity: 2
        value_data: {amount: 50}
      - id: boost-t3
        type: commission_boost
        tier: tier_3
        quantity: 1
        value_data: {percent: 5, duration_days: 30}
      - id: globex-only
        type: gift_card
        tier: tier_3
        value_data: {amount: 5}
    users:
      - {id: user-1, tier: tier_3, tier_achieved_at: "2025-01-01"}
`

type fixture struct {
	ctx   context.Context
	store *sqlstore.Store
	svc   *rewards.Service
	clock *generic.FixedClock
	vault *vault.Vault
	logs  *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store, store)
}

// newFixtureWithStore seeds base and builds the service over svcStore, which
// may wrap base to inject faults.
func newFixtureWithStore(t *testing.T, base *sqlstore.Store, svcStore rewards.Store) *fixture {
	t.Helper()
	ctx := context.Background()

	catalog, err := rewards.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	_, err = catalog.Seed(ctx, base, monday)
	require.NoError(t, err)

	v, err := vault.New(testKey)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	clock := generic.NewFixedClock(monday)
	svc := rewards.NewService(svcStore, v,
		rewards.WithClock(clock),
		rewards.WithLogger(logger),
	)
	return &fixture{ctx: ctx, store: base, svc: svc, clock: clock, vault: v, logs: hook}
}

func (f *fixture) claim(t *testing.T, userID, rewardID string) *rewards.ClaimResult {
	t.Helper()
	res, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{ClientID: tenant, UserID: userID, RewardID: rewardID})
	require.NoError(t, err)
	return res
}

// claimAndClose claims an instant reward and walks it to concluded.
func (f *fixture) claimAndClose(t *testing.T, userID, rewardID string) {
	t.Helper()
	res := f.claim(t, userID, rewardID)
	_, err := f.svc.FulfillRedemption(f.ctx, tenant, res.Redemption.ID, "sent")
	require.NoError(t, err)
	_, err = f.svc.ConcludeRedemption(f.ctx, tenant, res.Redemption.ID)
	require.NoError(t, err)
}

func (f *fixture) claimBoost(t *testing.T, userID string, at time.Time) *rewards.ClaimResult {
	t.Helper()
	res, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
		ClientID: tenant, UserID: userID, RewardID: "boost-t3", ScheduledActivationAt: &at,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) setSales(t *testing.T, userID, sales string) {
	t.Helper()
	u, err := f.store.GetUser(f.ctx, tenant, userID)
	require.NoError(t, err)
	d := decimal.RequireFromString(sales)
	u.TotalSales = &d
	require.NoError(t, f.store.SaveUser(f.ctx, *u))
}

func (f *fixture) redemption(t *testing.T, id string) *rewards.Redemption {
	t.Helper()
	r, err := f.store.GetRedemption(f.ctx, tenant, id)
	require.NoError(t, err)
	return r
}

func (f *fixture) boost(t *testing.T, id string) *rewards.CommissionBoost {
	t.Helper()
	b, err := f.store.GetBoost(f.ctx, tenant, id)
	require.NoError(t, err)
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func shipping() *rewards.ShippingInfo {
	return &rewards.ShippingInfo{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		AddressLine1: "1 Analytical Way",
		City:         "Austin",
		State:        "TX",
		PostalCode:   "78701",
		Country:      "US",
		Phone:        "+15125550100",
	}
}

// faultyStore injects failures into selected store calls.
type faultyStore struct {
	*sqlstore.Store
	createBoostErr error
	createGiftErr  error
	deleteErr      error
	failTransition map[string]error // by redemption ID
}

func (s *faultyStore) CreateBoost(ctx context.Context, b rewards.CommissionBoost, g rewards.StateHistoryEntry) error {
	if s.createBoostErr != nil {
		return s.createBoostErr
	}
	return s.Store.CreateBoost(ctx, b, g)
}

func (s *faultyStore) CreatePhysicalGift(ctx context.Context, g rewards.PhysicalGift) error {
	if s.createGiftErr != nil {
		return s.createGiftErr
	}
	return s.Store.CreatePhysicalGift(ctx, g)
}

func (s *faultyStore) DeleteRedemption(ctx context.Context, clientID, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.DeleteRedemption(ctx, clientID, id)
}

func (s *faultyStore) TransitionBoost(ctx context.Context, t rewards.BoostTransition) (bool, error) {
	if err := s.failTransition[t.RedemptionID]; err != nil {
		return false, err
	}
	return s.Store.TransitionBoost(ctx, t)
}

var errDiskFull = errors.New("disk full")

func newFaultyFixture(t *testing.T) (*fixture, *faultyStore) {
	t.Helper()
	base, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	faulty := &faultyStore{Store: base, failTransition: map[string]error{}}
	return newFixtureWithStore(t, base, faulty), faulty
}
