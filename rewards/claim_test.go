package rewards_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/rewards"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestClaim_InstantReward(t *testing.T) {
	f := newFixture(t)

	res := f.claim(t, "user-1", "gc-t3")

	r := res.Redemption
	assert.Equal(t, rewards.StatusClaimed, r.Status)
	assert.Equal(t, rewards.RedemptionInstant, r.RedemptionType)
	assert.Equal(t, "tier_3", r.TierAtClaim)
	require.NotNil(t, r.ClaimedAt)
	assert.True(t, r.ClaimedAt.Equal(monday))
	assert.Empty(t, r.ScheduledActivationDate)
	assert.Nil(t, res.Boost)
	assert.Nil(t, res.Gift)
	assert.Equal(t, "wait_fulfillment", res.NextSteps.Action)
	assert.Equal(t, "Gift card claimed! You'll receive your reward soon.", res.Message)

	stored := f.redemption(t, r.ID)
	assert.Equal(t, rewards.StatusClaimed, stored.Status)
	assert.Equal(t, rewards.TypeGiftCard, stored.RewardType)
}

func TestClaim_DiscountScheduling(t *testing.T) {
	tests := []struct {
		name string
		at   *time.Time
		code string
	}{
		{"missing", nil, rewards.CodeSchedulingRequired},
		{"in the past", at("2025-06-01T14:00:00Z"), rewards.CodeInvalidSchedule},
		{"now", &monday, rewards.CodeInvalidSchedule},
		{"saturday", at("2025-06-07T15:00:00Z"), rewards.CodeInvalidSchedule},
		{"sunday", at("2025-06-08T15:00:00Z"), rewards.CodeInvalidSchedule},
		{"before 9 eastern", at("2025-06-03T12:00:00Z"), rewards.CodeInvalidTimeSlot},
		{"at 16 eastern", at("2025-06-03T20:00:00Z"), rewards.CodeInvalidTimeSlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
				ClientID: tenant, UserID: "user-1", RewardID: "disc-t3", ScheduledActivationAt: tt.at,
			})
			require.Error(t, err)
			assert.True(t, generic.HasCode(err, tt.code), "got %v", err)

			// Nothing was written.
			rs, err := f.store.ListRedemptions(f.ctx, rewards.RedemptionFilter{ClientID: tenant, UserID: "user-1"})
			require.NoError(t, err)
			assert.Empty(t, rs)
		})
	}

	t.Run("weekday inside the window", func(t *testing.T) {
		f := newFixture(t)
		// 10:00 EDT on Tuesday
		res, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
			ClientID: tenant, UserID: "user-1", RewardID: "disc-t3",
			ScheduledActivationAt: at("2025-06-03T14:00:00Z"),
		})
		require.NoError(t, err)
		r := res.Redemption
		assert.Equal(t, rewards.RedemptionScheduled, r.RedemptionType)
		assert.Equal(t, "2025-06-03", r.ScheduledActivationDate)
		assert.Equal(t, "14:00:00", r.ScheduledActivationTime)
		assert.Equal(t, "scheduled_confirmation", res.NextSteps.Action)
		assert.Equal(t, "Discount scheduled to activate on Jun 3!", res.Message)
	})

	t.Run("last slot before close", func(t *testing.T) {
		f := newFixture(t)
		// 15:59 EDT
		_, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
			ClientID: tenant, UserID: "user-1", RewardID: "disc-t3",
			ScheduledActivationAt: at("2025-06-03T19:59:00Z"),
		})
		assert.NoError(t, err)
	})
}

func TestClaim_BoostSnapsToSixPMEastern(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		date      string
		clock     string
	}{
		{"morning", "2025-06-05T15:00:00Z", "2025-06-05", "22:00:00"},
		{"late evening eastern is still the same day", "2025-06-06T02:30:00Z", "2025-06-05", "22:00:00"},
		{"winter offset", "2025-12-10T15:00:00Z", "2025-12-10", "23:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.claimBoost(t, "user-1", *at(tt.requested))

			assert.Equal(t, tt.date, res.Redemption.ScheduledActivationDate)
			assert.Equal(t, tt.clock, res.Redemption.ScheduledActivationTime)

			require.NotNil(t, res.Boost)
			b := f.boost(t, res.Redemption.ID)
			assert.Equal(t, rewards.BoostScheduled, b.Status)
			assert.Equal(t, tt.date, b.ScheduledActivationDate)
			assert.Equal(t, 30, b.DurationDays)
			assert.True(t, dec("5").Equal(b.BoostRate))
			require.NotNil(t, b.TierCommissionRate)
			assert.True(t, dec("12").Equal(*b.TierCommissionRate))
			assert.Equal(t, "user-1", b.UserID)
		})
	}
}

func TestClaim_BoostWritesGenesisHistory(t *testing.T) {
	f := newFixture(t)

	res := f.claimBoost(t, "user-1", *at("2025-06-05T15:00:00Z"))

	history, err := f.store.ListBoostHistory(f.ctx, tenant, res.Redemption.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rewards.BoostStatus(""), history[0].FromStatus)
	assert.Equal(t, rewards.BoostScheduled, history[0].ToStatus)
	assert.Equal(t, rewards.TransitionAPI, history[0].Type)
	assert.Equal(t, "user-1", history[0].TransitionedBy)
	assert.Contains(t, res.Message, "Jun 5 at 6:00 PM ET")
}

func TestClaim_BoostInThePast(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
		ClientID: tenant, UserID: "user-1", RewardID: "boost-t3",
		ScheduledActivationAt: at("2025-05-30T15:00:00Z"),
	})
	assert.ErrorIs(t, err, rewards.ErrInvalidSchedule)

	_, err = f.svc.Claim(f.ctx, rewards.ClaimRequest{ClientID: tenant, UserID: "user-1", RewardID: "boost-t3"})
	assert.ErrorIs(t, err, rewards.ErrSchedulingRequired)
}

func TestClaim_PhysicalGiftValidation(t *testing.T) {
	missingCity := shipping()
	missingCity.City = "  "

	tests := []struct {
		name     string
		shipping *rewards.ShippingInfo
		size     string
		code     string
		details  map[string]any
	}{
		{"no shipping", nil, "M", rewards.CodeShippingInfoRequired, nil},
		{"blank city", missingCity, "M", rewards.CodeShippingInfoRequired,
			map[string]any{"missingFields": []string{"city"}}},
		{"no size", shipping(), "", rewards.CodeSizeRequired,
			map[string]any{"sizeOptions": []string{"S", "M", "L"}}},
		{"unknown size", shipping(), "XL", rewards.CodeInvalidSizeSelection,
			map[string]any{"selectedSize": "XL", "availableSizes": []string{"S", "M", "L"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
				ClientID: tenant, UserID: "user-1", RewardID: "gift-t3",
				Shipping: tt.shipping, SizeValue: tt.size,
			})
			re, ok := generic.AsRuleError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, re.Code)
			if tt.details != nil {
				assert.Equal(t, tt.details, re.Details)
			}
		})
	}
}

func TestClaim_PhysicalGift(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
		ClientID: tenant, UserID: "user-1", RewardID: "gift-t3",
		Shipping: shipping(), SizeValue: "M",
	})
	require.NoError(t, err)

	assert.Equal(t, "shipping_confirmation", res.NextSteps.Action)
	assert.Equal(t, "Hoodie claimed! We'll ship it to your address soon.", res.Message)

	g, err := f.store.GetPhysicalGift(f.ctx, tenant, res.Redemption.ID)
	require.NoError(t, err)
	assert.True(t, g.RequiresSize)
	assert.Equal(t, "clothing", g.SizeCategory)
	assert.Equal(t, "M", g.SizeValue)
	assert.NotNil(t, g.SizeSubmittedAt)
	assert.NotNil(t, g.ShippingInfoSubmittedAt)
	assert.Equal(t, "Austin", g.Shipping.City)
	assert.Nil(t, g.ShippedAt)
}

func TestClaim_CompensatesFailedSubState(t *testing.T) {
	f, faulty := newFaultyFixture(t)
	faulty.createBoostErr = errDiskFull

	_, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
		ClientID: tenant, UserID: "user-1", RewardID: "boost-t3",
		ScheduledActivationAt: at("2025-06-05T15:00:00Z"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, generic.IsFatalSaga(err))

	// The redemption was rolled back.
	rs, err := f.store.ListRedemptions(f.ctx, rewards.RedemptionFilter{ClientID: tenant, UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, rs)

	// And the reward is claimable again once the store recovers.
	faulty.createBoostErr = nil
	f.claimBoost(t, "user-1", *at("2025-06-05T15:00:00Z"))
}

func TestClaim_FailedRollbackIsLoud(t *testing.T) {
	f, faulty := newFaultyFixture(t)
	faulty.createGiftErr = errDiskFull
	faulty.deleteErr = errDiskFull

	_, err := f.svc.Claim(f.ctx, rewards.ClaimRequest{
		ClientID: tenant, UserID: "user-1", RewardID: "gift-t3",
		Shipping: shipping(), SizeValue: "S",
	})

	require.Error(t, err)
	assert.True(t, generic.IsFatalSaga(err))
	assert.ErrorIs(t, err, generic.ErrCompensationFailed)

	var entry *logrus.Entry
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			entry = e
		}
	}
	require.NotNil(t, entry, "expected an error log")
	assert.Contains(t, entry.Message, "orphaned redemption")
	assert.Equal(t, "create_physical_gift", entry.Data["failed_step"])
	assert.Equal(t, "gift-t3", entry.Data["reward_id"])
	assert.NotEmpty(t, entry.Data["redemption_id"])
}

func TestClaim_ConcurrentDuplicateMapsToAlreadyClaimed(t *testing.T) {
	f := newFixture(t)

	// GIVEN: an active claim written behind the evaluator's back
	first := f.claim(t, "user-1", "gc-t3")
	dup := first.Redemption
	dup.ID = "dup"
	err := f.store.CreateRedemption(f.ctx, dup)

	// THEN: the store refuses it
	assert.ErrorIs(t, err, generic.ErrConflict)
}
