/*
status.go - Catalog view with computed statuses

PURPOSE:
  ListAvailable answers "what can this creator see and do right now". It
  joins the catalog, the creator's active redemptions with their
  sub-states, and batch usage counts, then assigns one status per reward.

STATUS (first match wins):
  locked              reward belongs to another tier (preview)
  pending_info        boost waiting for payout destination
  clearing            boost waiting for payout
  sending             physical gift shipped
  active              boost running, or discount inside its window
  scheduled           boost or discount waiting for its slot
  redeeming_physical  physical gift waiting to ship
  redeeming           instant reward waiting for fulfilment
  limit_reached       usage cap exhausted this tier tenure
  available           claimable now

SORT:
  Items needing the creator's attention first, then display order.
*/
package rewards

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/redemption-engine/generic"
)

// ViewStatus is the computed status of a catalog entry for one creator.
type ViewStatus string

const (
	ViewPendingInfo       ViewStatus = "pending_info"
	ViewAvailable         ViewStatus = "available"
	ViewClearing          ViewStatus = "clearing"
	ViewSending           ViewStatus = "sending"
	ViewActive            ViewStatus = "active"
	ViewScheduled         ViewStatus = "scheduled"
	ViewRedeeming         ViewStatus = "redeeming"
	ViewRedeemingPhysical ViewStatus = "redeeming_physical"
	ViewLimitReached      ViewStatus = "limit_reached"
	ViewLocked            ViewStatus = "locked"
)

var viewPriority = map[ViewStatus]int{
	ViewPendingInfo:       1,
	ViewAvailable:         2,
	ViewClearing:          3,
	ViewSending:           4,
	ViewActive:            5,
	ViewScheduled:         6,
	ViewRedeeming:         7,
	ViewRedeemingPhysical: 8,
	ViewLimitReached:      9,
	ViewLocked:            10,
}

// clearingDays is the payout clearing period shown while a boost awaits payment.
const clearingDays = 20

// StatusDetails carries status-specific display data.
type StatusDetails struct {
	ActivationDate *time.Time
	ExpirationDate *time.Time
	DaysRemaining  int
	ScheduledAt    *time.Time
	ShippingCity   string
	ClearingDays   int
}

// AvailableReward is one catalog entry as the creator sees it.
type AvailableReward struct {
	Reward           Reward
	Name             string
	DisplayText      string
	Status           ViewStatus
	CanClaim         bool
	IsLocked         bool
	IsPreview        bool
	RequiredTierName string
	UsedCount        int
	Redemption       *Redemption
	Details          *StatusDetails
}

// Catalog is the ListAvailable response.
type Catalog struct {
	User        User
	CurrentTier Tier
	Rewards     []AvailableReward
}

type rewardState struct {
	redemption *Redemption
	boost      *CommissionBoost
	gift       *PhysicalGift
}

// ListAvailable returns the creator's catalog with computed statuses.
func (s *Service) ListAvailable(ctx context.Context, clientID, userID string) (*Catalog, error) {
	user, err := s.loadUser(ctx, clientID, userID)
	if err != nil {
		return nil, err
	}

	tiers, err := s.store.ListTiers(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	tierByID := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		tierByID[t.ID] = t
	}
	current := tierByID[user.CurrentTier]

	all, err := s.store.ListRewards(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	var visible []Reward
	for _, r := range all {
		if visibleTo(r, current, tierByID) {
			visible = append(visible, r)
		}
	}
	if len(visible) == 0 {
		return &Catalog{User: *user, CurrentTier: current}, nil
	}

	states, err := s.activeStates(ctx, clientID, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(visible))
	for i, r := range visible {
		ids[i] = r.ID
	}
	counts, err := s.eval.UsageCounts(ctx, EligibilityInput{
		ClientID:       clientID,
		UserID:         userID,
		CurrentTier:    user.CurrentTier,
		TierAchievedAt: user.TierAchievedAt,
	}, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]AvailableReward, 0, len(visible))
	for _, r := range visible {
		item := AvailableReward{
			Reward:      r,
			Name:        rewardName(r),
			DisplayText: rewardDisplayText(r),
			UsedCount:   counts[r.ID],
		}
		st := states[r.ID]
		item.Redemption = st.redemption
		computeStatus(&item, st, user.CurrentTier, tierByID, now)
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := viewPriority[items[i].Status], viewPriority[items[j].Status]
		if pi != pj {
			return pi < pj
		}
		return items[i].Reward.DisplayOrder < items[j].Reward.DisplayOrder
	})

	return &Catalog{User: *user, CurrentTier: current, Rewards: items}, nil
}

func visibleTo(r Reward, current Tier, tiers map[string]Tier) bool {
	if !r.Enabled || r.Source != SourceVIPTier {
		return false
	}
	if r.TierEligibility == current.ID {
		return true
	}
	if r.PreviewFromTier == "" {
		return false
	}
	preview, ok := tiers[r.PreviewFromTier]
	return ok && current.Order >= preview.Order
}

// activeStates loads the creator's live VIP redemptions and their sub-states,
// keyed by reward ID.
func (s *Service) activeStates(ctx context.Context, clientID, userID string) (map[string]rewardState, error) {
	active, err := s.store.ListRedemptions(ctx, RedemptionFilter{
		ClientID: clientID,
		UserID:   userID,
		Statuses: []RedemptionStatus{StatusClaimed, StatusFulfilled},
		VIPOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list active redemptions: %w", err)
	}

	boosts, err := s.store.ListBoosts(ctx, BoostFilter{ClientID: clientID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list boosts: %w", err)
	}
	boostByRedemption := make(map[string]CommissionBoost, len(boosts))
	for _, b := range boosts {
		boostByRedemption[b.RedemptionID] = b
	}

	states := make(map[string]rewardState, len(active))
	for i := range active {
		r := active[i]
		if _, seen := states[r.RewardID]; seen {
			continue // newest first; one active claim per reward
		}
		st := rewardState{redemption: &r}
		if b, ok := boostByRedemption[r.ID]; ok {
			st.boost = &b
		}
		if r.RewardType == TypePhysicalGift {
			g, err := s.store.GetPhysicalGift(ctx, clientID, r.ID)
			if err != nil && !generic.IsNotFound(err) {
				return nil, fmt.Errorf("load physical gift: %w", err)
			}
			st.gift = g
		}
		states[r.RewardID] = st
	}
	return states, nil
}

func computeStatus(item *AvailableReward, st rewardState, currentTier string, tiers map[string]Tier, now time.Time) {
	r := item.Reward

	if r.TierEligibility != currentTier {
		item.Status = ViewLocked
		item.IsLocked = true
		item.IsPreview = r.PreviewFromTier != ""
		item.RequiredTierName = tiers[r.TierEligibility].Name
		return
	}

	if red := st.redemption; red != nil {
		if status, details, ok := activeStatus(r.Type, *red, st, now); ok {
			item.Status = status
			item.Details = details
			return
		}
	}

	if r.Quantity != nil && item.UsedCount >= *r.Quantity {
		item.Status = ViewLimitReached
		return
	}
	if st.redemption != nil {
		// Active claim that matched no display state (e.g. an expired
		// discount awaiting conclusion) still blocks a new claim.
		item.Status = ViewRedeeming
		return
	}
	item.Status = ViewAvailable
	item.CanClaim = true
}

func activeStatus(t RewardType, red Redemption, st rewardState, now time.Time) (ViewStatus, *StatusDetails, bool) {
	boost, gift := st.boost, st.gift

	if t == TypeCommissionBoost && boost != nil {
		switch {
		case red.Status == StatusClaimed && boost.Status == BoostPendingInfo:
			return ViewPendingInfo, nil, true
		case red.Status == StatusFulfilled && boost.Status == BoostPendingPayout:
			return ViewClearing, &StatusDetails{ClearingDays: clearingDays}, true
		}
	}

	if t == TypePhysicalGift && red.Status == StatusClaimed && gift != nil && gift.ShippedAt != nil {
		var d *StatusDetails
		if gift.Shipping.City != "" {
			d = &StatusDetails{ShippingCity: gift.Shipping.City}
		}
		return ViewSending, d, true
	}

	if t == TypeCommissionBoost && boost != nil && red.Status == StatusClaimed && boost.Status == BoostActive {
		d := &StatusDetails{ActivationDate: boost.ActivatedAt, ExpirationDate: boost.ExpiresAt}
		if boost.ExpiresAt != nil {
			d.DaysRemaining = generic.DaysUntil(now, *boost.ExpiresAt)
		}
		return ViewActive, d, true
	}

	if t == TypeDiscount && red.Status == StatusFulfilled && red.ActivationDate != nil && red.ExpirationDate != nil {
		if !now.Before(*red.ActivationDate) && !now.After(*red.ExpirationDate) {
			return ViewActive, &StatusDetails{
				ActivationDate: red.ActivationDate,
				ExpirationDate: red.ExpirationDate,
				DaysRemaining:  generic.DaysUntil(now, *red.ExpirationDate),
			}, true
		}
	}

	if t.Scheduled() && red.Status == StatusClaimed {
		if at, ok := red.ScheduledAt(); ok {
			return ViewScheduled, &StatusDetails{ScheduledAt: &at}, true
		}
	}

	if t == TypePhysicalGift && red.Status == StatusClaimed && gift != nil && gift.Shipping.City != "" && gift.ShippedAt == nil {
		return ViewRedeemingPhysical, nil, true
	}

	switch t {
	case TypeGiftCard, TypeSparkAds, TypeExperience:
		if red.Status == StatusClaimed {
			return ViewRedeeming, nil, true
		}
	}
	return "", nil, false
}

func rewardName(r Reward) string {
	v := r.ValueData
	switch r.Type {
	case TypeGiftCard:
		return "$" + v.Amount().String() + " Gift Card"
	case TypeCommissionBoost:
		return v.Percent().String() + "% Pay Boost"
	case TypeSparkAds:
		return "$" + v.Amount().String() + " Ads Boost"
	case TypeDiscount:
		return v.Percent().String() + "% Deal Boost"
	case TypePhysicalGift:
		return "Gift Drop: " + orDefault(r.Description, "Gift")
	case TypeExperience:
		return orDefault(r.Description, "Experience")
	default:
		return orDefault(r.Description, "Reward")
	}
}

func rewardDisplayText(r Reward) string {
	v := r.ValueData
	switch r.Type {
	case TypeGiftCard:
		return "Amazon Gift Card"
	case TypeCommissionBoost:
		return fmt.Sprintf("Higher earnings (%dd)", v.DurationDays())
	case TypeSparkAds:
		return "Spark Ads Promo"
	case TypeDiscount:
		return fmt.Sprintf("Follower Discount (%dd)", v.DurationMinutes()/1440)
	case TypePhysicalGift:
		return orDefault(v.DisplayText(), orDefault(r.Description, "Gift"))
	case TypeExperience:
		return orDefault(v.DisplayText(), orDefault(r.Description, "Experience"))
	default:
		return orDefault(r.Description, "Reward")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
