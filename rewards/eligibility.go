/*
eligibility.go - Claim eligibility rules

PURPOSE:
  Decides whether a creator may claim a reward right now. Read-only.

RULES (first failure wins):
  1. Reward belongs to the tenant        FORBIDDEN
     Reward is enabled                   REWARD_NOT_FOUND
     Reward is a VIP tier reward         REWARD_NOT_CLAIMABLE
  2. Reward's tier is the current tier   TIER_INELIGIBLE
  3. No active claim for this reward     ALREADY_CLAIMED
  4. Usage this tier tenure < quantity   LIMIT_REACHED

  A reward that exists only in another tenant is reported exactly like one
  that does not exist anywhere, so callers learn nothing across tenants.

BATCHING:
  UsageCounts answers rule 4 for any number of rewards in one store call,
  which ListAvailable uses for the whole catalog.
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/redemption-engine/generic"
)

// EligibilityInput is the context a claim is evaluated in.
type EligibilityInput struct {
	ClientID       string
	UserID         string
	RewardID       string
	CurrentTier    string
	TierAchievedAt time.Time
}

// Decision is the outcome of CanClaim.
type Decision struct {
	Allowed   bool
	Reason    *generic.RuleError // set when !Allowed
	Reward    *Reward            // set once the reward is found in the tenant
	UsedCount int
}

func deny(reason *generic.RuleError, reward *Reward) Decision {
	return Decision{Reason: reason, Reward: reward}
}

// Evaluator applies the eligibility rules.
type Evaluator struct {
	catalog CatalogStore
	ledger  LedgerStore
}

// NewEvaluator builds an Evaluator over the given store.
func NewEvaluator(store interface {
	CatalogStore
	LedgerStore
}) *Evaluator {
	return &Evaluator{catalog: store, ledger: store}
}

// CanClaim evaluates the rules in order. The error return is reserved for
// infrastructure failures; rule denials come back in Decision.Reason.
func (e *Evaluator) CanClaim(ctx context.Context, in EligibilityInput) (Decision, error) {
	reward, err := e.catalog.GetReward(ctx, in.ClientID, in.RewardID)
	if errors.Is(err, generic.ErrNotFound) {
		return deny(ErrForbidden, nil), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load reward: %w", err)
	}
	if !reward.Enabled {
		return deny(ErrRewardNotFound, reward), nil
	}
	if reward.Source != SourceVIPTier {
		return deny(ErrRewardNotClaimable, reward), nil
	}

	if reward.TierEligibility != in.CurrentTier {
		reason := ErrTierIneligible.WithDetails(map[string]any{
			"requiredTier": reward.TierEligibility,
			"currentTier":  in.CurrentTier,
			"preview":      reward.PreviewFromTier != "",
		})
		return deny(reason, reward), nil
	}

	active, err := e.ledger.ListRedemptions(ctx, RedemptionFilter{
		ClientID: in.ClientID,
		UserID:   in.UserID,
		RewardID: reward.ID,
		Statuses: []RedemptionStatus{StatusClaimed, StatusFulfilled},
		VIPOnly:  true,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("load active redemptions: %w", err)
	}
	if len(active) > 0 {
		reason := ErrAlreadyClaimed.WithDetails(map[string]any{
			"activeRedemptionId":     active[0].ID,
			"activeRedemptionStatus": active[0].Status,
		})
		return deny(reason, reward), nil
	}

	counts, err := e.UsageCounts(ctx, in, []string{reward.ID})
	if err != nil {
		return Decision{}, err
	}
	used := counts[reward.ID]
	if reward.Quantity != nil && used >= *reward.Quantity {
		frequency := reward.Frequency
		if frequency == "" {
			frequency = "tier"
		}
		reason := ErrLimitReached.WithDetails(map[string]any{
			"usedCount":           used,
			"totalQuantity":       *reward.Quantity,
			"redemptionFrequency": frequency,
		})
		d := deny(reason, reward)
		d.UsedCount = used
		return d, nil
	}

	return Decision{Allowed: true, Reward: reward, UsedCount: used}, nil
}

// UsageCounts returns, per reward ID, how many times the user has used the
// reward in the current tier tenure. Missing keys mean zero.
func (e *Evaluator) UsageCounts(ctx context.Context, in EligibilityInput, rewardIDs []string) (map[string]int, error) {
	counts, err := e.ledger.CountUsage(ctx, UsageQuery{
		ClientID:  in.ClientID,
		UserID:    in.UserID,
		TierID:    in.CurrentTier,
		Since:     in.TierAchievedAt,
		RewardIDs: rewardIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}
	return counts, nil
}
