/*
ledger.go - Redemption ledger operations

LIFECYCLE:
  claimable ──▶ claimed ──▶ fulfilled ──▶ concluded
                   │
                   └──▶ rejected

  claimable rows are grants that have not been claimed yet; they are the
  only rows the tier reconciler may soft-delete. Commission boost
  redemptions follow their boost (see boost.go) and are never moved
  directly by these operations.

SOFT DELETE:
  deleted_at / deleted_reason sit beside the status and never replace it.
  Every read path filters them explicitly.
*/
package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// RedemptionLifecycle is the redemption status transition table.
var RedemptionLifecycle = generic.NewStateMachine("redemption", StatusClaimable, map[RedemptionStatus][]RedemptionStatus{
	StatusClaimable: {StatusClaimed},
	StatusClaimed:   {StatusFulfilled, StatusRejected},
	StatusFulfilled: {StatusConcluded},
	StatusConcluded: nil,
	StatusRejected:  nil,
}, []RedemptionStatus{StatusClaimable, StatusClaimed, StatusFulfilled, StatusConcluded, StatusRejected})

// GetRedemption loads one redemption in the tenant.
func (s *Service) GetRedemption(ctx context.Context, clientID, redemptionID string) (*Redemption, error) {
	r, err := s.store.GetRedemption(ctx, clientID, redemptionID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, ErrNotFound.WithMessage("redemption %s not found", redemptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load redemption: %w", err)
	}
	return r, nil
}

// GrantClaimable records that a reward became claimable for the user's
// current tier. missionProgressID is empty for VIP tier grants.
func (s *Service) GrantClaimable(ctx context.Context, clientID, userID, rewardID, missionProgressID string) (*Redemption, error) {
	user, err := s.loadUser(ctx, clientID, userID)
	if err != nil {
		return nil, err
	}
	reward, err := s.store.GetReward(ctx, clientID, rewardID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("load reward: %w", err)
	}

	now := s.now()
	r := Redemption{
		ClientID:          clientID,
		ID:                generic.NewID(""),
		UserID:            userID,
		RewardID:          reward.ID,
		RewardType:        reward.Type,
		MissionProgressID: missionProgressID,
		Status:            StatusClaimable,
		TierAtClaim:       user.CurrentTier,
		RedemptionType:    redemptionTypeOf(reward.Type),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateRedemption(ctx, r); err != nil {
		return nil, fmt.Errorf("create claimable redemption: %w", err)
	}
	return &r, nil
}

// FulfillRedemption marks an instant reward as delivered by an admin.
func (s *Service) FulfillRedemption(ctx context.Context, clientID, redemptionID, notes string) (*Redemption, error) {
	r, err := s.GetRedemption(ctx, clientID, redemptionID)
	if err != nil {
		return nil, err
	}
	switch r.RewardType {
	case TypeGiftCard, TypeSparkAds, TypeExperience:
	default:
		return nil, fmt.Errorf("%s redemptions are fulfilled by their own lifecycle: %w", r.RewardType, generic.ErrInvalidTransition)
	}
	now := s.now()
	return s.changeStatus(ctx, r, StatusFulfilled, RedemptionFields{FulfilledAt: &now, FulfillmentNotes: notes})
}

// ConcludeRedemption closes a fulfilled redemption.
func (s *Service) ConcludeRedemption(ctx context.Context, clientID, redemptionID string) (*Redemption, error) {
	r, err := s.GetRedemption(ctx, clientID, redemptionID)
	if err != nil {
		return nil, err
	}
	if r.RewardType == TypeCommissionBoost {
		return nil, fmt.Errorf("commission boosts conclude when paid: %w", generic.ErrInvalidTransition)
	}
	now := s.now()
	return s.changeStatus(ctx, r, StatusConcluded, RedemptionFields{ConcludedAt: &now})
}

// RejectRedemption declines a claimed redemption.
func (s *Service) RejectRedemption(ctx context.Context, clientID, redemptionID, reason string) (*Redemption, error) {
	r, err := s.GetRedemption(ctx, clientID, redemptionID)
	if err != nil {
		return nil, err
	}
	if r.RewardType == TypeCommissionBoost {
		return nil, fmt.Errorf("commission boosts cannot be rejected: %w", generic.ErrInvalidTransition)
	}
	now := s.now()
	return s.changeStatus(ctx, r, StatusRejected, RedemptionFields{RejectedAt: &now, RejectionReason: reason})
}

func (s *Service) changeStatus(ctx context.Context, r *Redemption, to RedemptionStatus, set RedemptionFields) (*Redemption, error) {
	if r.DeletedAt != nil {
		return nil, ErrNotFound.WithMessage("redemption %s not found", r.ID)
	}
	if err := RedemptionLifecycle.Validate(r.Status, to); err != nil {
		return nil, err
	}
	applied, err := s.store.ChangeStatus(ctx, StatusChange{
		ClientID:     r.ClientID,
		RedemptionID: r.ID,
		From:         []RedemptionStatus{r.Status},
		To:           to,
		At:           s.now(),
		Set:          set,
	})
	if err != nil {
		return nil, fmt.Errorf("change redemption status: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("redemption %s changed concurrently: %w", r.ID, generic.ErrInvalidTransition)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":     r.ClientID,
		"redemption_id": r.ID,
		"from":          r.Status,
		"to":            to,
	}).Info("redemption status changed")

	return s.GetRedemption(ctx, r.ClientID, r.ID)
}

// History lists the user's concluded redemptions, newest first.
func (s *Service) History(ctx context.Context, clientID, userID string) ([]Redemption, error) {
	rs, err := s.store.ListRedemptions(ctx, RedemptionFilter{
		ClientID: clientID,
		UserID:   userID,
		Statuses: []RedemptionStatus{StatusConcluded},
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rs, nil
}

func (s *Service) loadUser(ctx context.Context, clientID, userID string) (*User, error) {
	user, err := s.store.GetUser(ctx, clientID, userID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func redemptionTypeOf(t RewardType) RedemptionType {
	if t.Scheduled() {
		return RedemptionScheduled
	}
	return RedemptionInstant
}
