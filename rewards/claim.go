/*
claim.go - Claiming a reward

FLOW:
  1. Load the creator in the tenant           FORBIDDEN if absent
  2. Evaluator.CanClaim                        eligibility.go
  3. Type rules                                scheduling, shipping, size
  4. Saga:
       insert redemption (claimed)             compensate: delete it
       create sub-state                        boost + genesis history,
                                               or physical gift
  The store is not assumed to support cross-table transactions, so a failed
  sub-state insert is undone by deleting the redemption. If that delete
  fails too, the claim is logged at error level with everything needed to
  reconcile it by hand and a fatal *generic.SagaError is returned.
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// ClaimRequest is a creator claiming a reward.
type ClaimRequest struct {
	ClientID              string
	UserID                string
	RewardID              string
	ScheduledActivationAt *time.Time
	SizeValue             string
	Shipping              *ShippingInfo
}

// NextSteps tells the client what happens after a claim.
type NextSteps struct {
	Action  string
	Message string
}

// ClaimResult is a successful claim.
type ClaimResult struct {
	Redemption Redemption
	Boost      *CommissionBoost
	Gift       *PhysicalGift
	NextSteps  NextSteps
	Message    string
}

// Claim validates and records a claim.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	result, rewardType, err := s.claim(ctx, req)
	switch {
	case err == nil:
		s.observer.ClaimAttempted(rewardType, "success")
	case generic.IsFatalSaga(err):
		s.observer.ClaimAttempted(rewardType, "saga_failed")
	default:
		if re, ok := generic.AsRuleError(err); ok {
			s.observer.ClaimAttempted(rewardType, re.Code)
		} else {
			s.observer.ClaimAttempted(rewardType, "error")
		}
	}
	return result, err
}

func (s *Service) claim(ctx context.Context, req ClaimRequest) (*ClaimResult, RewardType, error) {
	user, err := s.loadUser(ctx, req.ClientID, req.UserID)
	if err != nil {
		return nil, "", err
	}

	decision, err := s.eval.CanClaim(ctx, EligibilityInput{
		ClientID:       req.ClientID,
		UserID:         req.UserID,
		RewardID:       req.RewardID,
		CurrentTier:    user.CurrentTier,
		TierAchievedAt: user.TierAchievedAt,
	})
	if err != nil {
		return nil, "", err
	}
	var rewardType RewardType
	if decision.Reward != nil {
		rewardType = decision.Reward.Type
	}
	if !decision.Allowed {
		return nil, rewardType, decision.Reason
	}
	reward := *decision.Reward
	now := s.now()

	var schedule *Schedule
	if reward.Type.Scheduled() {
		if schedule, err = validateSchedule(reward.Type, req.ScheduledActivationAt, now); err != nil {
			return nil, rewardType, err
		}
	}
	if reward.Type == TypePhysicalGift {
		if err := validateGift(reward, req.Shipping, req.SizeValue); err != nil {
			return nil, rewardType, err
		}
	}

	redemption := Redemption{
		ClientID:       req.ClientID,
		ID:             generic.NewID(""),
		UserID:         req.UserID,
		RewardID:       reward.ID,
		RewardType:     reward.Type,
		Status:         StatusClaimed,
		TierAtClaim:    user.CurrentTier,
		RedemptionType: redemptionTypeOf(reward.Type),
		ClaimedAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if schedule != nil {
		redemption.ScheduledActivationDate = schedule.Date
		redemption.ScheduledActivationTime = schedule.Time
	}

	result := &ClaimResult{Redemption: redemption}

	steps := []generic.SagaStep{{
		Name: "insert_redemption",
		Do: func(ctx context.Context) error {
			err := s.store.CreateRedemption(ctx, redemption)
			if errors.Is(err, generic.ErrConflict) {
				return ErrAlreadyClaimed
			}
			return err
		},
		Compensate: func(ctx context.Context) error {
			return s.store.DeleteRedemption(ctx, redemption.ClientID, redemption.ID)
		},
	}}

	switch reward.Type {
	case TypeCommissionBoost:
		boost := s.newBoost(ctx, redemption, reward, schedule, now)
		genesis := StateHistoryEntry{
			ClientID:       redemption.ClientID,
			ID:             generic.NewID(""),
			RedemptionID:   redemption.ID,
			ToStatus:       BoostLifecycle.Initial(),
			TransitionedAt: now,
			TransitionedBy: req.UserID,
			Type:           TransitionAPI,
		}
		steps = append(steps, generic.SagaStep{
			Name: "create_commission_boost",
			Do: func(ctx context.Context) error {
				return s.store.CreateBoost(ctx, boost, genesis)
			},
		})
		result.Boost = &boost

	case TypePhysicalGift:
		gift := PhysicalGift{
			ClientID:                redemption.ClientID,
			RedemptionID:            redemption.ID,
			RequiresSize:            reward.ValueData.RequiresSize(),
			SizeCategory:            reward.ValueData.SizeCategory(),
			SizeValue:               req.SizeValue,
			Shipping:                *req.Shipping,
			ShippingInfoSubmittedAt: &now,
			CreatedAt:               now,
		}
		if req.SizeValue != "" {
			gift.SizeSubmittedAt = &now
		}
		steps = append(steps, generic.SagaStep{
			Name: "create_physical_gift",
			Do: func(ctx context.Context) error {
				return s.store.CreatePhysicalGift(ctx, gift)
			},
		})
		result.Gift = &gift
	}

	saga := generic.Saga{Name: "claim_" + string(reward.Type), Steps: steps}
	if err := saga.Run(ctx); err != nil {
		s.logClaimFailure(req, redemption, err)
		if generic.IsRuleViolation(err) && !generic.IsFatalSaga(err) {
			re, _ := generic.AsRuleError(err)
			return nil, rewardType, re
		}
		return nil, rewardType, fmt.Errorf("claim reward %s: %w", reward.ID, err)
	}

	result.NextSteps = nextStepsFor(reward.Type)
	result.Message = claimMessage(reward, schedule)

	s.log.WithFields(logrus.Fields{
		"client_id":     req.ClientID,
		"user_id":       req.UserID,
		"reward_id":     reward.ID,
		"reward_type":   reward.Type,
		"redemption_id": redemption.ID,
	}).Info("reward claimed")

	return result, rewardType, nil
}

func (s *Service) newBoost(ctx context.Context, r Redemption, reward Reward, schedule *Schedule, now time.Time) CommissionBoost {
	boost := CommissionBoost{
		ClientID:                r.ClientID,
		RedemptionID:            r.ID,
		UserID:                  r.UserID,
		Status:                  BoostLifecycle.Initial(),
		ScheduledActivationDate: schedule.Date,
		DurationDays:            reward.ValueData.DurationDays(),
		BoostRate:               reward.ValueData.Percent(),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	// The tier's base rate is informational; a missing tier is not fatal.
	if tier, err := s.store.GetTier(ctx, r.ClientID, r.TierAtClaim); err == nil {
		rate := tier.CommissionRate
		boost.TierCommissionRate = &rate
	}
	return boost
}

func (s *Service) logClaimFailure(req ClaimRequest, r Redemption, err error) {
	var se *generic.SagaError
	if !errors.As(err, &se) || !se.Fatal() {
		return
	}
	entry := s.log.WithFields(logrus.Fields{
		"client_id":     req.ClientID,
		"user_id":       req.UserID,
		"reward_id":     req.RewardID,
		"redemption_id": r.ID,
		"failed_step":   se.FailedStep,
		"step_error":    se.Err.Error(),
	})
	for _, c := range se.Compensations {
		entry = entry.WithField("compensation_"+c.Step, c.Err.Error())
	}
	entry.Error("claim rollback failed; orphaned redemption requires manual reconciliation")
}

func nextStepsFor(t RewardType) NextSteps {
	switch t {
	case TypePhysicalGift:
		return NextSteps{Action: "shipping_confirmation",
			Message: "Your shipping info has been received. We'll send tracking details via email!"}
	case TypeDiscount:
		return NextSteps{Action: "scheduled_confirmation",
			Message: "Your discount will activate at the scheduled time!"}
	case TypeCommissionBoost:
		return NextSteps{Action: "scheduled_confirmation",
			Message: "Your boost will activate automatically at 6 PM ET on the scheduled date!"}
	default:
		return NextSteps{Action: "wait_fulfillment",
			Message: "Your reward is being processed. You'll receive an email when it's ready!"}
	}
}

func claimMessage(reward Reward, schedule *Schedule) string {
	describe := func(fallback string) string {
		if reward.Description != "" {
			return reward.Description
		}
		return fallback
	}
	switch reward.Type {
	case TypeGiftCard:
		return "Gift card claimed! You'll receive your reward soon."
	case TypeSparkAds:
		return "Spark Ads boost claimed! You'll receive your reward soon."
	case TypeExperience:
		return describe("Experience") + " claimed! You'll receive details soon."
	case TypePhysicalGift:
		return describe("Item") + " claimed! We'll ship it to your address soon."
	case TypeDiscount:
		return "Discount scheduled to activate on " + schedule.At.In(eastern).Format("Jan 2") + "!"
	case TypeCommissionBoost:
		return "Commission boost scheduled to activate on " + schedule.At.In(eastern).Format("Jan 2") + " at 6:00 PM ET"
	default:
		return "Reward claimed successfully!"
	}
}
