/*
boost.go - Commission boost lifecycle

STATE MACHINE:

  (none) ──claim──▶ scheduled ──cron──▶ active ──cron──▶ expired
                                                           │ cron
                                                           ▼
                     paid ◀──manual── pending_payout ◀──api── pending_info

  paid is terminal. Each arrow writes exactly one StateHistoryEntry whose
  transition type names the trigger.

MIRROR ONTO THE REDEMPTION:
  scheduled, active, expired, pending_info -> claimed
  pending_payout                           -> fulfilled
  paid                                     -> concluded

PAYOUT MATH:
  sales_delta           = max(0, sales_at_expiration - sales_at_activation)
  calculated_commission = sales_delta * boost_rate / 100
  final_payout_amount   = admin_adjusted_commission ?? calculated_commission

  The stored derived columns are a cache of ComputePayout; readers
  re-derive them from the stored inputs.

CONCURRENCY:
  Transitions go through BoostStore.TransitionBoost, a guarded update keyed
  on the expected prior status. A false result means another writer got
  there first and the caller skips.
*/
package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// BoostLifecycle is the commission boost transition table.
var BoostLifecycle = generic.NewStateMachine("commission_boost", BoostScheduled, map[BoostStatus][]BoostStatus{
	BoostScheduled:     {BoostActive},
	BoostActive:        {BoostExpired},
	BoostExpired:       {BoostPendingInfo},
	BoostPendingInfo:   {BoostPendingPayout},
	BoostPendingPayout: {BoostPaid},
	BoostPaid:          nil,
}, []BoostStatus{BoostScheduled, BoostActive, BoostExpired, BoostPendingInfo, BoostPendingPayout, BoostPaid})

// MirrorStatus maps a boost status onto its redemption's coarse status.
func MirrorStatus(s BoostStatus) RedemptionStatus {
	switch s {
	case BoostPendingPayout:
		return StatusFulfilled
	case BoostPaid:
		return StatusConcluded
	default:
		return StatusClaimed
	}
}

// ComputePayout derives the payout fields. Nil sales count as zero and a
// nil adjustment means no override.
func ComputePayout(salesAtActivation, salesAtExpiration *decimal.Decimal, boostRate decimal.Decimal, adminAdjusted *decimal.Decimal) Payout {
	delta := generic.FloorZero(generic.DecimalOrZero(salesAtExpiration).Sub(generic.DecimalOrZero(salesAtActivation)))
	calculated := generic.RoundCents(generic.PercentOf(delta, boostRate))
	final := calculated
	if adminAdjusted != nil {
		final = *adminAdjusted
	}
	return Payout{SalesDelta: delta, CalculatedCommission: calculated, FinalPayoutAmount: final}
}

// Payout re-derives the boost's payout from its stored inputs.
func (b CommissionBoost) Payout() Payout {
	return ComputePayout(b.SalesAtActivation, b.SalesAtExpiration, b.BoostRate, b.AdminAdjustedCommission)
}

// transitionBoost validates against the table, applies the guarded write and
// reports the event. applied is false when the boost had already moved on.
func (s *Service) transitionBoost(ctx context.Context, t BoostTransition) (bool, error) {
	if err := BoostLifecycle.Validate(t.From, t.To); err != nil {
		return false, err
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	if t.HistoryID == "" {
		t.HistoryID = generic.NewID("")
	}
	t.RedemptionStatus = MirrorStatus(t.To)

	applied, err := s.store.TransitionBoost(ctx, t)
	if err != nil {
		return false, fmt.Errorf("transition boost %s %s->%s: %w", t.RedemptionID, t.From, t.To, err)
	}
	if applied {
		s.observer.BoostTransitioned(t.From, t.To, t.Type)
	}
	return applied, nil
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// MarkBoostPaid records that the payout was sent. pending_payout -> paid.
func (s *Service) MarkBoostPaid(ctx context.Context, clientID, redemptionID, adminID string) (*CommissionBoost, error) {
	boost, err := s.loadBoost(ctx, clientID, redemptionID)
	if err != nil {
		return nil, err
	}
	if boost.Status != BoostPendingPayout {
		return nil, BoostLifecycle.Validate(boost.Status, BoostPaid)
	}

	now := s.now()
	applied, err := s.transitionBoost(ctx, BoostTransition{
		ClientID:     clientID,
		RedemptionID: redemptionID,
		From:         BoostPendingPayout,
		To:           BoostPaid,
		At:           now,
		By:           adminID,
		Type:         TransitionManual,
		Set:          BoostFields{PayoutSentAt: &now, PayoutSentBy: adminID},
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("boost %s: %w", redemptionID, generic.ErrInvalidTransition)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":     clientID,
		"redemption_id": redemptionID,
		"admin_id":      adminID,
	}).Info("commission boost marked paid")

	return s.loadBoost(ctx, clientID, redemptionID)
}

// adjustableStatuses are the states in which the payout may be overridden.
var adjustableStatuses = []BoostStatus{BoostExpired, BoostPendingInfo, BoostPendingPayout}

// AdjustCommission overrides the payout of a boost that has not been paid.
// It is not a lifecycle transition and writes no history.
func (s *Service) AdjustCommission(ctx context.Context, clientID, redemptionID string, amount decimal.Decimal, adminID string) (*CommissionBoost, error) {
	if amount.IsNegative() {
		return nil, ErrValidation.WithMessage("adjusted commission must not be negative")
	}
	applied, err := s.store.AdjustCommission(ctx, CommissionAdjustment{
		ClientID:     clientID,
		RedemptionID: redemptionID,
		Amount:       amount,
		AllowedFrom:  adjustableStatuses,
		At:           s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("adjust commission: %w", err)
	}
	if !applied {
		boost, err := s.loadBoost(ctx, clientID, redemptionID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("boost %s is %s: %w", redemptionID, boost.Status, generic.ErrInvalidTransition)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":     clientID,
		"redemption_id": redemptionID,
		"admin_id":      adminID,
		"amount":        amount.String(),
	}).Info("commission boost payout adjusted")

	return s.loadBoost(ctx, clientID, redemptionID)
}

// BoostDetails is the admin view of a boost.
type BoostDetails struct {
	Boost          CommissionBoost
	Payout         Payout
	PaymentAccount string // decrypted
	History        []StateHistoryEntry
	HistoryValid   bool
}

// GetBoostDetails loads a boost, re-derives its payout, opens the payout
// destination and checks its history against the lifecycle.
func (s *Service) GetBoostDetails(ctx context.Context, clientID, redemptionID string) (*BoostDetails, error) {
	boost, err := s.loadBoost(ctx, clientID, redemptionID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListBoostHistory(ctx, clientID, redemptionID)
	if err != nil {
		return nil, fmt.Errorf("load boost history: %w", err)
	}

	d := &BoostDetails{Boost: *boost, Payout: boost.Payout(), History: history}

	path := make([]BoostStatus, len(history))
	for i, h := range history {
		path[i] = h.ToStatus
	}
	d.HistoryValid = BoostLifecycle.ValidatePath(path) == nil

	if boost.PaymentAccount != "" && s.cipher != nil {
		account, err := s.cipher.Decrypt(boost.PaymentAccount)
		if err != nil {
			return nil, fmt.Errorf("open payout destination: %w", err)
		}
		d.PaymentAccount = account
	}
	return d, nil
}

func (s *Service) loadBoost(ctx context.Context, clientID, redemptionID string) (*CommissionBoost, error) {
	boost, err := s.store.GetBoost(ctx, clientID, redemptionID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, ErrNotFound.WithMessage("commission boost %s not found", redemptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load boost: %w", err)
	}
	return boost, nil
}
