/*
runner.go - Scheduled activation sweep

PURPOSE:
  Advances time-based transitions for one tenant. Invoked on a schedule
  (api/scheduler.go) and on demand by admins.

SWEEPS (in order):
  1. Boost activation   scheduled -> active      scheduled date <= today
  2. Boost expiry       active -> expired         expires_at <= now
                        expired -> pending_info   immediately after
  3. Stragglers         expired -> pending_info   boosts left behind by a
                                                  failed step 2
  4. Discounts          claimed -> fulfilled      scheduled slot <= now
  5. Discount close     fulfilled -> concluded    expiration_date <= now

IDEMPOTENCY:
  Each row is moved with a guarded update. Rows already moved by a
  concurrent or previous run are skipped silently, so running twice, or on
  two instances at once, never double-activates or double-logs.

FAILURES:
  A failing row is recorded in RunReport.Errors and the sweep moves on.
  Only failing to list candidates aborts a sweep.

CATCH-UP:
  Past-due boosts are activated no matter how far in the past their date
  is. Missing sales metrics count as zero.
*/
package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// RowError is one redemption the runner could not advance.
type RowError struct {
	RedemptionID string `json:"redemptionId"`
	Step         string `json:"step"`
	Error        string `json:"error"`
}

// ActivationResult is one boost or discount the runner advanced.
type ActivationResult struct {
	RedemptionID string           `json:"redemptionId"`
	UserID       string           `json:"userId"`
	From         string           `json:"from"`
	To           string           `json:"to"`
	At           time.Time        `json:"at"`
	Sales        *decimal.Decimal `json:"sales,omitempty"`
	Payout       *Payout          `json:"payout,omitempty"`
}

// RunReport summarizes one invocation for one tenant.
type RunReport struct {
	RunID              string             `json:"runId"`
	ClientID           string             `json:"clientId"`
	StartedAt          time.Time          `json:"startedAt"`
	CompletedAt        time.Time          `json:"completedAt"`
	BoostsActivated    []ActivationResult `json:"boostsActivated"`
	BoostsExpired      []ActivationResult `json:"boostsExpired"`
	BoostsPendingInfo  []ActivationResult `json:"boostsPendingInfo"`
	DiscountsActivated []ActivationResult `json:"discountsActivated"`
	DiscountsConcluded []ActivationResult `json:"discountsConcluded"`
	Errors             []RowError         `json:"errors"`
}

// MarshalJSON keeps Payout readable in run reports.
func (p Payout) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"salesDelta":           p.SalesDelta.String(),
		"calculatedCommission": p.CalculatedCommission.String(),
		"finalPayoutAmount":    p.FinalPayoutAmount.String(),
	})
}

func (r *RunReport) fail(id, step string, err error) {
	r.Errors = append(r.Errors, RowError{RedemptionID: id, Step: step, Error: err.Error()})
}

// RunScheduledActivation runs every sweep for one tenant and records the run.
// trigger is "cron" or "manual".
func (s *Service) RunScheduledActivation(ctx context.Context, clientID, trigger string) (*RunReport, error) {
	start := s.now()
	report := &RunReport{RunID: generic.NewID("run"), ClientID: clientID, StartedAt: start}
	run := ActivationRun{
		ID:        report.RunID,
		ClientID:  clientID,
		Trigger:   trigger,
		Status:    "running",
		StartedAt: start,
	}
	if err := s.store.SaveActivationRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run record: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"client_id": clientID, "run_id": report.RunID, "trigger": trigger})

	sweeps := []struct {
		name string
		fn   func(context.Context, *RunReport) error
	}{
		{"activate_boosts", s.activatePending},
		{"expire_boosts", s.expireBoosts},
		{"pending_info", s.promoteExpired},
		{"activate_discounts", s.activateDiscounts},
		{"conclude_discounts", s.concludeDiscounts},
	}
	var sweepErr error
	for _, sw := range sweeps {
		if err := sw.fn(ctx, report); err != nil {
			log.WithError(err).WithField("sweep", sw.name).Error("sweep aborted")
			report.fail("", sw.name, err)
			sweepErr = err
		}
	}

	report.CompletedAt = s.now()
	run.CompletedAt = &report.CompletedAt
	run.BoostsActivated = len(report.BoostsActivated)
	run.BoostsExpired = len(report.BoostsExpired)
	run.BoostsPendingInfo = len(report.BoostsPendingInfo)
	run.DiscountsActivated = len(report.DiscountsActivated)
	run.DiscountsConcluded = len(report.DiscountsConcluded)
	run.Errors = report.Errors
	switch {
	case sweepErr != nil:
		run.Status = "failed"
	case len(report.Errors) > 0:
		run.Status = "completed_with_errors"
	default:
		run.Status = "completed"
	}
	if err := s.store.SaveActivationRun(ctx, run); err != nil {
		log.WithError(err).Warn("failed to update run record")
	}

	s.observer.RunCompleted(clientID, report.CompletedAt.Sub(start), len(report.Errors))
	log.WithFields(logrus.Fields{
		"boosts_activated":    run.BoostsActivated,
		"boosts_expired":      run.BoostsExpired,
		"boosts_pending_info": run.BoostsPendingInfo,
		"discounts_activated": run.DiscountsActivated,
		"discounts_concluded": run.DiscountsConcluded,
		"errors":              len(report.Errors),
	}).Info("scheduled activation completed")

	return report, nil
}

// ActivatePending moves due scheduled boosts to active.
func (s *Service) ActivatePending(ctx context.Context, clientID string) ([]ActivationResult, []RowError, error) {
	report := &RunReport{ClientID: clientID}
	err := s.activatePending(ctx, report)
	return report.BoostsActivated, report.Errors, err
}

func (s *Service) activatePending(ctx context.Context, report *RunReport) error {
	now := s.now()
	due, err := s.store.ListBoosts(ctx, BoostFilter{
		ClientID:            report.ClientID,
		Status:              BoostScheduled,
		ScheduledOnOrBefore: generic.FormatDate(now),
	})
	if err != nil {
		return fmt.Errorf("list scheduled boosts: %w", err)
	}

	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		sales, err := s.salesOf(ctx, b.ClientID, b.UserID)
		if err != nil {
			report.fail(b.RedemptionID, "activate_boost", err)
			continue
		}
		expires := now.AddDate(0, 0, b.DurationDays)
		applied, err := s.transitionBoost(ctx, BoostTransition{
			ClientID:     b.ClientID,
			RedemptionID: b.RedemptionID,
			From:         BoostScheduled,
			To:           BoostActive,
			At:           now,
			Type:         TransitionCron,
			Set: BoostFields{
				ActivatedAt:       &now,
				ExpiresAt:         &expires,
				SalesAtActivation: &sales,
			},
		})
		if err != nil {
			report.fail(b.RedemptionID, "activate_boost", err)
			continue
		}
		if applied {
			report.BoostsActivated = append(report.BoostsActivated, ActivationResult{
				RedemptionID: b.RedemptionID, UserID: b.UserID,
				From: string(BoostScheduled), To: string(BoostActive), At: now, Sales: &sales,
			})
		}
	}
	return nil
}

// ExpireBoosts moves boosts past expires_at to expired and then pending_info.
func (s *Service) ExpireBoosts(ctx context.Context, clientID string) ([]ActivationResult, []RowError, error) {
	report := &RunReport{ClientID: clientID}
	err := s.expireBoosts(ctx, report)
	return report.BoostsExpired, report.Errors, err
}

func (s *Service) expireBoosts(ctx context.Context, report *RunReport) error {
	now := s.now()
	due, err := s.store.ListBoosts(ctx, BoostFilter{
		ClientID:          report.ClientID,
		Status:            BoostActive,
		ExpiresOnOrBefore: &now,
	})
	if err != nil {
		return fmt.Errorf("list active boosts: %w", err)
	}

	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		sales, err := s.salesOf(ctx, b.ClientID, b.UserID)
		if err != nil {
			report.fail(b.RedemptionID, "expire_boost", err)
			continue
		}
		payout := ComputePayout(b.SalesAtActivation, &sales, b.BoostRate, b.AdminAdjustedCommission)
		applied, err := s.transitionBoost(ctx, BoostTransition{
			ClientID:     b.ClientID,
			RedemptionID: b.RedemptionID,
			From:         BoostActive,
			To:           BoostExpired,
			At:           now,
			Type:         TransitionCron,
			Set:          BoostFields{SalesAtExpiration: &sales, Payout: &payout},
		})
		if err != nil {
			report.fail(b.RedemptionID, "expire_boost", err)
			continue
		}
		if !applied {
			continue
		}
		report.BoostsExpired = append(report.BoostsExpired, ActivationResult{
			RedemptionID: b.RedemptionID, UserID: b.UserID,
			From: string(BoostActive), To: string(BoostExpired), At: now, Sales: &sales, Payout: &payout,
		})

		if err := s.toPendingInfo(ctx, report, b); err != nil {
			report.fail(b.RedemptionID, "pending_info", err)
		}
	}
	return nil
}

// promoteExpired advances boosts stuck in expired.
func (s *Service) promoteExpired(ctx context.Context, report *RunReport) error {
	stuck, err := s.store.ListBoosts(ctx, BoostFilter{ClientID: report.ClientID, Status: BoostExpired})
	if err != nil {
		return fmt.Errorf("list expired boosts: %w", err)
	}
	for _, b := range stuck {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.toPendingInfo(ctx, report, b); err != nil {
			report.fail(b.RedemptionID, "pending_info", err)
		}
	}
	return nil
}

func (s *Service) toPendingInfo(ctx context.Context, report *RunReport, b CommissionBoost) error {
	now := s.now()
	applied, err := s.transitionBoost(ctx, BoostTransition{
		ClientID:     b.ClientID,
		RedemptionID: b.RedemptionID,
		From:         BoostExpired,
		To:           BoostPendingInfo,
		At:           now,
		Type:         TransitionCron,
	})
	if err != nil {
		return err
	}
	if applied {
		report.BoostsPendingInfo = append(report.BoostsPendingInfo, ActivationResult{
			RedemptionID: b.RedemptionID, UserID: b.UserID,
			From: string(BoostExpired), To: string(BoostPendingInfo), At: now,
		})
	}
	return nil
}

// ActivateDiscounts fulfils discounts whose scheduled slot has arrived.
func (s *Service) ActivateDiscounts(ctx context.Context, clientID string) ([]ActivationResult, []RowError, error) {
	report := &RunReport{ClientID: clientID}
	err := s.activateDiscounts(ctx, report)
	return report.DiscountsActivated, report.Errors, err
}

func (s *Service) activateDiscounts(ctx context.Context, report *RunReport) error {
	now := s.now()
	due, err := s.store.ListDueDiscounts(ctx, report.ClientID, now)
	if err != nil {
		return fmt.Errorf("list due discounts: %w", err)
	}

	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		reward, err := s.store.GetReward(ctx, r.ClientID, r.RewardID)
		if err != nil {
			report.fail(r.ID, "activate_discount", fmt.Errorf("load reward: %w", err))
			continue
		}
		start, end := discountWindow(*reward, now)
		applied, err := s.store.ChangeStatus(ctx, StatusChange{
			ClientID:     r.ClientID,
			RedemptionID: r.ID,
			From:         []RedemptionStatus{StatusClaimed},
			To:           StatusFulfilled,
			At:           now,
			Set:          RedemptionFields{ActivationDate: &start, ExpirationDate: &end, FulfilledAt: &now},
		})
		if err != nil {
			report.fail(r.ID, "activate_discount", err)
			continue
		}
		if applied {
			report.DiscountsActivated = append(report.DiscountsActivated, ActivationResult{
				RedemptionID: r.ID, UserID: r.UserID,
				From: string(StatusClaimed), To: string(StatusFulfilled), At: now,
			})
		}
	}
	return nil
}

func (s *Service) concludeDiscounts(ctx context.Context, report *RunReport) error {
	now := s.now()
	expired, err := s.store.ListExpiredDiscounts(ctx, report.ClientID, now)
	if err != nil {
		return fmt.Errorf("list expired discounts: %w", err)
	}

	for _, r := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}
		applied, err := s.store.ChangeStatus(ctx, StatusChange{
			ClientID:     r.ClientID,
			RedemptionID: r.ID,
			From:         []RedemptionStatus{StatusFulfilled},
			To:           StatusConcluded,
			At:           now,
			Set:          RedemptionFields{ConcludedAt: &now},
		})
		if err != nil {
			report.fail(r.ID, "conclude_discount", err)
			continue
		}
		if applied {
			report.DiscountsConcluded = append(report.DiscountsConcluded, ActivationResult{
				RedemptionID: r.ID, UserID: r.UserID,
				From: string(StatusFulfilled), To: string(StatusConcluded), At: now,
			})
		}
	}
	return nil
}

func (s *Service) salesOf(ctx context.Context, clientID, userID string) (decimal.Decimal, error) {
	user, err := s.store.GetUser(ctx, clientID, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load user %s: %w", userID, err)
	}
	return user.Sales(), nil
}

// ListActivationRuns returns the tenant's most recent runs, newest first.
func (s *Service) ListActivationRuns(ctx context.Context, clientID string, limit int) ([]ActivationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := s.store.ListActivationRuns(ctx, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activation runs: %w", err)
	}
	return runs, nil
}
