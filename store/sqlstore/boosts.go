package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/warp/redemption-engine/rewards"
)

// =============================================================================
// COMMISSION BOOSTS
// =============================================================================

const boostSelect = `
	SELECT b.client_id, b.redemption_id, r.user_id, b.status, b.scheduled_activation_date,
	       b.duration_days, b.boost_rate, b.tier_commission_rate, b.activated_at, b.expires_at,
	       b.sales_at_activation, b.sales_at_expiration, b.sales_delta,
	       b.calculated_commission, b.admin_adjusted_commission, b.final_payout_amount,
	       b.payment_method, b.payment_account, b.payment_info_collected_at,
	       b.payout_sent_at, b.payout_sent_by, b.created_at, b.updated_at
	FROM commission_boost_redemptions b
	JOIN redemptions r ON r.client_id = b.client_id AND r.id = b.redemption_id`

type boostRow struct {
	ClientID                string         `db:"client_id"`
	RedemptionID            string         `db:"redemption_id"`
	UserID                  string         `db:"user_id"`
	Status                  string         `db:"status"`
	ScheduledActivationDate string         `db:"scheduled_activation_date"`
	DurationDays            int            `db:"duration_days"`
	BoostRate               string         `db:"boost_rate"`
	TierCommissionRate      sql.NullString `db:"tier_commission_rate"`
	ActivatedAt             sql.NullString `db:"activated_at"`
	ExpiresAt               sql.NullString `db:"expires_at"`
	SalesAtActivation       sql.NullString `db:"sales_at_activation"`
	SalesAtExpiration       sql.NullString `db:"sales_at_expiration"`
	SalesDelta              sql.NullString `db:"sales_delta"`
	CalculatedCommission    sql.NullString `db:"calculated_commission"`
	AdminAdjustedCommission sql.NullString `db:"admin_adjusted_commission"`
	FinalPayoutAmount       sql.NullString `db:"final_payout_amount"`
	PaymentMethod           string         `db:"payment_method"`
	PaymentAccount          string         `db:"payment_account"`
	PaymentInfoCollectedAt  sql.NullString `db:"payment_info_collected_at"`
	PayoutSentAt            sql.NullString `db:"payout_sent_at"`
	PayoutSentBy            string         `db:"payout_sent_by"`
	CreatedAt               string         `db:"created_at"`
	UpdatedAt               string         `db:"updated_at"`
}

func (r boostRow) boost() rewards.CommissionBoost {
	return rewards.CommissionBoost{
		ClientID:                r.ClientID,
		RedemptionID:            r.RedemptionID,
		UserID:                  r.UserID,
		Status:                  rewards.BoostStatus(r.Status),
		ScheduledActivationDate: r.ScheduledActivationDate,
		DurationDays:            r.DurationDays,
		BoostRate:               parseDec(r.BoostRate),
		TierCommissionRate:      parseNullDec(r.TierCommissionRate),
		ActivatedAt:             parseNullTS(r.ActivatedAt),
		ExpiresAt:               parseNullTS(r.ExpiresAt),
		SalesAtActivation:       parseNullDec(r.SalesAtActivation),
		SalesAtExpiration:       parseNullDec(r.SalesAtExpiration),
		SalesDelta:              parseNullDec(r.SalesDelta),
		CalculatedCommission:    parseNullDec(r.CalculatedCommission),
		AdminAdjustedCommission: parseNullDec(r.AdminAdjustedCommission),
		FinalPayoutAmount:       parseNullDec(r.FinalPayoutAmount),
		PaymentMethod:           rewards.PaymentMethod(r.PaymentMethod),
		PaymentAccount:          r.PaymentAccount,
		PaymentInfoCollectedAt:  parseNullTS(r.PaymentInfoCollectedAt),
		PayoutSentAt:            parseNullTS(r.PayoutSentAt),
		PayoutSentBy:            r.PayoutSentBy,
		CreatedAt:               parseTS(r.CreatedAt),
		UpdatedAt:               parseTS(r.UpdatedAt),
	}
}

// CreateBoost inserts the boost sub-state and its genesis history entry in
// one transaction.
func (s *Store) CreateBoost(ctx context.Context, b rewards.CommissionBoost, genesis rewards.StateHistoryEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO commission_boost_redemptions
			(client_id, redemption_id, status, scheduled_activation_date, duration_days, boost_rate,
			 tier_commission_rate, activated_at, expires_at, sales_at_activation, sales_at_expiration,
			 sales_delta, calculated_commission, admin_adjusted_commission, final_payout_amount,
			 payment_method, payment_account, payment_info_collected_at, payout_sent_at, payout_sent_by,
			 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			b.ClientID, b.RedemptionID, string(b.Status), b.ScheduledActivationDate, b.DurationDays,
			b.BoostRate.String(), nullDec(b.TierCommissionRate), nullTS(b.ActivatedAt), nullTS(b.ExpiresAt),
			nullDec(b.SalesAtActivation), nullDec(b.SalesAtExpiration), nullDec(b.SalesDelta),
			nullDec(b.CalculatedCommission), nullDec(b.AdminAdjustedCommission), nullDec(b.FinalPayoutAmount),
			string(b.PaymentMethod), b.PaymentAccount, nullTS(b.PaymentInfoCollectedAt),
			nullTS(b.PayoutSentAt), b.PayoutSentBy, ts(b.CreatedAt), ts(b.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("create boost: %w", err)
		}
		return s.insertHistory(ctx, tx, genesis)
	})
}

func (s *Store) insertHistory(ctx context.Context, tx *sqlx.Tx, h rewards.StateHistoryEntry) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO commission_boost_state_history
		(client_id, id, redemption_id, from_status, to_status, transitioned_at, transitioned_by, transition_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		h.ClientID, h.ID, h.RedemptionID, nullString(string(h.FromStatus)), string(h.ToStatus),
		ts(h.TransitionedAt), h.TransitionedBy, string(h.Type),
	)
	if err != nil {
		return fmt.Errorf("insert boost history: %w", err)
	}
	return nil
}

// GetBoost returns the boost sub-state of a redemption.
func (s *Store) GetBoost(ctx context.Context, clientID, redemptionID string) (*rewards.CommissionBoost, error) {
	var row boostRow
	err := s.db.GetContext(ctx, &row, s.rebind(boostSelect+`
		WHERE b.client_id = ? AND b.redemption_id = ?
	`), clientID, redemptionID)
	if err != nil {
		return nil, notFound(err, "commission boost")
	}
	b := row.boost()
	return &b, nil
}

// ListBoosts returns the tenant's boosts matching f, oldest first.
func (s *Store) ListBoosts(ctx context.Context, f rewards.BoostFilter) ([]rewards.CommissionBoost, error) {
	where := []string{"b.client_id = ?"}
	args := []any{f.ClientID}
	if f.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, string(f.Status))
	}
	if f.UserID != "" {
		where = append(where, "r.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ScheduledOnOrBefore != "" {
		where = append(where, "b.scheduled_activation_date <= ?")
		args = append(args, f.ScheduledOnOrBefore)
	}
	if f.ExpiresOnOrBefore != nil {
		where = append(where, "b.expires_at IS NOT NULL AND b.expires_at <= ?")
		args = append(args, ts(*f.ExpiresOnOrBefore))
	}

	var rows []boostRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(boostSelect+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY b.created_at ASC, b.redemption_id ASC
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("list boosts: %w", err)
	}
	out := make([]rewards.CommissionBoost, len(rows))
	for i, r := range rows {
		out[i] = r.boost()
	}
	return out, nil
}

// TransitionBoost applies one guarded boost transition: the sub-state update,
// one history row and the mirrored redemption status commit together or not
// at all. It reports false, writing nothing, when the boost is no longer in
// t.From.
func (s *Store) TransitionBoost(ctx context.Context, t rewards.BoostTransition) (bool, error) {
	set := &setList{}
	set.add("status = ?", string(t.To))
	set.add("updated_at = ?", ts(t.At))
	f := t.Set
	if f.ActivatedAt != nil {
		set.add("activated_at = ?", ts(*f.ActivatedAt))
	}
	if f.ExpiresAt != nil {
		set.add("expires_at = ?", ts(*f.ExpiresAt))
	}
	if f.SalesAtActivation != nil {
		set.add("sales_at_activation = ?", f.SalesAtActivation.String())
	}
	if f.SalesAtExpiration != nil {
		set.add("sales_at_expiration = ?", f.SalesAtExpiration.String())
	}
	if p := f.Payout; p != nil {
		set.add("sales_delta = ?", p.SalesDelta.String())
		set.add("calculated_commission = ?", p.CalculatedCommission.String())
		set.add("final_payout_amount = ?", p.FinalPayoutAmount.String())
	}
	if f.PaymentMethod != "" {
		set.add("payment_method = ?", string(f.PaymentMethod))
	}
	if f.PaymentAccount != "" {
		set.add("payment_account = ?", f.PaymentAccount)
	}
	if f.PaymentInfoCollectedAt != nil {
		set.add("payment_info_collected_at = ?", ts(*f.PaymentInfoCollectedAt))
	}
	if f.PayoutSentAt != nil {
		set.add("payout_sent_at = ?", ts(*f.PayoutSentAt))
	}
	if f.PayoutSentBy != "" {
		set.add("payout_sent_by = ?", f.PayoutSentBy)
	}

	applied := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		args := append(set.args, t.ClientID, t.RedemptionID, string(t.From))
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE commission_boost_redemptions SET `+set.String()+`
			WHERE client_id = ? AND redemption_id = ? AND status = ?
		`), args...)
		if err != nil {
			return fmt.Errorf("update boost: %w", err)
		}
		n, err := affected(res)
		if err != nil || n == 0 {
			return err
		}

		if err := s.insertHistory(ctx, tx, rewards.StateHistoryEntry{
			ClientID:       t.ClientID,
			ID:             t.HistoryID,
			RedemptionID:   t.RedemptionID,
			FromStatus:     t.From,
			ToStatus:       t.To,
			TransitionedAt: t.At,
			TransitionedBy: t.By,
			Type:           t.Type,
		}); err != nil {
			return err
		}

		if t.RedemptionStatus != "" {
			if err := s.mirrorStatus(ctx, tx, t); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) mirrorStatus(ctx context.Context, tx *sqlx.Tx, t rewards.BoostTransition) error {
	set := &setList{}
	set.add("status = ?", string(t.RedemptionStatus))
	set.add("updated_at = ?", ts(t.At))
	switch t.RedemptionStatus {
	case rewards.StatusFulfilled:
		set.add("fulfilled_at = COALESCE(fulfilled_at, ?)", ts(t.At))
	case rewards.StatusConcluded:
		set.add("concluded_at = COALESCE(concluded_at, ?)", ts(t.At))
	}
	args := append(set.args, t.ClientID, t.RedemptionID)
	_, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE redemptions SET `+set.String()+`
		WHERE client_id = ? AND id = ? AND deleted_at IS NULL
	`), args...)
	if err != nil {
		return fmt.Errorf("mirror redemption status: %w", err)
	}
	return nil
}

// AdjustCommission overrides the payout of a boost that has not been paid.
func (s *Store) AdjustCommission(ctx context.Context, a rewards.CommissionAdjustment) (bool, error) {
	allowed := make([]string, len(a.AllowedFrom))
	for i, st := range a.AllowedFrom {
		allowed[i] = string(st)
	}
	query, args, err := s.in(`
		UPDATE commission_boost_redemptions
		SET admin_adjusted_commission = ?, final_payout_amount = ?, updated_at = ?
		WHERE client_id = ? AND redemption_id = ? AND status IN (?)
	`, a.Amount.String(), a.Amount.String(), ts(a.At), a.ClientID, a.RedemptionID, allowed)
	if err != nil {
		return false, fmt.Errorf("build commission adjustment: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("adjust commission: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

type historyRow struct {
	ClientID       string         `db:"client_id"`
	ID             string         `db:"id"`
	RedemptionID   string         `db:"redemption_id"`
	FromStatus     sql.NullString `db:"from_status"`
	ToStatus       string         `db:"to_status"`
	TransitionedAt string         `db:"transitioned_at"`
	TransitionedBy string         `db:"transitioned_by"`
	Type           string         `db:"transition_type"`
}

// ListBoostHistory returns a boost's transitions in the order they happened.
// Transitions sharing a timestamp are ordered by lifecycle position.
func (s *Store) ListBoostHistory(ctx context.Context, clientID, redemptionID string) ([]rewards.StateHistoryEntry, error) {
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT client_id, id, redemption_id, from_status, to_status,
		       transitioned_at, transitioned_by, transition_type
		FROM commission_boost_state_history
		WHERE client_id = ? AND redemption_id = ?
		ORDER BY transitioned_at ASC
	`), clientID, redemptionID)
	if err != nil {
		return nil, fmt.Errorf("list boost history: %w", err)
	}

	out := make([]rewards.StateHistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = rewards.StateHistoryEntry{
			ClientID:       r.ClientID,
			ID:             r.ID,
			RedemptionID:   r.RedemptionID,
			FromStatus:     rewards.BoostStatus(r.FromStatus.String),
			ToStatus:       rewards.BoostStatus(r.ToStatus),
			TransitionedAt: parseTS(r.TransitionedAt),
			TransitionedBy: r.TransitionedBy,
			Type:           rewards.TransitionType(r.Type),
		}
	}

	rank := lifecycleRank()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransitionedAt.Equal(out[j].TransitionedAt) {
			return out[i].TransitionedAt.Before(out[j].TransitionedAt)
		}
		return rank[out[i].ToStatus] < rank[out[j].ToStatus]
	})
	return out, nil
}

func lifecycleRank() map[rewards.BoostStatus]int {
	states := rewards.BoostLifecycle.States()
	rank := make(map[rewards.BoostStatus]int, len(states))
	for i, st := range states {
		rank[st] = i
	}
	return rank
}
