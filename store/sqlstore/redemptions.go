package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/rewards"
)

// =============================================================================
// REDEMPTIONS
// =============================================================================

// redemptionSelect joins the reward so RewardType is available to callers.
const redemptionSelect = `
	SELECT r.client_id, r.id, r.user_id, r.reward_id, w.type AS reward_type,
	       r.mission_progress_id, r.status, r.tier_at_claim, r.redemption_type, r.claimed_at,
	       r.scheduled_activation_date, r.scheduled_activation_time,
	       r.activation_date, r.expiration_date,
	       r.fulfilled_at, r.fulfillment_notes, r.concluded_at, r.rejected_at, r.rejection_reason,
	       r.deleted_at, r.deleted_reason, r.created_at, r.updated_at
	FROM redemptions r
	JOIN rewards w ON w.client_id = r.client_id AND w.id = r.reward_id`

type redemptionRow struct {
	ClientID                string         `db:"client_id"`
	ID                      string         `db:"id"`
	UserID                  string         `db:"user_id"`
	RewardID                string         `db:"reward_id"`
	RewardType              string         `db:"reward_type"`
	MissionProgressID       sql.NullString `db:"mission_progress_id"`
	Status                  string         `db:"status"`
	TierAtClaim             string         `db:"tier_at_claim"`
	RedemptionType          string         `db:"redemption_type"`
	ClaimedAt               sql.NullString `db:"claimed_at"`
	ScheduledActivationDate sql.NullString `db:"scheduled_activation_date"`
	ScheduledActivationTime sql.NullString `db:"scheduled_activation_time"`
	ActivationDate          sql.NullString `db:"activation_date"`
	ExpirationDate          sql.NullString `db:"expiration_date"`
	FulfilledAt             sql.NullString `db:"fulfilled_at"`
	FulfillmentNotes        string         `db:"fulfillment_notes"`
	ConcludedAt             sql.NullString `db:"concluded_at"`
	RejectedAt              sql.NullString `db:"rejected_at"`
	RejectionReason         string         `db:"rejection_reason"`
	DeletedAt               sql.NullString `db:"deleted_at"`
	DeletedReason           string         `db:"deleted_reason"`
	CreatedAt               string         `db:"created_at"`
	UpdatedAt               string         `db:"updated_at"`
}

func (r redemptionRow) redemption() rewards.Redemption {
	return rewards.Redemption{
		ClientID:                r.ClientID,
		ID:                      r.ID,
		UserID:                  r.UserID,
		RewardID:                r.RewardID,
		RewardType:              rewards.RewardType(r.RewardType),
		MissionProgressID:       r.MissionProgressID.String,
		Status:                  rewards.RedemptionStatus(r.Status),
		TierAtClaim:             r.TierAtClaim,
		RedemptionType:          rewards.RedemptionType(r.RedemptionType),
		ClaimedAt:               parseNullTS(r.ClaimedAt),
		ScheduledActivationDate: r.ScheduledActivationDate.String,
		ScheduledActivationTime: r.ScheduledActivationTime.String,
		ActivationDate:          parseNullTS(r.ActivationDate),
		ExpirationDate:          parseNullTS(r.ExpirationDate),
		FulfilledAt:             parseNullTS(r.FulfilledAt),
		FulfillmentNotes:        r.FulfillmentNotes,
		ConcludedAt:             parseNullTS(r.ConcludedAt),
		RejectedAt:              parseNullTS(r.RejectedAt),
		RejectionReason:         r.RejectionReason,
		DeletedAt:               parseNullTS(r.DeletedAt),
		DeletedReason:           r.DeletedReason,
		CreatedAt:               parseTS(r.CreatedAt),
		UpdatedAt:               parseTS(r.UpdatedAt),
	}
}

func toRedemptions(rows []redemptionRow) []rewards.Redemption {
	out := make([]rewards.Redemption, len(rows))
	for i, r := range rows {
		out[i] = r.redemption()
	}
	return out
}

// CreateRedemption inserts a redemption. A second live VIP claim of the same
// reward by the same creator is rejected with generic.ErrConflict.
func (s *Store) CreateRedemption(ctx context.Context, r rewards.Redemption) error {
	query := s.rebind(`
		INSERT INTO redemptions
		(client_id, id, user_id, reward_id, mission_progress_id, status, tier_at_claim,
		 redemption_type, claimed_at, scheduled_activation_date, scheduled_activation_time,
		 activation_date, expiration_date, fulfilled_at, fulfillment_notes, concluded_at,
		 rejected_at, rejection_reason, deleted_at, deleted_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		r.ClientID, r.ID, r.UserID, r.RewardID, nullString(r.MissionProgressID), string(r.Status),
		r.TierAtClaim, string(r.RedemptionType), nullTS(r.ClaimedAt),
		nullString(r.ScheduledActivationDate), nullString(r.ScheduledActivationTime),
		nullTS(r.ActivationDate), nullTS(r.ExpirationDate), nullTS(r.FulfilledAt), r.FulfillmentNotes,
		nullTS(r.ConcludedAt), nullTS(r.RejectedAt), r.RejectionReason,
		nullTS(r.DeletedAt), r.DeletedReason, ts(r.CreatedAt), ts(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("redemption %s: %w", r.ID, generic.ErrConflict)
		}
		return fmt.Errorf("create redemption: %w", err)
	}
	return nil
}

// DeleteRedemption removes a redemption and, through the foreign keys, its
// sub-state and boost history.
func (s *Store) DeleteRedemption(ctx context.Context, clientID, redemptionID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM redemptions WHERE client_id = ? AND id = ?
	`), clientID, redemptionID)
	if err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	}
	return nil
}

// GetRedemption returns a redemption, soft-deleted or not.
func (s *Store) GetRedemption(ctx context.Context, clientID, redemptionID string) (*rewards.Redemption, error) {
	var row redemptionRow
	err := s.db.GetContext(ctx, &row, s.rebind(redemptionSelect+`
		WHERE r.client_id = ? AND r.id = ?
	`), clientID, redemptionID)
	if err != nil {
		return nil, notFound(err, "redemption")
	}
	r := row.redemption()
	return &r, nil
}

// ListRedemptions returns matching redemptions, newest first.
func (s *Store) ListRedemptions(ctx context.Context, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	where := []string{"r.client_id = ?"}
	args := []any{f.ClientID}
	if f.UserID != "" {
		where = append(where, "r.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.RewardID != "" {
		where = append(where, "r.reward_id = ?")
		args = append(args, f.RewardID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "r.status IN (?)")
		args = append(args, statusStrings(f.Statuses))
	}
	if f.VIPOnly {
		where = append(where, "r.mission_progress_id IS NULL")
	}
	if !f.IncludeDeleted {
		where = append(where, "r.deleted_at IS NULL")
	}

	query, args, err := s.in(redemptionSelect+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY r.created_at DESC, r.id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("build redemption query: %w", err)
	}

	var rows []redemptionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return toRedemptions(rows), nil
}

// CountUsage counts claimed, fulfilled and concluded VIP redemptions per
// reward made at the given tier since the tenure started.
func (s *Store) CountUsage(ctx context.Context, q rewards.UsageQuery) (map[string]int, error) {
	query := `
		SELECT reward_id, COUNT(*) AS used
		FROM redemptions
		WHERE client_id = ? AND user_id = ? AND tier_at_claim = ?
		  AND status IN ('claimed', 'fulfilled', 'concluded')
		  AND deleted_at IS NULL
		  AND mission_progress_id IS NULL
		  AND COALESCE(claimed_at, created_at) >= ?`
	args := []any{q.ClientID, q.UserID, q.TierID, ts(q.Since)}
	if len(q.RewardIDs) > 0 {
		query += ` AND reward_id IN (?)`
		args = append(args, q.RewardIDs)
	}
	query += ` GROUP BY reward_id`

	query, args, err := s.in(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build usage query: %w", err)
	}

	var rows []struct {
		RewardID string `db:"reward_id"`
		Used     int    `db:"used"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.RewardID] = r.Used
	}
	return counts, nil
}

// ChangeStatus moves a live redemption from one of c.From to c.To and stamps
// the fields in c.Set. It reports false when the row was not in c.From.
func (s *Store) ChangeStatus(ctx context.Context, c rewards.StatusChange) (bool, error) {
	set := &setList{}
	set.add("status = ?", string(c.To))
	set.add("updated_at = ?", ts(c.At))
	f := c.Set
	if f.ActivationDate != nil {
		set.add("activation_date = ?", ts(*f.ActivationDate))
	}
	if f.ExpirationDate != nil {
		set.add("expiration_date = ?", ts(*f.ExpirationDate))
	}
	if f.FulfilledAt != nil {
		set.add("fulfilled_at = ?", ts(*f.FulfilledAt))
	}
	if f.FulfillmentNotes != "" {
		set.add("fulfillment_notes = ?", f.FulfillmentNotes)
	}
	if f.ConcludedAt != nil {
		set.add("concluded_at = ?", ts(*f.ConcludedAt))
	}
	if f.RejectedAt != nil {
		set.add("rejected_at = ?", ts(*f.RejectedAt))
	}
	if f.RejectionReason != "" {
		set.add("rejection_reason = ?", f.RejectionReason)
	}

	args := append(set.args, c.ClientID, c.RedemptionID, statusStrings(c.From))
	query, args, err := s.in(`
		UPDATE redemptions SET `+set.String()+`
		WHERE client_id = ? AND id = ? AND deleted_at IS NULL AND status IN (?)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("build status change: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("change redemption status: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

// SoftDeleteClaimable flags the creator's unclaimed VIP redemptions granted
// at d.TierID. Other statuses and mission redemptions are never touched.
func (s *Store) SoftDeleteClaimable(ctx context.Context, d rewards.SoftDelete) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE redemptions
		SET deleted_at = ?, deleted_reason = ?, updated_at = ?
		WHERE client_id = ? AND user_id = ? AND tier_at_claim = ?
		  AND status = 'claimable'
		  AND deleted_at IS NULL
		  AND mission_progress_id IS NULL
	`), ts(d.At), d.Reason, ts(d.At), d.ClientID, d.UserID, d.TierID)
	if err != nil {
		return 0, fmt.Errorf("soft delete claimable: %w", err)
	}
	return affected(res)
}

// ListDueDiscounts returns claimed discounts whose scheduled slot has passed
// and that have not been activated yet.
func (s *Store) ListDueDiscounts(ctx context.Context, clientID string, asOf time.Time) ([]rewards.Redemption, error) {
	date, clock := generic.FormatDate(asOf), generic.FormatClock(asOf)
	var rows []redemptionRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(redemptionSelect+`
		WHERE r.client_id = ?
		  AND w.type = 'discount'
		  AND r.status = 'claimed'
		  AND r.deleted_at IS NULL
		  AND r.activation_date IS NULL
		  AND r.scheduled_activation_date IS NOT NULL
		  AND (r.scheduled_activation_date < ?
		       OR (r.scheduled_activation_date = ? AND COALESCE(r.scheduled_activation_time, '00:00:00') <= ?))
		ORDER BY r.scheduled_activation_date ASC, r.scheduled_activation_time ASC, r.id ASC
	`), clientID, date, date, clock)
	if err != nil {
		return nil, fmt.Errorf("list due discounts: %w", err)
	}
	return toRedemptions(rows), nil
}

// ListExpiredDiscounts returns active discounts whose window has closed.
func (s *Store) ListExpiredDiscounts(ctx context.Context, clientID string, asOf time.Time) ([]rewards.Redemption, error) {
	var rows []redemptionRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(redemptionSelect+`
		WHERE r.client_id = ?
		  AND w.type = 'discount'
		  AND r.status = 'fulfilled'
		  AND r.deleted_at IS NULL
		  AND r.expiration_date IS NOT NULL
		  AND r.expiration_date <= ?
		ORDER BY r.expiration_date ASC, r.id ASC
	`), clientID, ts(asOf))
	if err != nil {
		return nil, fmt.Errorf("list expired discounts: %w", err)
	}
	return toRedemptions(rows), nil
}

func statusStrings(ss []rewards.RedemptionStatus) []string {
	out := make([]string, len(ss))
	for i, st := range ss {
		out[i] = string(st)
	}
	return out
}
