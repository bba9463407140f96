package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/redemption-engine/rewards"
)

// =============================================================================
// ACTIVATION RUNS
// =============================================================================

type runRow struct {
	ClientID           string         `db:"client_id"`
	ID                 string         `db:"id"`
	Trigger            string         `db:"trigger_type"`
	Status             string         `db:"status"`
	BoostsActivated    int            `db:"boosts_activated"`
	BoostsExpired      int            `db:"boosts_expired"`
	BoostsPendingInfo  int            `db:"boosts_pending_info"`
	DiscountsActivated int            `db:"discounts_activated"`
	DiscountsConcluded int            `db:"discounts_concluded"`
	ErrorsJSON         string         `db:"errors_json"`
	StartedAt          string         `db:"started_at"`
	CompletedAt        sql.NullString `db:"completed_at"`
}

// SaveActivationRun inserts a run record or updates it in place.
func (s *Store) SaveActivationRun(ctx context.Context, run rewards.ActivationRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []rewards.RowError{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO activation_runs
		(client_id, id, trigger_type, status, boosts_activated, boosts_expired, boosts_pending_info,
		 discounts_activated, discounts_concluded, errors_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, id) DO UPDATE SET
			status = excluded.status,
			boosts_activated = excluded.boosts_activated,
			boosts_expired = excluded.boosts_expired,
			boosts_pending_info = excluded.boosts_pending_info,
			discounts_activated = excluded.discounts_activated,
			discounts_concluded = excluded.discounts_concluded,
			errors_json = excluded.errors_json,
			completed_at = excluded.completed_at
	`),
		run.ClientID, run.ID, run.Trigger, run.Status, run.BoostsActivated, run.BoostsExpired,
		run.BoostsPendingInfo, run.DiscountsActivated, run.DiscountsConcluded, string(errorsJSON),
		ts(run.StartedAt), nullTS(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save activation run: %w", err)
	}
	return nil
}

// ListActivationRuns returns the tenant's most recent runs, newest first.
func (s *Store) ListActivationRuns(ctx context.Context, clientID string, limit int) ([]rewards.ActivationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT client_id, id, trigger_type, status, boosts_activated, boosts_expired,
		       boosts_pending_info, discounts_activated, discounts_concluded, errors_json,
		       started_at, completed_at
		FROM activation_runs
		WHERE client_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`), clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activation runs: %w", err)
	}

	runs := make([]rewards.ActivationRun, len(rows))
	for i, r := range rows {
		runs[i] = rewards.ActivationRun{
			ID:                 r.ID,
			ClientID:           r.ClientID,
			Trigger:            r.Trigger,
			Status:             r.Status,
			BoostsActivated:    r.BoostsActivated,
			BoostsExpired:      r.BoostsExpired,
			BoostsPendingInfo:  r.BoostsPendingInfo,
			DiscountsActivated: r.DiscountsActivated,
			DiscountsConcluded: r.DiscountsConcluded,
			StartedAt:          parseTS(r.StartedAt),
			CompletedAt:        parseNullTS(r.CompletedAt),
		}
		if r.ErrorsJSON != "" {
			if err := json.Unmarshal([]byte(r.ErrorsJSON), &runs[i].Errors); err != nil {
				return nil, fmt.Errorf("decode run errors: %w", err)
			}
		}
	}
	return runs, nil
}
