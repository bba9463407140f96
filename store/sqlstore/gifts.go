package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/redemption-engine/rewards"
)

// =============================================================================
// PHYSICAL GIFTS
// =============================================================================

const giftColumns = `client_id, redemption_id, requires_size, size_category, size_value, size_submitted_at,
	shipping_first_name, shipping_last_name, shipping_address_line1, shipping_address_line2,
	shipping_city, shipping_state, shipping_postal_code, shipping_country, shipping_phone,
	shipping_info_submitted_at, tracking_number, carrier, shipped_at, delivered_at, created_at`

type giftRow struct {
	ClientID                string         `db:"client_id"`
	RedemptionID            string         `db:"redemption_id"`
	RequiresSize            bool           `db:"requires_size"`
	SizeCategory            string         `db:"size_category"`
	SizeValue               string         `db:"size_value"`
	SizeSubmittedAt         sql.NullString `db:"size_submitted_at"`
	FirstName               string         `db:"shipping_first_name"`
	LastName                string         `db:"shipping_last_name"`
	AddressLine1            string         `db:"shipping_address_line1"`
	AddressLine2            string         `db:"shipping_address_line2"`
	City                    string         `db:"shipping_city"`
	State                   string         `db:"shipping_state"`
	PostalCode              string         `db:"shipping_postal_code"`
	Country                 string         `db:"shipping_country"`
	Phone                   string         `db:"shipping_phone"`
	ShippingInfoSubmittedAt sql.NullString `db:"shipping_info_submitted_at"`
	TrackingNumber          string         `db:"tracking_number"`
	Carrier                 string         `db:"carrier"`
	ShippedAt               sql.NullString `db:"shipped_at"`
	DeliveredAt             sql.NullString `db:"delivered_at"`
	CreatedAt               string         `db:"created_at"`
}

func (r giftRow) gift() rewards.PhysicalGift {
	return rewards.PhysicalGift{
		ClientID:        r.ClientID,
		RedemptionID:    r.RedemptionID,
		RequiresSize:    r.RequiresSize,
		SizeCategory:    r.SizeCategory,
		SizeValue:       r.SizeValue,
		SizeSubmittedAt: parseNullTS(r.SizeSubmittedAt),
		Shipping: rewards.ShippingInfo{
			FirstName:    r.FirstName,
			LastName:     r.LastName,
			AddressLine1: r.AddressLine1,
			AddressLine2: r.AddressLine2,
			City:         r.City,
			State:        r.State,
			PostalCode:   r.PostalCode,
			Country:      r.Country,
			Phone:        r.Phone,
		},
		ShippingInfoSubmittedAt: parseNullTS(r.ShippingInfoSubmittedAt),
		TrackingNumber:          r.TrackingNumber,
		Carrier:                 r.Carrier,
		ShippedAt:               parseNullTS(r.ShippedAt),
		DeliveredAt:             parseNullTS(r.DeliveredAt),
		CreatedAt:               parseTS(r.CreatedAt),
	}
}

// CreatePhysicalGift inserts the gift sub-state of a redemption.
func (s *Store) CreatePhysicalGift(ctx context.Context, g rewards.PhysicalGift) error {
	sh := g.Shipping
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO physical_gift_redemptions (`+giftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		g.ClientID, g.RedemptionID, g.RequiresSize, g.SizeCategory, g.SizeValue, nullTS(g.SizeSubmittedAt),
		sh.FirstName, sh.LastName, sh.AddressLine1, sh.AddressLine2,
		sh.City, sh.State, sh.PostalCode, sh.Country, sh.Phone,
		nullTS(g.ShippingInfoSubmittedAt), g.TrackingNumber, g.Carrier,
		nullTS(g.ShippedAt), nullTS(g.DeliveredAt), ts(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create physical gift: %w", err)
	}
	return nil
}

// GetPhysicalGift returns the gift sub-state of a redemption.
func (s *Store) GetPhysicalGift(ctx context.Context, clientID, redemptionID string) (*rewards.PhysicalGift, error) {
	var row giftRow
	err := s.db.GetContext(ctx, &row, s.rebind(`
		SELECT `+giftColumns+` FROM physical_gift_redemptions
		WHERE client_id = ? AND redemption_id = ?
	`), clientID, redemptionID)
	if err != nil {
		return nil, notFound(err, "physical gift")
	}
	g := row.gift()
	return &g, nil
}

// MarkGiftShipped records tracking details on a gift that has shipping info
// and has not shipped yet.
func (s *Store) MarkGiftShipped(ctx context.Context, sh rewards.GiftShipment) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE physical_gift_redemptions
		SET tracking_number = ?, carrier = ?, shipped_at = ?
		WHERE client_id = ? AND redemption_id = ?
		  AND shipped_at IS NULL
		  AND shipping_info_submitted_at IS NOT NULL
	`), sh.TrackingNumber, sh.Carrier, ts(sh.At), sh.ClientID, sh.RedemptionID)
	if err != nil {
		return false, fmt.Errorf("mark gift shipped: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

// MarkGiftDelivered stamps delivery on a shipped gift and fulfils its
// redemption in the same transaction.
func (s *Store) MarkGiftDelivered(ctx context.Context, clientID, redemptionID string, at time.Time) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE physical_gift_redemptions SET delivered_at = ?
			WHERE client_id = ? AND redemption_id = ?
			  AND shipped_at IS NOT NULL
			  AND delivered_at IS NULL
		`), ts(at), clientID, redemptionID)
		if err != nil {
			return fmt.Errorf("mark gift delivered: %w", err)
		}
		n, err := affected(res)
		if err != nil || n == 0 {
			return err
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE redemptions
			SET status = 'fulfilled', fulfilled_at = COALESCE(fulfilled_at, ?), updated_at = ?
			WHERE client_id = ? AND id = ? AND status = 'claimed' AND deleted_at IS NULL
		`), ts(at), ts(at), clientID, redemptionID)
		if err != nil {
			return fmt.Errorf("fulfil gift redemption: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
