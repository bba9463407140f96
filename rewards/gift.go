package rewards

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// Missing lists the required shipping fields that are blank. AddressLine2
// is optional.
func (s ShippingInfo) Missing() []string {
	required := []struct {
		name, value string
	}{
		{"firstName", s.FirstName},
		{"lastName", s.LastName},
		{"addressLine1", s.AddressLine1},
		{"city", s.City},
		{"state", s.State},
		{"postalCode", s.PostalCode},
		{"country", s.Country},
		{"phone", s.Phone},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// validateGift checks shipping and size for a physical gift claim.
func validateGift(reward Reward, shipping *ShippingInfo, size string) error {
	if shipping == nil {
		return ErrShippingInfoRequired
	}
	if missing := shipping.Missing(); len(missing) > 0 {
		return ErrShippingInfoRequired.WithDetails(map[string]any{"missingFields": missing})
	}

	options := reward.ValueData.SizeOptions()
	if reward.ValueData.RequiresSize() && size == "" {
		return ErrSizeRequired.WithDetails(map[string]any{"sizeOptions": options})
	}
	if size != "" && !slices.Contains(options, size) {
		return ErrInvalidSizeSelection.WithDetails(map[string]any{
			"selectedSize":   size,
			"availableSizes": options,
		})
	}
	return nil
}

// =============================================================================
// PHYSICAL GIFT LIFECYCLE
// =============================================================================

// MarkGiftShipped records the carrier hand-off. Allowed once, and only
// after shipping info was collected.
func (s *Service) MarkGiftShipped(ctx context.Context, clientID, redemptionID, trackingNumber, carrier string) (*PhysicalGift, error) {
	if strings.TrimSpace(trackingNumber) == "" {
		return nil, ErrValidation.WithMessage("tracking number is required")
	}
	if _, err := s.loadGift(ctx, clientID, redemptionID); err != nil {
		return nil, err
	}

	applied, err := s.store.MarkGiftShipped(ctx, GiftShipment{
		ClientID:       clientID,
		RedemptionID:   redemptionID,
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
		At:             s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("mark gift shipped: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("gift %s already shipped: %w", redemptionID, generic.ErrInvalidTransition)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":     clientID,
		"redemption_id": redemptionID,
		"carrier":       carrier,
	}).Info("physical gift shipped")

	return s.loadGift(ctx, clientID, redemptionID)
}

// MarkGiftDelivered records delivery and fulfils the redemption.
func (s *Service) MarkGiftDelivered(ctx context.Context, clientID, redemptionID string) (*PhysicalGift, error) {
	if _, err := s.loadGift(ctx, clientID, redemptionID); err != nil {
		return nil, err
	}

	applied, err := s.store.MarkGiftDelivered(ctx, clientID, redemptionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark gift delivered: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("gift %s not shipped or already delivered: %w", redemptionID, generic.ErrInvalidTransition)
	}
	return s.loadGift(ctx, clientID, redemptionID)
}

func (s *Service) loadGift(ctx context.Context, clientID, redemptionID string) (*PhysicalGift, error) {
	g, err := s.store.GetPhysicalGift(ctx, clientID, redemptionID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, ErrNotFound.WithMessage("physical gift %s not found", redemptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load physical gift: %w", err)
	}
	return g, nil
}
