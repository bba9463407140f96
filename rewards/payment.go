package rewards

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
)

// PaymentInfoRequest is a creator submitting where an expired boost should pay out.
type PaymentInfoRequest struct {
	ClientID       string
	UserID         string
	RedemptionID   string
	Method         PaymentMethod
	Account        string
	AccountConfirm string
	SaveAsDefault  bool
}

var venmoHandle = regexp.MustCompile(`^@[A-Za-z0-9_-]{1,30}$`)

// validate checks the request shape. It runs before any store access.
func (r *PaymentInfoRequest) validate() error {
	r.Account = strings.TrimSpace(r.Account)
	r.AccountConfirm = strings.TrimSpace(r.AccountConfirm)

	if r.Account == "" {
		return ErrValidation.WithMessage("payment account is required")
	}
	if r.Account != r.AccountConfirm {
		return ErrPaymentAccountMismatch
	}
	switch r.Method {
	case PaymentPayPal:
		addr, err := mail.ParseAddress(r.Account)
		if err != nil || addr.Address != r.Account {
			return ErrInvalidPayPalEmail
		}
	case PaymentVenmo:
		if !venmoHandle.MatchString(r.Account) {
			return ErrInvalidVenmoHandle
		}
	default:
		return ErrValidation.WithMessage("payment method must be paypal or venmo").
			WithDetails(map[string]any{"method": r.Method})
	}
	return nil
}

// SubmitPaymentInfo seals the payout destination and moves the boost from
// pending_info to pending_payout. Any other boost status is rejected with
// PAYMENT_INFO_NOT_REQUIRED.
func (s *Service) SubmitPaymentInfo(ctx context.Context, req PaymentInfoRequest) (*CommissionBoost, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	redemption, err := s.store.GetRedemption(ctx, req.ClientID, req.RedemptionID)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, ErrNotFound.WithMessage("redemption %s not found", req.RedemptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load redemption: %w", err)
	}
	if redemption.UserID != req.UserID {
		return nil, ErrForbidden
	}

	boost, err := s.loadBoost(ctx, req.ClientID, req.RedemptionID)
	if err != nil {
		return nil, err
	}
	if boost.Status != BoostPendingInfo {
		return nil, ErrPaymentInfoNotRequired.WithDetails(map[string]any{"currentStatus": boost.Status})
	}

	if s.cipher == nil {
		return nil, errors.New("payout vault is not configured")
	}
	sealed, err := s.cipher.Encrypt(req.Account)
	if err != nil {
		return nil, fmt.Errorf("seal payout destination: %w", err)
	}

	now := s.now()
	applied, err := s.transitionBoost(ctx, BoostTransition{
		ClientID:     req.ClientID,
		RedemptionID: req.RedemptionID,
		From:         BoostPendingInfo,
		To:           BoostPendingPayout,
		At:           now,
		By:           req.UserID,
		Type:         TransitionAPI,
		Set: BoostFields{
			PaymentMethod:          req.Method,
			PaymentAccount:         sealed,
			PaymentInfoCollectedAt: &now,
		},
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race with another submission.
		current, err := s.loadBoost(ctx, req.ClientID, req.RedemptionID)
		if err != nil {
			return nil, err
		}
		return nil, ErrPaymentInfoNotRequired.WithDetails(map[string]any{"currentStatus": current.Status})
	}

	if req.SaveAsDefault {
		if err := s.store.SaveDefaultPayment(ctx, req.ClientID, req.UserID, req.Method, sealed); err != nil {
			// The payout itself is recorded; the default is a convenience.
			s.log.WithFields(logrus.Fields{
				"client_id": req.ClientID,
				"user_id":   req.UserID,
			}).WithError(err).Warn("failed to save default payment method")
		}
	}

	return s.loadBoost(ctx, req.ClientID, req.RedemptionID)
}
