package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// TierChange is an event from the tier calculation subsystem.
type TierChange struct {
	ClientID string
	UserID   string
	FromTier string
	ToTier   string
	At       time.Time // zero = now
}

// DeletedReason is the soft-delete reason recorded for a tier change.
func (c TierChange) DeletedReason() string {
	return fmt.Sprintf("tier_change_%s_to_%s", c.FromTier, c.ToTier)
}

// TierChangeResult reports what the reconciler did.
type TierChangeResult struct {
	UserID        string
	FromTier      string
	ToTier        string
	Invalidated   int
	DeletedReason string
}

// OnTierChange moves the user to the new tier and soft-deletes the unclaimed
// VIP rewards granted under the old one. Claimed, fulfilled and concluded
// redemptions are history and stay; mission rewards stay regardless of
// status.
func (s *Service) OnTierChange(ctx context.Context, change TierChange) (*TierChangeResult, error) {
	if change.FromTier == "" || change.ToTier == "" {
		return nil, ErrValidation.WithMessage("fromTier and toTier are required")
	}
	user, err := s.loadUser(ctx, change.ClientID, change.UserID)
	if err != nil {
		return nil, err
	}
	if change.At.IsZero() {
		change.At = s.now()
	}

	// Only an actual move starts a new tenure. Redelivered and same-tier
	// events keep tier_achieved_at.
	if user.CurrentTier != change.ToTier {
		if err := s.store.UpdateUserTier(ctx, change.ClientID, change.UserID, change.ToTier, change.At); err != nil {
			return nil, fmt.Errorf("update user tier: %w", err)
		}
	}

	if change.FromTier == change.ToTier {
		return &TierChangeResult{UserID: change.UserID, FromTier: change.FromTier, ToTier: change.ToTier}, nil
	}

	reason := change.DeletedReason()
	n, err := s.store.SoftDeleteClaimable(ctx, SoftDelete{
		ClientID: change.ClientID,
		UserID:   change.UserID,
		TierID:   change.FromTier,
		Reason:   reason,
		At:       change.At,
	})
	if err != nil {
		return nil, fmt.Errorf("soft delete claimable redemptions: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":   change.ClientID,
		"user_id":     change.UserID,
		"from_tier":   change.FromTier,
		"to_tier":     change.ToTier,
		"invalidated": n,
	}).Info("tier change reconciled")

	return &TierChangeResult{
		UserID:        change.UserID,
		FromTier:      change.FromTier,
		ToTier:        change.ToTier,
		Invalidated:   n,
		DeletedReason: reason,
	}, nil
}
