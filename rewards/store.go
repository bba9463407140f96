/*
store.go - Persistence contract for the redemption engine

PURPOSE:
  Defines what the rules need from a data store. store/sqlstore implements
  it for SQLite and PostgreSQL.

TENANCY:
  Every method takes a client ID (directly or inside its argument) and must
  never read or write another tenant's rows, even when IDs collide.

CONDITIONAL WRITES:
  Methods returning (bool, error) are guarded updates: they apply only when
  the row is still in the expected prior state and report false otherwise.
  false is not an error; the caller treats it as "someone else already did
  it" and skips. This is the only concurrency control the engine relies on.

ERRORS:
  - generic.ErrNotFound for missing tenant-scoped rows
  - generic.ErrConflict when a unique constraint rejects a write
  - anything else is an infrastructure failure
*/
package rewards

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY AND COMMAND SHAPES
// =============================================================================

// RedemptionFilter selects redemptions for one user. Soft-deleted rows are
// excluded unless IncludeDeleted is set.
type RedemptionFilter struct {
	ClientID       string
	UserID         string
	RewardID       string
	Statuses       []RedemptionStatus
	VIPOnly        bool
	IncludeDeleted bool
}

// UsageQuery counts claimed/fulfilled/concluded VIP redemptions per reward
// inside one tier tenure.
type UsageQuery struct {
	ClientID  string
	UserID    string
	TierID    string
	Since     time.Time
	RewardIDs []string // empty = all rewards
}

// RedemptionFields are optional columns stamped by a status change.
type RedemptionFields struct {
	ActivationDate   *time.Time
	ExpirationDate   *time.Time
	FulfilledAt      *time.Time
	FulfillmentNotes string
	ConcludedAt      *time.Time
	RejectedAt       *time.Time
	RejectionReason  string
}

// StatusChange moves a live redemption from one of From to To.
type StatusChange struct {
	ClientID     string
	RedemptionID string
	From         []RedemptionStatus
	To           RedemptionStatus
	At           time.Time
	Set          RedemptionFields
}

// SoftDelete invalidates claimable VIP redemptions left over from a tier.
type SoftDelete struct {
	ClientID string
	UserID   string
	TierID   string
	Reason   string
	At       time.Time
}

// BoostFilter selects boosts for the runner and admin views.
type BoostFilter struct {
	ClientID            string
	Status              BoostStatus
	UserID              string
	ScheduledOnOrBefore string     // YYYY-MM-DD
	ExpiresOnOrBefore   *time.Time // inclusive
}

// Payout holds the derived financial fields of a boost.
type Payout struct {
	SalesDelta           decimal.Decimal
	CalculatedCommission decimal.Decimal
	FinalPayoutAmount    decimal.Decimal
}

// BoostFields are optional columns stamped by a boost transition.
type BoostFields struct {
	ActivatedAt            *time.Time
	ExpiresAt              *time.Time
	SalesAtActivation      *decimal.Decimal
	SalesAtExpiration      *decimal.Decimal
	Payout                 *Payout
	PaymentMethod          PaymentMethod
	PaymentAccount         string
	PaymentInfoCollectedAt *time.Time
	PayoutSentAt           *time.Time
	PayoutSentBy           string
}

// BoostTransition is one guarded step of the boost lifecycle. The store
// applies it atomically: the boost update, one history entry and the
// mirrored redemption status.
type BoostTransition struct {
	ClientID         string
	RedemptionID     string
	From             BoostStatus
	To               BoostStatus
	At               time.Time
	By               string
	Type             TransitionType
	Set              BoostFields
	RedemptionStatus RedemptionStatus
	HistoryID        string
}

// CommissionAdjustment overrides a boost's payout before it is paid.
type CommissionAdjustment struct {
	ClientID     string
	RedemptionID string
	Amount       decimal.Decimal
	AllowedFrom  []BoostStatus
	At           time.Time
}

// GiftShipment records a physical gift leaving the warehouse.
type GiftShipment struct {
	ClientID       string
	RedemptionID   string
	TrackingNumber string
	Carrier        string
	At             time.Time
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// CatalogStore reads and seeds the tenant catalog.
type CatalogStore interface {
	GetTier(ctx context.Context, clientID, tierID string) (*Tier, error)
	ListTiers(ctx context.Context, clientID string) ([]Tier, error)
	SaveTier(ctx context.Context, tier Tier) error

	GetReward(ctx context.Context, clientID, rewardID string) (*Reward, error)
	ListRewards(ctx context.Context, clientID string) ([]Reward, error)
	SaveReward(ctx context.Context, reward Reward) error
}

// UserStore exposes the creator fields this engine depends on.
type UserStore interface {
	GetUser(ctx context.Context, clientID, userID string) (*User, error)
	SaveUser(ctx context.Context, user User) error
	UpdateUserTier(ctx context.Context, clientID, userID, tierID string, achievedAt time.Time) error
	SaveDefaultPayment(ctx context.Context, clientID, userID string, method PaymentMethod, sealedAccount string) error
}

// LedgerStore persists redemptions.
type LedgerStore interface {
	// CreateRedemption returns generic.ErrConflict when another active VIP
	// claim exists for the same user and reward.
	CreateRedemption(ctx context.Context, r Redemption) error

	// DeleteRedemption physically removes a redemption and cascades to its
	// sub-state. Used only to compensate a failed claim.
	DeleteRedemption(ctx context.Context, clientID, redemptionID string) error

	GetRedemption(ctx context.Context, clientID, redemptionID string) (*Redemption, error)
	ListRedemptions(ctx context.Context, f RedemptionFilter) ([]Redemption, error)
	CountUsage(ctx context.Context, q UsageQuery) (map[string]int, error)
	ChangeStatus(ctx context.Context, c StatusChange) (bool, error)
	SoftDeleteClaimable(ctx context.Context, d SoftDelete) (int, error)

	// ListDueDiscounts returns claimed, unactivated discount redemptions
	// whose scheduled date and time is at or before asOf.
	ListDueDiscounts(ctx context.Context, clientID string, asOf time.Time) ([]Redemption, error)

	// ListExpiredDiscounts returns fulfilled discount redemptions whose
	// expiration date is at or before asOf.
	ListExpiredDiscounts(ctx context.Context, clientID string, asOf time.Time) ([]Redemption, error)
}

// BoostStore persists commission boost sub-states and their history.
type BoostStore interface {
	// CreateBoost inserts the boost and its genesis history entry together.
	CreateBoost(ctx context.Context, b CommissionBoost, genesis StateHistoryEntry) error
	GetBoost(ctx context.Context, clientID, redemptionID string) (*CommissionBoost, error)
	ListBoosts(ctx context.Context, f BoostFilter) ([]CommissionBoost, error)
	TransitionBoost(ctx context.Context, t BoostTransition) (bool, error)
	AdjustCommission(ctx context.Context, a CommissionAdjustment) (bool, error)
	ListBoostHistory(ctx context.Context, clientID, redemptionID string) ([]StateHistoryEntry, error)
}

// GiftStore persists physical gift sub-states.
type GiftStore interface {
	CreatePhysicalGift(ctx context.Context, g PhysicalGift) error
	GetPhysicalGift(ctx context.Context, clientID, redemptionID string) (*PhysicalGift, error)
	MarkGiftShipped(ctx context.Context, s GiftShipment) (bool, error)

	// MarkGiftDelivered stamps delivered_at and moves the redemption from
	// claimed to fulfilled.
	MarkGiftDelivered(ctx context.Context, clientID, redemptionID string, at time.Time) (bool, error)
}

// RunStore keeps an audit trail of runner invocations.
type RunStore interface {
	SaveActivationRun(ctx context.Context, run ActivationRun) error
	ListActivationRuns(ctx context.Context, clientID string, limit int) ([]ActivationRun, error)
}

// Store is everything the Service needs.
type Store interface {
	CatalogStore
	UserStore
	LedgerStore
	BoostStore
	GiftStore
	RunStore
}
