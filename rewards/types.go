/*
Package rewards implements the reward redemption lifecycle of a creator-loyalty
program.

PURPOSE:
  Creators climb VIP tiers and redeem rewards. This package owns every rule
  about those redemptions: who may claim what, how scheduled rewards move
  through their lifecycles, how commission boost payouts are computed, and
  what happens to unclaimed rewards when a creator is demoted.

KEY CONCEPTS:
  - Reward: a tenant's catalog entry, gated by tier
  - Redemption: one claim of a reward; the coarse lifecycle status lives here
  - Sub-state: type-specific lifecycle attached 1:1 to a redemption
    (CommissionBoost, PhysicalGift); discounts use the redemption's own dates
  - Tier tenure: usage caps reset when the creator reaches a new tier

REWARD TYPES:
  gift_card:        instant, admin fulfils
  spark_ads:        instant, admin fulfils
  experience:       instant, admin fulfils
  physical_gift:    instant, shipping + optional size, admin ships
  discount:         scheduled, runner activates for duration_minutes
  commission_boost: scheduled, runner activates for durationDays, payout after

TENANCY:
  Every entity carries a ClientID and every store call is scoped by it.
  IDs are only unique within a tenant.

SEE ALSO:
  - eligibility.go: Claim rules
  - boost.go: Commission boost state machine and payout math
  - runner.go: Scheduled activation sweep
  - tierchange.go: Demotion reconciliation
*/
package rewards

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// RewardType is the kind of reward.
type RewardType string

const (
	TypeGiftCard        RewardType = "gift_card"
	TypeCommissionBoost RewardType = "commission_boost"
	TypeDiscount        RewardType = "discount"
	TypePhysicalGift    RewardType = "physical_gift"
	TypeExperience      RewardType = "experience"
	TypeSparkAds        RewardType = "spark_ads"
)

// Valid reports whether t is a known reward type.
func (t RewardType) Valid() bool {
	switch t {
	case TypeGiftCard, TypeCommissionBoost, TypeDiscount, TypePhysicalGift, TypeExperience, TypeSparkAds:
		return true
	}
	return false
}

// Scheduled reports whether claims of this type need an activation date.
func (t RewardType) Scheduled() bool {
	return t == TypeDiscount || t == TypeCommissionBoost
}

// RedemptionType is derived from the reward type at claim time.
type RedemptionType string

const (
	RedemptionInstant   RedemptionType = "instant"
	RedemptionScheduled RedemptionType = "scheduled"
)

// Source tells where a reward is earned.
type Source string

const (
	SourceVIPTier Source = "vip_tier"
	SourceMission Source = "mission"
)

// Frequency labels the usage window shown to creators.
type Frequency string

const (
	FrequencyOneTime   Frequency = "one-time"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyUnlimited Frequency = "unlimited"
)

// RedemptionStatus is the coarse lifecycle of a claim.
type RedemptionStatus string

const (
	StatusClaimable RedemptionStatus = "claimable"
	StatusClaimed   RedemptionStatus = "claimed"
	StatusFulfilled RedemptionStatus = "fulfilled"
	StatusConcluded RedemptionStatus = "concluded"
	StatusRejected  RedemptionStatus = "rejected"
)

// BoostStatus is the fine-grained commission boost lifecycle.
type BoostStatus string

const (
	BoostScheduled     BoostStatus = "scheduled"
	BoostActive        BoostStatus = "active"
	BoostExpired       BoostStatus = "expired"
	BoostPendingInfo   BoostStatus = "pending_info"
	BoostPendingPayout BoostStatus = "pending_payout"
	BoostPaid          BoostStatus = "paid"
)

// TransitionType records what triggered a boost transition.
type TransitionType string

const (
	TransitionAPI    TransitionType = "api"
	TransitionCron   TransitionType = "cron"
	TransitionManual TransitionType = "manual"
)

// PaymentMethod is where a boost payout is sent.
type PaymentMethod string

const (
	PaymentPayPal PaymentMethod = "paypal"
	PaymentVenmo  PaymentMethod = "venmo"
)

// =============================================================================
// CATALOG ENTITIES
// =============================================================================

// Tier is a ranked membership level. Order 1 is the lowest.
type Tier struct {
	ClientID       string
	ID             string
	Name           string
	Order          int
	CommissionRate decimal.Decimal
}

// User is the slice of a creator this engine reads and writes.
type User struct {
	ClientID              string
	ID                    string
	Handle                string
	CurrentTier           string
	TierAchievedAt        time.Time
	TotalSales            *decimal.Decimal // nil when never reported
	DefaultPaymentMethod  PaymentMethod
	DefaultPaymentAccount string // sealed by the vault
}

// Sales returns the cumulative sales metric, treating a missing value as zero.
func (u User) Sales() decimal.Decimal {
	if u.TotalSales == nil {
		return decimal.Zero
	}
	return *u.TotalSales
}

// Reward is a catalog entry. It is read-only to this package.
type Reward struct {
	ClientID        string
	ID              string
	Type            RewardType
	Name            string
	Description     string
	ValueData       ValueData
	TierEligibility string
	PreviewFromTier string // "" when the reward is invisible to lower tiers
	Source          Source
	RedemptionType  RedemptionType
	Frequency       Frequency
	Quantity        *int // nil = unlimited
	DisplayOrder    int
	Enabled         bool
	CreatedAt       time.Time
}

// Unlimited reports whether the reward has no usage cap.
func (r Reward) Unlimited() bool { return r.Quantity == nil }

// =============================================================================
// VALUE DATA - type-specific JSON payload
// =============================================================================

// ValueData is the reward's JSON payload. Keys may be snake_case or camelCase.
type ValueData string

const (
	DefaultBoostDurationDays       = 30
	DefaultDiscountDurationMinutes = 1440
)

func (v ValueData) get(keys ...string) gjson.Result {
	for _, k := range keys {
		if r := gjson.Get(string(v), k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func (v ValueData) decimal(keys ...string) decimal.Decimal {
	r := v.get(keys...)
	if !r.Exists() {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (v ValueData) Amount() decimal.Decimal  { return v.decimal("amount") }
func (v ValueData) Percent() decimal.Decimal { return v.decimal("percent") }

func (v ValueData) DurationDays() int {
	if r := v.get("duration_days", "durationDays"); r.Exists() && r.Int() > 0 {
		return int(r.Int())
	}
	return DefaultBoostDurationDays
}

func (v ValueData) DurationMinutes() int {
	if r := v.get("duration_minutes", "durationMinutes"); r.Exists() && r.Int() > 0 {
		return int(r.Int())
	}
	return DefaultDiscountDurationMinutes
}

func (v ValueData) RequiresSize() bool {
	return v.get("requires_size", "requiresSize").Bool()
}

func (v ValueData) SizeCategory() string {
	return v.get("size_category", "sizeCategory").String()
}

func (v ValueData) SizeOptions() []string {
	var out []string
	for _, r := range v.get("size_options", "sizeOptions").Array() {
		out = append(out, r.String())
	}
	return out
}

func (v ValueData) DisplayText() string {
	return v.get("display_text", "displayText").String()
}

func (v ValueData) CouponCode() string {
	return v.get("coupon_code", "couponCode").String()
}

// =============================================================================
// LEDGER ENTITIES
// =============================================================================

// Redemption is one claim of a reward.
type Redemption struct {
	ClientID          string
	ID                string
	UserID            string
	RewardID          string
	RewardType        RewardType // read-through from the reward, not stored
	MissionProgressID string     // "" = VIP tier reward
	Status            RedemptionStatus
	TierAtClaim       string
	RedemptionType    RedemptionType
	ClaimedAt         *time.Time

	ScheduledActivationDate string // YYYY-MM-DD, UTC
	ScheduledActivationTime string // HH:MM:SS, UTC
	ActivationDate          *time.Time
	ExpirationDate          *time.Time

	FulfilledAt      *time.Time
	FulfillmentNotes string
	ConcludedAt      *time.Time
	RejectedAt       *time.Time
	RejectionReason  string

	DeletedAt     *time.Time
	DeletedReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FromMission reports whether the redemption was earned through a mission.
func (r Redemption) FromMission() bool { return r.MissionProgressID != "" }

// Active reports whether the redemption blocks another claim of its reward.
func (r Redemption) Active() bool {
	return r.DeletedAt == nil && (r.Status == StatusClaimed || r.Status == StatusFulfilled)
}

// ScheduledAt combines the scheduled date and time. ok is false when unset.
func (r Redemption) ScheduledAt() (time.Time, bool) {
	if r.ScheduledActivationDate == "" {
		return time.Time{}, false
	}
	clock := r.ScheduledActivationTime
	if clock == "" {
		clock = "00:00:00"
	}
	t, err := time.Parse("2006-01-02 15:04:05", r.ScheduledActivationDate+" "+strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CommissionBoost is the sub-state of a commission_boost redemption.
type CommissionBoost struct {
	ClientID     string
	RedemptionID string
	UserID       string // read-through from the redemption
	Status       BoostStatus

	ScheduledActivationDate string
	DurationDays            int
	BoostRate               decimal.Decimal
	TierCommissionRate      *decimal.Decimal

	ActivatedAt *time.Time
	ExpiresAt   *time.Time

	SalesAtActivation       *decimal.Decimal
	SalesAtExpiration       *decimal.Decimal
	SalesDelta              *decimal.Decimal
	CalculatedCommission    *decimal.Decimal
	AdminAdjustedCommission *decimal.Decimal
	FinalPayoutAmount       *decimal.Decimal

	PaymentMethod          PaymentMethod
	PaymentAccount         string // sealed by the vault
	PaymentInfoCollectedAt *time.Time
	PayoutSentAt           *time.Time
	PayoutSentBy           string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StateHistoryEntry is one append-only boost transition.
type StateHistoryEntry struct {
	ClientID       string
	ID             string
	RedemptionID   string
	FromStatus     BoostStatus // "" for genesis
	ToStatus       BoostStatus
	TransitionedAt time.Time
	TransitionedBy string // "" for automated
	Type           TransitionType
}

// ShippingInfo is the delivery address for a physical gift.
type ShippingInfo struct {
	FirstName    string `json:"firstName" yaml:"first_name"`
	LastName     string `json:"lastName" yaml:"last_name"`
	AddressLine1 string `json:"addressLine1" yaml:"address_line1"`
	AddressLine2 string `json:"addressLine2,omitempty" yaml:"address_line2"`
	City         string `json:"city" yaml:"city"`
	State        string `json:"state" yaml:"state"`
	PostalCode   string `json:"postalCode" yaml:"postal_code"`
	Country      string `json:"country" yaml:"country"`
	Phone        string `json:"phone" yaml:"phone"`
}

// PhysicalGift is the sub-state of a physical_gift redemption.
type PhysicalGift struct {
	ClientID     string
	RedemptionID string

	RequiresSize    bool
	SizeCategory    string
	SizeValue       string
	SizeSubmittedAt *time.Time

	Shipping                ShippingInfo
	ShippingInfoSubmittedAt *time.Time

	TrackingNumber string
	Carrier        string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time

	CreatedAt time.Time
}

// ActivationRun records one runner invocation for one tenant.
type ActivationRun struct {
	ID                 string
	ClientID           string
	Trigger            string // cron | manual
	Status             string // running | completed | completed_with_errors | failed
	BoostsActivated    int
	BoostsExpired      int
	BoostsPendingInfo  int
	DiscountsActivated int
	DiscountsConcluded int
	Errors             []RowError
	StartedAt          time.Time
	CompletedAt        *time.Time
}
