/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the rewards domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

JSON:
  camelCase keys. Money is a decimal string ("150.00" style, as produced by
  shopspring/decimal). Timestamps are RFC 3339 UTC.

VALIDATION:
  Validation is done in the rewards package, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - rewards/types.go: Domain entities
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/redemption-engine/rewards"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// RewardDTO is one catalog entry with its computed status.
type RewardDTO struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Name             string          `json:"name"`
	DisplayText      string          `json:"displayText"`
	Description      string          `json:"description,omitempty"`
	ValueData        json.RawMessage `json:"valueData"`
	Status           string          `json:"status"`
	CanClaim         bool            `json:"canClaim"`
	IsLocked         bool            `json:"isLocked"`
	IsPreview        bool            `json:"isPreview"`
	RequiredTierName string          `json:"requiredTierName,omitempty"`
	Frequency        string          `json:"redemptionFrequency"`
	Quantity         *int            `json:"redemptionQuantity"`
	UsedCount        int             `json:"usedCount"`
	RedemptionID     string          `json:"redemptionId,omitempty"`
	Details          *StatusDTO      `json:"statusDetails,omitempty"`
}

// StatusDTO carries the dates and counters behind a status.
type StatusDTO struct {
	ActivationDate *time.Time `json:"activationDate,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	DaysRemaining  int        `json:"daysRemaining,omitempty"`
	ScheduledAt    *time.Time `json:"scheduledDate,omitempty"`
	ShippingCity   string     `json:"shippingCity,omitempty"`
	ClearingDays   int        `json:"clearingDays,omitempty"`
}

// CatalogDTO is the GET /api/rewards response.
type CatalogDTO struct {
	User struct {
		ID          string `json:"id"`
		Handle      string `json:"handle"`
		CurrentTier string `json:"currentTier"`
		TierName    string `json:"currentTierName"`
	} `json:"user"`
	Rewards []RewardDTO `json:"rewards"`
}

func toCatalogDTO(c *rewards.Catalog) CatalogDTO {
	var dto CatalogDTO
	dto.User.ID = c.User.ID
	dto.User.Handle = c.User.Handle
	dto.User.CurrentTier = c.CurrentTier.ID
	dto.User.TierName = c.CurrentTier.Name
	dto.Rewards = make([]RewardDTO, len(c.Rewards))
	for i, item := range c.Rewards {
		r := RewardDTO{
			ID:               item.Reward.ID,
			Type:             string(item.Reward.Type),
			Name:             item.Name,
			DisplayText:      item.DisplayText,
			Description:      item.Reward.Description,
			ValueData:        rawJSON(string(item.Reward.ValueData)),
			Status:           string(item.Status),
			CanClaim:         item.CanClaim,
			IsLocked:         item.IsLocked,
			IsPreview:        item.IsPreview,
			RequiredTierName: item.RequiredTierName,
			Frequency:        string(item.Reward.Frequency),
			Quantity:         item.Reward.Quantity,
			UsedCount:        item.UsedCount,
		}
		if item.Redemption != nil {
			r.RedemptionID = item.Redemption.ID
		}
		if d := item.Details; d != nil {
			r.Details = &StatusDTO{
				ActivationDate: d.ActivationDate,
				ExpirationDate: d.ExpirationDate,
				DaysRemaining:  d.DaysRemaining,
				ScheduledAt:    d.ScheduledAt,
				ShippingCity:   d.ShippingCity,
				ClearingDays:   d.ClearingDays,
			}
		}
		dto.Rewards[i] = r
	}
	return dto
}

func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// RedemptionDTO is a redemption in API responses.
type RedemptionDTO struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"userId"`
	RewardID                string     `json:"rewardId"`
	RewardType              string     `json:"rewardType"`
	Status                  string     `json:"status"`
	TierAtClaim             string     `json:"tierAtClaim"`
	RedemptionType          string     `json:"redemptionType"`
	MissionProgressID       string     `json:"missionProgressId,omitempty"`
	ClaimedAt               *time.Time `json:"claimedAt"`
	ScheduledActivationDate string     `json:"scheduledActivationDate,omitempty"`
	ScheduledActivationTime string     `json:"scheduledActivationTime,omitempty"`
	ActivationDate          *time.Time `json:"activationDate,omitempty"`
	ExpirationDate          *time.Time `json:"expirationDate,omitempty"`
	FulfilledAt             *time.Time `json:"fulfilledAt,omitempty"`
	FulfillmentNotes        string     `json:"fulfillmentNotes,omitempty"`
	ConcludedAt             *time.Time `json:"concludedAt,omitempty"`
	RejectedAt              *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason         string     `json:"rejectionReason,omitempty"`
	DeletedAt               *time.Time `json:"deletedAt,omitempty"`
	DeletedReason           string     `json:"deletedReason,omitempty"`
}

func toRedemptionDTO(r rewards.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:                      r.ID,
		UserID:                  r.UserID,
		RewardID:                r.RewardID,
		RewardType:              string(r.RewardType),
		Status:                  string(r.Status),
		TierAtClaim:             r.TierAtClaim,
		RedemptionType:          string(r.RedemptionType),
		MissionProgressID:       r.MissionProgressID,
		ClaimedAt:               r.ClaimedAt,
		ScheduledActivationDate: r.ScheduledActivationDate,
		ScheduledActivationTime: r.ScheduledActivationTime,
		ActivationDate:          r.ActivationDate,
		ExpirationDate:          r.ExpirationDate,
		FulfilledAt:             r.FulfilledAt,
		FulfillmentNotes:        r.FulfillmentNotes,
		ConcludedAt:             r.ConcludedAt,
		RejectedAt:              r.RejectedAt,
		RejectionReason:         r.RejectionReason,
		DeletedAt:               r.DeletedAt,
		DeletedReason:           r.DeletedReason,
	}
}

func toRedemptionDTOs(rs []rewards.Redemption) []RedemptionDTO {
	out := make([]RedemptionDTO, len(rs))
	for i, r := range rs {
		out[i] = toRedemptionDTO(r)
	}
	return out
}

// ClaimRequest is the POST /api/rewards/{rewardID}/claim body. Every field
// is optional; which ones are required depends on the reward type.
type ClaimRequest struct {
	ScheduledActivationAt *time.Time            `json:"scheduledActivationAt"`
	SizeValue             string                `json:"sizeValue"`
	ShippingInfo          *rewards.ShippingInfo `json:"shippingInfo"`
}

// NextStepsDTO tells the client what happens after a claim.
type NextStepsDTO struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// ClaimResponse is a successful claim. Boost or Gift carries the sub-state
// created alongside the redemption, if any.
type ClaimResponse struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Redemption RedemptionDTO `json:"redemption"`
	Boost      *BoostDTO     `json:"boost,omitempty"`
	Gift       *GiftDTO      `json:"gift,omitempty"`
	NextSteps  NextStepsDTO  `json:"nextSteps"`
}

func toClaimResponse(result *rewards.ClaimResult) ClaimResponse {
	resp := ClaimResponse{
		Success:    true,
		Message:    result.Message,
		Redemption: toRedemptionDTO(result.Redemption),
		NextSteps:  NextStepsDTO{Action: result.NextSteps.Action, Message: result.NextSteps.Message},
	}
	if result.Boost != nil {
		b := toBoostDTO(*result.Boost)
		resp.Boost = &b
	}
	if result.Gift != nil {
		g := toGiftDTO(result.Gift)
		resp.Gift = &g
	}
	return resp
}

// =============================================================================
// COMMISSION BOOSTS
// =============================================================================

// PaymentInfoRequest is the POST /api/redemptions/{id}/payment-info body.
type PaymentInfoRequest struct {
	PaymentMethod         string `json:"paymentMethod"`
	PaymentAccount        string `json:"paymentAccount"`
	PaymentAccountConfirm string `json:"paymentAccountConfirm"`
	SaveAsDefault         bool   `json:"saveAsDefault"`
}

// BoostDTO is a commission boost. PaymentAccount is only filled for admins.
type BoostDTO struct {
	RedemptionID            string           `json:"redemptionId"`
	UserID                  string           `json:"userId"`
	Status                  string           `json:"boostStatus"`
	ScheduledActivationDate string           `json:"scheduledActivationDate"`
	DurationDays            int              `json:"durationDays"`
	BoostRate               decimal.Decimal  `json:"boostRate"`
	ActivatedAt             *time.Time       `json:"activatedAt,omitempty"`
	ExpiresAt               *time.Time       `json:"expiresAt,omitempty"`
	SalesAtActivation       *decimal.Decimal `json:"salesAtActivation,omitempty"`
	SalesAtExpiration       *decimal.Decimal `json:"salesAtExpiration,omitempty"`
	SalesDelta              *decimal.Decimal `json:"salesDelta,omitempty"`
	CalculatedCommission    *decimal.Decimal `json:"calculatedCommission,omitempty"`
	AdminAdjustedCommission *decimal.Decimal `json:"adminAdjustedCommission,omitempty"`
	FinalPayoutAmount       *decimal.Decimal `json:"finalPayoutAmount,omitempty"`
	PaymentMethod           string           `json:"paymentMethod,omitempty"`
	PaymentAccount          string           `json:"paymentAccount,omitempty"`
	PaymentInfoCollectedAt  *time.Time       `json:"paymentInfoCollectedAt,omitempty"`
	PayoutSentAt            *time.Time       `json:"payoutSentAt,omitempty"`
	PayoutSentBy            string           `json:"payoutSentBy,omitempty"`
}

func toBoostDTO(b rewards.CommissionBoost) BoostDTO {
	return BoostDTO{
		RedemptionID:            b.RedemptionID,
		UserID:                  b.UserID,
		Status:                  string(b.Status),
		ScheduledActivationDate: b.ScheduledActivationDate,
		DurationDays:            b.DurationDays,
		BoostRate:               b.BoostRate,
		ActivatedAt:             b.ActivatedAt,
		ExpiresAt:               b.ExpiresAt,
		SalesAtActivation:       b.SalesAtActivation,
		SalesAtExpiration:       b.SalesAtExpiration,
		SalesDelta:              b.SalesDelta,
		CalculatedCommission:    b.CalculatedCommission,
		AdminAdjustedCommission: b.AdminAdjustedCommission,
		FinalPayoutAmount:       b.FinalPayoutAmount,
		PaymentMethod:           string(b.PaymentMethod),
		PaymentInfoCollectedAt:  b.PaymentInfoCollectedAt,
		PayoutSentAt:            b.PayoutSentAt,
		PayoutSentBy:            b.PayoutSentBy,
	}
}

// HistoryEntryDTO is one boost transition.
type HistoryEntryDTO struct {
	FromStatus     string    `json:"fromStatus,omitempty"`
	ToStatus       string    `json:"toStatus"`
	TransitionedAt time.Time `json:"transitionedAt"`
	TransitionedBy string    `json:"transitionedBy,omitempty"`
	Type           string    `json:"transitionType"`
}

// BoostDetailsDTO is the admin view of a boost.
type BoostDetailsDTO struct {
	Boost        BoostDTO          `json:"boost"`
	Payout       rewards.Payout    `json:"payout"`
	History      []HistoryEntryDTO `json:"history"`
	HistoryValid bool              `json:"historyValid"`
}

func toBoostDetailsDTO(d *rewards.BoostDetails) BoostDetailsDTO {
	boost := toBoostDTO(d.Boost)
	boost.PaymentAccount = d.PaymentAccount
	history := make([]HistoryEntryDTO, len(d.History))
	for i, h := range d.History {
		history[i] = HistoryEntryDTO{
			FromStatus:     string(h.FromStatus),
			ToStatus:       string(h.ToStatus),
			TransitionedAt: h.TransitionedAt,
			TransitionedBy: h.TransitionedBy,
			Type:           string(h.Type),
		}
	}
	return BoostDetailsDTO{Boost: boost, Payout: d.Payout, History: history, HistoryValid: d.HistoryValid}
}

// AdjustmentRequest overrides a boost payout.
type AdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// ADMIN
// =============================================================================

// FulfillRequest is the POST .../fulfill body.
type FulfillRequest struct {
	Notes string `json:"notes"`
}

// RejectRequest is the POST .../reject body.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ShipmentRequest is the POST /api/admin/gifts/{id}/shipped body.
type ShipmentRequest struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

// GiftDTO is a physical gift sub-state.
type GiftDTO struct {
	RedemptionID   string               `json:"redemptionId"`
	SizeValue      string               `json:"sizeValue,omitempty"`
	Shipping       rewards.ShippingInfo `json:"shippingInfo"`
	TrackingNumber string               `json:"trackingNumber,omitempty"`
	Carrier        string               `json:"carrier,omitempty"`
	ShippedAt      *time.Time           `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time           `json:"deliveredAt,omitempty"`
}

func toGiftDTO(g *rewards.PhysicalGift) GiftDTO {
	return GiftDTO{
		RedemptionID:   g.RedemptionID,
		SizeValue:      g.SizeValue,
		Shipping:       g.Shipping,
		TrackingNumber: g.TrackingNumber,
		Carrier:        g.Carrier,
		ShippedAt:      g.ShippedAt,
		DeliveredAt:    g.DeliveredAt,
	}
}

// TierChangeRequest is the POST /api/admin/users/{id}/tier-change body.
type TierChangeRequest struct {
	FromTier string `json:"fromTier"`
	ToTier   string `json:"toTier"`
}

// TierChangeDTO reports a tier change.
type TierChangeDTO struct {
	UserID        string `json:"userId"`
	FromTier      string `json:"fromTier"`
	ToTier        string `json:"toTier"`
	Invalidated   int    `json:"invalidated"`
	DeletedReason string `json:"deletedReason"`
}

// GrantRequest is the POST /api/admin/users/{id}/claimable body.
type GrantRequest struct {
	RewardID          string `json:"rewardId"`
	MissionProgressID string `json:"missionProgressId"`
}

// ActivationRunDTO is one recorded runner invocation.
type ActivationRunDTO struct {
	ID                 string             `json:"id"`
	Trigger            string             `json:"triggerType"`
	Status             string             `json:"status"`
	BoostsActivated    int                `json:"boostsActivated"`
	BoostsExpired      int                `json:"boostsExpired"`
	BoostsPendingInfo  int                `json:"boostsPendingInfo"`
	DiscountsActivated int                `json:"discountsActivated"`
	DiscountsConcluded int                `json:"discountsConcluded"`
	Errors             []rewards.RowError `json:"errors"`
	StartedAt          time.Time          `json:"startedAt"`
	CompletedAt        *time.Time         `json:"completedAt,omitempty"`
}

func toActivationRunDTO(r rewards.ActivationRun) ActivationRunDTO {
	errs := r.Errors
	if errs == nil {
		errs = []rewards.RowError{}
	}
	return ActivationRunDTO{
		ID:                 r.ID,
		Trigger:            r.Trigger,
		Status:             r.Status,
		BoostsActivated:    r.BoostsActivated,
		BoostsExpired:      r.BoostsExpired,
		BoostsPendingInfo:  r.BoostsPendingInfo,
		DiscountsActivated: r.DiscountsActivated,
		DiscountsConcluded: r.DiscountsConcluded,
		Errors:             errs,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
	}
}
