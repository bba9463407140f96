package rewards

import "github.com/warp/redemption-engine/generic"

// Rule codes surfaced to callers verbatim.
const (
	CodeForbidden              = "FORBIDDEN"
	CodeTierIneligible         = "TIER_INELIGIBLE"
	CodeLimitReached           = "LIMIT_REACHED"
	CodeAlreadyClaimed         = "ALREADY_CLAIMED"
	CodeRewardNotFound         = "REWARD_NOT_FOUND"
	CodeRewardNotClaimable     = "REWARD_NOT_CLAIMABLE"
	CodeShippingInfoRequired   = "SHIPPING_INFO_REQUIRED"
	CodeSizeRequired           = "SIZE_REQUIRED"
	CodeInvalidSizeSelection   = "INVALID_SIZE_SELECTION"
	CodeSchedulingRequired     = "SCHEDULING_REQUIRED"
	CodeInvalidSchedule        = "INVALID_SCHEDULE"
	CodeInvalidTimeSlot        = "INVALID_TIME_SLOT"
	CodePaymentInfoNotRequired = "PAYMENT_INFO_NOT_REQUIRED"
	CodePaymentAccountMismatch = "PAYMENT_ACCOUNT_MISMATCH"
	CodeInvalidPayPalEmail     = "INVALID_PAYPAL_EMAIL"
	CodeInvalidVenmoHandle     = "INVALID_VENMO_HANDLE"
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
)

var (
	ErrForbidden = generic.NewRuleError(CodeForbidden, generic.KindForbidden,
		"You do not have access to this resource")
	ErrTierIneligible = generic.NewRuleError(CodeTierIneligible, generic.KindForbidden,
		"This reward is not available for your current tier")
	ErrLimitReached = generic.NewRuleError(CodeLimitReached, generic.KindInvalid,
		"You have reached the redemption limit for this reward")
	ErrAlreadyClaimed = generic.NewRuleError(CodeAlreadyClaimed, generic.KindInvalid,
		"You already have an active claim for this reward")
	ErrRewardNotFound = generic.NewRuleError(CodeRewardNotFound, generic.KindNotFound,
		"This reward is not currently available")
	ErrRewardNotClaimable = generic.NewRuleError(CodeRewardNotClaimable, generic.KindInvalid,
		"This reward is earned through missions and cannot be claimed here")
	ErrShippingInfoRequired = generic.NewRuleError(CodeShippingInfoRequired, generic.KindInvalid,
		"Physical gifts require shipping information")
	ErrSizeRequired = generic.NewRuleError(CodeSizeRequired, generic.KindInvalid,
		"This item requires a size selection")
	ErrInvalidSizeSelection = generic.NewRuleError(CodeInvalidSizeSelection, generic.KindInvalid,
		"Selected size is not available for this item")
	ErrSchedulingRequired = generic.NewRuleError(CodeSchedulingRequired, generic.KindInvalid,
		"This reward requires a scheduled activation date")
	ErrInvalidSchedule = generic.NewRuleError(CodeInvalidSchedule, generic.KindInvalid,
		"Scheduled date must be in the future")
	ErrInvalidTimeSlot = generic.NewRuleError(CodeInvalidTimeSlot, generic.KindInvalid,
		"Discounts must be scheduled between 9 AM and 4 PM Eastern")
	ErrPaymentInfoNotRequired = generic.NewRuleError(CodePaymentInfoNotRequired, generic.KindForbidden,
		"This reward is not awaiting payment information")
	ErrPaymentAccountMismatch = generic.NewRuleError(CodePaymentAccountMismatch, generic.KindInvalid,
		"Payment account confirmation does not match")
	ErrInvalidPayPalEmail = generic.NewRuleError(CodeInvalidPayPalEmail, generic.KindInvalid,
		"Please provide a valid PayPal email address")
	ErrInvalidVenmoHandle = generic.NewRuleError(CodeInvalidVenmoHandle, generic.KindInvalid,
		"Venmo handle must start with @ (e.g. @username)")
	ErrNotFound = generic.NewRuleError(CodeNotFound, generic.KindNotFound,
		"Not found")
	ErrValidation = generic.NewRuleError(CodeValidation, generic.KindInvalid,
		"Invalid request")
)
