package rewards

import (
	"time"

	"github.com/warp/redemption-engine/generic"
)

// Scheduling windows are defined in US Eastern time and stored in UTC.
var eastern = generic.MustLoadLocation("America/New_York")

const (
	discountWindowOpen  = 9  // 09:00 Eastern, inclusive
	discountWindowClose = 16 // 16:00 Eastern, exclusive
	boostActivationHour = 18 // boosts start at 18:00 Eastern
)

// Schedule is a validated activation slot, split the way it is stored.
type Schedule struct {
	Date string // YYYY-MM-DD (UTC)
	Time string // HH:MM:SS (UTC)
	At   time.Time
}

// validateSchedule applies the scheduling rules for scheduled reward types.
// Discounts keep the requested instant; boosts snap to 18:00 Eastern on the
// requested Eastern calendar day.
func validateSchedule(rewardType RewardType, requested *time.Time, now time.Time) (*Schedule, error) {
	if requested == nil || requested.IsZero() {
		return nil, ErrSchedulingRequired.WithDetails(map[string]any{"rewardType": rewardType})
	}
	at := requested.UTC()
	if !at.After(now) {
		return nil, ErrInvalidSchedule
	}

	local := at.In(eastern)
	switch rewardType {
	case TypeDiscount:
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return nil, ErrInvalidSchedule.
				WithMessage("Discounts can only be scheduled on weekdays (Monday-Friday)").
				WithDetails(map[string]any{"allowedDays": []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}})
		}
		if h := local.Hour(); h < discountWindowOpen || h >= discountWindowClose {
			return nil, ErrInvalidTimeSlot.WithDetails(map[string]any{"allowedHours": "09:00 - 16:00 America/New_York"})
		}
	case TypeCommissionBoost:
		at = time.Date(local.Year(), local.Month(), local.Day(), boostActivationHour, 0, 0, 0, eastern).UTC()
	}

	return &Schedule{Date: generic.FormatDate(at), Time: generic.FormatClock(at), At: at}, nil
}

// discountWindow returns the activation window for a discount of the given
// reward, opening at now.
func discountWindow(reward Reward, now time.Time) (time.Time, time.Time) {
	return now, now.Add(time.Duration(reward.ValueData.DurationMinutes()) * time.Minute)
}
