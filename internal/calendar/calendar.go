// Package calendar models per-organisation holiday zones used to decide
// whether a date is eligible for a bank debit.
package calendar

import (
	"fmt"
	"time"
)

// HolidayType distinguishes one-off dates from yearly recurring ones.
type HolidayType string

const (
	HolidayTypeFixed     HolidayType = "FIXED"
	HolidayTypeRecurring HolidayType = "RECURRING"
)

// Blocking reasons reported by eligibility checks.
const (
	ReasonWeekend       = "weekend"
	ReasonHolidayPrefix = "holiday:"
)

// Holiday is a single calendar entry of a zone. Fixed holidays match an
// exact date; recurring holidays match month/day every year.
type Holiday struct {
	ID       string      `json:"id"`
	ZoneID   string      `json:"zone_id"`
	Name     string      `json:"name"`
	Type     HolidayType `json:"type"`
	Date     time.Time   `json:"date,omitempty"`
	Month    int         `json:"month,omitempty"`
	Day      int         `json:"day,omitempty"`
	IsActive bool        `json:"is_active"`
}

// Matches reports whether the holiday falls on the given date.
func (h Holiday) Matches(date time.Time) bool {
	if !h.IsActive {
		return false
	}
	switch h.Type {
	case HolidayTypeRecurring:
		return int(date.Month()) == h.Month && date.Day() == h.Day
	default:
		return h.Date.Year() == date.Year() &&
			h.Date.Month() == date.Month() &&
			h.Date.Day() == date.Day()
	}
}

// Zone is a named holiday calendar. Holidays hold the active set as a read
// snapshot: the slice is never mutated during a resolution call.
type Zone struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Code           string    `json:"code"`
	CountryCode    string    `json:"country_code"`
	RegionCode     string    `json:"region_code,omitempty"`
	IsActive       bool      `json:"is_active"`
	Holidays       []Holiday `json:"holidays,omitempty"`
}

// Blocking returns the reason the date is not debit-eligible, or ok=true.
// Weekends are checked before holidays, so a Saturday holiday reports
// "weekend".
func (z *Zone) Blocking(date time.Time) (reason string, ok bool) {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return ReasonWeekend, false
	}
	for _, h := range z.Holidays {
		if h.Matches(date) {
			return ReasonHolidayPrefix + h.Name, false
		}
	}
	return "", true
}

// Eligible reports whether the date is a valid debit date in this zone.
func (z *Zone) Eligible(date time.Time) bool {
	_, ok := z.Blocking(date)
	return ok
}

// NextEligible walks forward from the given date one day at a time and
// returns the first eligible date.
func (z *Zone) NextEligible(date time.Time, maxSteps int) (time.Time, error) {
	for i := 0; i < maxSteps; i++ {
		if z.Eligible(date) {
			return date, nil
		}
		date = date.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("no eligible date within %d days of zone %s", maxSteps, z.Code)
}
