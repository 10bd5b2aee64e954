// Package debitdate resolves which debit-date configuration applies to a
// scope and computes the next valid bank-debit date against a holiday zone.
package debitdate

import (
	"errors"
	"time"
)

// Mode selects how the raw target day of month is derived.
type Mode string

const (
	ModeBatch    Mode = "BATCH"
	ModeFixedDay Mode = "FIXED_DAY"
)

// Batch identifies one of the four monthly debit windows.
type Batch string

const (
	BatchL1 Batch = "L1"
	BatchL2 Batch = "L2"
	BatchL3 Batch = "L3"
	BatchL4 Batch = "L4"
)

// ShiftStrategy selects how an ineligible raw date is moved.
type ShiftStrategy string

const (
	ShiftNextBusinessDay     ShiftStrategy = "NEXT_BUSINESS_DAY"
	ShiftPreviousBusinessDay ShiftStrategy = "PREVIOUS_BUSINESS_DAY"
	ShiftNextWeekSameDay     ShiftStrategy = "NEXT_WEEK_SAME_DAY"
)

// Level tags which scope level a resolved configuration came from.
type Level string

const (
	LevelSystemDefault Level = "SYSTEM_DEFAULT"
	LevelCompany       Level = "COMPANY"
	LevelClient        Level = "CLIENT"
	LevelContract      Level = "CONTRACT"
)

var (
	// ErrConfigNotFound signals a missing system default for the
	// organisation. This is a data-integrity violation: a correctly seeded
	// organisation always has one.
	ErrConfigNotFound = errors.New("no debit configuration found for organisation")

	// ErrInvalidMode signals an unsupported configuration mode.
	ErrInvalidMode = errors.New("invalid debit configuration mode")

	// ErrInvalidInput signals a caller error (bad month, batch, day...).
	ErrInvalidInput = errors.New("invalid input")
)

// Config is one debit-date configuration record at a given scope level.
// Empty scope ids mean the level is not bound.
type Config struct {
	ID             string        `json:"id"`
	OrganisationID string        `json:"organisation_id"`
	CompanyID      string        `json:"company_id,omitempty"`
	ClientID       string        `json:"client_id,omitempty"`
	ContractID     string        `json:"contract_id,omitempty"`
	Mode           Mode          `json:"mode"`
	Batch          Batch         `json:"batch,omitempty"`
	FixedDay       int           `json:"fixed_day,omitempty"`
	ShiftStrategy  ShiftStrategy `json:"shift_strategy"`
	HolidayZoneID  string        `json:"holiday_zone_id"`
	IsActive       bool          `json:"is_active"`
}

// Resolved is the configuration actually applied, tagged with the level it
// came from. Derived, never stored.
type Resolved struct {
	Config
	AppliedLevel    Level  `json:"applied_level"`
	AppliedConfigID string `json:"applied_config_id"`
}

// Scope identifies the entity a calculation is requested for.
type Scope struct {
	OrganisationID string `json:"organisation_id"`
	CompanyID      string `json:"company_id,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	ContractID     string `json:"contract_id,omitempty"`
}

// Result is an immutable planned-date calculation outcome. A new calculation
// produces a new Result; existing ones are never mutated.
type Result struct {
	PlannedDebitDate   time.Time `json:"planned_debit_date"`
	OriginalTargetDate time.Time `json:"original_target_date"`
	WasShifted         bool      `json:"was_shifted"`
	ShiftReason        string    `json:"shift_reason,omitempty"`
	ResolvedConfig     Resolved  `json:"resolved_config"`
}

// batchDay maps each batch to the canonical day inside its window:
// L1=[1,7]->1, L2=[8,14]->8, L3=[15,21]->15, L4=[22,EOM]->22. The first day
// of each window is the observed production behavior and must not change.
func batchDay(b Batch) (int, bool) {
	switch b {
	case BatchL1:
		return 1, true
	case BatchL2:
		return 8, true
	case BatchL3:
		return 15, true
	case BatchL4:
		return 22, true
	}
	return 0, false
}

// daysInMonth returns the number of days of the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
