package debitdate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/finova/collection-engine/internal/audit"
	"github.com/finova/collection-engine/internal/calendar"
)

// maxShiftSteps bounds the shift loops. A full year of daily steps is far
// beyond any realistic holiday run; hitting the bound means the zone data is
// broken (e.g. NEXT_WEEK_SAME_DAY from a weekend can never converge).
const maxShiftSteps = 366

// Request asks for the planned debit date of a target month. TargetMonth and
// TargetYear may be omitted when ReferenceDate is set, in which case the
// reference date's month is used.
type Request struct {
	Scope         Scope
	TargetMonth   time.Month
	TargetYear    int
	ReferenceDate *time.Time
}

// Calculator computes planned debit dates from resolved configurations.
type Calculator struct {
	resolver *Resolver
	zones    calendar.ZoneStore
	audit    audit.Recorder
	logger   *log.Logger
}

func NewCalculator(resolver *Resolver, zones calendar.ZoneStore, recorder audit.Recorder, logger *log.Logger) *Calculator {
	if logger == nil {
		logger = log.Default()
	}
	return &Calculator{
		resolver: resolver,
		zones:    zones,
		audit:    recorder,
		logger:   logger,
	}
}

// CalculatePlannedDate resolves the applicable configuration, derives the
// raw target date and shifts it onto an eligible day. The returned result
// records whether a shift happened and the blocking reason found at the raw
// date; when the shifted date is itself blocked the loop keeps going but the
// original reason is kept.
func (c *Calculator) CalculatePlannedDate(ctx context.Context, req Request) (*Result, error) {
	month, year := req.TargetMonth, req.TargetYear
	if month == 0 || year == 0 {
		if req.ReferenceDate == nil {
			return nil, fmt.Errorf("%w: target month/year or reference date required", ErrInvalidInput)
		}
		year, month = req.ReferenceDate.Year(), req.ReferenceDate.Month()
	}
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month %d out of range", ErrInvalidInput, month)
	}

	resolved, err := c.resolver.Resolve(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	rawDay, err := rawTargetDay(resolved, year, month)
	if err != nil {
		return nil, err
	}
	rawDate := time.Date(year, month, rawDay, 0, 0, 0, 0, time.UTC)

	zone, err := c.zones.GetZone(ctx, resolved.HolidayZoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holiday zone %s: %w", resolved.HolidayZoneID, err)
	}

	result := &Result{
		PlannedDebitDate:   rawDate,
		OriginalTargetDate: rawDate,
		ResolvedConfig:     *resolved,
	}

	if reason, ok := zone.Blocking(rawDate); !ok {
		shifted, err := shift(zone, rawDate, resolved.ShiftStrategy)
		if err != nil {
			return nil, err
		}
		result.PlannedDebitDate = shifted
		result.WasShifted = true
		result.ShiftReason = reason
	}

	c.record(ctx, req, result)
	return result, nil
}

// rawTargetDay computes the unshifted day of month for the configuration.
func rawTargetDay(cfg *Resolved, year int, month time.Month) (int, error) {
	switch cfg.Mode {
	case ModeBatch:
		day, ok := batchDay(cfg.Batch)
		if !ok {
			return 0, fmt.Errorf("%w: unknown batch %q", ErrInvalidInput, cfg.Batch)
		}
		return day, nil
	case ModeFixedDay:
		if cfg.FixedDay < 1 || cfg.FixedDay > 31 {
			return 0, fmt.Errorf("%w: fixed day %d out of range", ErrInvalidInput, cfg.FixedDay)
		}
		// Clamp to the month length: day 31 in a 30-day month becomes 30,
		// never day 1 of the next month.
		if last := daysInMonth(year, month); cfg.FixedDay > last {
			return last, nil
		}
		return cfg.FixedDay, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
}

// shift moves an ineligible date according to the strategy, looping until an
// eligible date is found.
func shift(zone *calendar.Zone, date time.Time, strategy ShiftStrategy) (time.Time, error) {
	var step func(time.Time) time.Time
	switch strategy {
	case ShiftNextBusinessDay:
		step = func(d time.Time) time.Time { return d.AddDate(0, 0, 1) }
	case ShiftPreviousBusinessDay:
		step = func(d time.Time) time.Time { return d.AddDate(0, 0, -1) }
	case ShiftNextWeekSameDay:
		step = func(d time.Time) time.Time { return d.AddDate(0, 0, 7) }
	default:
		return time.Time{}, fmt.Errorf("%w: unknown shift strategy %q", ErrInvalidInput, strategy)
	}

	for i := 0; i < maxShiftSteps; i++ {
		date = step(date)
		if zone.Eligible(date) {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("no eligible date found shifting with %s in zone %s", strategy, zone.Code)
}

func (c *Calculator) record(ctx context.Context, req Request, result *Result) {
	if c.audit == nil {
		return
	}

	entry := audit.NewEntry("debit_date", scopeEntityID(req.Scope), "calculate", "collection-engine")
	entry.Before = audit.Snapshot(map[string]interface{}{
		"scope":        req.Scope,
		"target_month": int(req.TargetMonth),
		"target_year":  req.TargetYear,
	})
	entry.After = audit.Snapshot(result)

	if err := c.audit.Record(ctx, entry); err != nil {
		c.logger.Printf("Error writing debit date audit entry: %v", err)
	}
}

func scopeEntityID(s Scope) string {
	switch {
	case s.ContractID != "":
		return s.ContractID
	case s.ClientID != "":
		return s.ClientID
	case s.CompanyID != "":
		return s.CompanyID
	}
	return s.OrganisationID
}
