package debitdate

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/finova/collection-engine/internal/audit"
	"github.com/finova/collection-engine/internal/calendar"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newCalculator builds a calculator over one organisation with a single
// system-default config and the FR holiday zone.
func newCalculator(t *testing.T, cfg Config) (*Calculator, *audit.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	zones := calendar.NewMemoryZoneStore()
	if err := zones.SaveZone(ctx, &calendar.Zone{
		ID:       "zone-fr",
		Code:     "FR",
		IsActive: true,
		Holidays: []calendar.Holiday{
			{Name: "Bastille Day", Type: calendar.HolidayTypeRecurring, Month: 7, Day: 14, IsActive: true},
		},
	}); err != nil {
		t.Fatalf("SaveZone failed: %v", err)
	}

	cfg.ID = "cfg-1"
	cfg.OrganisationID = "org-1"
	cfg.HolidayZoneID = "zone-fr"
	cfg.IsActive = true

	configs := NewMemoryConfigStore()
	if err := configs.SaveConfig(ctx, &cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	recorder := audit.NewMemoryStore()
	return NewCalculator(NewResolver(configs), zones, recorder, testLogger()), recorder
}

func TestCalculator_CalculatePlannedDate(t *testing.T) {
	ctx := context.Background()
	scope := Scope{OrganisationID: "org-1"}

	tests := []struct {
		name        string
		cfg         Config
		month       time.Month
		year        int
		wantDate    time.Time
		wantShifted bool
		wantReason  string
	}{
		{
			name:     "batch L2 on an eligible weekday stays put",
			cfg:      Config{Mode: ModeBatch, Batch: BatchL2, ShiftStrategy: ShiftNextBusinessDay},
			month:    time.September, year: 2025,
			wantDate: date(2025, time.September, 8), // Monday
		},
		{
			name:        "batch L1 on a Saturday shifts to Monday",
			cfg:         Config{Mode: ModeBatch, Batch: BatchL1, ShiftStrategy: ShiftNextBusinessDay},
			month:       time.November, year: 2025,
			wantDate:    date(2025, time.November, 3),
			wantShifted: true,
			wantReason:  calendar.ReasonWeekend,
		},
		{
			name:        "fixed day on a holiday shifts and reports the holiday",
			cfg:         Config{Mode: ModeFixedDay, FixedDay: 14, ShiftStrategy: ShiftNextBusinessDay},
			month:       time.July, year: 2025, // Monday 14th is Bastille Day
			wantDate:    date(2025, time.July, 15),
			wantShifted: true,
			wantReason:  "holiday:Bastille Day",
		},
		{
			name:     "fixed day 31 clamps to the month length",
			cfg:      Config{Mode: ModeFixedDay, FixedDay: 31, ShiftStrategy: ShiftNextBusinessDay},
			month:    time.April, year: 2026,
			wantDate: date(2026, time.April, 30), // Thursday
		},
		{
			name:        "previous business day shifts backwards across months",
			cfg:         Config{Mode: ModeFixedDay, FixedDay: 2, ShiftStrategy: ShiftPreviousBusinessDay},
			month:       time.November, year: 2025, // Sunday 2nd
			wantDate:    date(2025, time.October, 31),
			wantShifted: true,
			wantReason:  calendar.ReasonWeekend,
		},
		{
			name:        "next week same day jumps a full week over a holiday",
			cfg:         Config{Mode: ModeFixedDay, FixedDay: 14, ShiftStrategy: ShiftNextWeekSameDay},
			month:       time.July, year: 2025,
			wantDate:    date(2025, time.July, 21),
			wantShifted: true,
			wantReason:  "holiday:Bastille Day",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, _ := newCalculator(t, tt.cfg)
			result, err := calc.CalculatePlannedDate(ctx, Request{Scope: scope, TargetMonth: tt.month, TargetYear: tt.year})
			if err != nil {
				t.Fatalf("CalculatePlannedDate failed: %v", err)
			}
			if !result.PlannedDebitDate.Equal(tt.wantDate) {
				t.Errorf("planned date = %s, want %s",
					result.PlannedDebitDate.Format("2006-01-02"), tt.wantDate.Format("2006-01-02"))
			}
			if result.WasShifted != tt.wantShifted {
				t.Errorf("was shifted = %v, want %v", result.WasShifted, tt.wantShifted)
			}
			if result.ShiftReason != tt.wantReason {
				t.Errorf("shift reason = %q, want %q", result.ShiftReason, tt.wantReason)
			}
		})
	}
}

func TestCalculator_OriginalTargetDatePreserved(t *testing.T) {
	ctx := context.Background()
	calc, _ := newCalculator(t, Config{Mode: ModeBatch, Batch: BatchL1, ShiftStrategy: ShiftNextBusinessDay})

	result, err := calc.CalculatePlannedDate(ctx, Request{
		Scope:       Scope{OrganisationID: "org-1"},
		TargetMonth: time.November,
		TargetYear:  2025,
	})
	if err != nil {
		t.Fatalf("CalculatePlannedDate failed: %v", err)
	}
	if want := date(2025, time.November, 1); !result.OriginalTargetDate.Equal(want) {
		t.Errorf("original target date = %s, want %s",
			result.OriginalTargetDate.Format("2006-01-02"), want.Format("2006-01-02"))
	}
	if result.ResolvedConfig.AppliedLevel != LevelSystemDefault {
		t.Errorf("applied level = %s, want %s", result.ResolvedConfig.AppliedLevel, LevelSystemDefault)
	}
}

func TestCalculator_ReferenceDateDerivesMonth(t *testing.T) {
	ctx := context.Background()
	calc, _ := newCalculator(t, Config{Mode: ModeBatch, Batch: BatchL2, ShiftStrategy: ShiftNextBusinessDay})

	ref := date(2025, time.September, 10)
	result, err := calc.CalculatePlannedDate(ctx, Request{
		Scope:         Scope{OrganisationID: "org-1"},
		ReferenceDate: &ref,
	})
	if err != nil {
		t.Fatalf("CalculatePlannedDate failed: %v", err)
	}
	if want := date(2025, time.September, 8); !result.PlannedDebitDate.Equal(want) {
		t.Errorf("planned date = %s, want %s",
			result.PlannedDebitDate.Format("2006-01-02"), want.Format("2006-01-02"))
	}
}

func TestCalculator_InputErrors(t *testing.T) {
	ctx := context.Background()
	scope := Scope{OrganisationID: "org-1"}
	request := Request{Scope: scope, TargetMonth: time.September, TargetYear: 2025}

	t.Run("missing month without reference date", func(t *testing.T) {
		calc, _ := newCalculator(t, Config{Mode: ModeBatch, Batch: BatchL1, ShiftStrategy: ShiftNextBusinessDay})
		_, err := calc.CalculatePlannedDate(ctx, Request{Scope: scope})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown batch", func(t *testing.T) {
		calc, _ := newCalculator(t, Config{Mode: ModeBatch, Batch: "L9", ShiftStrategy: ShiftNextBusinessDay})
		_, err := calc.CalculatePlannedDate(ctx, request)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("fixed day out of range", func(t *testing.T) {
		calc, _ := newCalculator(t, Config{Mode: ModeFixedDay, FixedDay: 32, ShiftStrategy: ShiftNextBusinessDay})
		_, err := calc.CalculatePlannedDate(ctx, request)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		calc, _ := newCalculator(t, Config{Mode: "WEEKLY", ShiftStrategy: ShiftNextBusinessDay})
		_, err := calc.CalculatePlannedDate(ctx, request)
		if !errors.Is(err, ErrInvalidMode) {
			t.Errorf("expected ErrInvalidMode, got %v", err)
		}
	})

	t.Run("organisation without configuration", func(t *testing.T) {
		calc, _ := newCalculator(t, Config{Mode: ModeBatch, Batch: BatchL1, ShiftStrategy: ShiftNextBusinessDay})
		_, err := calc.CalculatePlannedDate(ctx, Request{
			Scope:       Scope{OrganisationID: "org-unseeded"},
			TargetMonth: time.September,
			TargetYear:  2025,
		})
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})
}

func TestCalculator_RecordsAuditEntry(t *testing.T) {
	ctx := context.Background()
	calc, recorder := newCalculator(t, Config{Mode: ModeBatch, Batch: BatchL2, ShiftStrategy: ShiftNextBusinessDay})

	_, err := calc.CalculatePlannedDate(ctx, Request{
		Scope:       Scope{OrganisationID: "org-1", ContractID: "ct-9"},
		TargetMonth: time.September,
		TargetYear:  2025,
	})
	if err != nil {
		t.Fatalf("CalculatePlannedDate failed: %v", err)
	}

	entries, err := recorder.ListByEntity(ctx, "debit_date", "ct-9", 10)
	if err != nil {
		t.Fatalf("ListByEntity failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != "calculate" {
		t.Errorf("audit action = %q, want %q", entries[0].Action, "calculate")
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
