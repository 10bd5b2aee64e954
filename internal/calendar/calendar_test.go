package calendar

import (
	"context"
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestHoliday_Matches(t *testing.T) {
	tests := []struct {
		name    string
		holiday Holiday
		date    time.Time
		want    bool
	}{
		{
			name:    "recurring holiday matches every year",
			holiday: Holiday{Name: "Bastille Day", Type: HolidayTypeRecurring, Month: 7, Day: 14, IsActive: true},
			date:    date(2025, time.July, 14),
			want:    true,
		},
		{
			name:    "recurring holiday does not match other days",
			holiday: Holiday{Name: "Bastille Day", Type: HolidayTypeRecurring, Month: 7, Day: 14, IsActive: true},
			date:    date(2025, time.July, 15),
			want:    false,
		},
		{
			name:    "fixed holiday matches its exact date",
			holiday: Holiday{Name: "One-off closure", Type: HolidayTypeFixed, Date: date(2025, time.March, 3), IsActive: true},
			date:    date(2025, time.March, 3),
			want:    true,
		},
		{
			name:    "fixed holiday does not recur the next year",
			holiday: Holiday{Name: "One-off closure", Type: HolidayTypeFixed, Date: date(2025, time.March, 3), IsActive: true},
			date:    date(2026, time.March, 3),
			want:    false,
		},
		{
			name:    "inactive holiday never matches",
			holiday: Holiday{Name: "Disabled", Type: HolidayTypeRecurring, Month: 7, Day: 14, IsActive: false},
			date:    date(2025, time.July, 14),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.holiday.Matches(tt.date); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestZone_Blocking(t *testing.T) {
	zone := &Zone{
		ID:       "zone-fr",
		Code:     "FR",
		IsActive: true,
		Holidays: []Holiday{
			{Name: "Bastille Day", Type: HolidayTypeRecurring, Month: 7, Day: 14, IsActive: true},
			// A holiday falling on Saturday 2025-11-01.
			{Name: "All Saints", Type: HolidayTypeRecurring, Month: 11, Day: 1, IsActive: true},
		},
	}

	t.Run("plain weekday is eligible", func(t *testing.T) {
		reason, ok := zone.Blocking(date(2025, time.September, 8)) // Monday
		if !ok {
			t.Fatalf("expected Monday 2025-09-08 to be eligible, got blocked: %s", reason)
		}
	})

	t.Run("weekday holiday reports the holiday name", func(t *testing.T) {
		reason, ok := zone.Blocking(date(2025, time.July, 14)) // Monday
		if ok {
			t.Fatal("expected Bastille Day to block")
		}
		if reason != "holiday:Bastille Day" {
			t.Errorf("reason = %q, want %q", reason, "holiday:Bastille Day")
		}
	})

	t.Run("weekend wins over a Saturday holiday", func(t *testing.T) {
		reason, ok := zone.Blocking(date(2025, time.November, 1)) // Saturday and All Saints
		if ok {
			t.Fatal("expected Saturday to block")
		}
		if reason != ReasonWeekend {
			t.Errorf("reason = %q, want %q", reason, ReasonWeekend)
		}
	})

	t.Run("sunday blocks as weekend", func(t *testing.T) {
		reason, ok := zone.Blocking(date(2025, time.November, 2))
		if ok || reason != ReasonWeekend {
			t.Errorf("Blocking(Sunday) = (%q, %v), want (%q, false)", reason, ok, ReasonWeekend)
		}
	})
}

func TestZone_NextEligible(t *testing.T) {
	zone := &Zone{ID: "zone-fr", Code: "FR", IsActive: true}

	t.Run("walks over a weekend to Monday", func(t *testing.T) {
		got, err := zone.NextEligible(date(2025, time.November, 1), 10) // Saturday
		if err != nil {
			t.Fatalf("NextEligible returned error: %v", err)
		}
		want := date(2025, time.November, 3)
		if !got.Equal(want) {
			t.Errorf("NextEligible = %s, want %s", got.Format("2006-01-02"), want.Format("2006-01-02"))
		}
	})

	t.Run("fails when the step budget runs out", func(t *testing.T) {
		if _, err := zone.NextEligible(date(2025, time.November, 1), 1); err == nil {
			t.Fatal("expected an error when no eligible date exists within maxSteps")
		}
	})
}

func TestMemoryZoneStore_GetZone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryZoneStore()

	if err := store.SaveZone(ctx, &Zone{
		ID:       "zone-1",
		Code:     "FR",
		IsActive: true,
		Holidays: []Holiday{
			{Name: "Active", Type: HolidayTypeRecurring, Month: 1, Day: 1, IsActive: true},
			{Name: "Retired", Type: HolidayTypeRecurring, Month: 6, Day: 1, IsActive: false},
		},
	}); err != nil {
		t.Fatalf("SaveZone failed: %v", err)
	}
	if err := store.SaveZone(ctx, &Zone{ID: "zone-off", Code: "XX", IsActive: false}); err != nil {
		t.Fatalf("SaveZone failed: %v", err)
	}

	t.Run("snapshot drops inactive holidays", func(t *testing.T) {
		zone, err := store.GetZone(ctx, "zone-1")
		if err != nil {
			t.Fatalf("GetZone failed: %v", err)
		}
		if len(zone.Holidays) != 1 || zone.Holidays[0].Name != "Active" {
			t.Errorf("expected only the active holiday, got %+v", zone.Holidays)
		}
	})

	t.Run("inactive zone is not found", func(t *testing.T) {
		if _, err := store.GetZone(ctx, "zone-off"); !errors.Is(err, ErrZoneNotFound) {
			t.Errorf("expected ErrZoneNotFound, got %v", err)
		}
	})

	t.Run("unknown zone is not found", func(t *testing.T) {
		if _, err := store.GetZone(ctx, "nope"); !errors.Is(err, ErrZoneNotFound) {
			t.Errorf("expected ErrZoneNotFound, got %v", err)
		}
	})
}
