package reminder

import (
	"testing"
	"time"
)

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

func TestPolicy_WithinWindow(t *testing.T) {
	policy := &Policy{
		AllowedStartHour:  9,
		AllowedEndHour:    20,
		AllowedDaysOfWeek: []int{1, 2, 3, 4, 5},
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"weekday mid-window", at(2025, time.September, 10, 10), true}, // Wednesday
		{"start hour is inclusive", at(2025, time.September, 10, 9), true},
		{"end hour is exclusive", at(2025, time.September, 10, 20), false},
		{"before the window", at(2025, time.September, 10, 8), false},
		{"saturday is not allowed", at(2025, time.September, 13, 10), false},
		{"sunday is not allowed", at(2025, time.September, 14, 10), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.WithinWindow(tt.now); got != tt.want {
				t.Errorf("WithinWindow(%s) = %v, want %v", tt.now.Format(time.RFC3339), got, tt.want)
			}
		})
	}

	t.Run("sunday maps to ISO day 7", func(t *testing.T) {
		p := &Policy{AllowedDaysOfWeek: []int{7}}
		if !p.WithinWindow(at(2025, time.September, 14, 10)) {
			t.Error("expected Sunday to be allowed with ISO day 7")
		}
		if p.WithinWindow(at(2025, time.September, 15, 10)) {
			t.Error("expected Monday to be rejected")
		}
	})

	t.Run("zero window disables the hour check", func(t *testing.T) {
		p := &Policy{}
		if !p.WithinWindow(at(2025, time.September, 10, 3)) {
			t.Error("expected any hour to pass without a configured window")
		}
	})
}

func TestStatus_Responded(t *testing.T) {
	responded := []Status{StatusDelivered, StatusOpened, StatusClicked}
	for _, s := range responded {
		if !s.Responded() {
			t.Errorf("expected %s to count as a response", s)
		}
	}
	notResponded := []Status{StatusPending, StatusSending, StatusSent, StatusBounced, StatusFailed}
	for _, s := range notResponded {
		if s.Responded() {
			t.Errorf("expected %s to not count as a response", s)
		}
	}
}
