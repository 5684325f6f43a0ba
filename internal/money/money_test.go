package money

import (
	"testing"
	"time"
)

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before due", time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC), 0},
		{"same day later hour", time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC), 0},
		{"next day early hour", time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC), 1},
		{"thirty days", time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysOverdue(due, tt.now); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	if got := DaysOverdue(time.Time{}, due); got != 0 {
		t.Errorf("expected 0 for zero due date, got %d", got)
	}
}

func TestAddDays(t *testing.T) {
	start := time.Date(2025, 1, 31, 10, 30, 0, 0, time.UTC)
	got := AddDays(start, 30)
	want := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestTruncate(t *testing.T) {
	got := Truncate(MustParse("333.3366"))
	if !got.Equal(MustParse("333.33")) {
		t.Errorf("expected 333.33, got %s", got)
	}
}

func TestBefore(t *testing.T) {
	a := time.Date(2025, 5, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, 5, 1, 1, 0, 0, 0, time.UTC)
	if Before(a, b) || Before(b, a) {
		t.Error("expected same calendar day to not be before")
	}
	if !Before(a, AddDays(a, 1)) {
		t.Error("expected earlier day to be before")
	}
}
