package schedule

import (
	"errors"
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2024, 3, 15, h, m, 30, 0, time.Local)
}

func mustParse(t *testing.T, s string) *Window {
	t.Helper()
	w, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return w
}

func TestParse(t *testing.T) {
	w := mustParse(t, "08:00-17:30")
	if w.Start != (TimeOfDay{8, 0}) || w.End != (TimeOfDay{17, 30}) {
		t.Errorf("got %+v", w)
	}
	if w.String() != "08:00-17:30" {
		t.Errorf("String = %q", w.String())
	}

	w = mustParse(t, " 7:05-6:00 ")
	if w.Start != (TimeOfDay{7, 5}) || !w.Wraps() {
		t.Errorf("got %+v wraps=%v", w, w.Wraps())
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"08:00",
		"08:00_17:00",
		"0800-1700",
		"24:00-06:00",
		"22:00-06:60",
		"ab:cd-ef:gh",
		"08:00-17:00-18:00",
		"-1:00-02:00",
	} {
		if _, err := Parse(s); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidWindow", s, err)
		}
	}
}

func TestContainsNonWrapping(t *testing.T) {
	w := mustParse(t, "08:00-17:00")
	for m := 0; m < 24*60; m++ {
		now := TimeOfDay{m / 60, m % 60}
		want := m >= 8*60 && m < 17*60
		if got := w.Contains(now); got != want {
			t.Fatalf("Contains(%s) = %v, want %v", now, got, want)
		}
	}
}

func TestContainsWrapping(t *testing.T) {
	w := mustParse(t, "22:00-06:00")
	for m := 0; m < 24*60; m++ {
		now := TimeOfDay{m / 60, m % 60}
		want := m >= 22*60 || m < 6*60
		if got := w.Contains(now); got != want {
			t.Fatalf("Contains(%s) = %v, want %v", now, got, want)
		}
	}
}

func TestContainsDegenerateAndNil(t *testing.T) {
	var none *Window
	same := mustParse(t, "09:15-09:15")
	for m := 0; m < 24*60; m++ {
		now := TimeOfDay{m / 60, m % 60}
		if !none.Contains(now) {
			t.Fatalf("nil window closed at %s", now)
		}
		if !same.Contains(now) {
			t.Fatalf("start==end window closed at %s", now)
		}
	}
	if none.String() != "always" {
		t.Errorf("nil String = %q", none.String())
	}
}

func TestIsWithinWindowScenarios(t *testing.T) {
	day := mustParse(t, "08:00-17:00")
	night := mustParse(t, "22:00-06:00")

	tests := []struct {
		name string
		w    *Window
		now  time.Time
		want bool
	}{
		{"day window at 10:00", day, at(10, 0), true},
		{"day window at 20:00", day, at(20, 0), false},
		{"day window at start", day, at(8, 0), true},
		{"day window at end", day, at(17, 0), false},
		{"night window at 23:30", night, at(23, 30), true},
		{"night window at 05:00", night, at(5, 0), true},
		{"night window at 12:00", night, at(12, 0), false},
		{"night window at 06:00", night, at(6, 0), false},
		{"no schedule", nil, at(3, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWithinWindow(tt.w, tt.now); got != tt.want {
				t.Errorf("IsWithinWindow = %v, want %v", got, tt.want)
			}
		})
	}
}
