// Package schedule evaluates daily charging windows such as "22:00-06:00".
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWindow is wrapped by every parse failure
var ErrInvalidWindow = errors.New("invalid schedule window")

var windowPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})-(\d{1,2}):(\d{2})$`)

// TimeOfDay is a wall-clock hour and minute, 00:00-23:59
type TimeOfDay struct {
	Hour   int
	Minute int
}

// At returns the time of day of t in t's location
func At(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes returns minutes since midnight
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText implements encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// Window is a daily time range [Start, End). End before Start wraps past midnight.
// Start == End covers the whole day.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Parse parses an "hh:mm-hh:mm" window
func Parse(s string) (*Window, error) {
	s = strings.TrimSpace(s)
	mat := windowPattern.FindStringSubmatch(s)
	if mat == nil {
		return nil, fmt.Errorf("%w: %q is not hh:mm-hh:mm", ErrInvalidWindow, s)
	}

	n := make([]int, 4)
	for i := range n {
		v, err := strconv.Atoi(mat[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidWindow, s, err)
		}
		n[i] = v
	}

	w := &Window{
		Start: TimeOfDay{Hour: n[0], Minute: n[1]},
		End:   TimeOfDay{Hour: n[2], Minute: n[3]},
	}
	if !w.Start.valid() {
		return nil, fmt.Errorf("%w: start %s out of range", ErrInvalidWindow, mat[1]+":"+mat[2])
	}
	if !w.End.valid() {
		return nil, fmt.Errorf("%w: end %s out of range", ErrInvalidWindow, mat[3]+":"+mat[4])
	}
	return w, nil
}

// Wraps reports whether the window spans midnight
func (w *Window) Wraps() bool {
	return w != nil && w.End.Minutes() < w.Start.Minutes()
}

// Contains reports whether now falls inside the window. A nil window is always open.
func (w *Window) Contains(now TimeOfDay) bool {
	if w == nil {
		return true
	}
	start, end, t := w.Start.Minutes(), w.End.Minutes(), now.Minutes()
	switch {
	case start == end:
		return true
	case start < end:
		return start <= t && t < end
	default:
		return t >= start || t < end
	}
}

func (w *Window) String() string {
	if w == nil {
		return "always"
	}
	return w.Start.String() + "-" + w.End.String()
}

// IsWithinWindow evaluates w against the wall-clock time of now
func IsWithinWindow(w *Window, now time.Time) bool {
	return w.Contains(At(now))
}
