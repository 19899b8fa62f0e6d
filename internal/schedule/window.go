package schedule

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidClock = errors.New("schedule: time of day must be HH:MM")

// Window is a daily UTC send window, as offsets from midnight. The zero
// Window allows any time. Start after End means the window spans midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func (w Window) IsZero() bool { return w.Start == 0 && w.End == 0 }

// ParseWindow parses "HH:MM" bounds. Both empty yields the zero Window.
func ParseWindow(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	if s == e {
		return Window{}, fmt.Errorf("%w: empty window %s-%s", ErrInvalidClock, start, end)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ApplyWindow returns the extra wait needed to move sendAt into w.
func ApplyWindow(sendAt time.Time, w Window) time.Duration {
	if w.IsZero() {
		return 0
	}
	sendAt = sendAt.UTC()
	midnight := time.Date(sendAt.Year(), sendAt.Month(), sendAt.Day(), 0, 0, 0, 0, time.UTC)
	tod := sendAt.Sub(midnight)

	if w.contains(tod) {
		return 0
	}
	next := midnight.Add(w.Start)
	if !next.After(sendAt) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(sendAt)
}

func (w Window) contains(tod time.Duration) bool {
	if w.Start < w.End {
		return tod >= w.Start && tod < w.End
	}
	return tod >= w.Start || tod < w.End
}
