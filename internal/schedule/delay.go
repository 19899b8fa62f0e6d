// Package schedule turns campaign schedules and step waits into the absolute
// millisecond delays handed to the queue service.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DayMs = int64(86_400_000)
	// MinScheduledDelayMs keeps a scheduled send clear of the queue's own scheduler tick.
	MinScheduledDelayMs = int64(60_000)
	// MaxWaitDays bounds a single step wait and the cumulative wait of a sequence.
	MaxWaitDays = 3650
)

// maxDelayMs keeps now+delay representable as a time.Duration with a day
// to spare for window adjustment.
const maxDelayMs = math.MaxInt64/int64(time.Millisecond) - DayMs

var (
	ErrScheduleInPast = errors.New("scheduled time must be in the future")
	ErrNegativeDelay  = errors.New("schedule: delay inputs must be >= 0")
	ErrDelayTooLong   = errors.New("schedule: delay is too far in the future")
)

// ComputeDelayMs returns days*86_400_000 + initialDelayMs.
func ComputeDelayMs(stepWaitDays int, initialDelayMs int64) (int64, error) {
	if stepWaitDays < 0 || initialDelayMs < 0 {
		return 0, fmt.Errorf("%w: days=%d initial=%d", ErrNegativeDelay, stepWaitDays, initialDelayMs)
	}
	if stepWaitDays > MaxWaitDays || initialDelayMs > maxDelayMs-int64(stepWaitDays)*DayMs {
		return 0, fmt.Errorf("%w: days=%d initial=%d", ErrDelayTooLong, stepWaitDays, initialDelayMs)
	}
	return int64(stepWaitDays)*DayMs + initialDelayMs, nil
}

// InitialDelayMs is 0 for an immediate send. A scheduled send gets at least
// MinScheduledDelayMs. A schedule older than grace is rejected.
func InitialDelayMs(now time.Time, scheduledAt *time.Time, grace time.Duration) (int64, error) {
	if scheduledAt == nil || scheduledAt.IsZero() {
		return 0, nil
	}
	diff := scheduledAt.Sub(now)
	if diff < -grace {
		return 0, ErrScheduleInPast
	}
	ms := diff.Milliseconds()
	if ms < MinScheduledDelayMs {
		ms = MinScheduledDelayMs
	}
	return ms, nil
}

// StepOffsets converts per-step waits ("N days after the previous step")
// into cumulative days from the first send. The total may not pass MaxWaitDays.
func StepOffsets(waitDays []int) ([]int, error) {
	out := make([]int, len(waitDays))
	total := 0
	for i, d := range waitDays {
		if d < 0 {
			return nil, fmt.Errorf("%w: step %d waits %d days", ErrNegativeDelay, i, d)
		}
		if d > MaxWaitDays-total {
			return nil, fmt.Errorf("%w: step %d brings the sequence past %d days", ErrDelayTooLong, i, MaxWaitDays)
		}
		total += d
		out[i] = total
	}
	return out, nil
}
