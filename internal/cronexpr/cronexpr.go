// Package cronexpr wraps robfig/cron's schedule parser with the pure
// functions shared by the Scheduler and any external adapter that needs
// identical cron/once/interval validation rules.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

// maxLookahead is NextAfter's horizon: a match further than this from the
// starting instant is reported as "never fires". An expression that never
// matches at all (e.g. "0 0 31 2 *", Feb 31st) makes robfig's Next return
// the zero time, which NextAfter reports the same way.
const maxLookahead = 2 * 365 * 24 * time.Hour

// MaxIntervalMinutes is the spec's upper bound for interval-type schedules.
const MaxIntervalMinutes = 525600

var (
	standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	secondsParser  = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// Validate accepts both 5-field (min hour dom month dow) and 6-field
// (sec min hour dom month dow) cron expressions.
func Validate(expr string) error {
	_, err := parse(expr)
	if err != nil {
		return automerr.New("cronexpr.Validate", automerr.KindValidation, err)
	}
	return nil
}

// NextAfter returns the smallest instant strictly greater than from whose
// components match expr, or (zero time, false) if no match occurs within
// the 2-year lookahead bound (treated as "never fires").
func NextAfter(expr string, from time.Time) (time.Time, bool, error) {
	sched, err := parse(expr)
	if err != nil {
		return time.Time{}, false, automerr.New("cronexpr.NextAfter", automerr.KindValidation, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	if next.Sub(from) > maxLookahead {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

func parse(expr string) (cron.Schedule, error) {
	fields := countFields(expr)
	switch fields {
	case 5:
		return standardParser.Parse(expr)
	case 6:
		return secondsParser.Parse(expr)
	default:
		return nil, fmt.Errorf("cron expression must have 5 or 6 fields, got %d", fields)
	}
}

func countFields(expr string) int {
	n := 0
	inField := false
	for _, r := range expr {
		if r == ' ' || r == '\t' {
			inField = false
			continue
		}
		if !inField {
			n++
			inField = true
		}
	}
	return n
}

// ScheduleType mirrors store.ScheduleType without importing the store
// package, so this package stays a leaf dependency.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
)

// ValidateSchedule validates scheduleValue against scheduleType's rules —
// the single source of truth the Scheduler and any external adapter share.
func ValidateSchedule(scheduleType ScheduleType, scheduleValue string) error {
	switch scheduleType {
	case ScheduleCron:
		return Validate(scheduleValue)
	case ScheduleOnce:
		if _, err := time.Parse(time.RFC3339, scheduleValue); err != nil {
			return automerr.New("cronexpr.ValidateSchedule", automerr.KindValidation,
				fmt.Errorf("once schedule value must be RFC3339: %w", err))
		}
		return nil
	case ScheduleInterval:
		minutes, err := ParseIntervalMinutes(scheduleValue)
		if err != nil {
			return automerr.New("cronexpr.ValidateSchedule", automerr.KindValidation, err)
		}
		if minutes <= 0 || minutes > MaxIntervalMinutes {
			return automerr.New("cronexpr.ValidateSchedule", automerr.KindValidation,
				fmt.Errorf("interval minutes must be in (0, %d], got %d", MaxIntervalMinutes, minutes))
		}
		return nil
	default:
		return automerr.New("cronexpr.ValidateSchedule", automerr.KindValidation,
			fmt.Errorf("unknown schedule type %q", scheduleType))
	}
}

func ParseIntervalMinutes(value string) (int, error) {
	var minutes int
	_, err := fmt.Sscanf(value, "%d", &minutes)
	if err != nil {
		return 0, fmt.Errorf("interval schedule value must be an integer minute count: %w", err)
	}
	return minutes, nil
}
