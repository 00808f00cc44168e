// Package trigger turns reminder definitions into scheduled events: it
// parses one-shot timestamps and five-field cron expressions, computes fire
// times, and keeps recurring reminders registered with the scheduler across
// occurrences.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"urns/internal/types"
)

// cronParser accepts standard five-field expressions (minute, hour,
// day-of-month, month, day-of-week). Seconds and descriptors are rejected.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// isoLayouts are accepted one-shot timestamp formats, tried in order.
// Naive timestamps (no zone designator) are interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseWhen parses a one-shot fire time. Zone-less inputs are treated as
// UTC; the result is always normalized to UTC.
func ParseWhen(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationInvalidWhen, "when must not be empty", nil)
	}

	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, types.NewAppError(
		types.ErrCodeValidationInvalidWhen,
		fmt.Sprintf("when %q is not a valid ISO-8601 timestamp", raw), nil)
}

// ParseCron validates a five-field cron expression and returns its
// schedule. All evaluation happens in UTC.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidCron, "cron must not be empty", nil)
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidCron,
			fmt.Sprintf("cron %q is not a valid five-field expression: %v", expr, err), nil)
	}
	return sched, nil
}

// NextCronFire returns the first cron occurrence strictly after now, in UTC.
func NextCronFire(sched cron.Schedule, now time.Time) time.Time {
	return sched.Next(now.UTC()).UTC()
}
