package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the 6-field (second minute hour dom month dow) form used
// throughout the source configuration. A 7-field form with a trailing year is
// also accepted for compatibility with schedules authored elsewhere; the year
// is validated then discarded since robfig/cron has no year field.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NormalizeCronExpression normalizes a StreamSource/EpgSource UpdateSchedule
// expression to the 6-field form robfig/cron expects. It accepts bare
// @-descriptors (@hourly, @every 30m, ...) unchanged.
func NormalizeCronExpression(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("empty update schedule")
	}
	if strings.HasPrefix(expr, "@") {
		return expr, nil
	}

	fields := strings.Fields(expr)
	switch len(fields) {
	case 6:
		return expr, nil
	case 7:
		if !isValidYearField(fields[6]) {
			return "", fmt.Errorf("invalid year field %q in update schedule", fields[6])
		}
		return strings.Join(fields[:6], " "), nil
	default:
		return "", fmt.Errorf("invalid update schedule %q: expected 6 or 7 fields, got %d", expr, len(fields))
	}
}

func isValidYearField(field string) bool {
	if field == "*" {
		return true
	}
	for _, r := range field {
		if !((r >= '0' && r <= '9') || r == ',' || r == '-' || r == '/' || r == '*') {
			return false
		}
	}
	return len(field) > 0
}

// NextRun computes the next time a source with the given UpdateSchedule is
// due to refresh, relative to from. It parses and validates the schedule but
// does not itself trigger anything: the actual ingestion trigger is an
// external collaborator, not part of this package.
func NextRun(updateSchedule string, from time.Time) (time.Time, error) {
	normalized, err := NormalizeCronExpression(updateSchedule)
	if err != nil {
		return time.Time{}, err
	}

	schedule, err := cronParser.Parse(normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing update schedule %q: %w", updateSchedule, err)
	}

	return schedule.Next(from), nil
}

// IsDue reports whether a source's next scheduled run at or before now.
func IsDue(updateSchedule string, lastRun, now time.Time) (bool, error) {
	next, err := NextRun(updateSchedule, lastRun)
	if err != nil {
		return false, err
	}
	return !next.After(now), nil
}
