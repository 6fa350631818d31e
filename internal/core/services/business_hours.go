package services

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"handoff-engine/internal/core/domain"
)

// WithinBusinessHours evaluates the weekly schedule at now in the configured
// timezone. A disabled schedule is always open; a day missing from the
// schedule is closed. Windows that close before they open span midnight.
func WithinBusinessHours(bh domain.BusinessHours, now time.Time) bool {
	if !bh.Enabled {
		return true
	}

	loc := time.UTC
	if bh.Timezone != "" {
		l, err := time.LoadLocation(bh.Timezone)
		if err != nil {
			slog.Warn("Unknown business-hours timezone, using UTC",
				"timezone", bh.Timezone,
				"error", err,
			)
		} else {
			loc = l
		}
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	// an overnight window opened yesterday may still be running
	if day, ok := scheduleFor(bh.Schedule, local.Weekday()-1); ok {
		openAt, closeAt, valid := parseWindow(day)
		if valid && closeAt < openAt && minute < closeAt {
			return true
		}
	}

	day, ok := scheduleFor(bh.Schedule, local.Weekday())
	if !ok {
		return false
	}
	openAt, closeAt, valid := parseWindow(day)
	if !valid {
		return false
	}
	if closeAt < openAt {
		return minute >= openAt
	}
	return minute >= openAt && minute < closeAt
}

func scheduleFor(schedule map[string]domain.DaySchedule, wd time.Weekday) (domain.DaySchedule, bool) {
	if wd < time.Sunday {
		wd = time.Saturday
	}
	name := strings.ToLower(wd.String())
	if d, ok := schedule[name]; ok {
		return d, true
	}
	d, ok := schedule[name[:3]]
	return d, ok
}

func parseWindow(d domain.DaySchedule) (openAt, closeAt int, ok bool) {
	openAt, okOpen := parseClock(d.Open)
	closeAt, okClose := parseClock(d.Close)
	return openAt, closeAt, okOpen && okClose && openAt != closeAt
}

// parseClock parses "HH:MM" into minutes after midnight; "24:00" is end of day
func parseClock(s string) (int, bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 {
		return 0, false
	}
	if hour == 24 && mins == 0 {
		return 24 * 60, true
	}
	if hour < 0 || hour > 23 {
		return 0, false
	}
	return hour*60 + mins, true
}
