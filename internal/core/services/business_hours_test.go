package services

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"

	"handoff-engine/internal/core/domain"
)

// 2025-03-10 is a Monday
func utcAt(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestWithinBusinessHours(t *testing.T) {
	weekdays := domain.BusinessHours{
		Enabled:  true,
		Timezone: "UTC",
		Schedule: map[string]domain.DaySchedule{
			"monday":  {Open: "09:00", Close: "17:00"},
			"tue":     {Open: "09:00", Close: "17:00"},
			"friday":  {Open: "22:00", Close: "02:00"},
			"sunday":  {Open: "00:00", Close: "24:00"},
			"weekend": {Open: "bad", Close: "value"},
		},
	}
	tokyo := domain.BusinessHours{
		Enabled:  true,
		Timezone: "Asia/Tokyo",
		Schedule: map[string]domain.DaySchedule{
			"monday": {Open: "09:00", Close: "17:00"},
		},
	}
	saturdayNight := domain.BusinessHours{
		Enabled: true,
		Schedule: map[string]domain.DaySchedule{
			"saturday": {Open: "20:00", Close: "03:00"},
		},
	}

	tests := []struct {
		name  string
		hours domain.BusinessHours
		now   time.Time
		want  bool
	}{
		{"disabled is always open", domain.BusinessHours{}, utcAt(10, 3, 0), true},
		{"inside monday window", weekdays, utcAt(10, 9, 0), true},
		{"monday close is exclusive", weekdays, utcAt(10, 17, 0), false},
		{"before monday open", weekdays, utcAt(10, 8, 59), false},
		{"short day name", weekdays, utcAt(11, 12, 0), true},
		{"unscheduled day is closed", weekdays, utcAt(12, 12, 0), false},
		{"overnight window after open", weekdays, utcAt(14, 23, 30), true},
		{"overnight window spills into saturday", weekdays, utcAt(15, 1, 30), true},
		{"overnight window has ended", weekdays, utcAt(15, 2, 0), false},
		{"friday before the overnight window", weekdays, utcAt(14, 12, 0), false},
		{"24:00 closes at midnight", weekdays, utcAt(16, 23, 59), true},
		{"timezone shifts the window open", tokyo, utcAt(10, 1, 0), true},
		{"timezone shifts the window closed", tokyo, utcAt(10, 9, 0), false},
		{"saturday window wraps into sunday", saturdayNight, utcAt(16, 2, 0), true},
		{"sunday after the wrap", saturdayNight, utcAt(16, 4, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinBusinessHours(tt.hours, tt.now))
		})
	}
}

// TestWithinBusinessHours_UnknownTimezone tests the UTC fallback
func TestWithinBusinessHours_UnknownTimezone(t *testing.T) {
	hours := domain.BusinessHours{
		Enabled:  true,
		Timezone: "Mars/Olympus",
		Schedule: map[string]domain.DaySchedule{"monday": {Open: "09:00", Close: "17:00"}},
	}
	assert.True(t, WithinBusinessHours(hours, utcAt(10, 10, 0)))
	assert.False(t, WithinBusinessHours(hours, utcAt(10, 18, 0)))
}
