package alert

import (
	"time"

	"github.com/skycast/skycast/internal/models"
)

// ScheduleAllows reports whether now falls inside the user's alert window.
// A nil or disabled schedule allows everything. The hour window is
// [StartHour, EndHour) in the schedule's timezone; StartHour > EndHour
// wraps past midnight. Unknown timezone names fall back to UTC.
func ScheduleAllows(sched *models.AlertSchedule, now time.Time) bool {
	if sched == nil || !sched.Enabled {
		return true
	}

	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if len(sched.Weekdays) > 0 && !containsWeekday(sched.Weekdays, local.Weekday()) {
		return false
	}

	return inHourWindow(local.Hour(), sched.StartHour, sched.EndHour)
}

// inHourWindow checks hour membership in [from, to), supporting wrap-around
// windows like 22–6.
func inHourWindow(hour, from, to int) bool {
	if from == to {
		return false // zero-length window
	}
	if from < to {
		return hour >= from && hour < to
	}
	// wrap: [from..24) U [0..to)
	return hour >= from || hour < to
}

// FrequencyAllows gates alerting by the user's notification frequency,
// evaluated against local time. everyHour (and unset) always allows;
// balanced allows every third hour; oncePerDay allows only the morning
// send at 8 local. The sweep is stateless between runs, so gating is by
// wall clock rather than by last-sent bookkeeping.
func FrequencyAllows(freq models.Frequency, sched *models.AlertSchedule, now time.Time) bool {
	loc := time.UTC
	if sched != nil && sched.Timezone != "" {
		if l, err := time.LoadLocation(sched.Timezone); err == nil {
			loc = l
		}
	}
	hour := now.In(loc).Hour()

	switch freq {
	case models.FrequencyBalanced:
		return hour%3 == 0
	case models.FrequencyOncePerDay:
		return hour == 8
	default:
		return true
	}
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, wd := range days {
		if wd == d {
			return true
		}
	}
	return false
}
