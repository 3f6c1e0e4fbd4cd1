// Package schedule computes a monitor's next run time from its parsed
// schedule, shared by the gateway (monitor creation/upsert) and the
// scheduler (post-fire rescheduling) so the two never drift apart.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"raito/internal/model"
)

// standardParser accepts the conventional 5-field cron expression
// (minute hour dom month dow), matching the web2api original's
// croniter usage. Descriptors such as "@hourly" are not accepted.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the next run time strictly after from. A cron
// expression that fails to parse, or an interval schedule with a
// non-positive interval, falls back to from+60m rather than wedging
// the monitor.
func NextRun(info *model.ScheduleInfo, from time.Time) time.Time {
	if info == nil {
		return from.Add(time.Hour)
	}

	switch info.Type {
	case model.ScheduleCron:
		sched, err := standardParser.Parse(info.Cron)
		if err != nil {
			return from.Add(time.Hour)
		}
		return sched.Next(from)
	case model.ScheduleInterval:
		if info.IntervalMinutes <= 0 {
			return from.Add(time.Hour)
		}
		return from.Add(time.Duration(info.IntervalMinutes) * time.Minute)
	default:
		return from.Add(time.Hour)
	}
}
