package pipeline

import (
	"fmt"
	"time"
)

// Schedule yields the next run time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

type interval time.Duration

// Every runs a job at a fixed interval, measured from the end of the
// previous run.
func Every(d time.Duration) Schedule {
	return interval(d)
}

func (i interval) Next(after time.Time) time.Time {
	return after.Add(time.Duration(i))
}

func (i interval) String() string {
	return "every " + time.Duration(i).String()
}

type daily struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt runs a job once a day at hour:minute wall-clock time in loc.
func DailyAt(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return daily{hour: hour, minute: minute, loc: loc}
}

func (d daily) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(after) {
		// Rebuilt from the calendar date so DST changes keep the wall-clock time.
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

func (d daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", d.hour, d.minute, d.loc)
}
