package market

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour, Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Session describes regular market hours and the narrower window in which
// new entries are allowed.
type Session struct {
	Location    *time.Location
	Open        TimeOfDay
	Close       TimeOfDay
	WindowStart TimeOfDay
	WindowEnd   TimeOfDay
}

func DefaultSession() Session {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Session{
		Location:    loc,
		Open:        TimeOfDay{9, 30},
		Close:       TimeOfDay{16, 0},
		WindowStart: TimeOfDay{9, 35},
		WindowEnd:   TimeOfDay{15, 55},
	}
}

func (s Session) local(t time.Time) time.Time {
	if s.Location == nil {
		return t
	}
	return t.In(s.Location)
}

func minuteOf(t time.Time) int { return t.Hour()*60 + t.Minute() }

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen reports whether t falls inside regular market hours.
func (s Session) IsOpen(t time.Time) bool {
	lt := s.local(t)
	if !isWeekday(lt) {
		return false
	}
	m := minuteOf(lt)
	return m >= s.Open.minutes() && m < s.Close.minutes()
}

// InWindow reports whether new entries may be placed at t.
func (s Session) InWindow(t time.Time) bool {
	if !s.IsOpen(t) {
		return false
	}
	m := minuteOf(s.local(t))
	return m >= s.WindowStart.minutes() && m < s.WindowEnd.minutes()
}

// Day is the trading-day key for t.
func (s Session) Day(t time.Time) string {
	return s.local(t).Format("2006-01-02")
}

func (s Session) Validate() error {
	if s.Open.minutes() >= s.Close.minutes() {
		return fmt.Errorf("market open %s must be before close %s", s.Open, s.Close)
	}
	if s.WindowStart.minutes() >= s.WindowEnd.minutes() {
		return fmt.Errorf("trading window start %s must be before end %s", s.WindowStart, s.WindowEnd)
	}
	return nil
}
