package util

import (
	"time"
)

// US equity session boundaries in Eastern Time.
const (
	regularOpenHour   = 9
	regularOpenMinute = 30
	regularCloseHour  = 16
	extendedOpenHour  = 4
	extendedCloseHour = 20
)

// SessionClock answers whether trading is allowed at a point in time under a
// regular-hours or extended-hours policy.
type SessionClock struct {
	loc *time.Location
}

// NewSessionClock creates a SessionClock using the US Eastern timezone.
func NewSessionClock() (*SessionClock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return &SessionClock{loc: loc}, nil
}

// InRegularHours reports whether t falls within the regular NYSE session
// (9:30-16:00 ET, Monday-Friday). Exchange holidays are not modelled here;
// a closed market simply produces no bars.
func (c *SessionClock) InRegularHours(t time.Time) bool {
	et := t.In(c.loc)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mins := et.Hour()*60 + et.Minute()
	return mins >= regularOpenHour*60+regularOpenMinute && mins < regularCloseHour*60
}

// InExtendedHours reports whether t falls within the extended session
// (4:00-20:00 ET, Monday-Friday), which includes regular hours.
func (c *SessionClock) InExtendedHours(t time.Time) bool {
	et := t.In(c.loc)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := et.Hour()
	return h >= extendedOpenHour && h < extendedCloseHour
}
