package utils

import "time"

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Session is an exchange trading session.
type Session string

const (
	SessionClosed  Session = "closed"
	SessionPreOpen Session = "pre_open"
	SessionOpen    Session = "open"
)

// NSESession returns the NSE equity session at t.
func NSESession(t time.Time) Session {
	now := t.In(IndiaLocation)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return SessionClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes >= 540 && minutes < 555: // 9:00 - 9:15
		return SessionPreOpen
	case minutes >= 555 && minutes < 930: // 9:15 - 15:30
		return SessionOpen
	}
	return SessionClosed
}

// IsMarketOpen reports whether NSE equities trade at t.
func IsMarketOpen(t time.Time) bool {
	return NSESession(t) == SessionOpen
}
