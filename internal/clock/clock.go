package clock

import "time"

// Clock supplies the current time. The point core never calls time.Now directly.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC, truncated to the microsecond precision
// PostgreSQL stores so that values survive a round trip unchanged.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
