// Package rotation decides which stored dumps a grandfather-father-son
// retention policy keeps.
package rotation

import "time"

// Tier is the retention class of a dump.
type Tier string

const (
	Daily   Tier = "daily"
	Weekly  Tier = "weekly"
	Monthly Tier = "monthly"
)

type Policy struct {
	Daily      int
	Weekly     int
	Monthly    int
	MaxAgeDays int
}

func NewPolicy(daily, weekly, monthly, maxAgeDays int) *Policy {
	return &Policy{
		Daily:      daily,
		Weekly:     weekly,
		Monthly:    monthly,
		MaxAgeDays: maxAgeDays,
	}
}

// TierOf classifies a dump taken at t: the first of the month is monthly,
// Sunday is weekly and everything else is daily.
func TierOf(t time.Time) Tier {
	t = t.UTC()
	switch {
	case t.Day() == 1:
		return Monthly
	case t.Weekday() == time.Sunday:
		return Weekly
	default:
		return Daily
	}
}

// KeepUntil is the latest time a dump of tier taken at t is retained,
// capped by MaxAgeDays.
func (p *Policy) KeepUntil(t time.Time, tier Tier) time.Time {
	var until time.Time
	switch tier {
	case Monthly:
		until = t.AddDate(0, p.Monthly, 0)
	case Weekly:
		until = t.AddDate(0, 0, 7*p.Weekly)
	default:
		until = t.AddDate(0, 0, p.Daily)
	}

	if p.MaxAgeDays > 0 {
		if limit := t.AddDate(0, 0, p.MaxAgeDays); limit.Before(until) {
			until = limit
		}
	}
	return until
}
