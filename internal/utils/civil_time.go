package utils

import (
	"time"
)

const civilLayout = "02 Jan 2006, 03:04 PM MST"

// DefaultDisplayZone is used when no zone is configured.
const DefaultDisplayZone = "Asia/Kolkata"

// CivilClock renders instants in a single display zone. It is only used when
// building responses; comparisons always happen on absolute instants.
type CivilClock struct {
	loc *time.Location
}

// NewCivilClock loads the named zone and falls back to IST when the tz database
// is unavailable on the host.
func NewCivilClock(zone string) *CivilClock {
	if zone == "" {
		zone = DefaultDisplayZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.FixedZone("IST", 5*60*60+30*60)
	}
	return &CivilClock{loc: loc}
}

func (c *CivilClock) Location() *time.Location {
	return c.loc
}

func (c *CivilClock) Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(c.loc).Format(civilLayout)
}

// FormatPtr formats an optional instant, returning "" for nil.
func (c *CivilClock) FormatPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return c.Format(*t)
}
