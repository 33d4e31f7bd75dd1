// Package lifecycle turns raw equipment dates into a derived safety status.
// Status is never stored; it is recomputed from {archived, percentage used}
// every time a record is read, so it cannot drift from its inputs.
package lifecycle

import "time"

// Status is the derived safety state of a piece of equipment.
type Status string

const (
	StatusGood         Status = "GOOD"
	StatusExpiringSoon Status = "EXPIRING_SOON"
	StatusExpired      Status = "EXPIRED"
	StatusArchived     Status = "ARCHIVED"
)

// ExpiringSoonThreshold is the percentage-used value at which equipment
// starts being flagged, inclusive.
const ExpiringSoonThreshold = 80.0

// AllStatuses lists every status value. Kept in sync with the Badge table;
// the tests assert the mapping is exhaustive.
var AllStatuses = []Status{StatusGood, StatusExpiringSoon, StatusExpired, StatusArchived}

// PercentageUsed computes elapsed service time over total lifespan, clamped
// to [0,100]. A non-positive lifespan interval counts as 0% used rather than
// dividing by zero.
func PercentageUsed(now, serviceStart, endOfLife time.Time) float64 {
	total := endOfLife.Sub(serviceStart)
	if total <= 0 {
		return 0
	}
	elapsed := now.Sub(serviceStart)
	pct := float64(elapsed) / float64(total) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// RawPercentageUsed is PercentageUsed without the upper clamp. Callers that
// want to show "150% used" on an expired item use this; DeriveStatus accepts
// either form since the thresholds are inclusive.
func RawPercentageUsed(now, serviceStart, endOfLife time.Time) float64 {
	total := endOfLife.Sub(serviceStart)
	if total <= 0 {
		return 0
	}
	pct := float64(now.Sub(serviceStart)) / float64(total) * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// DeriveStatus maps a record to exactly one status. Precedence matters and is
// part of the contract: archived wins over everything, then expired, then
// expiring-soon. Negative percentages fall through to GOOD rather than
// erroring.
func DeriveStatus(archived bool, percentageUsed float64) Status {
	switch {
	case archived:
		return StatusArchived
	case percentageUsed >= 100:
		return StatusExpired
	case percentageUsed >= ExpiringSoonThreshold:
		return StatusExpiringSoon
	default:
		return StatusGood
	}
}

// DeriveStatusAt is the date-driven formulation used where a percentage has
// not been precomputed. Equivalent to DeriveStatus over PercentageUsed.
func DeriveStatusAt(now, serviceStart, endOfLife time.Time, archived bool) Status {
	return DeriveStatus(archived, PercentageUsed(now, serviceStart, endOfLife))
}

// ExpectedEndOfLife derives the stored end-of-life date from the service
// start and a manufacturer lifespan in whole years. Calendar-accurate:
// 2022-04-01 + 5y = 2027-04-01 regardless of leap years in between.
func ExpectedEndOfLife(serviceStart time.Time, lifespanYears int) time.Time {
	return serviceStart.AddDate(lifespanYears, 0, 0)
}

// Alertable reports whether a single record belongs in the expiration alert
// set for the given threshold: active (not archived, not expired) and at or
// past the threshold.
func Alertable(archived bool, percentageUsed, threshold float64) bool {
	if archived {
		return false
	}
	if DeriveStatus(archived, percentageUsed) == StatusExpired {
		return false
	}
	return percentageUsed >= threshold
}

// Badge describes how a status is presented. The table covers every member
// of AllStatuses; rendering code indexes it without a fallback.
type Badge struct {
	Label string
	Icon  string
	Style string
}

var badges = map[Status]Badge{
	StatusGood:         {Label: "Good", Icon: "shield-check", Style: "success"},
	StatusExpiringSoon: {Label: "Expiring soon", Icon: "alert-triangle", Style: "warning"},
	StatusExpired:      {Label: "Expired", Icon: "shield-x", Style: "destructive"},
	StatusArchived:     {Label: "Archived", Icon: "archive", Style: "muted"},
}

// BadgeFor returns the presentation mapping for a status.
func BadgeFor(s Status) (Badge, bool) {
	b, ok := badges[s]
	return b, ok
}
