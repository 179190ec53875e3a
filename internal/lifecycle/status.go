// Package lifecycle derives document and item statuses from expiration dates.
// Status is never trusted from storage: every read path recomputes it here so
// the same inputs always display the same status.
package lifecycle

import "time"

// Status of a document or item relative to its expiration date. The ordering
// expired > expiring > valid is total.
type Status string

const (
	StatusValid    Status = "valid"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
)

// Unit for the notification lead time.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitMonths Unit = "months"
)

// ParseUnit maps a stored unit string to a Unit, defaulting to days.
func ParseUnit(raw string) Unit {
	if raw == string(UnitMonths) {
		return UnitMonths
	}
	return UnitDays
}

// Clock supplies the current date. Injectable so status computations stay
// deterministic in tests and in the notifier sweep.
type Clock interface {
	Today() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Today() time.Time { return time.Now() }

// FixedClock always reports the same date.
type FixedClock struct {
	Date time.Time
}

func (c FixedClock) Today() time.Time { return c.Date }

// Compute derives a status from an expiration date and a notification lead
// time. Comparison is at day granularity; all inputs are truncated to
// midnight. A nil expiration means the item never expires.
func Compute(expiration *time.Time, leadValue int, leadUnit Unit, today time.Time) Status {
	if expiration == nil {
		return StatusValid
	}
	expires := midnight(*expiration)
	now := midnight(today)

	var notice time.Time
	if leadUnit == UnitMonths {
		notice = addMonthsClamped(expires, -leadValue)
	} else {
		notice = expires.AddDate(0, 0, -leadValue)
	}

	switch {
	case !now.Before(expires):
		return StatusExpired
	case !now.Before(notice):
		return StatusExpiring
	default:
		return StatusValid
	}
}

// Aggregate reduces item statuses to a single worst case: expired dominates,
// then expiring. An empty list is valid.
func Aggregate(statuses []Status) Status {
	worst := StatusValid
	for _, status := range statuses {
		switch status {
		case StatusExpired:
			return StatusExpired
		case StatusExpiring:
			worst = StatusExpiring
		}
	}
	return worst
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// addMonthsClamped shifts a date by whole months, preserving the day of month
// where it exists and clamping to the end of the shorter month otherwise.
// time.AddDate cannot be used here: it normalizes Feb 31 to Mar 3 instead of
// clamping to Feb 28.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	anchor := time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, months, 0)
	if last := lastDayOfMonth(anchor.Year(), anchor.Month()); day > last {
		day = last
	}
	return time.Date(anchor.Year(), anchor.Month(), day, 0, 0, 0, 0, t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
